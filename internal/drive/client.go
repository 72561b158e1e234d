// Package drive lists and reads files from Google Drive through the v3 REST
// API, authenticated with a service account.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/scanforge/bookscan/internal/metrics"
)

const (
	defaultBaseURL = "https://www.googleapis.com/drive/v3"
	pageSize       = 100
	// maxFileSize caps downloads; anything larger is a per-item error.
	maxFileSize = 200 * 1024 * 1024
)

// Item is one Drive file or folder.
type Item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lister is the capability surface the scan pipeline consumes. The HTTP
// client below implements it; tests substitute fakes.
type Lister interface {
	// ListFolders returns the child folders of parentID sorted by name.
	ListFolders(ctx context.Context, parentID string) ([]Item, error)
	// ListPDFs returns the child PDF files of parentID sorted by name.
	ListPDFs(ctx context.Context, parentID string) ([]Item, error)
	// Download reads the full content of the file.
	Download(ctx context.Context, fileID string) ([]byte, error)
	// FolderName resolves the display name of a folder.
	FolderName(ctx context.Context, folderID string) (string, error)
}

// Client talks to the Drive v3 files API.
type Client struct {
	base    string
	http    *http.Client
	tokens  *tokenSource
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (tests).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.base = base }
}

// WithHTTPClient overrides the HTTP transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a Client from a service account JSON blob. rps bounds the
// request rate against the Drive API quota.
func New(serviceAccountJSON string, rps float64, opts ...Option) (*Client, error) {
	c := &Client{
		base:    defaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	tokens, err := newTokenSource(serviceAccountJSON, c.http)
	if err != nil {
		return nil, err
	}
	c.tokens = tokens
	return c, nil
}

// ListFolders implements Lister.
func (c *Client) ListFolders(ctx context.Context, parentID string) ([]Item, error) {
	q := fmt.Sprintf("'%s' in parents and mimeType = 'application/vnd.google-apps.folder' and trashed = false", parentID)
	return c.list(ctx, "list_folders", q)
}

// ListPDFs implements Lister.
func (c *Client) ListPDFs(ctx context.Context, parentID string) ([]Item, error) {
	q := fmt.Sprintf("'%s' in parents and mimeType = 'application/pdf' and trashed = false", parentID)
	return c.list(ctx, "list_pdfs", q)
}

func (c *Client) list(ctx context.Context, op, query string) ([]Item, error) {
	var items []Item
	pageToken := ""
	for {
		page, next, err := c.listPage(ctx, op, query, pageToken)
		if err != nil {
			return nil, err
		}
		items = append(items, page...)
		if next == "" {
			break
		}
		pageToken = next
	}
	// Drive does not guarantee listing order; sort so walks are
	// deterministic for a given store snapshot.
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (c *Client) listPage(ctx context.Context, op, query, pageToken string) ([]Item, string, error) {
	params := url.Values{
		"q":        {query},
		"pageSize": {fmt.Sprint(pageSize)},
		"fields":   {"nextPageToken, files(id, name)"},
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	res, err := c.get(ctx, op, c.base+"/files?"+params.Encode())
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()

	var payload struct {
		NextPageToken string `json:"nextPageToken"`
		Files         []Item `json:"files"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		metrics.RecordDriveRequest(op, "bad_response")
		return nil, "", apiError(op, res.StatusCode, err)
	}
	metrics.RecordDriveRequest(op, "ok")
	return payload.Files, payload.NextPageToken, nil
}

// Download implements Lister.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	const op = "download"
	res, err := c.get(ctx, op, c.base+"/files/"+url.PathEscape(fileID)+"?alt=media")
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxFileSize+1))
	if err != nil {
		metrics.RecordDriveRequest(op, "read_error")
		return nil, apiError(op, res.StatusCode, err)
	}
	if len(data) > maxFileSize {
		metrics.RecordDriveRequest(op, "too_large")
		return nil, fmt.Errorf("%w: file %s exceeds %d bytes", ErrBadResponse, fileID, maxFileSize)
	}
	metrics.RecordDriveRequest(op, "ok")
	return data, nil
}

// FolderName implements Lister.
func (c *Client) FolderName(ctx context.Context, folderID string) (string, error) {
	const op = "folder_name"
	res, err := c.get(ctx, op, c.base+"/files/"+url.PathEscape(folderID)+"?fields=id%2C+name")
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var item Item
	if err := json.NewDecoder(res.Body).Decode(&item); err != nil {
		metrics.RecordDriveRequest(op, "bad_response")
		return "", apiError(op, res.StatusCode, err)
	}
	metrics.RecordDriveRequest(op, "ok")
	return item.Name, nil
}

// get performs a rate-limited, authenticated GET and normalizes non-2xx
// responses into APIErrors.
func (c *Client) get(ctx context.Context, op, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		metrics.RecordDriveRequest(op, "auth_error")
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.http.Do(req)
	if err != nil {
		metrics.RecordDriveRequest(op, "transport_error")
		return nil, apiError(op, 0, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		status := res.StatusCode
		_ = res.Body.Close()
		metrics.RecordDriveRequest(op, fmt.Sprint(status))
		return nil, apiError(op, status, nil)
	}
	return res, nil
}

var _ Lister = (*Client)(nil)
