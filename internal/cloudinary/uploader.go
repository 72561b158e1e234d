// Package cloudinary uploads derived assets to Cloudinary through its signed
// upload REST API.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/scanforge/bookscan/internal/metrics"
)

const (
	defaultAPIBase = "https://api.cloudinary.com/v1_1"
	deliveryBase   = "https://res.cloudinary.com"
	uploadFolder   = "pdf_thumbnails"
)

// ErrUploadFailed is the sentinel for errors.Is checks at the boundary.
var ErrUploadFailed = errors.New("cloudinary: upload failed")

// Credentials authenticates signed uploads. Held in memory only.
type Credentials struct {
	CloudName string
	APIKey    string
	APISecret string
}

// Validate reports whether the credentials are complete.
func (c Credentials) Validate() error {
	if c.CloudName == "" || c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("cloudinary credentials incomplete")
	}
	return nil
}

// Asset is the uploaded asset reference.
type Asset struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
}

// Uploader is the capability surface the scan pipeline consumes.
type Uploader interface {
	// Upload stores the document bytes under publicID and returns the
	// asset reference.
	Upload(ctx context.Context, data []byte, publicID string) (*Asset, error)
}

// Client implements Uploader against the Cloudinary API.
type Client struct {
	creds Credentials
	base  string
	http  *http.Client
	now   func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (tests).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.base = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the HTTP transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a Client.
func New(creds Credentials, opts ...Option) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		creds: creds,
		base:  defaultAPIBase,
		http:  &http.Client{Timeout: 120 * time.Second},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Upload implements Uploader. PDFs are uploaded as image assets so page
// thumbnails can be derived by URL transformation.
func (c *Client) Upload(ctx context.Context, data []byte, publicID string) (*Asset, error) {
	params := map[string]string{
		"public_id": publicID,
		"folder":    uploadFolder,
		"timestamp": fmt.Sprint(c.now().Unix()),
	}
	params["signature"] = signature(params, c.creds.APISecret)
	params["api_key"] = c.creds.APIKey

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range params {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("build upload form: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", publicID+".pdf")
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}

	uploadURL := fmt.Sprintf("%s/%s/image/upload", c.base, c.creds.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.http.Do(req)
	if err != nil {
		metrics.RecordUpload("transport_error")
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		metrics.RecordUpload(fmt.Sprint(res.StatusCode))
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUploadFailed, res.StatusCode, strings.TrimSpace(string(detail)))
	}

	var asset Asset
	if err := json.NewDecoder(res.Body).Decode(&asset); err != nil {
		metrics.RecordUpload("bad_response")
		return nil, fmt.Errorf("%w: decode response: %v", ErrUploadFailed, err)
	}
	if asset.SecureURL == "" {
		metrics.RecordUpload("bad_response")
		return nil, fmt.Errorf("%w: response missing secure_url", ErrUploadFailed)
	}
	metrics.RecordUpload("ok")
	return &asset, nil
}

// ThumbnailURL derives the delivery URL of one page of an uploaded PDF as a
// JPEG thumbnail.
func (c *Client) ThumbnailURL(asset *Asset, page int) string {
	return fmt.Sprintf("%s/%s/image/upload/pg_%d/%s.jpg",
		deliveryBase, c.creds.CloudName, page, asset.PublicID)
}

// signature computes the Cloudinary request signature: the parameters sorted
// by key, joined as key=value with '&', concatenated with the API secret and
// SHA-1 hashed.
func signature(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}
