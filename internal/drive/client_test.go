package drive

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testServiceAccount returns a service account JSON blob whose token_uri
// points at the given test server.
func testServiceAccount(t *testing.T, tokenURI string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	blob, err := json.Marshal(map[string]string{
		"client_email": "scanner@test-project.iam.gserviceaccount.com",
		"private_key":  string(pemKey),
		"token_uri":    tokenURI,
	})
	if err != nil {
		t.Fatalf("marshal account: %v", err)
	}
	return string(blob)
}

// newTestServer serves a fake token endpoint plus the given files handler.
func newTestServer(t *testing.T, files http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/files", files)
	mux.HandleFunc("/files/", files)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(testServiceAccount(t, srv.URL+"/token"), 1000, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsBadCredentials(t *testing.T) {
	tests := []string{
		"not json",
		`{}`,
		`{"client_email":"a@b","private_key":"not pem"}`,
	}
	for _, blob := range tests {
		if _, err := New(blob, 10); !errors.Is(err, ErrBadCredentials) {
			t.Errorf("New(%q) error = %v, want ErrBadCredentials", blob, err)
		}
	}
}

func TestListFoldersPaginatesAndSorts(t *testing.T) {
	page := 0
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.URL.Query().Get("pageToken") {
		case "":
			page++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"nextPageToken": "p2",
				"files":         []Item{{ID: "b", Name: "Zeta"}, {ID: "a", Name: "Alpha"}},
			})
		case "p2":
			page++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"files": []Item{{ID: "c", Name: "Mid"}},
			})
		default:
			t.Errorf("unexpected pageToken %q", r.URL.Query().Get("pageToken"))
		}
	})

	c := newTestClient(t, srv)
	items, err := c.ListFolders(context.Background(), "root")
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if page != 2 {
		t.Errorf("fetched %d pages, want 2", page)
	}
	wantNames := []string{"Alpha", "Mid", "Zeta"}
	if len(items) != len(wantNames) {
		t.Fatalf("got %d items, want %d", len(items), len(wantNames))
	}
	for i, want := range wantNames {
		if items[i].Name != want {
			t.Errorf("items[%d].Name = %q, want %q", i, items[i].Name, want)
		}
	}
}

func TestListPDFsQuery(t *testing.T) {
	var query string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		_ = json.NewEncoder(w).Encode(map[string]any{"files": []Item{}})
	})

	c := newTestClient(t, srv)
	if _, err := c.ListPDFs(context.Background(), "folder-1"); err != nil {
		t.Fatalf("ListPDFs: %v", err)
	}
	want := "'folder-1' in parents and mimeType = 'application/pdf' and trashed = false"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
}

func TestDownload(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") != "media" {
			t.Errorf("alt = %q, want media", r.URL.Query().Get("alt"))
		}
		fmt.Fprint(w, "%PDF-1.4 payload")
	})

	c := newTestClient(t, srv)
	data, err := c.Download(context.Background(), "file-1")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "%PDF-1.4 payload" {
		t.Errorf("data = %q", data)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusInternalServerError, ErrUpstreamError},
	}
	for _, tt := range tests {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		c := newTestClient(t, srv)
		_, err := c.ListFolders(context.Background(), "root")
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
			t.Errorf("status %d: missing APIError context in %v", tt.status, err)
		}
	}
}

func TestFolderName(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/folder-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Item{ID: "folder-9", Name: "Course Material"})
	})

	c := newTestClient(t, srv)
	name, err := c.FolderName(context.Background(), "folder-9")
	if err != nil {
		t.Fatalf("FolderName: %v", err)
	}
	if name != "Course Material" {
		t.Errorf("name = %q, want Course Material", name)
	}
}

func TestTokenIsCached(t *testing.T) {
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "expires_in": 3600})
	})
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"files": []Item{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(testServiceAccount(t, srv.URL+"/token"), 1000, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.ListFolders(context.Background(), "root"); err != nil {
			t.Fatalf("ListFolders: %v", err)
		}
	}
	if tokenCalls != 1 {
		t.Errorf("token endpoint called %d times, want 1", tokenCalls)
	}
}
