package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/linkstash/linkstash/internal/data"
	"github.com/linkstash/linkstash/internal/schema"
	"github.com/linkstash/linkstash/internal/storage"
)

// newTestServer builds a server over a file backend with sync and
// metadata disabled
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	b, err := storage.OpenFile(context.Background(), filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("OpenFile() failed: %v", err)
	}
	srv := httptest.NewServer(NewServer(data.New(b, nil), nil, nil, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// doJSON performs a request with a JSON body and decodes the response
func doJSON(t *testing.T, method, url string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

// TestAPI_Health tests the health endpoint
func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t)
	if code := doJSON(t, http.MethodGet, srv.URL+"/health", nil, nil); code != http.StatusOK {
		t.Errorf("health = %d, want 200", code)
	}
}

// TestAPI_CategoryLifecycle tests category create, read, update,
// delete over HTTP
func TestAPI_CategoryLifecycle(t *testing.T) {
	srv := newTestServer(t)

	var created schema.Category
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/categories",
		schema.Category{Name: "Articles", Icon: "book"}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create = %d, want 201", code)
	}
	if created.ID == 0 {
		t.Fatal("create returned no id")
	}

	var got schema.Category
	url := fmt.Sprintf("%s/api/v1/categories/%d", srv.URL, created.ID)
	if code := doJSON(t, http.MethodGet, url, nil, &got); code != http.StatusOK {
		t.Fatalf("get = %d, want 200", code)
	}
	if got.Name != "Articles" {
		t.Errorf("name = %q, want Articles", got.Name)
	}

	got.Name = "Reading"
	if code := doJSON(t, http.MethodPut, url, got, nil); code != http.StatusOK {
		t.Errorf("update = %d, want 200", code)
	}

	if code := doJSON(t, http.MethodDelete, url, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", code)
	}
	if code := doJSON(t, http.MethodGet, url, nil, nil); code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", code)
	}
}

// TestAPI_LinkValidation tests that invalid writes map to 400
func TestAPI_LinkValidation(t *testing.T) {
	srv := newTestServer(t)

	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/links",
		schema.Link{URL: "", CategoryID: 1}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("invalid link = %d, want 400", code)
	}

	// Dangling category is a validation failure too.
	code = doJSON(t, http.MethodPost, srv.URL+"/api/v1/links",
		schema.Link{URL: "https://example.com", CategoryID: 9999}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("dangling category = %d, want 400", code)
	}
}

// TestAPI_LinksByCategory tests the nested category links route
func TestAPI_LinksByCategory(t *testing.T) {
	srv := newTestServer(t)

	var cat schema.Category
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/categories",
		schema.Category{Name: "Stuff", Icon: "folder"}, &cat); code != http.StatusCreated {
		t.Fatalf("create category failed: %d", code)
	}

	var link schema.Link
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/links",
		schema.Link{URL: "https://example.com", CategoryID: cat.ID}, &link)
	if code != http.StatusCreated {
		t.Fatalf("create link = %d, want 201", code)
	}

	var links []schema.Link
	url := fmt.Sprintf("%s/api/v1/categories/%d/links", srv.URL, cat.ID)
	if code := doJSON(t, http.MethodGet, url, nil, &links); code != http.StatusOK {
		t.Fatalf("list = %d, want 200", code)
	}
	if len(links) != 1 || links[0].ID != link.ID {
		t.Errorf("links = %+v, want the created link", links)
	}
}

// TestAPI_SyncUnconfigured tests that sync routes 503 without an
// engine
func TestAPI_SyncUnconfigured(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/sync/status")
	if err != nil {
		t.Fatalf("GET sync/status failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("sync/status = %d, want 503", resp.StatusCode)
	}
}

// TestAPI_BadID tests id parsing on path params
func TestAPI_BadID(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/categories/notanumber")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", resp.StatusCode)
	}
}
