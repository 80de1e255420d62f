package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/linkstash/linkstash/internal/schema"
)

// capturedRequest records what the server saw
type capturedRequest struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

// newCaptureServer returns a test server that records requests and
// replies with the given status and body
func newCaptureServer(t *testing.T, status int, respBody string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	cap := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cap.method = r.Method
		cap.path = r.URL.Path
		cap.query = r.URL.RawQuery
		cap.header = r.Header.Clone()
		cap.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, cap
}

// TestInsertCategory_RequestShape tests the POST conventions
func TestInsertCategory_RequestShape(t *testing.T) {
	srv, cap := newCaptureServer(t, http.StatusCreated, `[{"id":7,"name":"Stuff","icon":"folder"}]`)

	c := NewHTTPClient(srv.URL, "test-key",
		func(ctx context.Context) (string, error) { return "tok", nil }, nil)

	got, err := c.InsertCategory(context.Background(), "user-1", &schema.Category{ID: 7, Name: "Stuff", Icon: "folder"})
	if err != nil {
		t.Fatalf("InsertCategory() failed: %v", err)
	}
	if got.ID != 7 {
		t.Errorf("inserted id = %d, want 7", got.ID)
	}

	if cap.method != http.MethodPost {
		t.Errorf("method = %s, want POST", cap.method)
	}
	if cap.path != "/rest/v1/categories" {
		t.Errorf("path = %s, want /rest/v1/categories", cap.path)
	}
	if cap.header.Get("apikey") != "test-key" {
		t.Errorf("apikey header = %q", cap.header.Get("apikey"))
	}
	if cap.header.Get("Authorization") != "Bearer tok" {
		t.Errorf("authorization header = %q", cap.header.Get("Authorization"))
	}
	if cap.header.Get("Prefer") != "return=representation,resolution=merge-duplicates" {
		t.Errorf("prefer header = %q", cap.header.Get("Prefer"))
	}

	var sent schema.Category
	if err := json.Unmarshal(cap.body, &sent); err != nil {
		t.Fatalf("request body is not a category: %v", err)
	}
	if sent.UserID != "user-1" {
		t.Errorf("body user_id = %q, want user-1", sent.UserID)
	}
	if sent.ID != 7 {
		t.Errorf("body id = %d, want local id preserved", sent.ID)
	}
}

// TestUpdateLink_ScopesByUserAndID tests the PATCH row filter
func TestUpdateLink_ScopesByUserAndID(t *testing.T) {
	srv, cap := newCaptureServer(t, http.StatusNoContent, "")

	c := NewHTTPClient(srv.URL, "", nil, nil)
	err := c.UpdateLink(context.Background(), "user-1", &schema.Link{ID: 12, URL: "https://example.com", CategoryID: 1, Type: schema.LinkTypeOther})
	if err != nil {
		t.Fatalf("UpdateLink() failed: %v", err)
	}

	if cap.method != http.MethodPatch {
		t.Errorf("method = %s, want PATCH", cap.method)
	}
	if cap.path != "/rest/v1/links" {
		t.Errorf("path = %s, want /rest/v1/links", cap.path)
	}
	want := "id=eq.12&user_id=eq.user-1"
	if cap.query != want {
		t.Errorf("query = %q, want %q", cap.query, want)
	}
}

// TestDeleteCategory_RequestShape tests the DELETE row filter
func TestDeleteCategory_RequestShape(t *testing.T) {
	srv, cap := newCaptureServer(t, http.StatusNoContent, "")

	c := NewHTTPClient(srv.URL, "", nil, nil)
	if err := c.DeleteCategory(context.Background(), "user-1", 3); err != nil {
		t.Fatalf("DeleteCategory() failed: %v", err)
	}

	if cap.method != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", cap.method)
	}
	if cap.query != "id=eq.3&user_id=eq.user-1" {
		t.Errorf("query = %q", cap.query)
	}
}

// TestListLinks_UserFilter tests the list query and decoding
func TestListLinks_UserFilter(t *testing.T) {
	srv, cap := newCaptureServer(t, http.StatusOK,
		`[{"id":1,"category_id":2,"url":"https://example.com","type":"other"}]`)

	c := NewHTTPClient(srv.URL, "", nil, nil)
	links, err := c.ListLinks(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListLinks() failed: %v", err)
	}
	if len(links) != 1 || links[0].URL != "https://example.com" {
		t.Errorf("links = %+v", links)
	}
	if cap.query != "select=%2A&user_id=eq.user-1" {
		t.Errorf("query = %q", cap.query)
	}
}

// TestDo_ErrorStatus tests that non-2xx responses surface the body
// snippet
func TestDo_ErrorStatus(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusForbidden, `{"message":"row level security"}`)

	c := NewHTTPClient(srv.URL, "", nil, nil)
	_, err := c.ListCategories(context.Background(), "user-1")
	if err == nil {
		t.Fatal("ListCategories() succeeded on 403")
	}
}

// TestPing_AnyResponseIsOnline tests that any HTTP response counts as
// reachable
func TestPing_AnyResponseIsOnline(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusUnauthorized, "")

	c := NewHTTPClient(srv.URL, "", nil, nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() failed on reachable endpoint: %v", err)
	}

	srv.Close()
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() succeeded against a closed endpoint")
	}
}
