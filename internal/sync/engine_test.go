package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/linkstash/linkstash/internal/auth"
	"github.com/linkstash/linkstash/internal/data"
	"github.com/linkstash/linkstash/internal/schema"
	"github.com/linkstash/linkstash/internal/storage"
)

// fakeRemote records calls and can fail selectively.
type fakeRemote struct {
	mu    sync.Mutex
	calls []string

	categories map[int64]schema.Category
	links      map[int64]schema.Link

	pingErr error
	failOn  map[string]error // call name -> error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		categories: make(map[int64]schema.Category),
		links:      make(map[int64]schema.Link),
		failOn:     make(map[string]error),
	}
}

func (f *fakeRemote) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRemote) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeRemote) InsertCategory(ctx context.Context, userID string, c *schema.Category) (*schema.Category, error) {
	if err := f.record(fmt.Sprintf("insert-category/%d", c.ID)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories[c.ID] = *c
	return c, nil
}

func (f *fakeRemote) UpdateCategory(ctx context.Context, userID string, c *schema.Category) error {
	if err := f.record(fmt.Sprintf("update-category/%d", c.ID)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories[c.ID] = *c
	return nil
}

func (f *fakeRemote) DeleteCategory(ctx context.Context, userID string, id int64) error {
	if err := f.record(fmt.Sprintf("delete-category/%d", id)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.categories, id)
	return nil
}

func (f *fakeRemote) ListCategories(ctx context.Context, userID string) ([]schema.Category, error) {
	if err := f.record("list-categories"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []schema.Category
	for _, c := range f.categories {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRemote) InsertLink(ctx context.Context, userID string, l *schema.Link) (*schema.Link, error) {
	if err := f.record(fmt.Sprintf("insert-link/%d", l.ID)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[l.ID] = *l
	return l, nil
}

func (f *fakeRemote) UpdateLink(ctx context.Context, userID string, l *schema.Link) error {
	if err := f.record(fmt.Sprintf("update-link/%d", l.ID)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[l.ID] = *l
	return nil
}

func (f *fakeRemote) DeleteLink(ctx context.Context, userID string, id int64) error {
	if err := f.record(fmt.Sprintf("delete-link/%d", id)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.links, id)
	return nil
}

func (f *fakeRemote) ListLinks(ctx context.Context, userID string) ([]schema.Link, error) {
	if err := f.record("list-links"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []schema.Link
	for _, l := range f.links {
		out = append(out, l)
	}
	return out, nil
}

// testHarness bundles the pieces engine tests need.
type testHarness struct {
	store   *storage.FileBackend
	data    *data.Service
	remote  *fakeRemote
	session *auth.MemorySession
	engine  *Engine
}

// newHarness builds a signed-in, sync-enabled engine over a file
// backend
func newHarness(t *testing.T) *testHarness {
	t.Helper()
	ctx := context.Background()

	store, err := storage.OpenFile(ctx, filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("OpenFile() failed: %v", err)
	}

	h := &testHarness{
		store:   store,
		data:    data.New(store, nil),
		remote:  newFakeRemote(),
		session: auth.NewMemorySession("user-1"),
	}
	h.engine = New(store, h.remote, h.session, Config{})
	h.engine.enabled.Store(true)
	return h
}

// TestSync_DrainsQueueInOrder tests that pending records replay in
// creation order
func TestSync_DrainsQueueInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	catID, err := h.data.AddCategory(ctx, &schema.Category{Name: "Stuff", Icon: "folder"})
	if err != nil {
		t.Fatalf("AddCategory() failed: %v", err)
	}
	linkID, err := h.data.AddLink(ctx, &schema.Link{URL: "https://example.com", CategoryID: catID})
	if err != nil {
		t.Fatalf("AddLink() failed: %v", err)
	}
	if _, err := h.data.DeleteLink(ctx, linkID); err != nil {
		t.Fatalf("DeleteLink() failed: %v", err)
	}

	if err := h.engine.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	want := []string{
		fmt.Sprintf("insert-category/%d", catID),
		fmt.Sprintf("insert-link/%d", linkID),
		fmt.Sprintf("delete-link/%d", linkID),
	}
	calls := h.remote.callLog()
	if len(calls) < len(want) {
		t.Fatalf("got %d remote calls, want at least %d", len(calls), len(want))
	}
	for i, w := range want {
		if calls[i] != w {
			t.Errorf("call %d = %s, want %s", i, calls[i], w)
		}
	}

	stats, err := h.store.SyncStats(ctx)
	if err != nil {
		t.Fatalf("SyncStats() failed: %v", err)
	}
	if stats[schema.StatusPending] != 0 {
		t.Errorf("%d records still pending after sync", stats[schema.StatusPending])
	}
	if stats[schema.StatusSynced] != 3 {
		t.Errorf("synced = %d, want 3", stats[schema.StatusSynced])
	}
}

// TestSync_FailureIsolation tests that one failing record does not
// block the rest of the queue
func TestSync_FailureIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	catID, err := h.data.AddCategory(ctx, &schema.Category{Name: "Stuff", Icon: "folder"})
	if err != nil {
		t.Fatalf("AddCategory() failed: %v", err)
	}
	linkID, err := h.data.AddLink(ctx, &schema.Link{URL: "https://example.com", CategoryID: catID})
	if err != nil {
		t.Fatalf("AddLink() failed: %v", err)
	}

	h.remote.failOn[fmt.Sprintf("insert-category/%d", catID)] = errors.New("boom")

	err = h.engine.Sync(ctx)
	if err == nil {
		t.Fatal("Sync() succeeded with a failing record")
	}

	stats, serr := h.store.SyncStats(ctx)
	if serr != nil {
		t.Fatalf("SyncStats() failed: %v", serr)
	}
	if stats[schema.StatusFailed] != 1 {
		t.Errorf("failed = %d, want 1", stats[schema.StatusFailed])
	}
	if stats[schema.StatusSynced] != 1 {
		t.Errorf("synced = %d, want 1 (link insert %d must go through)", stats[schema.StatusSynced], linkID)
	}
}

// TestRetryFailed_ReplaysFailedRecords tests the failed-record reset
// and replay
func TestRetryFailed_ReplaysFailedRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	catID, err := h.data.AddCategory(ctx, &schema.Category{Name: "Stuff", Icon: "folder"})
	if err != nil {
		t.Fatalf("AddCategory() failed: %v", err)
	}

	call := fmt.Sprintf("insert-category/%d", catID)
	h.remote.failOn[call] = errors.New("boom")
	if err := h.engine.Sync(ctx); err == nil {
		t.Fatal("Sync() succeeded with a failing record")
	}

	delete(h.remote.failOn, call)
	n, err := h.engine.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d records, want 1", n)
	}

	stats, err := h.store.SyncStats(ctx)
	if err != nil {
		t.Fatalf("SyncStats() failed: %v", err)
	}
	if stats[schema.StatusFailed] != 0 || stats[schema.StatusSynced] != 1 {
		t.Errorf("stats = %v, want the record synced", stats)
	}
}

// TestSync_RequiresUser tests that a manual pass without a session
// fails and a background pass is a silent no-op
func TestSync_RequiresUser(t *testing.T) {
	h := newHarness(t)
	h.session.SignOut()
	ctx := context.Background()

	if err := h.engine.Sync(ctx); err == nil {
		t.Error("manual Sync() succeeded while signed out")
	}

	h.engine.TrySync(ctx)
	if calls := h.remote.callLog(); len(calls) != 0 {
		t.Errorf("background sync made %d remote calls while signed out", len(calls))
	}
}

// TestTrySync_Cooldown tests that background passes respect the
// cooldown while manual passes bypass it
func TestTrySync_Cooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	first := len(h.remote.callLog())

	// Inside the cooldown window a background trigger does nothing.
	h.engine.TrySync(ctx)
	if got := len(h.remote.callLog()); got != first {
		t.Errorf("background sync ran inside cooldown (%d calls, was %d)", got, first)
	}

	// A manual pass still runs.
	if err := h.engine.Sync(ctx); err != nil {
		t.Fatalf("manual Sync() inside cooldown failed: %v", err)
	}
	if got := len(h.remote.callLog()); got == first {
		t.Error("manual sync did not bypass cooldown")
	}
}

// TestTrySync_OfflineGate tests that background sync is skipped while
// offline
func TestTrySync_OfflineGate(t *testing.T) {
	h := newHarness(t)
	h.engine.watcher.online.Store(false)

	h.engine.TrySync(context.Background())
	if calls := h.remote.callLog(); len(calls) != 0 {
		t.Errorf("offline background sync made %d remote calls", len(calls))
	}
}

// TestSync_SingleFlight tests that a concurrent manual pass is
// rejected rather than run twice
func TestSync_SingleFlight(t *testing.T) {
	h := newHarness(t)

	h.engine.syncing.Store(true) // simulate an in-flight pass
	err := h.engine.Sync(context.Background())
	if !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Sync() error = %v, want ErrSyncInProgress", err)
	}
	h.engine.syncing.Store(false)
}

// TestPull_LastWriterWins tests that a strictly newer remote row
// overwrites and a tie keeps the local row
func TestPull_LastWriterWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)

	older := schema.Category{ID: 1, Name: "LocalWins", Icon: "folder", CreatedAt: base, UpdatedAt: base}
	if err := h.store.UpsertCategory(ctx, &older); err != nil {
		t.Fatalf("UpsertCategory() failed: %v", err)
	}
	tied := schema.Category{ID: 2, Name: "LocalTie", Icon: "folder", CreatedAt: base, UpdatedAt: base}
	if err := h.store.UpsertCategory(ctx, &tied); err != nil {
		t.Fatalf("UpsertCategory() failed: %v", err)
	}

	h.remote.categories[1] = schema.Category{ID: 1, Name: "RemoteNewer", Icon: "cloud", CreatedAt: base, UpdatedAt: base.Add(time.Hour)}
	h.remote.categories[2] = schema.Category{ID: 2, Name: "RemoteTie", Icon: "cloud", CreatedAt: base, UpdatedAt: base}
	h.remote.categories[3] = schema.Category{ID: 3, Name: "RemoteOnly", Icon: "cloud", CreatedAt: base, UpdatedAt: base}

	if err := h.engine.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	got1, err := h.store.CategoryByID(ctx, 1)
	if err != nil {
		t.Fatalf("CategoryByID(1) failed: %v", err)
	}
	if got1.Name != "RemoteNewer" {
		t.Errorf("category 1 = %q, want RemoteNewer (remote strictly newer)", got1.Name)
	}

	got2, err := h.store.CategoryByID(ctx, 2)
	if err != nil {
		t.Fatalf("CategoryByID(2) failed: %v", err)
	}
	if got2.Name != "LocalTie" {
		t.Errorf("category 2 = %q, want LocalTie (tie keeps local)", got2.Name)
	}

	if _, err := h.store.CategoryByID(ctx, 3); err != nil {
		t.Errorf("remote-only category 3 not pulled: %v", err)
	}
}

// TestPull_DoesNotEnqueue tests that pulled rows create no new sync
// records
func TestPull_DoesNotEnqueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	now := time.Now().UTC()
	h.remote.categories[42] = schema.Category{ID: 42, Name: "Pulled", Icon: "cloud", CreatedAt: now, UpdatedAt: now}

	if err := h.engine.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	stats, err := h.store.SyncStats(ctx)
	if err != nil {
		t.Fatalf("SyncStats() failed: %v", err)
	}
	if total := stats[schema.StatusPending] + stats[schema.StatusSynced] + stats[schema.StatusFailed]; total != 0 {
		t.Errorf("pull created %d sync records, want 0", total)
	}
}

// TestSync_RecordsCompletionTime tests that a finished pass persists
// its completion timestamp
func TestSync_RecordsCompletionTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	v, err := h.store.Setting(ctx, storage.SettingLastSyncAt)
	if err != nil {
		t.Fatalf("Setting() failed: %v", err)
	}
	if v == "" {
		t.Fatal("last sync time not recorded")
	}
	if _, err := time.Parse(time.RFC3339, v); err != nil {
		t.Errorf("last sync time %q is not RFC 3339: %v", v, err)
	}
}

// TestInitialLoginSync_UploadsEverything tests the one-time bulk
// upload on first sign-in
func TestInitialLoginSync_UploadsEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	catID, err := h.data.AddCategory(ctx, &schema.Category{Name: "Stuff", Icon: "folder"})
	if err != nil {
		t.Fatalf("AddCategory() failed: %v", err)
	}
	if _, err := h.data.AddLink(ctx, &schema.Link{URL: "https://example.com", CategoryID: catID}); err != nil {
		t.Fatalf("AddLink() failed: %v", err)
	}

	if err := h.engine.InitialLoginSync(ctx, "user-1"); err != nil {
		t.Fatalf("InitialLoginSync() failed: %v", err)
	}

	// Default categories plus the one added, plus the link.
	wantRows := len(schema.DefaultCategories) + 2
	if got := len(h.remote.categories) + len(h.remote.links); got != wantRows {
		t.Errorf("remote has %d rows after bulk upload, want %d", got, wantRows)
	}

	done, err := h.store.Setting(ctx, storage.SettingInitialSyncDone)
	if err != nil {
		t.Fatalf("Setting() failed: %v", err)
	}
	if done != "true" {
		t.Errorf("initial-sync flag = %q, want true", done)
	}
	enabled, err := h.store.Setting(ctx, storage.SettingCloudSyncEnabled)
	if err != nil {
		t.Fatalf("Setting() failed: %v", err)
	}
	if enabled != "true" {
		t.Errorf("sync-enabled flag = %q, want true", enabled)
	}
}

// TestSetEnabled_Persists tests the enabled flag round-trip
func TestSetEnabled_Persists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.SetEnabled(ctx, false); err != nil {
		t.Fatalf("SetEnabled(false) failed: %v", err)
	}
	if h.engine.Enabled() {
		t.Error("Enabled() = true after SetEnabled(false)")
	}
	v, err := h.store.Setting(ctx, storage.SettingCloudSyncEnabled)
	if err != nil {
		t.Fatalf("Setting() failed: %v", err)
	}
	if v != "false" {
		t.Errorf("persisted flag = %q, want false", v)
	}
}

// TestStatus_Snapshot tests the status report shape
func TestStatus_Snapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.data.AddCategory(ctx, &schema.Category{Name: "Stuff", Icon: "folder"}); err != nil {
		t.Fatalf("AddCategory() failed: %v", err)
	}

	status, err := h.engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if status.State != StateIdle {
		t.Errorf("state = %q, want idle", status.State)
	}
	if status.Queue[schema.StatusPending] != 1 {
		t.Errorf("pending = %d, want 1", status.Queue[schema.StatusPending])
	}
}
