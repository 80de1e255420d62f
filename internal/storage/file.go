package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/linkstash/linkstash/internal/schema"
)

// FileBackend is the fallback flat store used when SQLite cannot be
// opened. All state lives under reserved keys in one JSON document
// that is rewritten atomically on every mutation.
//
// The document is small (a personal bookmark collection), so whole-
// file rewrites are acceptable; the point of this backend is to never
// leave the app without persistence, not to be fast.
type FileBackend struct {
	mu   sync.Mutex
	path string
	doc  *fileDoc
}

var _ Backend = (*FileBackend)(nil)

// fileDoc is the on-disk document. The reserved keys mirror the
// SQLite tables one-to-one.
type fileDoc struct {
	NextCategoryID int64 `json:"next_category_id"`
	NextLinkID     int64 `json:"next_link_id"`
	NextSyncID     int64 `json:"next_sync_id"`

	Categories []schema.Category   `json:"categories"`
	Links      []schema.Link       `json:"links"`
	SyncQueue  []schema.SyncRecord `json:"sync_queue"`
	Settings   map[string]string   `json:"settings"`
}

// OpenFile loads (or creates) the flat store at path and seeds the
// default categories into a fresh store.
func OpenFile(ctx context.Context, path string) (*FileBackend, error) {
	_ = ctx // loading is a single local read; nothing to cancel

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	b := &FileBackend{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		b.doc = newFileDoc()
	case err != nil:
		return nil, fmt.Errorf("failed to read store file: %w", err)
	default:
		var doc fileDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse store file %s: %w", path, err)
		}
		if doc.Settings == nil {
			doc.Settings = make(map[string]string)
		}
		b.doc = &doc
	}

	if len(b.doc.Categories) == 0 && b.doc.NextCategoryID == 1 {
		for _, c := range schema.DefaultCategories {
			seed := c
			seed.SetDefaults()
			seed.ID = b.doc.NextCategoryID
			b.doc.NextCategoryID++
			b.doc.Categories = append(b.doc.Categories, seed)
		}
	}

	if err := b.save(); err != nil {
		return nil, err
	}
	return b, nil
}

func newFileDoc() *fileDoc {
	return &fileDoc{
		NextCategoryID: 1,
		NextLinkID:     1,
		NextSyncID:     1,
		Settings:       make(map[string]string),
	}
}

// save writes the document via a temp file and rename so a crash mid-
// write never truncates the store. Caller must hold b.mu.
func (b *FileBackend) save() error {
	data, err := json.MarshalIndent(b.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// Mode implements Backend.
func (b *FileBackend) Mode() Mode { return ModeFile }

// Close implements Backend. The document is already on disk.
func (b *FileBackend) Close() error { return nil }

// Categories implements Backend.
func (b *FileBackend) Categories(ctx context.Context) ([]schema.Category, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]schema.Category, len(b.doc.Categories))
	copy(out, b.doc.Categories)
	return out, nil
}

// CategoryByID implements Backend.
func (b *FileBackend) CategoryByID(ctx context.Context, id int64) (*schema.Category, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.doc.Categories {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("category %d: %w", id, schema.ErrNotFound)
}

// AddCategory implements Backend.
func (b *FileBackend) AddCategory(ctx context.Context, c *schema.Category) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c.ID = b.doc.NextCategoryID
	b.doc.NextCategoryID++
	b.doc.Categories = append(b.doc.Categories, *c)

	if err := b.save(); err != nil {
		return 0, err
	}
	return c.ID, nil
}

// UpdateCategory implements Backend.
func (b *FileBackend) UpdateCategory(ctx context.Context, c *schema.Category) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.doc.Categories {
		if b.doc.Categories[i].ID == c.ID {
			b.doc.Categories[i] = *c
			if err := b.save(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// UpsertCategory implements Backend.
func (b *FileBackend) UpsertCategory(ctx context.Context, c *schema.Category) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.doc.Categories {
		if b.doc.Categories[i].ID == c.ID {
			b.doc.Categories[i] = *c
			return b.save()
		}
	}
	b.doc.Categories = append(b.doc.Categories, *c)
	if c.ID >= b.doc.NextCategoryID {
		b.doc.NextCategoryID = c.ID + 1
	}
	return b.save()
}

// DeleteCategory implements Backend. The cascade to links is done by
// filtering, matching the SQLite foreign-key behavior.
func (b *FileBackend) DeleteCategory(ctx context.Context, id int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	kept := b.doc.Categories[:0]
	for _, c := range b.doc.Categories {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return false, nil
	}
	b.doc.Categories = kept

	keptLinks := b.doc.Links[:0]
	for _, l := range b.doc.Links {
		if l.CategoryID == id {
			continue
		}
		keptLinks = append(keptLinks, l)
	}
	b.doc.Links = keptLinks

	if err := b.save(); err != nil {
		return false, err
	}
	return true, nil
}

// Links implements Backend.
func (b *FileBackend) Links(ctx context.Context) ([]schema.Link, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]schema.Link, 0, len(b.doc.Links))
	// newest first, matching the SQLite ORDER BY id DESC
	for i := len(b.doc.Links) - 1; i >= 0; i-- {
		out = append(out, b.doc.Links[i])
	}
	return out, nil
}

// LinksByCategory implements Backend.
func (b *FileBackend) LinksByCategory(ctx context.Context, categoryID int64) ([]schema.Link, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []schema.Link
	for i := len(b.doc.Links) - 1; i >= 0; i-- {
		if b.doc.Links[i].CategoryID == categoryID {
			out = append(out, b.doc.Links[i])
		}
	}
	return out, nil
}

// AddLink implements Backend.
func (b *FileBackend) AddLink(ctx context.Context, l *schema.Link) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l.ID = b.doc.NextLinkID
	b.doc.NextLinkID++
	b.doc.Links = append(b.doc.Links, *l)

	if err := b.save(); err != nil {
		return 0, err
	}
	return l.ID, nil
}

// UpdateLink implements Backend.
func (b *FileBackend) UpdateLink(ctx context.Context, l *schema.Link) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.doc.Links {
		if b.doc.Links[i].ID == l.ID {
			b.doc.Links[i] = *l
			if err := b.save(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// UpsertLink implements Backend.
func (b *FileBackend) UpsertLink(ctx context.Context, l *schema.Link) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.doc.Links {
		if b.doc.Links[i].ID == l.ID {
			b.doc.Links[i] = *l
			return b.save()
		}
	}
	b.doc.Links = append(b.doc.Links, *l)
	if l.ID >= b.doc.NextLinkID {
		b.doc.NextLinkID = l.ID + 1
	}
	return b.save()
}

// DeleteLink implements Backend.
func (b *FileBackend) DeleteLink(ctx context.Context, id int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.doc.Links {
		if b.doc.Links[i].ID == id {
			b.doc.Links = append(b.doc.Links[:i], b.doc.Links[i+1:]...)
			if err := b.save(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// AppendSyncRecord implements Backend.
func (b *FileBackend) AppendSyncRecord(ctx context.Context, r *schema.SyncRecord) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r.ID = b.doc.NextSyncID
	b.doc.NextSyncID++
	b.doc.SyncQueue = append(b.doc.SyncQueue, *r)

	if err := b.save(); err != nil {
		return 0, err
	}
	return r.ID, nil
}

// PendingSyncRecords implements Backend. The slice is append-only, so
// iteration order is creation order.
func (b *FileBackend) PendingSyncRecords(ctx context.Context) ([]schema.SyncRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []schema.SyncRecord
	for _, r := range b.doc.SyncQueue {
		if r.Status == schema.StatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpdateSyncStatus implements Backend.
func (b *FileBackend) UpdateSyncStatus(ctx context.Context, id int64, status schema.SyncStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.doc.SyncQueue {
		if b.doc.SyncQueue[i].ID == id {
			b.doc.SyncQueue[i].Status = status
			b.doc.SyncQueue[i].UpdatedAt = time.Now().UTC()
			return b.save()
		}
	}
	return fmt.Errorf("sync record %d: %w", id, schema.ErrNotFound)
}

// SyncStats implements Backend.
func (b *FileBackend) SyncStats(ctx context.Context) (map[schema.SyncStatus]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := make(map[schema.SyncStatus]int)
	for _, r := range b.doc.SyncQueue {
		stats[r.Status]++
	}
	return stats, nil
}

// ResetFailedSyncRecords implements Backend.
func (b *FileBackend) ResetFailedSyncRecords(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	now := time.Now().UTC()
	for i := range b.doc.SyncQueue {
		if b.doc.SyncQueue[i].Status == schema.StatusFailed {
			b.doc.SyncQueue[i].Status = schema.StatusPending
			b.doc.SyncQueue[i].UpdatedAt = now
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return count, b.save()
}

// PruneSyncedRecords implements Backend.
func (b *FileBackend) PruneSyncedRecords(ctx context.Context, olderThan time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	kept := b.doc.SyncQueue[:0]
	for _, r := range b.doc.SyncQueue {
		if r.Status == schema.StatusSynced && r.UpdatedAt.Before(olderThan) {
			count++
			continue
		}
		kept = append(kept, r)
	}
	b.doc.SyncQueue = kept

	if count == 0 {
		return 0, nil
	}
	return count, b.save()
}

// Setting implements Backend.
func (b *FileBackend) Setting(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc.Settings[key], nil
}

// SetSetting implements Backend.
func (b *FileBackend) SetSetting(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.doc.Settings[key] = value
	return b.save()
}
