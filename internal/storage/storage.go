// Package storage provides the local persistence layer for linkstash.
//
// Two backend implementations exist behind one interface: an embedded
// SQLite database (the normal mode) and a flat JSON file store (the
// fallback when SQLite cannot be opened). The Store front probes for
// SQLite capability at initialization with bounded timeouts and falls
// back rather than failing, so the application always ends up with
// working persistence.
//
// The sync queue and the settings table live in the same backend as
// the entity tables, so a mode switch never splits state across
// stores.
package storage

import (
	"context"
	"time"

	"github.com/linkstash/linkstash/internal/schema"
)

// Mode identifies which backend implementation is active.
type Mode string

const (
	ModeSQLite Mode = "sqlite"
	ModeFile   Mode = "file"
)

// Settings keys persisted in the active backend.
const (
	SettingCloudSyncEnabled = "cloud_sync_enabled"
	SettingInitialSyncDone  = "initial_sync_done"
	SettingLastSyncAt       = "last_sync_at"
)

// Backend is the persistence contract shared by the SQLite and file
// implementations.
//
// CRUD methods report operation failure through errors; a false return
// from Update/Delete means the row did not exist. Callers are expected
// to have validated input first - the backends do not re-validate.
type Backend interface {
	// Mode reports which implementation this is.
	Mode() Mode

	// Categories returns all categories ordered by id ascending.
	Categories(ctx context.Context) ([]schema.Category, error)

	// CategoryByID returns the category with the given id, or
	// schema.ErrNotFound.
	CategoryByID(ctx context.Context, id int64) (*schema.Category, error)

	// AddCategory inserts a category and returns its assigned id.
	AddCategory(ctx context.Context, c *schema.Category) (int64, error)

	// UpdateCategory overwrites the category row identified by c.ID.
	// Returns false if no such row exists.
	UpdateCategory(ctx context.Context, c *schema.Category) (bool, error)

	// DeleteCategory removes a category and cascades to its links.
	// Returns false if no such row exists.
	DeleteCategory(ctx context.Context, id int64) (bool, error)

	// UpsertCategory writes a category preserving its id, inserting
	// or overwriting as needed. Used by the sync engine's pull phase,
	// which must keep local ids aligned with remote rows and must not
	// enqueue new sync records.
	UpsertCategory(ctx context.Context, c *schema.Category) error

	// Links returns all links ordered by id descending (newest first).
	Links(ctx context.Context) ([]schema.Link, error)

	// LinksByCategory returns the links in one category, newest first.
	LinksByCategory(ctx context.Context, categoryID int64) ([]schema.Link, error)

	// AddLink inserts a link and returns its assigned id.
	AddLink(ctx context.Context, l *schema.Link) (int64, error)

	// UpdateLink overwrites the link row identified by l.ID.
	// Returns false if no such row exists.
	UpdateLink(ctx context.Context, l *schema.Link) (bool, error)

	// DeleteLink removes a link. Returns false if no such row exists.
	DeleteLink(ctx context.Context, id int64) (bool, error)

	// UpsertLink writes a link preserving its id. See UpsertCategory.
	UpsertLink(ctx context.Context, l *schema.Link) error

	// AppendSyncRecord appends an entry to the sync queue and returns
	// its assigned id. The queue is append-only; existing entries are
	// never rewritten by this method.
	AppendSyncRecord(ctx context.Context, r *schema.SyncRecord) (int64, error)

	// PendingSyncRecords returns all pending queue entries in creation
	// order (oldest first), so the sync engine replays mutations in
	// the order the user made them.
	PendingSyncRecords(ctx context.Context) ([]schema.SyncRecord, error)

	// UpdateSyncStatus advances the status of one queue entry.
	UpdateSyncStatus(ctx context.Context, id int64, status schema.SyncStatus) error

	// SyncStats returns a count of queue entries per status.
	SyncStats(ctx context.Context) (map[schema.SyncStatus]int, error)

	// ResetFailedSyncRecords flips failed entries back to pending so a
	// later pass retries them. Returns the number of entries reset.
	ResetFailedSyncRecords(ctx context.Context) (int, error)

	// PruneSyncedRecords deletes synced entries older than the cutoff.
	// Pending and failed entries are never pruned.
	PruneSyncedRecords(ctx context.Context, olderThan time.Time) (int, error)

	// Setting returns the stored value for key, or "" when unset.
	Setting(ctx context.Context, key string) (string, error)

	// SetSetting stores a key/value pair.
	SetSetting(ctx context.Context, key, value string) error

	// Close releases the underlying resources.
	Close() error
}
