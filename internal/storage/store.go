package storage

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/linkstash/linkstash/internal/schema"
	"go.uber.org/zap"
)

// DefaultStepTimeout bounds each initialization step (open, schema,
// migrate, seed) so a wedged driver cannot stall startup.
const DefaultStepTimeout = 5 * time.Second

// Options configures a Store.
type Options struct {
	// Dir is the data directory holding the database and fallback files.
	Dir string

	// StepTimeout bounds each init step. Zero means DefaultStepTimeout.
	StepTimeout time.Duration

	// DisableSQLite skips the SQLite probe entirely and goes straight
	// to the file backend.
	DisableSQLite bool

	// Logger for init and fallback events. Nil means zap.NewNop().
	Logger *zap.Logger
}

// Store is the storage front used by the rest of the application.
//
// Init probes for embedded-SQL capability and selects a backend; all
// failures during probing result in fallback to the file store, never
// in an error. Concurrent Init callers coalesce onto one in-flight
// initialization, and every CRUD method initializes lazily, so the
// Store is usable immediately after New.
type Store struct {
	opts Options
	log  *zap.Logger

	initOnce sync.Once
	backend  Backend

	// sqliteOpen is swapped out in tests to simulate hung or failing
	// capability probes.
	sqliteOpen func(ctx context.Context, path string) (Backend, error)
}

var _ Backend = (*Store)(nil)

// New creates a Store. No I/O happens until Init (or the first CRUD
// call).
func New(opts Options) *Store {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		opts: opts,
		log:  log,
		sqliteOpen: func(ctx context.Context, path string) (Backend, error) {
			return OpenSQLite(ctx, path)
		},
	}
}

// Init selects and initializes the active backend. Safe to call
// concurrently and repeatedly; all callers block until the single
// in-flight initialization finishes. Init never returns an error
// other than ctx cancellation: a failed SQLite probe means file mode,
// not failure.
func (s *Store) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.initOnce.Do(func() {
		s.backend = s.open(ctx)
	})
	return nil
}

// open runs the capability probe and returns the selected backend.
func (s *Store) open(ctx context.Context) Backend {
	if !s.opts.DisableSQLite {
		if b := s.trySQLite(ctx); b != nil {
			s.log.Info("storage initialized", zap.String("mode", string(ModeSQLite)))
			return b
		}
	}

	path := filepath.Join(s.opts.Dir, "linkstash.json")
	b, err := OpenFile(ctx, path)
	if err != nil {
		// Last resort: an in-memory document that at least keeps the
		// session alive. Losing persistence beats crashing here.
		s.log.Error("file store failed, continuing in memory", zap.Error(err))
		b = &FileBackend{path: filepath.Join(s.opts.Dir, "linkstash.json"), doc: newFileDoc()}
	}
	s.log.Info("storage initialized", zap.String("mode", string(ModeFile)))
	return b
}

// trySQLite probes for embedded SQLite with a bounded timeout. The
// open runs in its own goroutine so that even a probe that never
// resolves cannot wedge initialization; on timeout the connection is
// abandoned and closed if it ever materializes.
func (s *Store) trySQLite(ctx context.Context) Backend {
	path := filepath.Join(s.opts.Dir, "linkstash.db")

	probeCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()

	type result struct {
		backend Backend
		err     error
	}
	ch := make(chan result, 1)

	go func() {
		b, err := s.sqliteOpen(probeCtx, path)
		ch <- result{b, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			s.log.Warn("sqlite unavailable, falling back to file store", zap.Error(r.err))
			return nil
		}
		return r.backend
	case <-probeCtx.Done():
		s.log.Warn("sqlite probe timed out, falling back to file store",
			zap.Duration("timeout", s.opts.StepTimeout))
		// Reap the abandoned connection if the probe ever resolves.
		go func() {
			if r := <-ch; r.backend != nil {
				_ = r.backend.Close()
			}
		}()
		return nil
	}
}

// active returns the initialized backend, initializing lazily.
func (s *Store) active(ctx context.Context) (Backend, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s.backend, nil
}

// Mode implements Backend. Reports ModeFile before initialization has
// been triggered only if Init already ran; otherwise it initializes.
func (s *Store) Mode() Mode {
	b, err := s.active(context.Background())
	if err != nil {
		return ModeFile
	}
	return b.Mode()
}

// Close implements Backend.
func (s *Store) Close() error {
	// Without forcing init: closing an uninitialized store is a no-op.
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Categories implements Backend.
func (s *Store) Categories(ctx context.Context) ([]schema.Category, error) {
	b, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return b.Categories(ctx)
}

// CategoryByID implements Backend.
func (s *Store) CategoryByID(ctx context.Context, id int64) (*schema.Category, error) {
	b, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return b.CategoryByID(ctx, id)
}

// AddCategory implements Backend.
func (s *Store) AddCategory(ctx context.Context, c *schema.Category) (int64, error) {
	b, err := s.active(ctx)
	if err != nil {
		return 0, err
	}
	return b.AddCategory(ctx, c)
}

// UpdateCategory implements Backend.
func (s *Store) UpdateCategory(ctx context.Context, c *schema.Category) (bool, error) {
	b, err := s.active(ctx)
	if err != nil {
		return false, err
	}
	return b.UpdateCategory(ctx, c)
}

// UpsertCategory implements Backend.
func (s *Store) UpsertCategory(ctx context.Context, c *schema.Category) error {
	b, err := s.active(ctx)
	if err != nil {
		return err
	}
	return b.UpsertCategory(ctx, c)
}

// DeleteCategory implements Backend.
func (s *Store) DeleteCategory(ctx context.Context, id int64) (bool, error) {
	b, err := s.active(ctx)
	if err != nil {
		return false, err
	}
	return b.DeleteCategory(ctx, id)
}

// Links implements Backend.
func (s *Store) Links(ctx context.Context) ([]schema.Link, error) {
	b, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return b.Links(ctx)
}

// LinksByCategory implements Backend.
func (s *Store) LinksByCategory(ctx context.Context, categoryID int64) ([]schema.Link, error) {
	b, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return b.LinksByCategory(ctx, categoryID)
}

// AddLink implements Backend.
func (s *Store) AddLink(ctx context.Context, l *schema.Link) (int64, error) {
	b, err := s.active(ctx)
	if err != nil {
		return 0, err
	}
	return b.AddLink(ctx, l)
}

// UpdateLink implements Backend.
func (s *Store) UpdateLink(ctx context.Context, l *schema.Link) (bool, error) {
	b, err := s.active(ctx)
	if err != nil {
		return false, err
	}
	return b.UpdateLink(ctx, l)
}

// UpsertLink implements Backend.
func (s *Store) UpsertLink(ctx context.Context, l *schema.Link) error {
	b, err := s.active(ctx)
	if err != nil {
		return err
	}
	return b.UpsertLink(ctx, l)
}

// DeleteLink implements Backend.
func (s *Store) DeleteLink(ctx context.Context, id int64) (bool, error) {
	b, err := s.active(ctx)
	if err != nil {
		return false, err
	}
	return b.DeleteLink(ctx, id)
}

// AppendSyncRecord implements Backend.
func (s *Store) AppendSyncRecord(ctx context.Context, r *schema.SyncRecord) (int64, error) {
	b, err := s.active(ctx)
	if err != nil {
		return 0, err
	}
	return b.AppendSyncRecord(ctx, r)
}

// PendingSyncRecords implements Backend.
func (s *Store) PendingSyncRecords(ctx context.Context) ([]schema.SyncRecord, error) {
	b, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return b.PendingSyncRecords(ctx)
}

// UpdateSyncStatus implements Backend.
func (s *Store) UpdateSyncStatus(ctx context.Context, id int64, status schema.SyncStatus) error {
	b, err := s.active(ctx)
	if err != nil {
		return err
	}
	return b.UpdateSyncStatus(ctx, id, status)
}

// SyncStats implements Backend.
func (s *Store) SyncStats(ctx context.Context) (map[schema.SyncStatus]int, error) {
	b, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return b.SyncStats(ctx)
}

// ResetFailedSyncRecords implements Backend.
func (s *Store) ResetFailedSyncRecords(ctx context.Context) (int, error) {
	b, err := s.active(ctx)
	if err != nil {
		return 0, err
	}
	return b.ResetFailedSyncRecords(ctx)
}

// PruneSyncedRecords implements Backend.
func (s *Store) PruneSyncedRecords(ctx context.Context, olderThan time.Time) (int, error) {
	b, err := s.active(ctx)
	if err != nil {
		return 0, err
	}
	return b.PruneSyncedRecords(ctx, olderThan)
}

// Setting implements Backend.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	b, err := s.active(ctx)
	if err != nil {
		return "", err
	}
	return b.Setting(ctx, key)
}

// SetSetting implements Backend.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	b, err := s.active(ctx)
	if err != nil {
		return err
	}
	return b.SetSetting(ctx, key, value)
}
