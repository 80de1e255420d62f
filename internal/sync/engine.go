package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/linkstash/linkstash/internal/auth"
	"github.com/linkstash/linkstash/internal/remote"
	"github.com/linkstash/linkstash/internal/schema"
	"github.com/linkstash/linkstash/internal/storage"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Engine states.
const (
	StateIdle    = "idle"
	StateSyncing = "syncing"
)

// Config holds tunables for the sync engine.
type Config struct {
	// Schedule is the cron expression for periodic passes.
	// Default: "@every 5m".
	Schedule string

	// Cooldown is the minimum gap between background passes, so timer
	// overlap and network flapping cannot thrash the remote.
	// Default: 60s.
	Cooldown time.Duration

	// PingInterval is how often the network monitor probes the remote
	// endpoint. Default: 30s.
	PingInterval time.Duration

	// Logger for engine activity. Nil means zap.NewNop().
	Logger *zap.Logger
}

func (c *Config) setDefaults() {
	if c.Schedule == "" {
		c.Schedule = "@every 5m"
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Engine drains the sync queue against the remote store and pulls
// remote changes back into local storage.
type Engine struct {
	store   storage.Backend
	remote  remote.Client
	session auth.Session
	cfg     Config
	log     *zap.Logger

	syncing  atomic.Bool // single-flight pass guard
	enabled  atomic.Bool // mirrors the persisted user preference
	lastPass atomic.Int64 // unix nanos of last completed pass

	watcher *NetWatcher
	cron    *cron.Cron

	mu          sync.Mutex
	unsubscribe func()
	started     bool
}

// New creates an Engine. Call Start to arm the background triggers;
// Sync and TrySync work without Start for one-shot use.
func New(store storage.Backend, rc remote.Client, session auth.Session, cfg Config) *Engine {
	cfg.setDefaults()
	e := &Engine{
		store:   store,
		remote:  rc,
		session: session,
		cfg:     cfg,
		log:     cfg.Logger,
	}
	e.watcher = NewNetWatcher(rc.Ping, cfg.PingInterval, cfg.Logger)
	return e
}

// Start loads the persisted enabled flag, arms the periodic schedule,
// starts the network monitor, and subscribes to session changes.
// Returns an error only for an invalid schedule expression.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	if v, err := e.store.Setting(ctx, storage.SettingCloudSyncEnabled); err != nil {
		e.log.Warn("failed to read sync-enabled flag", zap.Error(err))
	} else {
		e.enabled.Store(v == "true")
	}

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(e.cfg.Schedule, func() {
		e.TrySync(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule periodic sync: %w", err)
	}

	e.watcher.OnChange(func(online bool) {
		if online {
			e.log.Info("network restored, triggering sync")
			e.TrySync(context.Background())
		}
	})
	e.watcher.Start()
	e.cron.Start()

	e.unsubscribe = e.session.Subscribe(func(userID string) {
		if userID == "" {
			return
		}
		go e.onSignIn(context.Background(), userID)
	})

	e.started = true
	e.log.Info("sync engine started", zap.String("schedule", e.cfg.Schedule))
	return nil
}

// Stop tears down the timer, the network monitor, and the session
// subscription. An in-flight pass is allowed to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.cron.Stop()
	e.watcher.Stop()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.started = false
	e.log.Info("sync engine stopped")
}

// State reports "idle" or "syncing".
func (e *Engine) State() string {
	if e.syncing.Load() {
		return StateSyncing
	}
	return StateIdle
}

// Enabled reports whether cloud sync is user-enabled.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// Online reports the last observed network state.
func (e *Engine) Online() bool { return e.watcher.Online() }

// SetEnabled persists the user's cloud-sync preference. Enabling
// triggers an immediate pass.
func (e *Engine) SetEnabled(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	if err := e.store.SetSetting(ctx, storage.SettingCloudSyncEnabled, value); err != nil {
		return fmt.Errorf("failed to persist sync-enabled flag: %w", err)
	}
	e.enabled.Store(enabled)

	if enabled {
		e.TrySync(ctx)
	}
	return nil
}

// TrySync runs a background pass if all gates allow it. Triggers that
// fall through a gate (disabled, offline, signed out, in-flight pass,
// cooldown) are silent no-ops; background sync failures are logged,
// never surfaced.
func (e *Engine) TrySync(ctx context.Context) {
	if !e.enabled.Load() {
		return
	}
	if !e.watcher.Online() {
		e.log.Debug("sync skipped: offline")
		return
	}
	if err := e.sync(ctx, false); err != nil {
		e.log.Warn("background sync failed", zap.Error(err))
	}
}

// Sync runs a manual pass, bypassing the cooldown and the enabled
// flag, and reports the overall result. Still requires a signed-in
// user and single-flight.
func (e *Engine) Sync(ctx context.Context) error {
	return e.sync(ctx, true)
}

// ErrSyncInProgress is returned by a manual Sync that lost the
// single-flight race.
var ErrSyncInProgress = fmt.Errorf("sync already in progress")

func (e *Engine) sync(ctx context.Context, force bool) error {
	userID := e.session.UserID()
	if userID == "" {
		if force {
			return fmt.Errorf("no authenticated user")
		}
		e.log.Debug("sync skipped: not signed in")
		return nil
	}

	if !force {
		last := time.Unix(0, e.lastPass.Load())
		if time.Since(last) < e.cfg.Cooldown {
			e.log.Debug("sync skipped: cooldown",
				zap.Time("last_pass", last),
				zap.Duration("cooldown", e.cfg.Cooldown))
			return nil
		}
	}

	if !e.syncing.CompareAndSwap(false, true) {
		if force {
			return ErrSyncInProgress
		}
		return nil
	}
	defer e.syncing.Store(false)

	pass := uuid.NewString()[:8]
	log := e.log.With(zap.String("pass", pass), zap.String("user", userID))
	log.Info("sync pass started")

	pushed, failed := e.drain(ctx, userID, log)

	if err := e.pull(ctx, userID, log); err != nil {
		// Push results are already durable; a pull failure only
		// aborts the pull.
		log.Warn("pull phase failed", zap.Error(err))
		if force {
			return fmt.Errorf("pull failed: %w", err)
		}
	}

	now := time.Now()
	e.lastPass.Store(now.UnixNano())
	if err := e.store.SetSetting(ctx, storage.SettingLastSyncAt, now.UTC().Format(time.RFC3339)); err != nil {
		log.Warn("failed to record sync completion time", zap.Error(err))
	}

	log.Info("sync pass finished", zap.Int("pushed", pushed), zap.Int("failed", failed))
	if force && failed > 0 {
		return fmt.Errorf("%d of %d records failed to sync", failed, pushed+failed)
	}
	return nil
}

// drain replays pending queue records against the remote adapter in
// creation order. Each record succeeds or fails on its own.
func (e *Engine) drain(ctx context.Context, userID string, log *zap.Logger) (pushed, failed int) {
	records, err := e.store.PendingSyncRecords(ctx)
	if err != nil {
		log.Error("failed to load pending sync records", zap.Error(err))
		return 0, 0
	}
	if len(records) == 0 {
		return 0, 0
	}
	log.Info("draining sync queue", zap.Int("pending", len(records)))

	for _, rec := range records {
		err := e.dispatch(ctx, userID, &rec)

		status := schema.StatusSynced
		if err != nil {
			status = schema.StatusFailed
			failed++
			log.Warn("sync record failed",
				zap.Int64("id", rec.ID),
				zap.String("table", string(rec.Table)),
				zap.String("action", string(rec.Action)),
				zap.Int64("record_id", rec.RecordID),
				zap.Error(err))
		} else {
			pushed++
		}

		if uerr := e.store.UpdateSyncStatus(ctx, rec.ID, status); uerr != nil {
			log.Error("failed to update sync record status",
				zap.Int64("id", rec.ID), zap.Error(uerr))
		}
	}
	return pushed, failed
}

// dispatch applies one queue record to the remote store.
func (e *Engine) dispatch(ctx context.Context, userID string, rec *schema.SyncRecord) error {
	switch rec.Table {
	case schema.TableCategories:
		return e.dispatchCategory(ctx, userID, rec)
	case schema.TableLinks:
		return e.dispatchLink(ctx, userID, rec)
	default:
		return fmt.Errorf("unknown sync table %q", rec.Table)
	}
}

func (e *Engine) dispatchCategory(ctx context.Context, userID string, rec *schema.SyncRecord) error {
	switch rec.Action {
	case schema.ActionCreate:
		c, err := rec.DecodeCategory()
		if err != nil {
			return err
		}
		c.ID = rec.RecordID
		_, err = e.remote.InsertCategory(ctx, userID, c)
		return err
	case schema.ActionUpdate:
		c, err := rec.DecodeCategory()
		if err != nil {
			return err
		}
		c.ID = rec.RecordID
		return e.remote.UpdateCategory(ctx, userID, c)
	case schema.ActionDelete:
		return e.remote.DeleteCategory(ctx, userID, rec.RecordID)
	default:
		return fmt.Errorf("unknown sync action %q", rec.Action)
	}
}

func (e *Engine) dispatchLink(ctx context.Context, userID string, rec *schema.SyncRecord) error {
	switch rec.Action {
	case schema.ActionCreate:
		l, err := rec.DecodeLink()
		if err != nil {
			return err
		}
		l.ID = rec.RecordID
		_, err = e.remote.InsertLink(ctx, userID, l)
		return err
	case schema.ActionUpdate:
		l, err := rec.DecodeLink()
		if err != nil {
			return err
		}
		l.ID = rec.RecordID
		return e.remote.UpdateLink(ctx, userID, l)
	case schema.ActionDelete:
		return e.remote.DeleteLink(ctx, userID, rec.RecordID)
	default:
		return fmt.Errorf("unknown sync action %q", rec.Action)
	}
}

// pull reconciles remote rows into local storage. Missing rows are
// inserted with their remote ids; existing rows are overwritten only
// when the remote copy is strictly newer. Writes go straight to the
// storage backend so no new sync records are enqueued.
func (e *Engine) pull(ctx context.Context, userID string, log *zap.Logger) error {
	remoteCats, err := e.remote.ListCategories(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch remote categories: %w", err)
	}
	remoteLinks, err := e.remote.ListLinks(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch remote links: %w", err)
	}

	localCats, err := e.store.Categories(ctx)
	if err != nil {
		return fmt.Errorf("failed to load local categories: %w", err)
	}
	localLinks, err := e.store.Links(ctx)
	if err != nil {
		return fmt.Errorf("failed to load local links: %w", err)
	}

	catByID := make(map[int64]schema.Category, len(localCats))
	for _, c := range localCats {
		catByID[c.ID] = c
	}
	linkByID := make(map[int64]schema.Link, len(localLinks))
	for _, l := range localLinks {
		linkByID[l.ID] = l
	}

	applied := 0
	for _, rc := range remoteCats {
		local, exists := catByID[rc.ID]
		if exists && !remoteNewer(rc.UpdatedAt, rc.CreatedAt, local.UpdatedAt, local.CreatedAt) {
			continue
		}
		cat := rc
		if err := e.store.UpsertCategory(ctx, &cat); err != nil {
			log.Warn("failed to apply remote category", zap.Int64("id", rc.ID), zap.Error(err))
			continue
		}
		applied++
	}

	for _, rl := range remoteLinks {
		local, exists := linkByID[rl.ID]
		if exists && !remoteNewer(rl.UpdatedAt, rl.CreatedAt, local.UpdatedAt, local.CreatedAt) {
			continue
		}
		link := rl
		if err := e.store.UpsertLink(ctx, &link); err != nil {
			log.Warn("failed to apply remote link", zap.Int64("id", rl.ID), zap.Error(err))
			continue
		}
		applied++
	}

	if applied > 0 {
		log.Info("pull applied remote changes", zap.Int("rows", applied))
	}
	return nil
}

// remoteNewer implements the last-writer-wins comparison: the remote
// row wins only when its timestamp is strictly newer; ties keep the
// local row. A missing updated_at falls back to created_at.
func remoteNewer(remoteUpdated, remoteCreated, localUpdated, localCreated time.Time) bool {
	r := remoteUpdated
	if r.IsZero() {
		r = remoteCreated
	}
	l := localUpdated
	if l.IsZero() {
		l = localCreated
	}
	return r.After(l)
}

// onSignIn handles a sign-in event: a user whose local data predates
// their first cloud session gets a one-time bulk upload, after which
// ongoing sync is enabled.
func (e *Engine) onSignIn(ctx context.Context, userID string) {
	done, err := e.store.Setting(ctx, storage.SettingInitialSyncDone)
	if err != nil {
		e.log.Warn("failed to read initial-sync flag", zap.Error(err))
		return
	}
	if done == "true" {
		e.TrySync(ctx)
		return
	}

	if err := e.InitialLoginSync(ctx, userID); err != nil {
		e.log.Warn("initial login sync failed", zap.Error(err))
		return
	}
	e.TrySync(ctx)
}

// InitialLoginSync uploads every local category and link as a fresh
// remote insert. The remote account is assumed empty, so there is no
// dedup against remote rows. On success the one-time flag is set and
// ongoing sync is enabled.
func (e *Engine) InitialLoginSync(ctx context.Context, userID string) error {
	log := e.log.With(zap.String("user", userID))
	log.Info("starting initial login sync")

	categories, err := e.store.Categories(ctx)
	if err != nil {
		return fmt.Errorf("failed to load local categories: %w", err)
	}
	links, err := e.store.Links(ctx)
	if err != nil {
		return fmt.Errorf("failed to load local links: %w", err)
	}

	uploaded, failures := 0, 0
	for _, c := range categories {
		cat := c
		if _, err := e.remote.InsertCategory(ctx, userID, &cat); err != nil {
			failures++
			log.Warn("failed to upload category", zap.Int64("id", c.ID), zap.Error(err))
			continue
		}
		uploaded++
	}
	for _, l := range links {
		link := l
		if _, err := e.remote.InsertLink(ctx, userID, &link); err != nil {
			failures++
			log.Warn("failed to upload link", zap.Int64("id", l.ID), zap.Error(err))
			continue
		}
		uploaded++
	}

	if err := e.store.SetSetting(ctx, storage.SettingInitialSyncDone, "true"); err != nil {
		return fmt.Errorf("failed to record initial sync completion: %w", err)
	}
	if err := e.SetEnabled(ctx, true); err != nil {
		return err
	}

	log.Info("initial login sync finished",
		zap.Int("uploaded", uploaded), zap.Int("failures", failures))
	return nil
}

// FullUpload pushes every local row to the remote store as an insert,
// regardless of queue state. This is the manual "push everything"
// action; routine operation relies on the queue instead.
func (e *Engine) FullUpload(ctx context.Context) error {
	userID := e.session.UserID()
	if userID == "" {
		return fmt.Errorf("no authenticated user")
	}
	return e.InitialLoginSync(ctx, userID)
}

// RetryFailed flips failed queue records back to pending and runs a
// manual pass over them.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	n, err := e.store.ResetFailedSyncRecords(ctx)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	e.log.Info("reset failed sync records", zap.Int("count", n))
	return n, e.Sync(ctx)
}

// Status is a point-in-time snapshot for the CLI and the HTTP API.
type Status struct {
	State      string                    `json:"state"`
	Enabled    bool                      `json:"enabled"`
	Online     bool                      `json:"online"`
	LastSyncAt string                    `json:"last_sync_at,omitempty"`
	Queue      map[schema.SyncStatus]int `json:"queue"`
}

// Status reports the engine and queue state.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	stats, err := e.store.SyncStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	last, err := e.store.Setting(ctx, storage.SettingLastSyncAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	}
	return &Status{
		State:      e.State(),
		Enabled:    e.Enabled(),
		Online:     e.Online(),
		LastSyncAt: last,
		Queue:      stats,
	}, nil
}
