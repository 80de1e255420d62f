// Package data provides the typed local data access layer.
//
// Every mutation goes through here: input is validated, the write
// lands in the active storage backend, and exactly one sync-queue
// record is appended so the change eventually reaches the remote
// store. Reads always come from local storage - the sync engine keeps
// it current in the background.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linkstash/linkstash/internal/schema"
	"github.com/linkstash/linkstash/internal/storage"
	"go.uber.org/zap"
)

// Service is the local data access layer.
type Service struct {
	store storage.Backend
	log   *zap.Logger
}

// New creates a Service over the given storage backend. If logger is
// nil a no-op logger is used.
func New(store storage.Backend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, log: logger}
}

// Categories returns all categories, oldest first.
func (s *Service) Categories(ctx context.Context) ([]schema.Category, error) {
	return s.store.Categories(ctx)
}

// CategoryByID returns one category or schema.ErrNotFound.
func (s *Service) CategoryByID(ctx context.Context, id int64) (*schema.Category, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: category id must be positive (got %d)", schema.ErrInvalidInput, id)
	}
	return s.store.CategoryByID(ctx, id)
}

// AddCategory validates and inserts a category, then enqueues a
// create record for sync.
func (s *Service) AddCategory(ctx context.Context, c *schema.Category) (int64, error) {
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return 0, err
	}

	id, err := s.store.AddCategory(ctx, c)
	if err != nil {
		return 0, err
	}

	s.enqueue(ctx, schema.TableCategories, id, schema.ActionCreate, c)
	return id, nil
}

// UpdateCategory validates and overwrites a category, then enqueues an
// update record. Returns false if the category does not exist.
func (s *Service) UpdateCategory(ctx context.Context, c *schema.Category) (bool, error) {
	if c.ID <= 0 {
		return false, fmt.Errorf("%w: category id must be positive (got %d)", schema.ErrInvalidInput, c.ID)
	}
	c.SetDefaults()
	c.Touch()
	if err := c.Validate(); err != nil {
		return false, err
	}

	ok, err := s.store.UpdateCategory(ctx, c)
	if err != nil || !ok {
		return ok, err
	}

	s.enqueue(ctx, schema.TableCategories, c.ID, schema.ActionUpdate, c)
	return true, nil
}

// DeleteCategory removes a category and, via storage-level cascade,
// its links. One delete record is enqueued for the category itself;
// the remote store mirrors the cascade server-side.
func (s *Service) DeleteCategory(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, fmt.Errorf("%w: category id must be positive (got %d)", schema.ErrInvalidInput, id)
	}

	ok, err := s.store.DeleteCategory(ctx, id)
	if err != nil || !ok {
		return ok, err
	}

	s.enqueue(ctx, schema.TableCategories, id, schema.ActionDelete, nil)
	return true, nil
}

// Links returns all links, newest first.
func (s *Service) Links(ctx context.Context) ([]schema.Link, error) {
	return s.store.Links(ctx)
}

// LinksByCategory returns the links in one category, newest first.
func (s *Service) LinksByCategory(ctx context.Context, categoryID int64) ([]schema.Link, error) {
	if categoryID <= 0 {
		return nil, fmt.Errorf("%w: category id must be positive (got %d)", schema.ErrInvalidInput, categoryID)
	}
	return s.store.LinksByCategory(ctx, categoryID)
}

// AddLink validates and inserts a link, then enqueues a create record.
// The referenced category must exist; the check happens here because
// the file backend has no foreign keys.
func (s *Service) AddLink(ctx context.Context, l *schema.Link) (int64, error) {
	l.SetDefaults()
	if err := l.Validate(); err != nil {
		return 0, err
	}
	if err := s.requireCategory(ctx, l.CategoryID); err != nil {
		return 0, err
	}

	id, err := s.store.AddLink(ctx, l)
	if err != nil {
		return 0, err
	}

	s.enqueue(ctx, schema.TableLinks, id, schema.ActionCreate, l)
	return id, nil
}

// UpdateLink validates and overwrites a link, then enqueues an update
// record. Returns false if the link does not exist.
func (s *Service) UpdateLink(ctx context.Context, l *schema.Link) (bool, error) {
	if l.ID <= 0 {
		return false, fmt.Errorf("%w: link id must be positive (got %d)", schema.ErrInvalidInput, l.ID)
	}
	l.SetDefaults()
	l.Touch()
	if err := l.Validate(); err != nil {
		return false, err
	}
	if err := s.requireCategory(ctx, l.CategoryID); err != nil {
		return false, err
	}

	ok, err := s.store.UpdateLink(ctx, l)
	if err != nil || !ok {
		return ok, err
	}

	s.enqueue(ctx, schema.TableLinks, l.ID, schema.ActionUpdate, l)
	return true, nil
}

// DeleteLink removes a link and enqueues a delete record.
func (s *Service) DeleteLink(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, fmt.Errorf("%w: link id must be positive (got %d)", schema.ErrInvalidInput, id)
	}

	ok, err := s.store.DeleteLink(ctx, id)
	if err != nil || !ok {
		return ok, err
	}

	s.enqueue(ctx, schema.TableLinks, id, schema.ActionDelete, nil)
	return true, nil
}

// requireCategory turns a missing category into a validation failure
// so no partial link write can reference a dangling category.
func (s *Service) requireCategory(ctx context.Context, id int64) error {
	if _, err := s.store.CategoryByID(ctx, id); err != nil {
		return fmt.Errorf("%w: category %d does not exist", schema.ErrInvalidInput, id)
	}
	return nil
}

// enqueue appends one sync record for a completed local mutation.
// A queue failure is logged but does not undo the mutation: the local
// write already succeeded, and losing one queue entry degrades to the
// same state as being offline.
func (s *Service) enqueue(ctx context.Context, table schema.TableName, recordID int64, action schema.SyncAction, snapshot any) {
	rec := &schema.SyncRecord{
		Table:    table,
		RecordID: recordID,
		Action:   action,
		Status:   schema.StatusPending,
	}

	if snapshot != nil {
		data, err := json.Marshal(snapshot)
		if err != nil {
			s.log.Error("failed to snapshot entity for sync",
				zap.String("table", string(table)),
				zap.Int64("record_id", recordID),
				zap.Error(err))
			return
		}
		rec.Data = data
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if _, err := s.store.AppendSyncRecord(ctx, rec); err != nil {
		s.log.Error("failed to enqueue sync record",
			zap.String("table", string(table)),
			zap.Int64("record_id", recordID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}
