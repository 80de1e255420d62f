package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the storage and data layers.
var (
	// ErrInvalidInput marks a caller mistake rejected before any write.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a row id does not exist.
	ErrNotFound = errors.New("not found")
)

// TableName identifies one of the two synced logical tables.
type TableName string

const (
	TableCategories TableName = "categories"
	TableLinks      TableName = "links"
)

// Valid reports whether t names a synced table.
func (t TableName) Valid() bool {
	return t == TableCategories || t == TableLinks
}

// SyncAction is the mutation kind captured by a sync record.
type SyncAction string

const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionDelete SyncAction = "delete"
)

// Valid reports whether a is a known action.
func (a SyncAction) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// SyncStatus is the resolution state of a sync record.
//
// Status advances monotonically: pending records become synced or
// failed inside the sync engine and never go back to pending except
// through an explicit operator retry.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// SyncRecord is one entry in the append-only mutation log.
//
// A second mutation on the same record appends a new SyncRecord rather
// than rewriting the old one, so the queue preserves the order the
// user made the edits in. Data holds a JSON snapshot of the entity at
// enqueue time for create/update; it is empty for delete.
type SyncRecord struct {
	ID       int64           `json:"id"`
	Table    TableName       `json:"table"`
	RecordID int64           `json:"record_id"`
	Action   SyncAction      `json:"action"`
	Status   SyncStatus      `json:"status"`
	Data     json.RawMessage `json:"data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the record fields written by the data layer.
func (r *SyncRecord) Validate() error {
	if !r.Table.Valid() {
		return fmt.Errorf("%w: unknown sync table %q", ErrInvalidInput, r.Table)
	}
	if r.RecordID <= 0 {
		return fmt.Errorf("%w: sync record_id must be positive (got %d)", ErrInvalidInput, r.RecordID)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: unknown sync action %q", ErrInvalidInput, r.Action)
	}
	if r.Action != ActionDelete && len(r.Data) == 0 {
		return fmt.Errorf("%w: %s sync record requires a data snapshot", ErrInvalidInput, r.Action)
	}
	return nil
}

// DecodeCategory unmarshals the snapshot payload as a Category.
func (r *SyncRecord) DecodeCategory() (*Category, error) {
	var c Category
	if err := json.Unmarshal(r.Data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode category snapshot for sync record %d: %w", r.ID, err)
	}
	return &c, nil
}

// DecodeLink unmarshals the snapshot payload as a Link.
func (r *SyncRecord) DecodeLink() (*Link, error) {
	var l Link
	if err := json.Unmarshal(r.Data, &l); err != nil {
		return nil, fmt.Errorf("failed to decode link snapshot for sync record %d: %w", r.ID, err)
	}
	return &l, nil
}
