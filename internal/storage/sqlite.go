package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/linkstash/linkstash/internal/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteBackend stores entities, the sync queue, and settings in an
// embedded SQLite database with WAL mode for concurrent reads.
type SQLiteBackend struct {
	conn *sql.DB
	path string
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLite opens or creates the database at path, applies the
// schema, runs additive column migrations, and seeds the default
// categories into a fresh store.
//
// Every step honors ctx, so the caller can bound how long a wedged
// driver may stall initialization. The caller MUST call Close() when
// done.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	b := &SQLiteBackend{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := b.initSchema(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.migrate(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.seedDefaults(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}

	return b, nil
}

// Mode implements Backend.
func (b *SQLiteBackend) Mode() Mode { return ModeSQLite }

// Path returns the database file path.
func (b *SQLiteBackend) Path() string { return b.path }

// Close closes the database connection after checkpointing the WAL.
func (b *SQLiteBackend) Close() error {
	if b.conn == nil {
		return nil
	}
	if _, err := b.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	b.conn = nil
	return nil
}

// initSchema creates the tables if they don't exist. Idempotent.
func (b *SQLiteBackend) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT,
		name TEXT NOT NULL,
		icon TEXT NOT NULL,
		color TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT,
		category_id INTEGER NOT NULL,
		url TEXT NOT NULL,
		title TEXT,
		description TEXT,
		thumbnail TEXT,
		type TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_links_category ON links(category_id);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, id);
	`

	if _, err := b.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// migrate adds columns introduced after the original schema shipped.
// Each column is probed with a trial query; a probe failure means the
// column is missing and an ALTER TABLE adds it. Only additive changes
// are supported.
func (b *SQLiteBackend) migrate(ctx context.Context) error {
	migrations := []struct {
		table, column, ddl string
	}{
		{"categories", "description", "ALTER TABLE categories ADD COLUMN description TEXT"},
		{"categories", "updated_at", "ALTER TABLE categories ADD COLUMN updated_at TEXT"},
		{"links", "favicon", "ALTER TABLE links ADD COLUMN favicon TEXT"},
		{"links", "updated_at", "ALTER TABLE links ADD COLUMN updated_at TEXT"},
	}

	for _, m := range migrations {
		probe := fmt.Sprintf("SELECT %s FROM %s LIMIT 1", m.column, m.table) //nolint:gosec // table/column names are compile-time constants
		if _, err := b.conn.ExecContext(ctx, probe); err == nil {
			continue
		}
		if _, err := b.conn.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

// seedDefaults inserts the default categories into an empty store.
func (b *SQLiteBackend) seedDefaults(ctx context.Context) error {
	var count int
	if err := b.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories").Scan(&count); err != nil {
		return fmt.Errorf("failed to count categories: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, c := range schema.DefaultCategories {
		seed := c
		seed.SetDefaults()
		if _, err := b.AddCategory(ctx, &seed); err != nil {
			return fmt.Errorf("failed to seed category %q: %w", seed.Name, err)
		}
	}
	return nil
}

// Categories implements Backend.
func (b *SQLiteBackend) Categories(ctx context.Context) ([]schema.Category, error) {
	rows, err := b.conn.QueryContext(ctx, `
		SELECT id, user_id, name, icon, color, description, created_at, updated_at
		FROM categories ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	return scanCategories(rows)
}

// CategoryByID implements Backend.
func (b *SQLiteBackend) CategoryByID(ctx context.Context, id int64) (*schema.Category, error) {
	row := b.conn.QueryRowContext(ctx, `
		SELECT id, user_id, name, icon, color, description, created_at, updated_at
		FROM categories WHERE id = ?`, id)

	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, schema.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category %d: %w", id, err)
	}
	return c, nil
}

// AddCategory implements Backend.
func (b *SQLiteBackend) AddCategory(ctx context.Context, c *schema.Category) (int64, error) {
	res, err := b.conn.ExecContext(ctx, `
		INSERT INTO categories (user_id, name, icon, color, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullString(c.UserID),
		c.Name,
		c.Icon,
		nullString(c.Color),
		nullString(c.Description),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert category: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get category insert id: %w", err)
	}
	c.ID = id
	return id, nil
}

// UpdateCategory implements Backend.
func (b *SQLiteBackend) UpdateCategory(ctx context.Context, c *schema.Category) (bool, error) {
	res, err := b.conn.ExecContext(ctx, `
		UPDATE categories
		SET user_id = ?, name = ?, icon = ?, color = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		nullString(c.UserID),
		c.Name,
		c.Icon,
		nullString(c.Color),
		nullString(c.Description),
		c.UpdatedAt.Format(time.RFC3339),
		c.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update category %d: %w", c.ID, err)
	}
	return rowsAffected(res), nil
}

// UpsertCategory implements Backend. The explicit id keeps local rows
// aligned with their remote counterparts during pull.
func (b *SQLiteBackend) UpsertCategory(ctx context.Context, c *schema.Category) error {
	_, err := b.conn.ExecContext(ctx, `
		INSERT INTO categories (id, user_id, name, icon, color, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			icon = excluded.icon,
			color = excluded.color,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		c.ID,
		nullString(c.UserID),
		c.Name,
		c.Icon,
		nullString(c.Color),
		nullString(c.Description),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert category %d: %w", c.ID, err)
	}
	return nil
}

// DeleteCategory implements Backend. Links referencing the category
// are removed by the ON DELETE CASCADE constraint.
func (b *SQLiteBackend) DeleteCategory(ctx context.Context, id int64) (bool, error) {
	res, err := b.conn.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete category %d: %w", id, err)
	}
	return rowsAffected(res), nil
}

const linkColumns = "id, user_id, category_id, url, title, description, thumbnail, favicon, type, created_at, updated_at"

// Links implements Backend.
func (b *SQLiteBackend) Links(ctx context.Context) ([]schema.Link, error) {
	rows, err := b.conn.QueryContext(ctx,
		"SELECT "+linkColumns+" FROM links ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	return scanLinks(rows)
}

// LinksByCategory implements Backend.
func (b *SQLiteBackend) LinksByCategory(ctx context.Context, categoryID int64) ([]schema.Link, error) {
	rows, err := b.conn.QueryContext(ctx,
		"SELECT "+linkColumns+" FROM links WHERE category_id = ? ORDER BY id DESC", categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query links for category %d: %w", categoryID, err)
	}
	defer rows.Close()

	return scanLinks(rows)
}

// AddLink implements Backend.
func (b *SQLiteBackend) AddLink(ctx context.Context, l *schema.Link) (int64, error) {
	res, err := b.conn.ExecContext(ctx, `
		INSERT INTO links (user_id, category_id, url, title, description, thumbnail, favicon, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(l.UserID),
		l.CategoryID,
		l.URL,
		nullString(l.Title),
		nullString(l.Description),
		nullString(l.Thumbnail),
		nullString(l.Favicon),
		string(l.Type),
		l.CreatedAt.Format(time.RFC3339),
		l.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert link: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get link insert id: %w", err)
	}
	l.ID = id
	return id, nil
}

// UpdateLink implements Backend.
func (b *SQLiteBackend) UpdateLink(ctx context.Context, l *schema.Link) (bool, error) {
	res, err := b.conn.ExecContext(ctx, `
		UPDATE links
		SET user_id = ?, category_id = ?, url = ?, title = ?, description = ?,
		    thumbnail = ?, favicon = ?, type = ?, updated_at = ?
		WHERE id = ?`,
		nullString(l.UserID),
		l.CategoryID,
		l.URL,
		nullString(l.Title),
		nullString(l.Description),
		nullString(l.Thumbnail),
		nullString(l.Favicon),
		string(l.Type),
		l.UpdatedAt.Format(time.RFC3339),
		l.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update link %d: %w", l.ID, err)
	}
	return rowsAffected(res), nil
}

// UpsertLink implements Backend.
func (b *SQLiteBackend) UpsertLink(ctx context.Context, l *schema.Link) error {
	_, err := b.conn.ExecContext(ctx, `
		INSERT INTO links (id, user_id, category_id, url, title, description, thumbnail, favicon, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			category_id = excluded.category_id,
			url = excluded.url,
			title = excluded.title,
			description = excluded.description,
			thumbnail = excluded.thumbnail,
			favicon = excluded.favicon,
			type = excluded.type,
			updated_at = excluded.updated_at`,
		l.ID,
		nullString(l.UserID),
		l.CategoryID,
		l.URL,
		nullString(l.Title),
		nullString(l.Description),
		nullString(l.Thumbnail),
		nullString(l.Favicon),
		string(l.Type),
		l.CreatedAt.Format(time.RFC3339),
		l.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert link %d: %w", l.ID, err)
	}
	return nil
}

// DeleteLink implements Backend.
func (b *SQLiteBackend) DeleteLink(ctx context.Context, id int64) (bool, error) {
	res, err := b.conn.ExecContext(ctx, "DELETE FROM links WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete link %d: %w", id, err)
	}
	return rowsAffected(res), nil
}

// AppendSyncRecord implements Backend.
func (b *SQLiteBackend) AppendSyncRecord(ctx context.Context, r *schema.SyncRecord) (int64, error) {
	res, err := b.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (table_name, record_id, action, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(r.Table),
		r.RecordID,
		string(r.Action),
		string(r.Status),
		nullString(string(r.Data)),
		r.CreatedAt.Format(time.RFC3339Nano),
		r.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append sync record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get sync record insert id: %w", err)
	}
	r.ID = id
	return id, nil
}

// PendingSyncRecords implements Backend. Ordering by id preserves
// creation order even when two records share a timestamp.
func (b *SQLiteBackend) PendingSyncRecords(ctx context.Context) ([]schema.SyncRecord, error) {
	rows, err := b.conn.QueryContext(ctx, `
		SELECT id, table_name, record_id, action, status, data, created_at, updated_at
		FROM sync_queue WHERE status = ? ORDER BY id ASC`,
		string(schema.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending sync records: %w", err)
	}
	defer rows.Close()

	var records []schema.SyncRecord
	for rows.Next() {
		var (
			r                    schema.SyncRecord
			table, action, state string
			data                 sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&r.ID, &table, &r.RecordID, &action, &state, &data, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		r.Table = schema.TableName(table)
		r.Action = schema.SyncAction(action)
		r.Status = schema.SyncStatus(state)
		if data.Valid {
			r.Data = []byte(data.String)
		}
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync records: %w", err)
	}
	return records, nil
}

// UpdateSyncStatus implements Backend.
func (b *SQLiteBackend) UpdateSyncStatus(ctx context.Context, id int64, status schema.SyncStatus) error {
	res, err := b.conn.ExecContext(ctx,
		"UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to update sync record %d: %w", id, err)
	}
	if !rowsAffected(res) {
		return fmt.Errorf("sync record %d: %w", id, schema.ErrNotFound)
	}
	return nil
}

// SyncStats implements Backend.
func (b *SQLiteBackend) SyncStats(ctx context.Context) (map[schema.SyncStatus]int, error) {
	rows, err := b.conn.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to query sync stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[schema.SyncStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan sync stats: %w", err)
		}
		stats[schema.SyncStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync stats: %w", err)
	}
	return stats, nil
}

// ResetFailedSyncRecords implements Backend.
func (b *SQLiteBackend) ResetFailedSyncRecords(ctx context.Context) (int, error) {
	res, err := b.conn.ExecContext(ctx,
		"UPDATE sync_queue SET status = ?, updated_at = ? WHERE status = ?",
		string(schema.StatusPending),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(schema.StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed sync records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneSyncedRecords implements Backend.
func (b *SQLiteBackend) PruneSyncedRecords(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := b.conn.ExecContext(ctx,
		"DELETE FROM sync_queue WHERE status = ? AND updated_at < ?",
		string(schema.StatusSynced), olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to prune synced records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Setting implements Backend.
func (b *SQLiteBackend) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := b.conn.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting implements Backend.
func (b *SQLiteBackend) SetSetting(ctx context.Context, key, value string) error {
	_, err := b.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanCategory(s scanner) (*schema.Category, error) {
	var (
		c                           schema.Category
		userID, color, description  sql.NullString
		createdAt                   string
		updatedAt                   sql.NullString
	)
	if err := s.Scan(&c.ID, &userID, &c.Name, &c.Icon, &color, &description, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.UserID = userID.String
	c.Color = color.String
	c.Description = description.String
	c.CreatedAt = parseTime(createdAt)
	if updatedAt.Valid {
		c.UpdatedAt = parseTime(updatedAt.String)
	} else {
		c.UpdatedAt = c.CreatedAt
	}
	return &c, nil
}

func scanCategories(rows *sql.Rows) ([]schema.Category, error) {
	var categories []schema.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

func scanLinks(rows *sql.Rows) ([]schema.Link, error) {
	var links []schema.Link
	for rows.Next() {
		var (
			l                                           schema.Link
			userID, title, description, thumb, favicon  sql.NullString
			typ, createdAt                              string
			updatedAt                                   sql.NullString
		)
		if err := rows.Scan(&l.ID, &userID, &l.CategoryID, &l.URL, &title, &description,
			&thumb, &favicon, &typ, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		l.UserID = userID.String
		l.Title = title.String
		l.Description = description.String
		l.Thumbnail = thumb.String
		l.Favicon = favicon.String
		l.Type = schema.LinkType(typ)
		l.CreatedAt = parseTime(createdAt)
		if updatedAt.Valid {
			l.UpdatedAt = parseTime(updatedAt.String)
		} else {
			l.UpdatedAt = l.CreatedAt
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}
	return links, nil
}

// nullString converts "" to SQL NULL.
// rowsAffected reports whether an exec touched at least one row.
func rowsAffected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// parseTime parses an RFC 3339 timestamp, tolerating the nano form.
// A zero time is returned for malformed values rather than an error;
// the sync engine treats zero as "oldest possible".
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if t, err := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(s)); err == nil {
		return t
	}
	return time.Time{}
}
