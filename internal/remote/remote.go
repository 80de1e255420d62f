// Package remote provides the typed adapter over the hosted row API.
//
// The remote store exposes row-level CRUD on two tables (categories,
// links), each scoped server-side by an owning user_id column. This
// package does not reimplement any of that - it is a thin HTTP client
// speaking the PostgREST conventions the hosted backend uses, plus a
// narrow interface so the sync engine can be tested against a fake.
package remote

import (
	"context"

	"github.com/linkstash/linkstash/internal/schema"
)

// Client is the row-level CRUD surface the sync engine needs.
//
// All operations are scoped to the given user id: updates and deletes
// only touch rows the user owns, and lists only return them. The
// server enforces the same scoping regardless; passing the id here
// keeps requests narrow and error messages honest.
type Client interface {
	// Ping reports whether the remote endpoint is reachable. Used by
	// the network monitor; the result carries no authorization
	// meaning.
	Ping(ctx context.Context) error

	// InsertCategory creates a remote category row owned by userID
	// and returns the stored row.
	InsertCategory(ctx context.Context, userID string, c *schema.Category) (*schema.Category, error)

	// UpdateCategory overwrites the remote row with id c.ID.
	UpdateCategory(ctx context.Context, userID string, c *schema.Category) error

	// DeleteCategory removes the remote row. Deleting a category
	// cascades to its links server-side.
	DeleteCategory(ctx context.Context, userID string, id int64) error

	// ListCategories returns all remote categories owned by userID.
	ListCategories(ctx context.Context, userID string) ([]schema.Category, error)

	// InsertLink creates a remote link row owned by userID and
	// returns the stored row.
	InsertLink(ctx context.Context, userID string, l *schema.Link) (*schema.Link, error)

	// UpdateLink overwrites the remote row with id l.ID.
	UpdateLink(ctx context.Context, userID string, l *schema.Link) error

	// DeleteLink removes the remote row.
	DeleteLink(ctx context.Context, userID string, id int64) error

	// ListLinks returns all remote links owned by userID.
	ListLinks(ctx context.Context, userID string) ([]schema.Link, error)
}
