package schema

import (
	"fmt"
	"strings"
	"time"
)

// DefaultCategories are seeded into every fresh store so the app is
// usable before the user creates anything.
var DefaultCategories = []Category{
	{Name: "Videos", Icon: "video"},
	{Name: "Images", Icon: "image"},
}

// Category is a named bucket of links.
//
// ID is assigned by the local store (autoincrement). UserID is empty
// until the row has been pushed to the remote store, which scopes
// every row by its owning user.
type Category struct {
	ID     int64  `json:"id,omitempty"`
	UserID string `json:"user_id,omitempty"`

	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the category invariants enforced before any write.
func (c *Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: category name is required", ErrInvalidInput)
	}
	if c.Icon == "" {
		return fmt.Errorf("%w: category icon is required", ErrInvalidInput)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Category) SetDefaults() {
	c.Name = strings.TrimSpace(c.Name)
	if c.Icon == "" {
		c.Icon = "folder"
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
}

// Touch sets UpdatedAt to current time. Call on every modification so
// last-write-wins comparisons see the edit.
func (c *Category) Touch() {
	c.UpdatedAt = time.Now().UTC()
}
