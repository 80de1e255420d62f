package schema

import (
	"fmt"
	"strings"
	"time"
)

// LinkType classifies a saved URL for display purposes.
type LinkType string

const (
	LinkTypeImage LinkType = "image"
	LinkTypeVideo LinkType = "video"
	LinkTypeFile  LinkType = "file"
	LinkTypeOther LinkType = "other"
)

// Valid reports whether t is one of the known link types.
func (t LinkType) Valid() bool {
	switch t {
	case LinkTypeImage, LinkTypeVideo, LinkTypeFile, LinkTypeOther:
		return true
	}
	return false
}

// Link is a saved URL with optional preview metadata.
//
// CategoryID must reference an existing Category at write time;
// deleting a category cascades to its links.
type Link struct {
	ID     int64  `json:"id,omitempty"`
	UserID string `json:"user_id,omitempty"`

	CategoryID  int64    `json:"category_id"`
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Favicon     string   `json:"favicon,omitempty"`
	Type        LinkType `json:"type"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the link invariants enforced before any write.
// Category existence is checked by the data layer, which can see the
// categories table.
func (l *Link) Validate() error {
	if strings.TrimSpace(l.URL) == "" {
		return fmt.Errorf("%w: link url is required", ErrInvalidInput)
	}
	if l.CategoryID <= 0 {
		return fmt.Errorf("%w: link category_id must be positive (got %d)", ErrInvalidInput, l.CategoryID)
	}
	if !l.Type.Valid() {
		return fmt.Errorf("%w: unknown link type %q", ErrInvalidInput, l.Type)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (l *Link) SetDefaults() {
	l.URL = strings.TrimSpace(l.URL)
	if l.Type == "" {
		l.Type = LinkTypeOther
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}
}

// Touch sets UpdatedAt to current time.
func (l *Link) Touch() {
	l.UpdatedAt = time.Now().UTC()
}
