// Package store provides the SQLite-backed document store for links and
// their embedded log entries.
package store

import (
	"context"

	"github.com/krezek/linktrace/internal/models"
)

// LinkStore defines the persistence operations for links and log entries.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with mocks.
//
// Log-entry mutations are deliberately per-field: updating a capture URL
// must never rewrite the sibling permissions/location columns of the same
// row, so concurrent partial saves to one entry cannot clobber each other's
// unrelated fields.
type LinkStore interface {
	CreateLink(ctx context.Context, link *models.Link) error
	GetLinkByPageID(ctx context.Context, pageID string) (*models.Link, error)
	GetLinkByNumber(ctx context.Context, number int) (*models.Link, error)
	NumberExists(ctx context.Context, number int) (bool, error)
	ListLinks(ctx context.Context) ([]models.Link, error)
	DeleteLinkByID(ctx context.Context, id int64) error
	DeleteLinkByPageID(ctx context.Context, pageID string) error

	AppendLogEntry(ctx context.Context, linkID int64, entry *models.LogEntry) error
	UpdateCapture(ctx context.Context, entryID, kind, url string) error
	UpdatePermissions(ctx context.Context, entryID string, permissions map[string]string) error
	UpdateLocation(ctx context.Context, entryID string, loc *models.Location) error
	UpdateContacts(ctx context.Context, entryID string, contacts []models.Contact) error
	UpdateClientData(ctx context.Context, entryID string, data map[string]any) error

	Ping(ctx context.Context) error
	Close() error
}

// Verify *DB satisfies LinkStore at compile time.
var _ LinkStore = (*DB)(nil)
