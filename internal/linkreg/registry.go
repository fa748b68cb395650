// Package linkreg implements the link registry: creation of shareable
// tracking links and lookups by page id or short numeric code.
package linkreg

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/krezek/linktrace/internal/apperr"
	"github.com/krezek/linktrace/internal/models"
	"github.com/krezek/linktrace/internal/store"
)

// Registry manages link documents.
type Registry struct {
	store     store.LinkStore
	publicURL string
}

// New creates a registry. publicURL is the externally reachable base origin
// used to build shareable link URLs.
func New(st store.LinkStore, publicURL string) *Registry {
	return &Registry{store: st, publicURL: strings.TrimRight(publicURL, "/")}
}

// Create generates a fresh page id and a unique 6-digit number and persists
// the new link.
//
// The number is drawn uniformly from [100000, 999999] and re-drawn on
// collision. There is no retry cap: the value space dwarfs any realistic
// number of links this system holds.
func (r *Registry) Create(ctx context.Context, title string) (*models.Link, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title is required: %w", apperr.ErrValidation)
	}

	pageID := uuid.NewString()

	var number int
	for {
		n, err := randomNumber()
		if err != nil {
			return nil, fmt.Errorf("linkreg: draw number: %w", err)
		}
		exists, err := r.store.NumberExists(ctx, n)
		if err != nil {
			return nil, err
		}
		if !exists {
			number = n
			break
		}
	}

	link := &models.Link{
		Title:     title,
		PageID:    pageID,
		Number:    number,
		URL:       fmt.Sprintf("%s/page/%s", r.publicURL, pageID),
		Logs:      []models.LogEntry{},
		CreatedAt: store.Now(),
	}
	if err := r.store.CreateLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// FindByPageID returns the link addressed by the given page identifier.
func (r *Registry) FindByPageID(ctx context.Context, pageID string) (*models.Link, error) {
	return r.store.GetLinkByPageID(ctx, pageID)
}

// FindByNumber resolves a short numeric code given as a string. A value
// that does not parse as an integer is a validation error, distinct from a
// parseable number that matches no link.
func (r *Registry) FindByNumber(ctx context.Context, raw string) (*models.Link, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid number format: %w", apperr.ErrValidation)
	}
	return r.store.GetLinkByNumber(ctx, n)
}

// Delete removes a link addressed either by its internal row id or by its
// page identifier. The internal id is tried first; not-found is reported
// only when both lookups fail.
func (r *Registry) Delete(ctx context.Context, idOrPageID string) error {
	if rowID, err := strconv.ParseInt(idOrPageID, 10, 64); err == nil {
		if delErr := r.store.DeleteLinkByID(ctx, rowID); delErr == nil {
			return nil
		} else if !errors.Is(delErr, apperr.ErrNotFound) {
			return delErr
		}
	}
	return r.store.DeleteLinkByPageID(ctx, idOrPageID)
}

// List returns all links, newest-created first.
func (r *Registry) List(ctx context.Context) ([]models.Link, error) {
	return r.store.ListLinks(ctx)
}

// Ping reports whether the backing store is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func randomNumber() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 100000, nil
}
