// Package visitlog implements the log-entry accumulator: appending a log
// entry per visit and binding late-arriving partial updates (captures,
// permissions, location, contacts) to the right entry.
package visitlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/krezek/linktrace/internal/apperr"
	"github.com/krezek/linktrace/internal/geoip"
	"github.com/krezek/linktrace/internal/models"
	"github.com/krezek/linktrace/internal/store"
	"github.com/krezek/linktrace/internal/useragent"
)

// RequestContext carries the raw network metadata of an incoming request.
type RequestContext struct {
	IP        string
	RawIP     string
	Referrer  string
	UserAgent string
}

// Accumulator owns all log-entry mutations for a link.
type Accumulator struct {
	store    store.LinkStore
	parser   useragent.Parser
	enricher geoip.Enricher
}

// New creates an accumulator. The parser and enricher are injected so tests
// can run without network access.
func New(st store.LinkStore, parser useragent.Parser, enricher geoip.Enricher) *Accumulator {
	return &Accumulator{store: st, parser: parser, enricher: enricher}
}

// ValidCaptureURL reports whether url is acceptable as a stored media URL:
// non-empty, not a stringified null, and an http(s) scheme. Clients have
// been observed serializing literal "null"/"undefined" into payloads.
func ValidCaptureURL(url string) bool {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" || trimmed == "null" || trimmed == "undefined" {
		return false
	}
	return strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://")
}

// RecordVisit appends a brand-new entry to the link; it never reuses an
// existing one. Device parsing and IP enrichment failures are absorbed with
// empty records: a visit must be logged even when enrichment is down.
// The appended entry (with its generated id) is returned so the client can
// bind follow-up partial updates to exactly this visit.
func (a *Accumulator) RecordVisit(ctx context.Context, link *models.Link, reqCtx RequestContext, clientData map[string]any) (*models.LogEntry, error) {
	entry := a.newEntry(reqCtx)
	entry.Device = a.parser.Parse(reqCtx.UserAgent)
	entry.ClientData = clientData

	network, err := a.enricher.Enrich(ctx, reqCtx.IP)
	if err != nil {
		slog.Warn("ip enrichment failed, recording visit without it",
			slog.String("ip", reqCtx.IP), slog.String("error", err.Error()))
		network = models.NetworkInfo{IP: reqCtx.IP}
	}
	entry.Network = network

	// Clients may report parsed device fields of their own (native apps
	// have no meaningful User-Agent); those win over our heuristics.
	applyClientDevice(&entry.Device, clientData)

	if err := a.store.AppendLogEntry(ctx, link.ID, entry); err != nil {
		return nil, err
	}
	link.Logs = append(link.Logs, *entry)
	return entry, nil
}

// AppendRaw appends a client-composed entry, normalizing it the same way a
// visit is. Missing request fields fall back to the transport's view.
func (a *Accumulator) AppendRaw(ctx context.Context, link *models.Link, entry *models.LogEntry, reqCtx RequestContext) (*models.LogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = isoNow()
	}
	if entry.Request.IP == "" {
		entry.Request.IP = reqCtx.IP
	}
	if entry.Request.RawIP == "" {
		entry.Request.RawIP = reqCtx.RawIP
	}
	if entry.Request.Referrer == "" {
		entry.Request.Referrer = reqCtx.Referrer
	}
	if entry.Request.UserAgent == "" {
		entry.Request.UserAgent = reqCtx.UserAgent
	}
	if entry.Permissions == nil {
		entry.Permissions = models.DefaultPermissions()
	}
	if err := a.store.AppendLogEntry(ctx, link.ID, entry); err != nil {
		return nil, err
	}
	link.Logs = append(link.Logs, *entry)
	return entry, nil
}

// ResolveTarget decides which entry a partial update belongs to:
//
//  1. an entry matching suppliedID, when one exists (exact binding,
//     tolerant of uploads arriving after newer visits);
//  2. otherwise the most recently appended entry;
//  3. otherwise a freshly synthesized minimal entry.
//
// Tier 2 can attach data to the wrong entry when visits without entry ids
// race each other; that leniency is the documented behavior, preferred over
// rejecting the write.
func (a *Accumulator) ResolveTarget(ctx context.Context, link *models.Link, suppliedID string, reqCtx RequestContext) (*models.LogEntry, error) {
	if suppliedID != "" {
		if entry := link.FindLog(suppliedID); entry != nil {
			return entry, nil
		}
		slog.Warn("supplied log id not found, falling back to latest entry",
			slog.String("pageId", link.PageID), slog.String("logId", suppliedID))
	}
	if last := link.LastLog(); last != nil {
		return last, nil
	}
	entry := a.newEntry(reqCtx)
	if err := a.store.AppendLogEntry(ctx, link.ID, entry); err != nil {
		return nil, err
	}
	link.Logs = append(link.Logs, *entry)
	return link.LastLog(), nil
}

// RequireLatest returns the most recent entry and refuses to synthesize
// one. Used by the per-media-type capture endpoints, which must not invent
// a visit that never happened.
func (a *Accumulator) RequireLatest(link *models.Link) (*models.LogEntry, error) {
	last := link.LastLog()
	if last == nil {
		return nil, fmt.Errorf("no log entry exists for page %s, record a visit before uploading media: %w",
			link.PageID, apperr.ErrNoLogEntry)
	}
	return last, nil
}

// BindCapture overwrites the entry's capture URL for the given kind.
// Last write wins. An invalid URL leaves the entry untouched.
func (a *Accumulator) BindCapture(ctx context.Context, entry *models.LogEntry, kind, url string) error {
	if !ValidCaptureURL(url) {
		return fmt.Errorf("invalid capture url %q: %w", url, apperr.ErrValidation)
	}
	url = strings.TrimSpace(url)
	if err := a.store.UpdateCapture(ctx, entry.ID, kind, url); err != nil {
		return err
	}
	switch kind {
	case mediaKindImage:
		entry.Captures.Image = url
	case mediaKindAudio:
		entry.Captures.Audio = url
	}
	return nil
}

const (
	mediaKindImage = "image"
	mediaKindAudio = "audio"
)

// MergePermissions applies updates to the entry's permission map. Only
// recognized capability names carrying recognized status values are kept;
// everything else is dropped without error. A defensive merge, not strict
// validation: one bad key must not discard the good ones.
func (a *Accumulator) MergePermissions(ctx context.Context, entry *models.LogEntry, updates map[string]string) error {
	if entry.Permissions == nil {
		entry.Permissions = models.DefaultPermissions()
	}
	changed := false
	for name, status := range updates {
		if !models.ValidPermissionName(name) || !models.ValidPermissionStatus(status) {
			continue
		}
		entry.Permissions[name] = status
		changed = true
	}
	if !changed {
		return nil
	}
	return a.store.UpdatePermissions(ctx, entry.ID, entry.Permissions)
}

// MergeLocation overwrites the entry's location. Last write wins, no merge.
func (a *Accumulator) MergeLocation(ctx context.Context, entry *models.LogEntry, loc *models.Location) error {
	if loc == nil {
		return nil
	}
	if err := a.store.UpdateLocation(ctx, entry.ID, loc); err != nil {
		return err
	}
	entry.Location = loc
	return nil
}

// MergeContacts overwrites the entry's contacts only when the incoming list
// is non-empty. An empty list never clears previously harvested contacts.
func (a *Accumulator) MergeContacts(ctx context.Context, entry *models.LogEntry, contacts []models.Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	if err := a.store.UpdateContacts(ctx, entry.ID, contacts); err != nil {
		return err
	}
	entry.Contacts = contacts
	return nil
}

// MergeClientData folds data into the entry's free-form client payload.
// The payload is opaque: keys are merged, values pass through unmodified.
func (a *Accumulator) MergeClientData(ctx context.Context, entry *models.LogEntry, data map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	if entry.ClientData == nil {
		entry.ClientData = make(map[string]any, len(data))
	}
	for k, v := range data {
		entry.ClientData[k] = v
	}
	return a.store.UpdateClientData(ctx, entry.ID, entry.ClientData)
}

// SaveMediaInput is the consolidated save payload assembled by the client
// after its capture sequence finishes.
type SaveMediaInput struct {
	LogID       string
	ImageURL    string
	AudioURL    string
	DeviceInfo  map[string]any
	Permissions map[string]string
	Location    *models.Location
	Contacts    []models.Contact
	CapturedAt  string
}

// SaveMediaResult summarizes what the save actually persisted.
type SaveMediaResult struct {
	ImageUploaded    bool `json:"imageUploaded"`
	AudioUploaded    bool `json:"audioUploaded"`
	LocationCaptured bool `json:"locationCaptured"`
	ContactsCount    int  `json:"contactsCount"`
	PermissionsSaved bool `json:"permissionsSaved"`
}

// SaveMedia binds the consolidated payload to the resolved target entry.
// Invalid media URLs are skipped (never nulling out a previously bound
// capture); each present sub-payload is applied independently.
func (a *Accumulator) SaveMedia(ctx context.Context, link *models.Link, in SaveMediaInput, reqCtx RequestContext) (SaveMediaResult, error) {
	var entry *models.LogEntry
	var err error
	if len(link.Logs) == 0 {
		// Synthesized entries carry the client's capture time when it
		// reported one; there is no server-side visit to date them by.
		synth := a.newEntry(reqCtx)
		if in.CapturedAt != "" {
			synth.Timestamp = in.CapturedAt
		}
		if err = a.store.AppendLogEntry(ctx, link.ID, synth); err != nil {
			return SaveMediaResult{}, err
		}
		link.Logs = append(link.Logs, *synth)
		entry = link.LastLog()
	} else {
		entry, err = a.ResolveTarget(ctx, link, in.LogID, reqCtx)
		if err != nil {
			return SaveMediaResult{}, err
		}
	}

	if ValidCaptureURL(in.ImageURL) {
		if err := a.BindCapture(ctx, entry, mediaKindImage, in.ImageURL); err != nil {
			return SaveMediaResult{}, err
		}
	} else if in.ImageURL != "" {
		slog.Debug("ignoring invalid image url", slog.String("url", in.ImageURL))
	}
	if ValidCaptureURL(in.AudioURL) {
		if err := a.BindCapture(ctx, entry, mediaKindAudio, in.AudioURL); err != nil {
			return SaveMediaResult{}, err
		}
	} else if in.AudioURL != "" {
		slog.Debug("ignoring invalid audio url", slog.String("url", in.AudioURL))
	}

	if err := a.MergeClientData(ctx, entry, in.DeviceInfo); err != nil {
		return SaveMediaResult{}, err
	}
	if len(in.Permissions) > 0 {
		if err := a.MergePermissions(ctx, entry, in.Permissions); err != nil {
			return SaveMediaResult{}, err
		}
	}
	if err := a.MergeLocation(ctx, entry, in.Location); err != nil {
		return SaveMediaResult{}, err
	}
	if err := a.MergeContacts(ctx, entry, in.Contacts); err != nil {
		return SaveMediaResult{}, err
	}

	return SaveMediaResult{
		ImageUploaded:    entry.Captures.Image != "",
		AudioUploaded:    entry.Captures.Audio != "",
		LocationCaptured: in.Location != nil,
		ContactsCount:    len(in.Contacts),
		PermissionsSaved: len(in.Permissions) > 0,
	}, nil
}

func (a *Accumulator) newEntry(reqCtx RequestContext) *models.LogEntry {
	return &models.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: isoNow(),
		Request: models.RequestInfo{
			IP:        reqCtx.IP,
			RawIP:     reqCtx.RawIP,
			Referrer:  reqCtx.Referrer,
			UserAgent: reqCtx.UserAgent,
		},
		Network:     models.NetworkInfo{IP: reqCtx.IP},
		Permissions: models.DefaultPermissions(),
	}
}

func applyClientDevice(d *models.DeviceInfo, clientData map[string]any) {
	set := func(dst *string, key string) {
		if v, ok := clientData[key].(string); ok && v != "" {
			*dst = v
		}
	}
	set(&d.OS, "os")
	set(&d.Device, "device")
	set(&d.DeviceVendor, "deviceVendor")
	set(&d.DeviceType, "deviceType")
}

func isoNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
