package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/krezek/linktrace/internal/apperr"
	"github.com/krezek/linktrace/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS links (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	title      TEXT NOT NULL,
	page_id    TEXT NOT NULL UNIQUE,
	number     INTEGER NOT NULL UNIQUE,
	url        TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS log_entries (
	id          TEXT PRIMARY KEY,
	link_id     INTEGER NOT NULL REFERENCES links(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	timestamp   TEXT NOT NULL DEFAULT '',
	request     TEXT NOT NULL DEFAULT '{}',
	device      TEXT NOT NULL DEFAULT '{}',
	client_data TEXT NOT NULL DEFAULT '{}',
	network     TEXT NOT NULL DEFAULT '{}',
	image_url   TEXT NOT NULL DEFAULT '',
	audio_url   TEXT NOT NULL DEFAULT '',
	permissions TEXT NOT NULL DEFAULT '{}',
	location    TEXT,
	contacts    TEXT,
	UNIQUE(link_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_log_entries_link ON log_entries(link_id, seq);
`

// DB wraps a sql.DB with link-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// CreateLink inserts a new link and fills in its generated row id.
func (db *DB) CreateLink(ctx context.Context, link *models.Link) error {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO links (title, page_id, number, url, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, link.Title, link.PageID, link.Number, link.URL, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create link: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: link id: %w", err)
	}
	link.ID = id
	return nil
}

// GetLinkByPageID loads a link and all of its log entries.
func (db *DB) GetLinkByPageID(ctx context.Context, pageID string) (*models.Link, error) {
	return db.getLink(ctx, `SELECT id, title, page_id, number, url, created_at FROM links WHERE page_id = ?`, pageID)
}

// GetLinkByNumber loads a link by its short numeric code.
func (db *DB) GetLinkByNumber(ctx context.Context, number int) (*models.Link, error) {
	return db.getLink(ctx, `SELECT id, title, page_id, number, url, created_at FROM links WHERE number = ?`, number)
}

func (db *DB) getLink(ctx context.Context, query string, arg any) (*models.Link, error) {
	var link models.Link
	err := db.conn.QueryRowContext(ctx, query, arg).Scan(
		&link.ID, &link.Title, &link.PageID, &link.Number, &link.URL, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get link: %w", err)
	}
	logs, err := db.loadLogs(ctx, link.ID)
	if err != nil {
		return nil, err
	}
	link.Logs = logs
	return &link, nil
}

// NumberExists reports whether a link already uses the given short code.
func (db *DB) NumberExists(ctx context.Context, number int) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM links WHERE number = ?`, number).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: number exists: %w", err)
	}
	return true, nil
}

// ListLinks returns every link with its logs, newest-created first.
// Full scan, no pagination: acceptable at the small scale this runs at.
func (db *DB) ListLinks(ctx context.Context) ([]models.Link, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, page_id, number, url, created_at
		FROM links ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list links: %w", err)
	}
	defer rows.Close()

	var out []models.Link
	for rows.Next() {
		var link models.Link
		if err := rows.Scan(&link.ID, &link.Title, &link.PageID, &link.Number, &link.URL, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan link: %w", err)
		}
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list links: %w", err)
	}
	for i := range out {
		logs, err := db.loadLogs(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Logs = logs
	}
	return out, nil
}

// DeleteLinkByID removes a link (and, via cascade, its entries) by row id.
func (db *DB) DeleteLinkByID(ctx context.Context, id int64) error {
	return db.deleteLink(ctx, `DELETE FROM links WHERE id = ?`, id)
}

// DeleteLinkByPageID removes a link by its page identifier.
func (db *DB) DeleteLinkByPageID(ctx context.Context, pageID string) error {
	return db.deleteLink(ctx, `DELETE FROM links WHERE page_id = ?`, pageID)
}

func (db *DB) deleteLink(ctx context.Context, query string, arg any) error {
	res, err := db.conn.ExecContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("store: delete link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete link: %w", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// AppendLogEntry appends an entry at the next sequence position. Appends
// are the only way an entry comes into existence; entries are never
// reordered or individually deleted.
func (db *DB) AppendLogEntry(ctx context.Context, linkID int64, entry *models.LogEntry) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM log_entries WHERE link_id = ?`, linkID).Scan(&seq); err != nil {
		return fmt.Errorf("store: next seq: %w", err)
	}

	request, _ := json.Marshal(entry.Request)
	device, _ := json.Marshal(entry.Device)
	clientData, _ := json.Marshal(orEmptyMap(entry.ClientData))
	network, _ := json.Marshal(entry.Network)
	permissions, _ := json.Marshal(orEmptyPerms(entry.Permissions))

	var location, contacts any
	if entry.Location != nil {
		b, _ := json.Marshal(entry.Location)
		location = string(b)
	}
	if len(entry.Contacts) > 0 {
		b, _ := json.Marshal(entry.Contacts)
		contacts = string(b)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO log_entries
			(id, link_id, seq, timestamp, request, device, client_data, network,
			 image_url, audio_url, permissions, location, contacts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, linkID, seq, entry.Timestamp,
		string(request), string(device), string(clientData), string(network),
		entry.Captures.Image, entry.Captures.Audio, string(permissions), location, contacts)
	if err != nil {
		return fmt.Errorf("store: append entry: %w", err)
	}
	return tx.Commit()
}

// UpdateCapture overwrites a single capture URL column of one entry.
func (db *DB) UpdateCapture(ctx context.Context, entryID, kind, url string) error {
	var column string
	switch kind {
	case "image":
		column = "image_url"
	case "audio":
		column = "audio_url"
	default:
		return fmt.Errorf("store: unknown capture kind %q: %w", kind, apperr.ErrValidation)
	}
	return db.updateEntryColumn(ctx, entryID, column, url)
}

// UpdatePermissions replaces the permissions column of one entry. Merge
// semantics (whitelisting, combining with the stored map) belong to the
// accumulator; the store writes what it is given.
func (db *DB) UpdatePermissions(ctx context.Context, entryID string, permissions map[string]string) error {
	b, err := json.Marshal(orEmptyPerms(permissions))
	if err != nil {
		return fmt.Errorf("store: encode permissions: %w", err)
	}
	return db.updateEntryColumn(ctx, entryID, "permissions", string(b))
}

// UpdateLocation overwrites the location column of one entry.
func (db *DB) UpdateLocation(ctx context.Context, entryID string, loc *models.Location) error {
	b, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("store: encode location: %w", err)
	}
	return db.updateEntryColumn(ctx, entryID, "location", string(b))
}

// UpdateContacts overwrites the contacts column of one entry.
func (db *DB) UpdateContacts(ctx context.Context, entryID string, contacts []models.Contact) error {
	b, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("store: encode contacts: %w", err)
	}
	return db.updateEntryColumn(ctx, entryID, "contacts", string(b))
}

// UpdateClientData replaces the free-form client payload of one entry.
func (db *DB) UpdateClientData(ctx context.Context, entryID string, data map[string]any) error {
	b, err := json.Marshal(orEmptyMap(data))
	if err != nil {
		return fmt.Errorf("store: encode client data: %w", err)
	}
	return db.updateEntryColumn(ctx, entryID, "client_data", string(b))
}

func (db *DB) updateEntryColumn(ctx context.Context, entryID, column, value string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE log_entries SET `+column+` = ? WHERE id = ?`, value, entryID)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update %s: %w", column, err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (db *DB) loadLogs(ctx context.Context, linkID int64) ([]models.LogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, timestamp, request, device, client_data, network,
		       image_url, audio_url, permissions, location, contacts
		FROM log_entries WHERE link_id = ? ORDER BY seq
	`, linkID)
	if err != nil {
		return nil, fmt.Errorf("store: load logs: %w", err)
	}
	defer rows.Close()

	var out []models.LogEntry
	for rows.Next() {
		var (
			e                  models.LogEntry
			request, device    string
			clientData, netRaw string
			permissions        string
			location, contacts sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &request, &device, &clientData, &netRaw,
			&e.Captures.Image, &e.Captures.Audio, &permissions, &location, &contacts); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		_ = json.Unmarshal([]byte(request), &e.Request)
		_ = json.Unmarshal([]byte(device), &e.Device)
		_ = json.Unmarshal([]byte(clientData), &e.ClientData)
		_ = json.Unmarshal([]byte(netRaw), &e.Network)
		_ = json.Unmarshal([]byte(permissions), &e.Permissions)
		if location.Valid && location.String != "" {
			var loc models.Location
			if json.Unmarshal([]byte(location.String), &loc) == nil {
				e.Location = &loc
			}
		}
		if contacts.Valid && contacts.String != "" {
			_ = json.Unmarshal([]byte(contacts.String), &e.Contacts)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load logs: %w", err)
	}
	return out, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyPerms(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// Now returns the current time truncated to millisecond precision, which is
// what SQLite round-trips losslessly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
