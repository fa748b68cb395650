// Package api implements the linktrace REST API using chi.
package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/krezek/linktrace/internal/apperr"
	"github.com/krezek/linktrace/internal/linkreg"
	"github.com/krezek/linktrace/internal/mediarelay"
	"github.com/krezek/linktrace/internal/sse"
	"github.com/krezek/linktrace/internal/visitlog"
)

// Handler holds API route handlers.
type Handler struct {
	registry *linkreg.Registry
	acc      *visitlog.Accumulator
	uploader mediarelay.Uploader
	broker   *sse.Broker // nil when live events are disabled

	uploadDir   string
	mediaFolder string
}

// NewHandler creates a new Handler. uploadDir is where multipart bodies are
// spooled before being relayed; mediaFolder is the destination folder on
// the object storage side.
func NewHandler(registry *linkreg.Registry, acc *visitlog.Accumulator, uploader mediarelay.Uploader, broker *sse.Broker, uploadDir, mediaFolder string) *Handler {
	return &Handler{
		registry:    registry,
		acc:         acc,
		uploader:    uploader,
		broker:      broker,
		uploadDir:   uploadDir,
		mediaFolder: mediaFolder,
	}
}

// requestContext extracts the caller's network metadata. The first
// X-Forwarded-For hop wins over the socket address when present.
func requestContext(r *http.Request) visitlog.RequestContext {
	raw := r.RemoteAddr
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	ip := raw
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			ip = first
		}
	}
	referrer := r.Header.Get("Referer")
	if referrer == "" {
		referrer = r.Header.Get("Referrer")
	}
	return visitlog.RequestContext{
		IP:        ip,
		RawIP:     raw,
		Referrer:  referrer,
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("Link not found"))
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrNoLogEntry):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrUpload):
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
	default:
		slog.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func (h *Handler) publishVisit(pageID, logID string) {
	if h.broker != nil {
		h.broker.PublishVisit(pageID, logID)
	}
}

func (h *Handler) publishCapture(pageID, logID, kind string) {
	if h.broker != nil {
		h.broker.PublishCapture(pageID, logID, kind)
	}
}

func (h *Handler) publishLinkEvent(kind, pageID string) {
	if h.broker != nil {
		h.broker.PublishLinkEvent(kind, pageID)
	}
}
