package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Root handles GET /: a service banner for uptime probes.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", Service: "linktrace"})
}

// Health handles GET /health, reporting whether the database responds.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	db := "connected"
	if err := h.registry.Ping(r.Context()); err != nil {
		db = "disconnected"
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "healthy", DB: db})
}

// TrackPage handles GET /page/{pageID}: the tracking entry point a shared
// link resolves to. Records a visit immediately so even a bare page open
// leaves a log entry.
func (h *Handler) TrackPage(w http.ResponseWriter, r *http.Request) {
	h.trackByPageID(w, r, chi.URLParam(r, "pageID"))
}

// TrackNumber handles GET /t/{number}. A value that parses as an integer
// resolves through the short code; anything else falls through to pageId
// resolution.
func (h *Handler) TrackNumber(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "number")
	if _, err := strconv.Atoi(raw); err != nil {
		h.trackByPageID(w, r, raw)
		return
	}
	link, err := h.registry.FindByNumber(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	h.trackByPageID(w, r, link.PageID)
}

func (h *Handler) trackByPageID(w http.ResponseWriter, r *http.Request, pageID string) {
	link, err := h.registry.FindByPageID(r.Context(), pageID)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.acc.RecordVisit(r.Context(), link, requestContext(r), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	h.publishVisit(link.PageID, entry.ID)
	writeJSON(w, http.StatusOK, TrackResponse{
		Success: true,
		Message: "Visit tracked successfully",
		LogID:   entry.ID,
	})
}

// SavePermissions handles POST /api/permissions/{pageID}: a standalone
// permission save bound by optional logId.
func (h *Handler) SavePermissions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req PermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Permissions == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Permissions object is required"))
		return
	}

	link, err := h.registry.FindByPageID(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.acc.ResolveTarget(r.Context(), link, req.LogID, requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.acc.MergePermissions(r.Context(), entry, req.Permissions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AckResponse{Success: true, Message: "Permissions saved successfully"})
}
