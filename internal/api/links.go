package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/krezek/linktrace/internal/models"
	"github.com/krezek/linktrace/internal/visitlog"
)

// CreateLink handles POST /api/links.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Title is required"))
		return
	}
	link, err := h.registry.Create(r.Context(), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	h.publishLinkEvent("created", link.PageID)
	writeJSON(w, http.StatusCreated, link)
}

// ListLinks handles GET /api/links. Newest-created first, no pagination.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if links == nil {
		links = []models.Link{}
	}
	writeJSON(w, http.StatusOK, links)
}

// GetLink handles GET /api/links/{pageID}.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.registry.FindByPageID(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// GetLinkByNumber handles GET /api/links/number/{number}.
func (h *Handler) GetLinkByNumber(w http.ResponseWriter, r *http.Request) {
	link, err := h.registry.FindByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// DeleteLink handles DELETE /api/links/{pageID}. The path value may be
// either the internal id or the page identifier.
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pageID")
	if err := h.registry.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.publishLinkEvent("deleted", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Link deleted successfully"})
}

// visitBody carries the typed extras a client may report alongside its
// free-form payload.
type visitBody struct {
	Location *models.Location `json:"location"`
	Contacts []models.Contact `json:"contacts"`
}

// RecordVisit handles POST /api/links/{pageID}/visit. Always appends
// exactly one new log entry and returns its id as lastLogId.
func (h *Handler) RecordVisit(w http.ResponseWriter, r *http.Request) {
	link, err := h.registry.FindByPageID(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var raw json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&raw)

	var clientData map[string]any
	var typed visitBody
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &clientData)
		_ = json.Unmarshal(raw, &typed)
	}

	entry, err := h.acc.RecordVisit(r.Context(), link, requestContext(r), clientData)
	if err != nil {
		writeError(w, err)
		return
	}
	if typed.Location != nil {
		if err := h.acc.MergeLocation(r.Context(), entry, typed.Location); err != nil {
			writeError(w, err)
			return
		}
	}
	if len(typed.Contacts) > 0 {
		if err := h.acc.MergeContacts(r.Context(), entry, typed.Contacts); err != nil {
			writeError(w, err)
			return
		}
	}

	h.publishVisit(link.PageID, entry.ID)
	writeJSON(w, http.StatusOK, VisitResponse{Link: *link, LastLogID: entry.ID})
}

// AppendLog handles POST /api/links/{pageID}/logs: a raw client-composed
// log entry, normalized and appended.
func (h *Handler) AppendLog(w http.ResponseWriter, r *http.Request) {
	link, err := h.registry.FindByPageID(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var entry models.LogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	// Entry ids are assigned server-side on append, never trusted from the
	// wire.
	entry.ID = ""

	saved, err := h.acc.AppendRaw(r.Context(), link, &entry, requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.publishVisit(link.PageID, saved.ID)
	writeJSON(w, http.StatusOK, AckResponse{Success: true, Message: "Log saved successfully", LogID: saved.ID})
}

// SaveMedia handles POST /api/links/{pageID}/save-media: the consolidated
// save of capture URLs, permissions, location and contacts.
func (h *Handler) SaveMedia(w http.ResponseWriter, r *http.Request) {
	link, err := h.registry.FindByPageID(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req SaveMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	result, err := h.acc.SaveMedia(r.Context(), link, visitlog.SaveMediaInput{
		LogID:       req.LogID,
		ImageURL:    req.ImageURL,
		AudioURL:    req.AudioURL,
		DeviceInfo:  req.DeviceInfo,
		Permissions: req.Permissions,
		Location:    req.Location,
		Contacts:    req.Contacts,
		CapturedAt:  req.CapturedAt,
	}, requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SaveMediaResponse{
		Success: true,
		Message: "All data saved successfully",
		Data:    result,
	})
}
