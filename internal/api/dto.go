package api

import (
	"github.com/krezek/linktrace/internal/models"
	"github.com/krezek/linktrace/internal/visitlog"
)

// CreateLinkRequest is the request body for creating a link.
type CreateLinkRequest struct {
	Title string `json:"title"`
}

// VisitResponse is the link document plus the id of the entry the visit
// just appended, so the client can bind follow-up updates to it.
type VisitResponse struct {
	models.Link
	LastLogID string `json:"lastLogId"`
}

// TrackResponse acknowledges a visit recorded through the tracking pages.
type TrackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	LogID   string `json:"logId"`
}

// CaptureResponse is returned after a successful media upload.
type CaptureResponse struct {
	Success      bool   `json:"success"`
	URL          string `json:"url"`
	Type         string `json:"type"`
	OriginalName string `json:"originalName,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// TypedCaptureResponse is returned by the per-media-type capture
// endpoints, echoing the URL under the field names older clients read.
type TypedCaptureResponse struct {
	Success    bool             `json:"success"`
	URL        string           `json:"url"`
	SecureURL  string           `json:"secure_url"`
	ImageURL   string           `json:"imageUrl,omitempty"`
	AudioURL   string           `json:"audioUrl,omitempty"`
	UpdatedLog *models.LogEntry `json:"updatedLog,omitempty"`
}

// SaveMediaRequest is the consolidated save payload.
type SaveMediaRequest struct {
	ImageURL    string            `json:"imageUrl"`
	AudioURL    string            `json:"audioUrl"`
	DeviceInfo  map[string]any    `json:"deviceInfo"`
	CapturedAt  string            `json:"capturedAt"`
	Permissions map[string]string `json:"permissions"`
	Location    *models.Location  `json:"location"`
	Contacts    []models.Contact  `json:"contacts"`
	LogID       string            `json:"logId"`
}

// SaveMediaResponse reports what the save persisted.
type SaveMediaResponse struct {
	Success bool                     `json:"success"`
	Message string                   `json:"message"`
	Data    visitlog.SaveMediaResult `json:"data"`
}

// PermissionsRequest is the standalone permission save payload.
type PermissionsRequest struct {
	Permissions map[string]string `json:"permissions"`
	LogID       string            `json:"logId"`
}

// AckResponse is a bare success acknowledgment.
type AckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	LogID   string `json:"logId,omitempty"`
}

// StatusResponse is the body of the service banner and health endpoints.
type StatusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	DB      string `json:"db,omitempty"`
}
