// Package mediarelay forwards captured media files to third-party object
// storage and returns the stable public URL to attach to a log entry.
package mediarelay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/krezek/linktrace/internal/apperr"
)

// Capture kinds. The storage service files audio and video under the same
// resource family, so video uploads are coerced to audio upstream of here.
const (
	KindImage = "image"
	KindAudio = "audio"
)

// Classify buckets a declared MIME type into a capture kind. Video is
// treated as audio deliberately; anything else defaults to image.
func Classify(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"), strings.HasPrefix(mimeType, "video/"):
		return KindAudio
	default:
		return KindImage
	}
}

// Uploader relays a local file to object storage. Implementations must
// delete the local file on every exit path.
type Uploader interface {
	Upload(ctx context.Context, filePath, kind, folder string) (string, error)
}

// Config holds the object-storage credentials and upload policy.
type Config struct {
	BaseURL      string // storage API origin
	CloudName    string
	APIKey       string
	UploadPreset string
	Timeout      time.Duration
}

// Relay implements Uploader over the storage service's HTTP upload API.
type Relay struct {
	cfg   Config
	httpc *http.Client
}

// New creates a relay. The timeout defaults to 60 seconds: uploads cross
// the public internet and must not hang a handler forever.
func New(cfg Config) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Relay{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
}

// uploadResponse is the subset of the storage service's reply we rely on.
type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	PublicID  string `json:"public_id"`
}

// Upload sends the file and returns its public URL. The local file is
// removed whether the upload succeeds or fails; a removal failure is logged
// but never fails the operation. A success reply without a usable URL is a
// hard failure: persisting a malformed URL as if it were real media would
// poison the log entry.
func (r *Relay) Upload(ctx context.Context, filePath, kind, folder string) (string, error) {
	defer r.removeLocal(filePath)

	url, err := r.post(ctx, filePath, kind, folder)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUpload, err)
	}
	if url == "" || !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("%w: storage returned invalid url %q", apperr.ErrUpload, url)
	}
	return url, nil
}

func (r *Relay) post(ctx context.Context, filePath, kind, folder string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open local file: %w", err)
	}
	defer file.Close()

	// The storage service files audio under its video resource family.
	resourceType := "image"
	if kind == KindAudio {
		resourceType = "video"
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeForm(mw, file, filePath, folder, r.cfg)
		mw.Close()
		pw.CloseWithError(err)
	}()

	endpoint := fmt.Sprintf("%s/v1_1/%s/%s/upload",
		strings.TrimRight(r.cfg.BaseURL, "/"), r.cfg.CloudName, resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := r.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("storage status %d: %s", res.StatusCode, truncate(body, 200))
	}

	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.SecureURL != "" {
		return resp.SecureURL, nil
	}
	return resp.URL, nil
}

func writeForm(mw *multipart.Writer, file io.Reader, filePath, folder string, cfg Config) error {
	if err := mw.WriteField("upload_preset", cfg.UploadPreset); err != nil {
		return err
	}
	if err := mw.WriteField("api_key", cfg.APIKey); err != nil {
		return err
	}
	if folder != "" {
		if err := mw.WriteField("folder", folder); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}

func (r *Relay) removeLocal(filePath string) {
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not remove temp upload file",
			slog.String("path", filePath), slog.String("error", err.Error()))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
