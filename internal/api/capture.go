package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/krezek/linktrace/internal/apperr"
	"github.com/krezek/linktrace/internal/mediarelay"
	"github.com/krezek/linktrace/internal/models"
)

const maxUploadBytes = 50 << 20 // 50 MB

// receiveFile validates the multipart upload and spools it to a temp file
// under the upload directory. The relay owns deleting the spooled file.
func (h *Handler) receiveFile(w http.ResponseWriter, r *http.Request) (path, mimeType, originalName string, size int64, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err = r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", "", "", 0, fmt.Errorf("file too large or invalid multipart: %w", apperr.ErrValidation)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", "", 0, fmt.Errorf("no file uploaded: %w", apperr.ErrValidation)
	}
	defer file.Close()

	mimeType = header.Header.Get("Content-Type")
	if !acceptedMime(mimeType) {
		return "", "", "", 0, fmt.Errorf("invalid file type %q, only images, audio and video are allowed: %w",
			mimeType, apperr.ErrValidation)
	}

	path, size, err = h.spool(file, header)
	if err != nil {
		return "", "", "", 0, err
	}
	return path, mimeType, header.Filename, size, nil
}

func (h *Handler) spool(file multipart.File, header *multipart.FileHeader) (string, int64, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}
	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".tmp"
	}
	tmp, err := os.CreateTemp(h.uploadDir, "capture-*"+ext)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	written, err := io.Copy(tmp, file)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("spool upload: %w", err)
	}
	return tmp.Name(), written, nil
}

// acceptedMime admits the image/audio/video families. octet-stream passes
// because some clients fail to label recordings.
func acceptedMime(mimeType string) bool {
	for _, prefix := range []string{"image/", "audio/", "video/"} {
		if strings.HasPrefix(mimeType, prefix) {
			return true
		}
	}
	return mimeType == "application/octet-stream"
}

// Capture handles POST /api/links/{pageID}/capture (and its alias
// POST /api/capture/{pageID}). The capture kind is derived from the
// declared MIME type and the URL is bound to the entry named by the
// optional "logId" form field, falling back to the latest entry and
// synthesizing one when the link has none.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	link, path, kind, originalName, size, ok := h.prepareCapture(w, r, "")
	if !ok {
		return
	}

	url, err := h.uploader.Upload(r.Context(), path, kind, h.mediaFolder)
	if err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.acc.ResolveTarget(r.Context(), link, r.FormValue("logId"), requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.acc.BindCapture(r.Context(), entry, kind, url); err != nil {
		writeError(w, err)
		return
	}

	h.publishCapture(link.PageID, entry.ID, kind)
	writeJSON(w, http.StatusOK, CaptureResponse{
		Success:      true,
		URL:          url,
		Type:         kind,
		OriginalName: originalName,
		Size:         size,
	})
}

// CaptureImage handles POST /api/capture/image/{pageID}. Binds strictly to
// the latest log entry; a link with no recorded visit is a client error.
func (h *Handler) CaptureImage(w http.ResponseWriter, r *http.Request) {
	h.captureTyped(w, r, mediarelay.KindImage)
}

// CaptureAudio handles POST /api/capture/audio/{pageID}.
func (h *Handler) CaptureAudio(w http.ResponseWriter, r *http.Request) {
	h.captureTyped(w, r, mediarelay.KindAudio)
}

func (h *Handler) captureTyped(w http.ResponseWriter, r *http.Request, kind string) {
	link, path, _, _, _, ok := h.prepareCapture(w, r, kind)
	if !ok {
		return
	}

	url, err := h.uploader.Upload(r.Context(), path, kind, h.mediaFolder)
	if err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.acc.RequireLatest(link)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.acc.BindCapture(r.Context(), entry, kind, url); err != nil {
		writeError(w, err)
		return
	}

	h.publishCapture(link.PageID, entry.ID, kind)
	resp := TypedCaptureResponse{Success: true, URL: url, SecureURL: url, UpdatedLog: entry}
	if kind == mediarelay.KindImage {
		resp.ImageURL = url
	} else {
		resp.AudioURL = url
	}
	writeJSON(w, http.StatusOK, resp)
}

// prepareCapture resolves the link and spools the file, classifying the
// kind unless forcedKind is set. The link lookup runs after intake so a
// missing file is reported as 400 before any entry could be touched.
func (h *Handler) prepareCapture(w http.ResponseWriter, r *http.Request, forcedKind string) (link *models.Link, path, kind, originalName string, size int64, ok bool) {
	path, mimeType, originalName, size, err := h.receiveFile(w, r)
	if err != nil {
		writeError(w, err)
		return nil, "", "", "", 0, false
	}

	link, err = h.registry.FindByPageID(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		// The relay never ran; remove the spooled file ourselves.
		os.Remove(path)
		writeError(w, err)
		return nil, "", "", "", 0, false
	}

	kind = forcedKind
	if kind == "" {
		kind = mediarelay.Classify(mimeType)
	}
	return link, path, kind, originalName, size, true
}
