package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/krezek/linktrace/internal/linkreg"
	"github.com/krezek/linktrace/internal/models"
	"github.com/krezek/linktrace/internal/testutil"
	"github.com/krezek/linktrace/internal/useragent"
	"github.com/krezek/linktrace/internal/visitlog"
)

// fakeEnricher avoids network lookups in handler tests.
type fakeEnricher struct{}

func (fakeEnricher) Enrich(_ context.Context, ip string) (models.NetworkInfo, error) {
	return models.NetworkInfo{IP: ip, Location: models.GeoLocation{City: "Testville"}}, nil
}

// fakeUploader stands in for the object-storage relay. Like the real one it
// owns deleting the spooled file.
type fakeUploader struct {
	calls []string // kinds, in order
	fail  bool
}

func (f *fakeUploader) Upload(_ context.Context, filePath, kind, folder string) (string, error) {
	os.Remove(filePath)
	f.calls = append(f.calls, kind)
	if f.fail {
		return "", fmt.Errorf("storage unavailable")
	}
	return "https://cdn.example.com/" + kind + "/asset", nil
}

func testServer(t *testing.T) (*httptest.Server, *fakeUploader) {
	t.Helper()
	db := testutil.TestStore(t)
	registry := linkreg.New(db, "http://localhost:8080")
	acc := visitlog.New(db, useragent.Heuristic{}, fakeEnricher{})
	up := &fakeUploader{}

	h := NewHandler(registry, acc, up, nil, t.TempDir(), "captured_media")
	r := chi.NewRouter()
	r.Mount("/api", NewRouter(h, nil))
	r.Mount("/", NewTrackingRouter(h))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, up
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return res
}

func createLink(t *testing.T, srv *httptest.Server, title string) models.Link {
	t.Helper()
	var link models.Link
	res := doJSON(t, http.MethodPost, srv.URL+"/api/links", map[string]string{"title": title}, &link)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create link status = %d", res.StatusCode)
	}
	return link
}

func multipartUpload(t *testing.T, url, mimeType string, extra map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="capture.jpg"`)
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("fake-media-bytes"))
	for k, v := range extra {
		mw.WriteField(k, v)
	}
	mw.Close()

	res, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestRootAndHealth(t *testing.T) {
	srv, _ := testServer(t)

	var banner StatusResponse
	res := doJSON(t, http.MethodGet, srv.URL+"/", nil, &banner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /: status = %d", res.StatusCode)
	}
	if banner.Status != "ok" || banner.Service != "linktrace" {
		t.Errorf("banner = %+v", banner)
	}

	var health StatusResponse
	res = doJSON(t, http.MethodGet, srv.URL+"/health", nil, &health)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /health: status = %d", res.StatusCode)
	}
	if health.Status != "healthy" {
		t.Errorf("health status = %q, want %q", health.Status, "healthy")
	}
	if health.DB != "connected" {
		t.Errorf("health db = %q, want %q", health.DB, "connected")
	}
}

func TestCreateLinkValidation(t *testing.T) {
	srv, _ := testServer(t)

	res := doJSON(t, http.MethodPost, srv.URL+"/api/links", map[string]string{"title": ""}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("empty title status = %d, want 400", res.StatusCode)
	}

	link := createLink(t, srv, "My Page")
	if link.PageID == "" || link.Number < 100000 || link.Number > 999999 {
		t.Errorf("link = %+v", link)
	}
	if !strings.HasSuffix(link.URL, "/page/"+link.PageID) {
		t.Errorf("url = %q", link.URL)
	}
}

func TestVisitCaptureSaveFlow(t *testing.T) {
	srv, up := testServer(t)
	link := createLink(t, srv, "flow")

	// Visit with client data.
	var visit VisitResponse
	res := doJSON(t, http.MethodPost, srv.URL+"/api/links/"+link.PageID+"/visit",
		map[string]any{"platform": "ios", "os": "iOS 18.0"}, &visit)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("visit status = %d", res.StatusCode)
	}
	if visit.LastLogID == "" || len(visit.Logs) != 1 {
		t.Fatalf("visit = lastLogId %q logs %d", visit.LastLogID, len(visit.Logs))
	}
	if visit.Logs[0].ClientData["platform"] != "ios" {
		t.Errorf("clientData not stored: %+v", visit.Logs[0].ClientData)
	}
	if visit.Logs[0].Device.OS != "iOS 18.0" {
		t.Errorf("client os should win, got %q", visit.Logs[0].Device.OS)
	}

	// Generic capture bound to that entry.
	capRes := multipartUpload(t, srv.URL+"/api/capture/"+link.PageID, "image/jpeg",
		map[string]string{"logId": visit.LastLogID})
	if capRes.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(capRes.Body)
		t.Fatalf("capture status = %d: %s", capRes.StatusCode, body)
	}
	var capture CaptureResponse
	if err := json.NewDecoder(capRes.Body).Decode(&capture); err != nil {
		t.Fatal(err)
	}
	if !capture.Success || capture.Type != "image" || !strings.HasPrefix(capture.URL, "https://") {
		t.Errorf("capture = %+v", capture)
	}
	if len(up.calls) != 1 || up.calls[0] != "image" {
		t.Errorf("uploader calls = %v", up.calls)
	}

	// Consolidated save: audio URL plus permissions, location, contacts.
	var save SaveMediaResponse
	res = doJSON(t, http.MethodPost, srv.URL+"/api/links/"+link.PageID+"/save-media", map[string]any{
		"logId":       visit.LastLogID,
		"audioUrl":    "https://cdn.example.com/audio/rec",
		"imageUrl":    "null", // must not clobber the bound capture
		"permissions": map[string]string{"location": "granted", "bogus": "granted"},
		"location":    map[string]float64{"latitude": 52.5, "longitude": 13.4},
		"contacts":    []map[string]string{{"name": "Alice"}},
	}, &save)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("save-media status = %d", res.StatusCode)
	}
	if !save.Data.ImageUploaded || !save.Data.AudioUploaded {
		t.Errorf("save result = %+v", save.Data)
	}
	if save.Data.ContactsCount != 1 || !save.Data.PermissionsSaved || !save.Data.LocationCaptured {
		t.Errorf("save result = %+v", save.Data)
	}

	// Final state.
	var got models.Link
	doJSON(t, http.MethodGet, srv.URL+"/api/links/"+link.PageID, nil, &got)
	if len(got.Logs) != 1 {
		t.Fatalf("logs = %d, want partial updates bound to the one visit", len(got.Logs))
	}
	e := got.Logs[0]
	if e.Captures.Image == "" || e.Captures.Audio != "https://cdn.example.com/audio/rec" {
		t.Errorf("captures = %+v", e.Captures)
	}
	if e.Permissions["location"] != "granted" {
		t.Errorf("permissions = %+v", e.Permissions)
	}
	if _, ok := e.Permissions["bogus"]; ok {
		t.Error("unknown permission name persisted")
	}
	if e.Location == nil || e.Location.Latitude != 52.5 {
		t.Errorf("location = %+v", e.Location)
	}
	if e.Network.Location.City != "Testville" {
		t.Errorf("enrichment missing: %+v", e.Network)
	}
}

func TestTypedCaptureRequiresVisit(t *testing.T) {
	srv, up := testServer(t)
	link := createLink(t, srv, "typed")

	// No visit yet: typed endpoints must refuse rather than invent one.
	res := multipartUpload(t, srv.URL+"/api/capture/image/"+link.PageID, "image/jpeg", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("image capture without visit status = %d, want 400", res.StatusCode)
	}

	doJSON(t, http.MethodPost, srv.URL+"/api/links/"+link.PageID+"/visit", map[string]any{}, nil)

	res = multipartUpload(t, srv.URL+"/api/capture/audio/"+link.PageID, "video/webm", nil)
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		t.Fatalf("audio capture status = %d: %s", res.StatusCode, body)
	}
	var typed TypedCaptureResponse
	if err := json.NewDecoder(res.Body).Decode(&typed); err != nil {
		t.Fatal(err)
	}
	if typed.AudioURL == "" || typed.UpdatedLog == nil {
		t.Errorf("typed response = %+v", typed)
	}
	// Forced kind: the video upload is filed as audio.
	if up.calls[len(up.calls)-1] != "audio" {
		t.Errorf("uploader calls = %v", up.calls)
	}
}

func TestCaptureGenericSynthesizesEntry(t *testing.T) {
	srv, _ := testServer(t)
	link := createLink(t, srv, "synth")

	res := multipartUpload(t, srv.URL+"/api/links/"+link.PageID+"/capture", "image/png", nil)
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		t.Fatalf("capture status = %d: %s", res.StatusCode, body)
	}

	var got models.Link
	doJSON(t, http.MethodGet, srv.URL+"/api/links/"+link.PageID, nil, &got)
	if len(got.Logs) != 1 || got.Logs[0].Captures.Image == "" {
		t.Errorf("expected synthesized entry with bound image, logs = %+v", got.Logs)
	}
}

func TestCaptureRejectsMissingFileAndBadType(t *testing.T) {
	srv, up := testServer(t)
	link := createLink(t, srv, "bad uploads")

	// No file part at all.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("logId", "whatever")
	mw.Close()
	res, err := http.Post(srv.URL+"/api/capture/"+link.PageID, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("missing file status = %d, want 400", res.StatusCode)
	}

	// Disallowed MIME type.
	res = multipartUpload(t, srv.URL+"/api/capture/"+link.PageID, "application/zip", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad mime status = %d, want 400", res.StatusCode)
	}

	if len(up.calls) != 0 {
		t.Errorf("uploader must not run for rejected input, calls = %v", up.calls)
	}

	// Rejected intake must not have touched the link.
	var got models.Link
	doJSON(t, http.MethodGet, srv.URL+"/api/links/"+link.PageID, nil, &got)
	if len(got.Logs) != 0 {
		t.Errorf("rejected uploads created %d log entries", len(got.Logs))
	}
}

func TestCaptureUploadFailureSurfaces(t *testing.T) {
	srv, up := testServer(t)
	up.fail = true
	link := createLink(t, srv, "failing storage")
	doJSON(t, http.MethodPost, srv.URL+"/api/links/"+link.PageID+"/visit", map[string]any{}, nil)

	res := multipartUpload(t, srv.URL+"/api/capture/"+link.PageID, "image/jpeg", nil)
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("failed upload status = %d, want 500", res.StatusCode)
	}
}

func TestTrackingEndpoints(t *testing.T) {
	srv, _ := testServer(t)
	link := createLink(t, srv, "tracked")

	var track TrackResponse
	res := doJSON(t, http.MethodGet, srv.URL+"/page/"+link.PageID, nil, &track)
	if res.StatusCode != http.StatusOK || !track.Success || track.LogID == "" {
		t.Fatalf("page track = %d %+v", res.StatusCode, track)
	}

	res = doJSON(t, http.MethodGet, fmt.Sprintf("%s/t/%d", srv.URL, link.Number), nil, &track)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("number track status = %d", res.StatusCode)
	}

	// Non-numeric short codes fall through to pageId resolution.
	res = doJSON(t, http.MethodGet, srv.URL+"/t/"+link.PageID, nil, &track)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pageId-through-/t status = %d", res.StatusCode)
	}

	var got models.Link
	doJSON(t, http.MethodGet, srv.URL+"/api/links/"+link.PageID, nil, &got)
	if len(got.Logs) != 3 {
		t.Errorf("logs = %d, want one per tracked open", len(got.Logs))
	}

	res = doJSON(t, http.MethodGet, srv.URL+"/page/does-not-exist", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("unknown page status = %d, want 404", res.StatusCode)
	}
}

func TestGetLinkByNumber(t *testing.T) {
	srv, _ := testServer(t)
	link := createLink(t, srv, "numbered")

	var got models.Link
	res := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/links/number/%d", srv.URL, link.Number), nil, &got)
	if res.StatusCode != http.StatusOK || got.PageID != link.PageID {
		t.Fatalf("by number = %d %+v", res.StatusCode, got)
	}

	res = doJSON(t, http.MethodGet, srv.URL+"/api/links/number/abc", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("non-numeric status = %d, want 400", res.StatusCode)
	}
	res = doJSON(t, http.MethodGet, srv.URL+"/api/links/number/100000", nil, nil)
	if res.StatusCode != http.StatusNotFound && res.StatusCode != http.StatusOK {
		t.Errorf("unknown number status = %d", res.StatusCode)
	}
}

func TestSavePermissionsEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	link := createLink(t, srv, "perms")

	res := doJSON(t, http.MethodPost, srv.URL+"/api/permissions/"+link.PageID, map[string]any{}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("missing permissions status = %d, want 400", res.StatusCode)
	}

	res = doJSON(t, http.MethodPost, srv.URL+"/api/permissions/"+link.PageID, map[string]any{
		"permissions": map[string]string{"contacts": "denied"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("permissions status = %d", res.StatusCode)
	}

	var got models.Link
	doJSON(t, http.MethodGet, srv.URL+"/api/links/"+link.PageID, nil, &got)
	if len(got.Logs) != 1 {
		t.Fatalf("logs = %d, want synthesized entry", len(got.Logs))
	}
	if got.Logs[0].Permissions["contacts"] != "denied" {
		t.Errorf("permissions = %+v", got.Logs[0].Permissions)
	}
}

func TestAppendLogEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	link := createLink(t, srv, "raw logs")

	var ack AckResponse
	res := doJSON(t, http.MethodPost, srv.URL+"/api/links/"+link.PageID+"/logs", map[string]any{
		"_id":       "client-chosen-id",
		"timestamp": "2026-03-01T10:00:00Z",
		"device":    map[string]string{"os": "Android 14"},
	}, &ack)
	if res.StatusCode != http.StatusOK || !ack.Success {
		t.Fatalf("append log = %d %+v", res.StatusCode, ack)
	}
	if ack.LogID == "client-chosen-id" {
		t.Error("client-supplied entry id was trusted")
	}

	var got models.Link
	doJSON(t, http.MethodGet, srv.URL+"/api/links/"+link.PageID, nil, &got)
	if len(got.Logs) != 1 || got.Logs[0].Device.OS != "Android 14" {
		t.Errorf("logs = %+v", got.Logs)
	}
	if got.Logs[0].Timestamp != "2026-03-01T10:00:00Z" {
		t.Errorf("timestamp = %q, want client-reported preserved", got.Logs[0].Timestamp)
	}
}

func TestDeleteLink(t *testing.T) {
	srv, _ := testServer(t)
	a := createLink(t, srv, "a")
	b := createLink(t, srv, "b")

	res := doJSON(t, http.MethodDelete, srv.URL+"/api/links/"+a.PageID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete by pageId status = %d", res.StatusCode)
	}
	res = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/links/%d", srv.URL, b.ID), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete by internal id status = %d", res.StatusCode)
	}
	res = doJSON(t, http.MethodDelete, srv.URL+"/api/links/"+a.PageID, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", res.StatusCode)
	}

	var links []models.Link
	doJSON(t, http.MethodGet, srv.URL+"/api/links", nil, &links)
	if len(links) != 0 {
		t.Errorf("links remaining = %d", len(links))
	}
}
