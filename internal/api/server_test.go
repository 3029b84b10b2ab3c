package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/imagehub/internal/ratelimit"
	"github.com/dunamismax/imagehub/internal/store"
	"github.com/dunamismax/imagehub/internal/storage"
	"github.com/dunamismax/imagehub/internal/transform"
	"github.com/dunamismax/imagehub/internal/validate"
)

func TestUploadTransformFetchDeleteFlow(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	imageID := uploadImage(t, ts, "alice", "photo.png", 100, 100)

	// Transform: resize plus grayscale.
	body := `{"resize": {"width": 50, "height": 50}, "filters": {"grayscale": true}}`
	resp := doJSON(t, ts, http.MethodPost, "/v1/images/"+imageID+"/transform", "alice", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transform status = %d, body=%s", resp.StatusCode, readBody(t, resp))
	}
	var transformed struct {
		ImageID       string `json:"image_id"`
		TransformPath string `json:"transform_path"`
	}
	decodeBody(t, resp, &transformed)
	if transformed.ImageID != imageID || transformed.TransformPath == "" {
		t.Fatalf("unexpected transform response: %+v", transformed)
	}

	// Fetch the derived variant and decode it.
	resp = doRequest(t, ts, http.MethodGet, "/v1/images/"+imageID+"/file?variant=transform", "alice", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "image/png" {
		t.Fatalf("expected image/png, got %s", got)
	}
	img, _, err := image.Decode(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode fetched image: %v", err)
	}
	if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 50 {
		t.Fatalf("expected 50x50 derived image, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}

	// The original variant still has the original dimensions.
	resp = doRequest(t, ts, http.MethodGet, "/v1/images/"+imageID+"/file", "alice", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch original status = %d", resp.StatusCode)
	}
	img, _, err = image.Decode(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode original: %v", err)
	}
	if img.Bounds().Dx() != 100 {
		t.Fatalf("expected untouched original, got width %d", img.Bounds().Dx())
	}

	// Delete, then confirm both lookups miss.
	resp = doRequest(t, ts, http.MethodDelete, "/v1/images/"+imageID, "alice", nil, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, ts, http.MethodGet, "/v1/images/"+imageID+"/file", "alice", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUploadRequiresUserHeader(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	body, contentType := multipartBody(t, "photo.png", pngBytes(t, 10, 10))
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/images", body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	assertErrorKind(t, resp, "unauthorized")
}

func TestUploadRejectsNonImage(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	body, contentType := multipartBody(t, "photo.png", []byte("definitely not an image"))
	resp := doRequest(t, ts, http.MethodPost, "/v1/images", "alice", body, contentType)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	assertErrorKind(t, resp, "validation_error")
}

func TestTransformOutOfBoundsCropMapsToRangeError(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	imageID := uploadImage(t, ts, "alice", "photo.png", 50, 50)

	body := `{"crop": {"x": 45, "y": 45, "width": 20, "height": 20}}`
	resp := doJSON(t, ts, http.MethodPost, "/v1/images/"+imageID+"/transform", "alice", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	assertErrorKind(t, resp, "range_error")
}

func TestTransformRejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	imageID := uploadImage(t, ts, "alice", "photo.png", 20, 20)

	resp := doJSON(t, ts, http.MethodPost, "/v1/images/"+imageID+"/transform", "alice", `{"sharpen": true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	assertErrorKind(t, resp, "invalid_parameters")
}

func TestTransformForeignImageIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	imageID := uploadImage(t, ts, "alice", "photo.png", 20, 20)

	resp := doJSON(t, ts, http.MethodPost, "/v1/images/"+imageID+"/transform", "mallory", `{"format": "png"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign owner, got %d", resp.StatusCode)
	}
	assertErrorKind(t, resp, "not_found")
}

func TestFetchTransformBeforeAnyTransform(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	imageID := uploadImage(t, ts, "alice", "photo.png", 20, 20)

	resp := doRequest(t, ts, http.MethodGet, "/v1/images/"+imageID+"/file?variant=transform", "alice", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	assertErrorKind(t, resp, "not_found")
}

func TestFetchUnknownVariant(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	imageID := uploadImage(t, ts, "alice", "photo.png", 20, 20)

	resp := doRequest(t, ts, http.MethodGet, "/v1/images/"+imageID+"/file?variant=thumbnail", "alice", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	assertErrorKind(t, resp, "invalid_parameters")
}

func TestListFiltersByTransformState(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	first := uploadImage(t, ts, "alice", "first.png", 20, 20)
	uploadImage(t, ts, "alice", "second.png", 20, 20)
	uploadImage(t, ts, "bob", "other.png", 20, 20)

	resp := doJSON(t, ts, http.MethodPost, "/v1/images/"+first+"/transform", "alice", `{"format": "jpg"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transform status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	var listed struct {
		Count int `json:"count"`
	}

	resp = doRequest(t, ts, http.MethodGet, "/v1/images", "alice", nil, "")
	decodeBody(t, resp, &listed)
	if listed.Count != 2 {
		t.Fatalf("expected 2 records for alice, got %d", listed.Count)
	}

	resp = doRequest(t, ts, http.MethodGet, "/v1/images?filter=transformed", "alice", nil, "")
	decodeBody(t, resp, &listed)
	if listed.Count != 1 {
		t.Fatalf("expected 1 transformed record, got %d", listed.Count)
	}

	resp = doRequest(t, ts, http.MethodGet, "/v1/images?filter=untransformed", "alice", nil, "")
	decodeBody(t, resp, &listed)
	if listed.Count != 1 {
		t.Fatalf("expected 1 untransformed record, got %d", listed.Count)
	}

	resp = doRequest(t, ts, http.MethodGet, "/v1/images?filter=bogus", "alice", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown filter, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeleteForeignImageIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	imageID := uploadImage(t, ts, "alice", "photo.png", 20, 20)

	resp := doRequest(t, ts, http.MethodDelete, "/v1/images/"+imageID, "mallory", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	assertErrorKind(t, resp, "not_found")
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRateLimiterRejectsWhenExhausted(t *testing.T) {
	server := newServerOnly(t)
	server.SetRateLimiter(denyAllLimiter{})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	body, contentType := multipartBody(t, "photo.png", pngBytes(t, 10, 10))
	resp := doRequest(t, ts, http.MethodPost, "/v1/images", "alice", body, contentType)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
	assertErrorKind(t, resp, "rate_limited")

	// Read-only routes bypass the limiter.
	resp = doRequest(t, ts, http.MethodGet, "/v1/images", "alice", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected GET to bypass rate limiting, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, Remaining: 0, RetryAfter: 2 * time.Second}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(newServerOnly(t).Handler())
}

func newServerOnly(t *testing.T) *Server {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	records := store.NewMemoryRecordStore()
	svc, err := storage.NewService(logger, t.TempDir(), records, validate.New(0, nil))
	if err != nil {
		t.Fatalf("new storage service: %v", err)
	}
	pipeline := transform.NewPipeline(logger, records, transform.DefaultStrategies(logger))
	return NewServer(logger, svc, pipeline, 0, "")
}

func uploadImage(t *testing.T, ts *httptest.Server, owner, name string, w, h int) string {
	t.Helper()

	body, contentType := multipartBody(t, name, pngBytes(t, w, h))
	resp := doRequest(t, ts, http.MethodPost, "/v1/images", owner, body, contentType)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, body=%s", resp.StatusCode, readBody(t, resp))
	}
	var uploaded struct {
		ImageID string `json:"image_id"`
	}
	decodeBody(t, resp, &uploaded)
	if uploaded.ImageID == "" {
		t.Fatal("expected an image id in the upload response")
	}
	return uploaded.ImageID
}

func multipartBody(t *testing.T, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, owner, body string) *http.Response {
	t.Helper()
	return doRequest(t, ts, method, path, owner, strings.NewReader(body), "application/json")
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, owner string, body io.Reader, contentType string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-User-ID", owner)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	return string(data)
}

func assertErrorKind(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != want {
		t.Fatalf("expected error kind %q, got %q", want, body.Error)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8((x * 255) / w), G: uint8((y * 255) / h), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
