// Package api is the thin HTTP layer over the storage service and the
// transform pipeline. Authentication is an external collaborator: the
// owner identity arrives pre-authenticated in a request header.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/imagehub/internal/domain"
	"github.com/dunamismax/imagehub/internal/imagecodec"
	"github.com/dunamismax/imagehub/internal/store"
)

type imageStorage interface {
	Upload(ctx context.Context, data []byte, name, owner string) (domain.ImageRecord, error)
	Get(ctx context.Context, imageID string) (domain.ImageRecord, error)
	Open(ctx context.Context, imageID, variant string) (io.ReadCloser, domain.ImageRecord, error)
	ListByOwner(ctx context.Context, owner string, filter store.ListFilter, limit, offset int) ([]domain.ImageRecord, error)
	Delete(ctx context.Context, imageID, owner string) error
}

type transformPipeline interface {
	Apply(ctx context.Context, imageID string, req domain.TransformRequest) (string, error)
}

type Server struct {
	logger         *log.Logger
	storage        imageStorage
	pipeline       transformPipeline
	metrics        *metrics
	tracer         trace.Tracer
	rateLimiter    RateLimiter
	userIDHeader   string
	maxUploadBytes int64
	mux            *http.ServeMux
}

func NewServer(logger *log.Logger, storage imageStorage, pipeline transformPipeline, maxUploadBytes int64, userIDHeader string) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	if strings.TrimSpace(userIDHeader) == "" {
		userIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:         logger,
		storage:        storage,
		pipeline:       pipeline,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("imagehub/api"),
		userIDHeader:   userIDHeader,
		maxUploadBytes: maxUploadBytes,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// SetRateLimiter installs an optional request rate limiter on the
// mutating routes.
func (s *Server) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /v1/images", s.handleUpload)
	s.mux.HandleFunc("GET /v1/images", s.handleList)
	s.mux.HandleFunc("POST /v1/images/{id}/transform", s.handleTransform)
	s.mux.HandleFunc("GET /v1/images/{id}/file", s.handleFetch)
	s.mux.HandleFunc("DELETE /v1/images/{id}", s.handleDelete)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: multipart field %q is required", domain.ErrValidation, "file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read upload: %v", domain.ErrImageRead, err))
		return
	}

	record, err := s.storage.Upload(r.Context(), data, header.Filename, owner)
	if err != nil {
		s.logger.Printf("upload failed owner=%s name=%s err=%v", owner, header.Filename, err)
		writeError(w, err)
		return
	}

	s.metrics.imagesUploadedTotal.Inc()
	writeJSON(w, http.StatusCreated, map[string]any{
		"image_id":   record.ID,
		"name":       record.OriginalName,
		"created_at": record.CreatedAt,
	})
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	imageID := r.PathValue("id")

	var req domain.TransformRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err))
		return
	}

	record, err := s.storage.Get(r.Context(), imageID)
	if err != nil {
		writeError(w, err)
		return
	}
	if record.Owner != owner {
		writeError(w, fmt.Errorf("%w: id %s", domain.ErrNotFound, imageID))
		return
	}

	path, err := s.pipeline.Apply(r.Context(), imageID, req)
	if err != nil {
		s.metrics.transformsTotal.WithLabelValues("failed").Inc()
		s.logger.Printf("transform failed image_id=%s owner=%s err=%v", imageID, owner, err)
		writeError(w, err)
		return
	}

	s.metrics.transformsTotal.WithLabelValues("succeeded").Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"image_id":       imageID,
		"transform_path": path,
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	imageID := r.PathValue("id")

	variant := r.URL.Query().Get("variant")
	if variant == "" {
		variant = "original"
	}

	f, record, err := s.storage.Open(r.Context(), imageID, variant)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	if record.Owner != owner {
		writeError(w, fmt.Errorf("%w: id %s", domain.ErrNotFound, imageID))
		return
	}

	path := record.InputPath
	if variant != "original" {
		path = record.TransformPath
	}
	w.Header().Set("Content-Type", imagecodec.MIMEType(imagecodec.FormatFromPath(path)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Printf("fetch stream failed image_id=%s variant=%s err=%v", imageID, variant, err)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	filter, err := listFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	records, err := s.storage.ListByOwner(r.Context(), owner, filter, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"images": records,
		"count":  len(records),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	imageID := r.PathValue("id")

	if err := s.storage.Delete(r.Context(), imageID, owner); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// owner extracts the pre-authenticated owner identity and rejects the
// request when it is absent.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(s.userIDHeader))
	if owner == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", s.userIDHeader+" header is required"))
		return "", false
	}
	return owner, true
}

func listFilter(value string) (store.ListFilter, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all":
		return store.ListAll, nil
	case "transformed":
		return store.ListTransformed, nil
	case "untransformed":
		return store.ListUntransformed, nil
	default:
		return store.ListAll, fmt.Errorf("%w: unknown filter %q", domain.ErrInvalidParameters, value)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

// writeError maps an error to its kind label and HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status, kind := errorKind(err)
	writeJSON(w, status, errorBody(kind, err.Error()))
}

func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrInvalidParameters):
		return http.StatusBadRequest, "invalid_parameters"
	case errors.Is(err, domain.ErrRange):
		return http.StatusBadRequest, "range_error"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrIntegrityDrift):
		return http.StatusConflict, "integrity_drift"
	case errors.Is(err, domain.ErrImageRead):
		return http.StatusInternalServerError, "image_read_failure"
	case errors.Is(err, domain.ErrImageWrite):
		return http.StatusInternalServerError, "image_write_failure"
	case errors.Is(err, domain.ErrMetadataPersist):
		return http.StatusInternalServerError, "metadata_persist_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func errorBody(kind, message string) map[string]string {
	return map[string]string{
		"error":   kind,
		"message": message,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
