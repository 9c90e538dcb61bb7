package replication

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/replicator/pkg/storage"
)

// Replicator is the engine behaviour the HTTP layer depends on.
type Replicator interface {
	Replicate(ctx context.Context, req Request) (Outcome, error)
}

// HTTPHandler exposes REST endpoints for the replication service.
type HTTPHandler struct {
	engine      Replicator
	records     RecordFinder
	logger      *zap.Logger
	service     string
	destination string
	router      chi.Router
}

// HandlerParams configures NewHTTPHandler.
type HandlerParams struct {
	Engine Replicator
	// Records is optional; without it /v1/records is not served.
	Records     RecordFinder
	Logger      *zap.Logger
	Service     string
	Destination string
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(p HandlerParams) *HTTPHandler {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTTPHandler{
		engine:      p.Engine,
		records:     p.Records,
		logger:      logger,
		service:     p.Service,
		destination: p.Destination,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", h.handleHealth)
	r.Post("/v1/replicate", h.handleReplicate)
	if h.records != nil {
		r.Get("/v1/records", h.handleRecord)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found", nil)
	})

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"service":     h.service,
		"destination": h.destination,
	})
}

type replicateRequest struct {
	SourceBucket string `json:"s3_bucket"`
	SourceKey    string `json:"s3_key"`
}

var decodeFailure = &ErrorInfo{Kind: storage.KindInvalidRequest, Backend: Backend, Op: "decode request"}

func (h *HTTPHandler) handleReplicate(w http.ResponseWriter, r *http.Request) {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeError(w, http.StatusBadRequest, "Content-Type must be application/json", decodeFailure)
		return
	}

	var body replicateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object", decodeFailure)
		return
	}
	if body.SourceBucket == "" || body.SourceKey == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: s3_bucket and s3_key", decodeFailure)
		return
	}

	out, err := h.engine.Replicate(r.Context(), Request{
		SourceContainer: body.SourceBucket,
		ObjectKey:       body.SourceKey,
	})
	res := out.Result
	if err != nil {
		info := res.Error
		if info == nil {
			info = errorInfo(err, false)
		}
		writeError(w, StatusCode(info), info.Message(), info)
		return
	}

	payload := map[string]any{
		"status":            "success",
		"message":           successMessage(res.Status),
		"result":            resultLabel(res.Status),
		"s3_path":           res.SourceURI,
		"gcs_path":          res.DestinationURI,
		"bytes_transferred": res.BytesTransferred,
		"size_bytes":        res.Size,
	}
	if out.Warning != nil {
		payload["warning"] = "result could not be recorded"
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *HTTPHandler) handleRecord(w http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("s3_bucket")
	key := r.URL.Query().Get("s3_key")
	if bucket == "" || key == "" {
		writeError(w, http.StatusBadRequest, "missing required query parameters: s3_bucket and s3_key", nil)
		return
	}

	rec, err := h.records.Latest(r.Context(), bucket, key)
	if errors.Is(err, ErrNoRecord) {
		writeError(w, http.StatusNotFound, "no transfer recorded for object", nil)
		return
	}
	if err != nil {
		h.logger.Error("record lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "record lookup failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// StatusCode maps a failure onto the HTTP status reported to callers.
func StatusCode(info *ErrorInfo) int {
	if info.Timeout {
		return http.StatusGatewayTimeout
	}
	switch info.Kind {
	case storage.KindInvalidRequest:
		return http.StatusBadRequest
	case storage.KindSourceNotFound:
		return http.StatusNotFound
	case storage.KindAccessDenied:
		return http.StatusForbidden
	case storage.KindTransient:
		return http.StatusBadGateway
	case storage.KindQuotaExceeded:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func resultLabel(s Status) string {
	if s == StatusAlreadyExists {
		return "already_exists"
	}
	return "replicated"
}

func successMessage(s Status) string {
	if s == StatusAlreadyExists {
		return "object already exists at destination"
	}
	return "object replicated successfully"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, info *ErrorInfo) {
	payload := map[string]string{
		"status":  "error",
		"message": msg,
	}
	if info != nil {
		payload["kind"] = string(info.Kind)
		payload["backend"] = info.Backend
	}
	writeJSON(w, status, payload)
}
