package replication

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/replicator/pkg/storage"
	"github.com/your-org/replicator/pkg/storage/storagetest"
)

type replicatorFunc func(context.Context, Request) (Outcome, error)

func (f replicatorFunc) Replicate(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

type finderFunc func(context.Context, string, string) (TransferRecord, error)

func (f finderFunc) Latest(ctx context.Context, container, key string) (TransferRecord, error) {
	return f(ctx, container, key)
}

func newTestHandler(t *testing.T, r Replicator, f RecordFinder) http.Handler {
	t.Helper()
	return NewHTTPHandler(HandlerParams{
		Engine:      r,
		Records:     f,
		Logger:      zaptest.NewLogger(t),
		Service:     "s3-gcs-replicator",
		Destination: "gcs-bucket",
	}).Router()
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return rec.Code, payload
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	code, body := do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "s3-gcs-replicator", body["service"])
	assert.Equal(t, "gcs-bucket", body["destination"])
}

func TestReplicateEndpoint(t *testing.T) {
	s := newSetup()
	s.src.Put("my-bucket", "file.csv", []byte("id,name\n1,a\n"), "text/csv")
	h := newTestHandler(t, newEngine(t, s.src, s.dst, s.rec, 1), nil)

	code, body := do(t, h, http.MethodPost, "/v1/replicate", "application/json",
		`{"s3_bucket":"my-bucket","s3_key":"file.csv"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "replicated", body["result"])
	assert.Equal(t, "mem://my-bucket/file.csv", body["s3_path"])
	assert.Equal(t, "mem://gcs-bucket/my-bucket/file.csv", body["gcs_path"])
	assert.Equal(t, float64(12), body["bytes_transferred"])
	assert.Equal(t, float64(12), body["size_bytes"])
	assert.NotContains(t, body, "warning")

	code, body = do(t, h, http.MethodPost, "/v1/replicate", "application/json; charset=utf-8",
		`{"s3_bucket":"my-bucket","s3_key":"file.csv"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "already_exists", body["result"])
	assert.Equal(t, float64(0), body["bytes_transferred"])

	code, body = do(t, h, http.MethodPost, "/v1/replicate", "application/json",
		`{"s3_bucket":"my-bucket","s3_key":"missing.csv"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "SourceNotFound", body["kind"])
	assert.Equal(t, storagetest.Backend, body["backend"])
	assert.Equal(t, 1, s.dst.Len())
}

func TestReplicateEndpointBadRequests(t *testing.T) {
	s := newSetup()
	h := newTestHandler(t, newEngine(t, s.src, s.dst, s.rec, 1), nil)

	cases := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "not json", contentType: "text/plain", body: `s3_bucket=b`},
		{name: "malformed", contentType: "application/json", body: `{"s3_bucket":`},
		{name: "missing key", contentType: "application/json", body: `{"s3_bucket":"b"}`},
		{name: "missing bucket", contentType: "application/json", body: `{"s3_key":"k"}`},
		{name: "bucket with slash", contentType: "application/json", body: `{"s3_bucket":"a/b","s3_key":"k"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := do(t, h, http.MethodPost, "/v1/replicate", tc.contentType, tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", body["status"])
			assert.NotEmpty(t, body["message"])
			assert.Equal(t, "InvalidRequest", body["kind"])
			assert.Equal(t, Backend, body["backend"])
		})
	}
	assert.Equal(t, int64(0), s.src.Heads())
}

func TestReplicateEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		info *ErrorInfo
		code int
	}{
		{&ErrorInfo{Kind: storage.KindAccessDenied, Backend: "s3", Op: "head object"}, http.StatusForbidden},
		{&ErrorInfo{Kind: storage.KindTransient, Backend: "gcs", Op: "write object"}, http.StatusBadGateway},
		{&ErrorInfo{Kind: storage.KindTransient, Backend: "gcs", Op: "write object", Timeout: true}, http.StatusGatewayTimeout},
		{&ErrorInfo{Kind: storage.KindQuotaExceeded, Backend: "gcs", Op: "write object"}, http.StatusInsufficientStorage},
		{&ErrorInfo{Kind: storage.KindSizeMismatch, Backend: "gcs", Op: "write object"}, http.StatusInternalServerError},
		{&ErrorInfo{Kind: storage.KindInternal, Backend: Backend, Op: "replicate"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		info := tc.info
		h := newTestHandler(t, replicatorFunc(func(context.Context, Request) (Outcome, error) {
			return Outcome{Result: Result{Status: StatusFailed, Error: info}},
				&storage.Error{Kind: info.Kind, Backend: info.Backend, Op: info.Op, Err: errors.New("secret detail")}
		}), nil)

		code, body := do(t, h, http.MethodPost, "/v1/replicate", "application/json", `{"s3_bucket":"b","s3_key":"k"}`)
		assert.Equal(t, tc.code, code, "kind %s", info.Kind)
		assert.Equal(t, string(info.Kind), body["kind"])
		assert.Equal(t, info.Backend, body["backend"])
		assert.NotContains(t, body["message"], "secret")
	}
}

func TestReplicateEndpointRecorderWarning(t *testing.T) {
	s := newSetup()
	s.src.Put("b", "k", pattern(5), "")
	s.rec.err = errors.New("disk full at /var/lib/replicator")
	h := newTestHandler(t, newEngine(t, s.src, s.dst, s.rec, 1), nil)

	code, body := do(t, h, http.MethodPost, "/v1/replicate", "application/json", `{"s3_bucket":"b","s3_key":"k"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "result could not be recorded", body["warning"])
}

func TestRecordsEndpoint(t *testing.T) {
	recordedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finder := finderFunc(func(_ context.Context, container, key string) (TransferRecord, error) {
		if key != "file.csv" {
			return TransferRecord{}, ErrNoRecord
		}
		return TransferRecord{
			ID:              "3f1c",
			SourceContainer: container,
			ObjectKey:       key,
			DestinationURI:  "gs://gcs-bucket/" + DestinationPath(container, key),
			Status:          StatusSuccess,
			Bytes:           12,
			RecordedAt:      recordedAt,
		}, nil
	})
	h := newTestHandler(t, nil, finder)

	code, body := do(t, h, http.MethodGet, "/v1/records?s3_bucket=my-bucket&s3_key=file.csv", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "gs://gcs-bucket/my-bucket/file.csv", body["destination_uri"])
	assert.Equal(t, "Success", body["status"])
	assert.Equal(t, float64(12), body["bytes"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["recorded_at"])

	code, _ = do(t, h, http.MethodGet, "/v1/records?s3_bucket=my-bucket&s3_key=other.csv", "", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, http.MethodGet, "/v1/records?s3_bucket=my-bucket", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUnknownRoute(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	code, body := do(t, h, http.MethodGet, "/v1/records?s3_bucket=b&s3_key=k", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", body["status"])
}
