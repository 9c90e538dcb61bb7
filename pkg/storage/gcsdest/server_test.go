package gcsdest

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type gcsObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// gcsServer serves the slice of the GCS JSON API a Destination uses: object
// metadata reads and single-request multipart uploads honouring
// ifGenerationMatch=0.
type gcsServer struct {
	mu      sync.Mutex
	objects map[string]gcsObject
	uploads int
}

func newGCSServer(t *testing.T) (*gcsServer, *Destination) {
	t.Helper()
	f := &gcsServer{objects: map[string]gcsObject{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /storage/v1/b/{bucket}/o/{object...}", f.getObject)
	mux.HandleFunc("POST /upload/storage/v1/b/{bucket}/o", f.insertObject)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	d, err := New(context.Background(), Config{Bucket: "gcs-bucket", Endpoint: srv.URL + "/storage/v1/"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return f, d
}

func (f *gcsServer) put(bucket, name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+name] = gcsObject{data: data}
}

func (f *gcsServer) object(bucket, name string) (gcsObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+name]
	return obj, ok
}

func (f *gcsServer) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func (f *gcsServer) getObject(w http.ResponseWriter, r *http.Request) {
	bucket, name := r.PathValue("bucket"), r.PathValue("object")
	obj, ok := f.object(bucket, name)
	if !ok {
		writeGCSError(w, http.StatusNotFound, "notFound", "No such object: "+bucket+"/"+name)
		return
	}
	writeGCSJSON(w, http.StatusOK, objectResource(bucket, name, obj))
}

func (f *gcsServer) insertObject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("uploadType") != "multipart" {
		writeGCSError(w, http.StatusNotImplemented, "notImplemented", "only multipart uploads are supported")
		return
	}

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeGCSError(w, http.StatusBadRequest, "invalid", err.Error())
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	var attrs struct {
		Name        string            `json:"name"`
		ContentType string            `json:"contentType"`
		Metadata    map[string]string `json:"metadata"`
	}
	part, err := mr.NextPart()
	if err == nil {
		err = json.NewDecoder(part).Decode(&attrs)
	}
	if err != nil {
		writeGCSError(w, http.StatusBadRequest, "invalid", "read metadata part: "+err.Error())
		return
	}
	part, err = mr.NextPart()
	if err != nil {
		writeGCSError(w, http.StatusBadRequest, "invalid", "read media part: "+err.Error())
		return
	}
	data, err := io.ReadAll(part)
	if err != nil {
		writeGCSError(w, http.StatusBadRequest, "invalid", "read media part: "+err.Error())
		return
	}

	bucket, name := r.PathValue("bucket"), q.Get("name")
	if name == "" {
		name = attrs.Name
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	key := bucket + "/" + name
	if _, exists := f.objects[key]; exists && q.Get("ifGenerationMatch") == "0" {
		writeGCSError(w, http.StatusPreconditionFailed, "conditionNotMet", "At least one of the pre-conditions you specified did not hold.")
		return
	}
	obj := gcsObject{data: data, contentType: attrs.ContentType, metadata: attrs.Metadata}
	f.objects[key] = obj
	writeGCSJSON(w, http.StatusOK, objectResource(bucket, name, obj))
}

func objectResource(bucket, name string, obj gcsObject) map[string]any {
	return map[string]any{
		"kind":        "storage#object",
		"bucket":      bucket,
		"name":        name,
		"size":        strconv.Itoa(len(obj.data)),
		"contentType": obj.contentType,
		"metadata":    obj.metadata,
		"generation":  "1",
	}
}

func writeGCSError(w http.ResponseWriter, code int, reason, message string) {
	writeGCSJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"errors":  []map[string]string{{"reason": reason, "message": message}},
		},
	})
}

func writeGCSJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
