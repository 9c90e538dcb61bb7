package objectstore

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type s3Object struct {
	data        []byte
	contentType string
	header      http.Header
	modified    time.Time
}

// s3Server is a minimal path-style S3 endpoint: single-request PUT, HEAD,
// GET and DELETE. Multipart uploads are refused with AccessDenied.
type s3Server struct {
	mu        sync.Mutex
	objects   map[string]s3Object
	initiated int
}

func newS3Server(t *testing.T, chunkSize int) (*s3Server, *Store) {
	t.Helper()
	f := &s3Server{objects: map[string]s3Object{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	s, err := New(Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		Bucket:    "replicas",
		AccessKey: "minio",
		SecretKey: "minio123",
		ChunkSize: chunkSize,
	})
	require.NoError(t, err)
	return f, s
}

func (f *s3Server) object(bucket, key string) (s3Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+key]
	return obj, ok
}

func (f *s3Server) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *s3Server) initiatedUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initiated
}

func (f *s3Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	switch {
	case r.Method == http.MethodPost && r.URL.Query().Has("uploads"):
		f.mu.Lock()
		f.initiated++
		f.mu.Unlock()
		writeS3Error(w, http.StatusForbidden, "AccessDenied", "multipart uploads are disabled")

	case r.Method == http.MethodPut:
		data, err := readPayload(r)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody", err.Error())
			return
		}
		header := http.Header{}
		for k, v := range r.Header {
			if strings.HasPrefix(strings.ToLower(k), "x-amz-meta-") {
				header[k] = v
			}
		}
		f.mu.Lock()
		f.objects[bucket+"/"+key] = s3Object{
			data:        data,
			contentType: r.Header.Get("Content-Type"),
			header:      header,
			modified:    time.Now().UTC(),
		}
		f.mu.Unlock()
		w.Header().Set("ETag", fmt.Sprintf("%q", fmt.Sprintf("etag-%d", len(data))))
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodHead || r.Method == http.MethodGet:
		obj, ok := f.object(bucket, key)
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeS3Error(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
			return
		}
		for k, v := range obj.header {
			w.Header()[k] = v
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("ETag", fmt.Sprintf("%q", fmt.Sprintf("etag-%d", len(obj.data))))
		w.Header().Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.data)
		}

	case r.Method == http.MethodDelete:
		f.mu.Lock()
		delete(f.objects, bucket+"/"+key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		writeS3Error(w, http.StatusNotImplemented, "NotImplemented", r.Method+" is not supported")
	}
}

// readPayload returns the object bytes of a PUT, decoding aws-chunked
// bodies. A body that ends before the terminating chunk is an error.
func readPayload(r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return io.ReadAll(r.Body)
	}

	br := bufio.NewReader(r.Body)
	var out []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		sizeHex, _, _ := strings.Cut(strings.TrimRight(line, "\r\n"), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse chunk size: %w", err)
		}
		if n == 0 {
			break
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("read chunk: %w", err)
		}
		out = append(out, buf[:n]...)
	}

	if want := r.Header.Get("X-Amz-Decoded-Content-Length"); want != "" && want != strconv.Itoa(len(out)) {
		return nil, fmt.Errorf("decoded length %d, announced %s", len(out), want)
	}
	return out, nil
}

func writeS3Error(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, message)
}
