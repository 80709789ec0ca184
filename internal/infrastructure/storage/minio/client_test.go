package minio

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/LexNER/pkg/errors"
)

type storedObject struct {
	data        []byte
	contentType string
	meta        http.Header
}

// fakeS3 implements the handful of path-style S3 calls the client makes.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]storedObject
}

func newFakeS3(t *testing.T, buckets ...string) (*fakeS3, *httptest.Server) {
	t.Helper()
	f := &fakeS3{buckets: map[string]bool{}, objects: map[string]storedObject{}}
	for _, b := range buckets {
		f.buckets[b] = true
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	if len(parts) == 1 || parts[1] == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
		case http.MethodPut:
			f.buckets[bucket] = true
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	key := bucket + "/" + parts[1]
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
			body = decodeAWSChunked(body)
		}
		meta := http.Header{}
		for k, v := range r.Header {
			if strings.HasPrefix(strings.ToLower(k), "x-amz-meta-") {
				meta[k] = v
			}
		}
		f.objects[key] = storedObject{data: body, contentType: r.Header.Get("Content-Type"), meta: meta}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>`+parts[1]+`</Key><BucketName>`+bucket+`</BucketName></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.data)
		}
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) object(key string) (storedObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

func (f *fakeS3) hasBucket(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets[name]
}

// decodeAWSChunked strips the aws-chunked framing used by streaming
// signatures: "<hex>;chunk-signature=...\r\n<data>\r\n" repeated.
func decodeAWSChunked(body []byte) []byte {
	var out bytes.Buffer
	r := bufio.NewReader(bytes.NewReader(body))
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			break
		}
		sizeHex := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil || size == 0 {
			break
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			break
		}
		out.Write(chunk)
		_, _ = r.ReadString('\n')
	}
	return out.Bytes()
}

func newTestClient(t *testing.T, srv *httptest.Server, bucket string) *Client {
	t.Helper()
	api, err := minio.New(strings.TrimPrefix(srv.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Region: "us-east-1",
	})
	require.NoError(t, err)
	return NewClientWithAPI(api, config.MinIOConfig{Bucket: bucket}, logging.NewNopLogger())
}

func TestNewClientWithAPI_Defaults(t *testing.T) {
	c := NewClientWithAPI(nil, config.MinIOConfig{}, nil)
	assert.Equal(t, config.DefaultMinIOBucket, c.Bucket())
	assert.Equal(t, time.Hour, c.presignExpiry)
}

func TestEnsureBucket_CreatesMissing(t *testing.T) {
	fake, srv := newFakeS3(t)
	c := newTestClient(t, srv, "ner-results")

	require.NoError(t, c.EnsureBucket(context.Background()))
	assert.True(t, fake.hasBucket("ner-results"))
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestHealthCheck(t *testing.T) {
	_, srv := newFakeS3(t)
	c := newTestClient(t, srv, "absent")
	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeServiceUnavailable))

	require.NoError(t, c.Close())
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestPresignedGetURL(t *testing.T) {
	_, srv := newFakeS3(t, "ner-results")
	c := newTestClient(t, srv, "ner-results")

	u, err := c.PresignedGetURL(context.Background(), "analyses/x.txt", 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "/ner-results/analyses/x.txt")
	assert.Contains(t, u, "X-Amz-Expires=600")
}
