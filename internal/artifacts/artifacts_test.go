package artifacts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"disabled", Config{}, ""},
		{"complete", Config{Endpoint: "s3.example.com", AccessKey: "a", SecretKey: "s", Bucket: "basil"}, ""},
		{"missing credentials", Config{Endpoint: "s3.example.com", Bucket: "basil"}, "missing access key, secret key"},
		{"missing bucket", Config{Endpoint: "s3.example.com", AccessKey: "a", SecretKey: "s"}, "missing bucket"},
		{"url endpoint", Config{Endpoint: "https://s3.example.com", AccessKey: "a", SecretKey: "s", Bucket: "b"}, "host[:port]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestObjectURL(t *testing.T) {
	cfg := Config{Endpoint: "s3.example.com:9000", Bucket: "basil"}
	assert.Equal(t, "http://s3.example.com:9000/basil/01j/index.html", ObjectURL(cfg, "01j/index.html"))
	cfg.UseSSL = true
	assert.Equal(t, "https://s3.example.com:9000/basil/01j/results.yaml", ObjectURL(cfg, "/01j/results.yaml"))
}

// fakeS3 accepts bucket probes, bucket creation and single-part uploads.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := cutPath(r.URL.Path)
	switch {
	case r.Method == http.MethodHead && key == "":
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && key == "":
		f.buckets[bucket] = true
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[bucket+"/"+key] = string(body)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func cutPath(p string) (bucket, key string, ok bool) {
	p = p[1:]
	for i := range len(p) {
		if p[i] == '/' {
			return p[:i], p[i+1:], true
		}
	}
	return p, "", false
}

func TestUploadCreatesBucket(t *testing.T) {
	fake := &fakeS3{buckets: map[string]bool{}, objects: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	endpoint, err := url.Parse(srv.URL)
	require.NoError(t, err)
	cfg := Config{
		Endpoint:  endpoint.Host,
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "basil-artifacts",
		Region:    "us-east-1",
	}

	u, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, fake.buckets["basil-artifacts"])

	path := filepath.Join(t.TempDir(), "results.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: /smoke\n  result: pass\n"), 0o644))

	got, err := u.Upload(context.Background(), "01jrun/results.yaml", path)
	require.NoError(t, err)
	assert.Equal(t, "http://"+endpoint.Host+"/basil-artifacts/01jrun/results.yaml", got)
	// Plain-HTTP uploads may be aws-chunked, so only the payload is checked.
	assert.Contains(t, fake.objects["basil-artifacts/01jrun/results.yaml"], "result: pass")
}
