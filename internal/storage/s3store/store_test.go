package s3store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBucket answers the subset of the S3 API the store uses.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodPut && strings.HasPrefix(path, "gifts/"):
		body, _ := io.ReadAll(r.Body)
		key := strings.TrimPrefix(path, "gifts/")
		f.objects[key] = string(body)
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead && path == "gifts":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newFake(t *testing.T) (*fakeBucket, *Store) {
	t.Helper()
	fake := &fakeBucket{objects: map[string]string{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	s, err := New(Config{
		Endpoint:        u.Host,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Bucket:          "gifts",
		PublicURL:       "https://pub.example.dev/",
		Region:          "auto",
		Insecure:        true,
	})
	require.NoError(t, err)
	return fake, s
}

func TestStore_PutAndURL(t *testing.T) {
	t.Parallel()

	fake, s := newFake(t)
	err := s.Put(context.Background(), "gift_42.glb", strings.NewReader("glTF"), 4, "model/gltf-binary")
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "glTF", fake.objects["gift_42.glb"])
	assert.Equal(t, "model/gltf-binary", fake.types["gift_42.glb"])
	assert.Equal(t, "https://pub.example.dev/gift_42.glb", s.URL("gift_42.glb"))
}

func TestStore_Ping(t *testing.T) {
	t.Parallel()

	_, s := newFake(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestConfig_Endpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"explicit", Config{Endpoint: "s3.local:9000"}, "s3.local:9000", false},
		{"full url", Config{Endpoint: "https://abc.r2.cloudflarestorage.com"}, "abc.r2.cloudflarestorage.com", false},
		{"account id", Config{AccountID: "abc123"}, "abc123.r2.cloudflarestorage.com", false},
		{"missing", Config{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.endpoint()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Endpoint: "s3.local", PublicURL: "https://x"})
	assert.ErrorContains(t, err, "bucket")

	_, err = New(Config{Endpoint: "s3.local", Bucket: "b"})
	assert.ErrorContains(t, err, "public URL")
}
