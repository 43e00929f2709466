package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"giftforge/internal/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedObject struct {
	data        []byte
	contentType string
}

type memStore struct {
	mu      sync.Mutex
	base    string
	objects map[string]storedObject
	puts    atomic.Int64
	fail    map[string]bool
}

func newMemStore(base string) *memStore {
	return &memStore{base: base, objects: make(map[string]storedObject), fail: make(map[string]bool)}
}

func (s *memStore) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	s.puts.Add(1)
	if s.fail[name] {
		return fmt.Errorf("bucket unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = storedObject{data: data, contentType: contentType}
	return nil
}

func (s *memStore) URL(name string) string { return s.base + "/" + name }

func (s *memStore) get(name string) (storedObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[name]
	return o, ok
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPublish_RoundTripURL(t *testing.T) {
	t.Parallel()

	store := newMemStore("https://pub.example.dev")
	p := NewPublisher(store)
	path := writeFile(t, t.TempDir(), "gift_42.glb", "glTF")

	url, err := p.Publish(context.Background(), path, "gift_42.glb")
	require.NoError(t, err)
	assert.Equal(t, "https://pub.example.dev/gift_42.glb", url)

	obj, ok := store.get("gift_42.glb")
	require.True(t, ok)
	assert.Equal(t, "model/gltf-binary", obj.contentType)
	assert.Equal(t, "glTF", string(obj.data))
}

func TestPublish_OverwritesSameName(t *testing.T) {
	t.Parallel()

	store := newMemStore("https://pub.example.dev")
	p := NewPublisher(store)
	dir := t.TempDir()

	first := writeFile(t, dir, "a.png", "first")
	second := writeFile(t, dir, "b.png", "second")

	url1, err := p.Publish(context.Background(), first, "gift.png")
	require.NoError(t, err)
	url2, err := p.Publish(context.Background(), second, "gift.png")
	require.NoError(t, err)

	assert.Equal(t, url1, url2)
	obj, _ := store.get("gift.png")
	assert.Equal(t, "second", string(obj.data))
}

func TestPublish_Errors(t *testing.T) {
	t.Parallel()

	store := newMemStore("https://pub.example.dev")
	store.fail["broken.png"] = true
	p := NewPublisher(store)
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.png", "x")

	t.Run("missing file", func(t *testing.T) {
		_, err := p.Publish(context.Background(), filepath.Join(dir, "gone.png"), "gone.png")
		assert.ErrorIs(t, err, apperrors.ErrStorageUnavailable)
		assert.NotErrorIs(t, err, apperrors.ErrSourceMissing)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := p.Publish(context.Background(), dir, "dir.png")
		assert.ErrorIs(t, err, apperrors.ErrStorageUnavailable)
	})

	t.Run("store failure", func(t *testing.T) {
		_, err := p.Publish(context.Background(), path, "broken.png")
		assert.ErrorIs(t, err, apperrors.ErrStorageUnavailable)
		assert.Contains(t, err.Error(), "bucket unavailable")
	})

	t.Run("directory", func(t *testing.T) {
		_, err := p.Publish(context.Background(), dir, "dir.png")
		assert.ErrorIs(t, err, apperrors.ErrStorageUnavailable)
	})

	t.Run("escaping name", func(t *testing.T) {
		_, err := p.Publish(context.Background(), path, "../broken.png")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestPublishAll_DropsFailures(t *testing.T) {
	t.Parallel()

	store := newMemStore("https://pub.example.dev")
	store.fail["b.png"] = true

	var observed atomic.Int64
	var failures atomic.Int64
	p := NewPublisher(store, WithConcurrency(2), WithObserver(func(ctx context.Context, a Artifact, err error) {
		observed.Add(1)
		if err != nil {
			failures.Add(1)
		}
	}))

	dir := t.TempDir()
	var in []Artifact
	for _, name := range []string{"a.png", "b.png", "c.glb", "d.png"} {
		in = append(in, New(writeFile(t, dir, name, strings.ToUpper(name))))
	}
	in = append(in, New(filepath.Join(dir, "missing.png")))

	out := p.PublishAll(context.Background(), in)

	var names []string
	for _, a := range out {
		names = append(names, a.Name)
		assert.Equal(t, "https://pub.example.dev/"+a.Name, a.URL)
	}
	assert.Equal(t, []string{"a.png", "c.glb", "d.png"}, names)
	assert.EqualValues(t, 5, observed.Load())
	assert.EqualValues(t, 2, failures.Load())
}

func TestPublishAll_Empty(t *testing.T) {
	t.Parallel()

	p := NewPublisher(newMemStore("https://x"))
	out := p.PublishAll(context.Background(), nil)
	assert.Empty(t, out)
}

func TestPublish_ObserverSeesError(t *testing.T) {
	t.Parallel()

	var got error
	p := NewPublisher(newMemStore("https://x"), WithObserver(func(ctx context.Context, a Artifact, err error) {
		got = err
	}))
	_, err := p.Publish(context.Background(), "/nonexistent/a.png", "a.png")
	require.Error(t, err)
	assert.True(t, errors.Is(got, apperrors.ErrStorageUnavailable))
}
