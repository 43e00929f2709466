package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"giftforge/internal/artifact"
	"giftforge/internal/bridge"
	"giftforge/internal/engine"
	"giftforge/internal/manifest"
	"giftforge/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBucket is an in-memory object store with a fixed public base.
type memBucket struct {
	mu      sync.Mutex
	objects map[string]string // name -> content type
}

func (b *memBucket) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[name] = contentType
	return nil
}

func (b *memBucket) URL(name string) string { return "https://pub.example.dev/" + name }

// fakeComfy serves the engine endpoints the pipeline uses. History entries are
// registered per prompt id; unknown ids get an empty object.
type fakeComfy struct {
	mu      sync.Mutex
	next    atomic.Int32
	prompts map[string]map[string]workflow.Node
	history map[string]string
	frees   atomic.Int32
}

func newFakeComfy(t *testing.T) (*fakeComfy, *httptest.Server) {
	f := &fakeComfy{prompts: map[string]map[string]workflow.Node{}, history: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt map[string]workflow.Node `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := fmt.Sprintf("job-%d", f.next.Add(1))
		f.mu.Lock()
		f.prompts[id] = body.Prompt
		f.mu.Unlock()
		fmt.Fprintf(w, `{"prompt_id": %q, "number": 1, "node_errors": {}}`, id)
	})
	mux.HandleFunc("POST /free", func(w http.ResponseWriter, r *http.Request) {
		f.frees.Add(1)
	})
	mux.HandleFunc("GET /history/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		outputs, ok := f.history[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			w.Write([]byte(`{}`))
			return
		}
		fmt.Fprintf(w, `{%q: {"outputs": %s}}`, r.PathValue("id"), outputs)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeComfy) complete(id, outputs string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[id] = outputs
}

func (f *fakeComfy) prompt(id string) map[string]workflow.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[id]
}

func TestScenario_ImageThenMesh(t *testing.T) {
	t.Parallel()

	outputDir, inputDir := t.TempDir(), t.TempDir()
	comfy, srv := newFakeComfy(t)
	bucket := &memBucket{objects: map[string]string{}}

	client := engine.NewClient(engine.Config{BaseURL: srv.URL, ClientID: "scenario"})
	svc, err := NewService(Deps{
		Engine:    client,
		Resolver:  manifest.NewResolver(client, manifest.Config{OutputDir: outputDir, FallbackSubdirs: []string{"mesh"}}),
		Publisher: artifact.NewPublisher(bucket),
		Bridge:    bridge.New(bridge.Config{OutputDir: outputDir, InputDir: inputDir}),
		Stages:    testStages(t),
	})
	require.NoError(t, err)
	ctx := context.Background()

	// Stage 1: submit, poll before the engine has a record, then complete.
	job, err := svc.GenerateImages(ctx, &ImageRequest{VisualPrompt: "wolf playing guitar"})
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusQueued, job.Status)
	assert.Equal(t, "wolf playing guitar", comfy.prompt(job.JobID)["34:27"].Inputs["text"])

	status, err := svc.Status(ctx, job.JobID, StageImage)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusProcessing, status.Status)

	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "gift_00001_.png"), []byte("png"), 0o644))
	comfy.complete(job.JobID, `{"9": {
		"text": ["a wolf with a guitar"],
		"images": [{"filename": "gift_00001_.png", "subfolder": "", "type": "output"}]
	}}`)

	status, err = svc.Status(ctx, job.JobID, StageImage)
	require.NoError(t, err)
	require.Equal(t, manifest.StatusCompleted, status.Status)
	require.Equal(t, []string{"https://pub.example.dev/gift_00001_.png"}, status.Images)
	assert.Equal(t, "image/png", bucket.objects["gift_00001_.png"])

	// Stage 2: the client picks the published image.
	meshJob, err := svc.GenerateMesh(ctx, &MeshRequest{ImageURL: status.Images[0]})
	require.NoError(t, err)
	assert.Equal(t, int32(1), comfy.frees.Load())
	assert.FileExists(t, filepath.Join(inputDir, "gift_00001_.png"))
	assert.Equal(t, "gift_00001_.png", comfy.prompt(meshJob.JobID)["2"].Inputs["image"])

	require.NoError(t, os.MkdirAll(filepath.Join(outputDir, "mesh"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "mesh", "gift_00001_.glb"), []byte("glb"), 0o644))
	comfy.complete(meshJob.JobID, `{"10": {"result": [{"filename": "gift_00001_.glb", "subfolder": "mesh", "type": "output"}]}}`)

	status, err = svc.Status(ctx, meshJob.JobID, "")
	require.NoError(t, err)
	assert.Equal(t, &StatusResponse{
		Status: manifest.StatusCompleted,
		Images: []string{"https://pub.example.dev/gift_00001_.glb"},
	}, status)
	assert.Equal(t, "model/gltf-binary", bucket.objects["gift_00001_.glb"])
}

func TestScenario_EngineDownIsProcessing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := engine.NewClient(engine.Config{BaseURL: url})
	svc, err := NewService(Deps{
		Engine:    client,
		Resolver:  manifest.NewResolver(client, manifest.Config{OutputDir: t.TempDir()}),
		Publisher: artifact.NewPublisher(&memBucket{objects: map[string]string{}}),
		Stages:    testStages(t),
	})
	require.NoError(t, err)

	status, err := svc.Status(context.Background(), "job-1", "")
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusProcessing, status.Status)
}
