package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go-meshy-generate/internal/database"
	"go-meshy-generate/internal/models"
	"go-meshy-generate/internal/pipeline"
	"go-meshy-generate/internal/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeRoot runs the root command in-process with args and returns its output.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func missingConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("MESHY_API_KEY", "")
	t.Setenv("MESHY_APIKEY", "")
	return filepath.Join(t.TempDir(), "none.toml")
}

// fakeMeshy serves the task endpoints and the artifact files.
func fakeMeshy(t *testing.T) *httptest.Server {
	t.Helper()
	var (
		mu      sync.Mutex
		created int
	)
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		succeeded := func(id string) string {
			return fmt.Sprintf(`{"id":%q,"mode":"refine","status":"SUCCEEDED","progress":100,"created_at":1,"started_at":2,"finished_at":3,`+
				`"model_urls":{"glb":"%s/files/%s.glb","fbx":"%s/files/%s.fbx"},"thumbnail_url":"%s/files/%s.png","video_url":"%s/files/%s.mp4","texture_urls":[],"task_error":null}`,
				id, server.URL, id, server.URL, id, server.URL, id, server.URL, id)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/text-to-3d":
			_, _ = io.ReadAll(r.Body)
			mu.Lock()
			created++
			id := fmt.Sprintf("job-%d", created)
			mu.Unlock()
			_, _ = fmt.Fprintf(w, `{"result":%q}`, id)
		case strings.HasSuffix(r.URL.Path, "/stream"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/text-to-3d/"), "/stream")
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = fmt.Fprintf(w, "data: {\"id\":%q,\"status\":\"IN_PROGRESS\",\"progress\":40}\n\n", id)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", succeeded(id))
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/text-to-3d/"):
			_, _ = fmt.Fprint(w, succeeded(strings.TrimPrefix(r.URL.Path, "/text-to-3d/")))
		case strings.HasPrefix(r.URL.Path, "/files/"):
			_, _ = w.Write([]byte("content of " + r.URL.Path))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// TestShowConfig_MasksAPIKey tests that the printed configuration never shows the key.
func TestShowConfig_MasksAPIKey(t *testing.T) {
	cfgPath := missingConfig(t)

	out, err := executeRoot(t, "--config", cfgPath, "--api-key", "msy_secret1234", "debug", "show-config")
	require.NoError(t, err)
	assert.NotContains(t, out, "msy_secret1234")
	assert.Contains(t, out, "**********1234")

	var cfg models.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "glb", cfg.ModelFormat)
}

// TestGenerate_RequiresFlags tests the single-run flag checks.
func TestGenerate_RequiresFlags(t *testing.T) {
	cfgPath := missingConfig(t)
	_, err := executeRoot(t, "--config", cfgPath, "--api-key", "k", "generate", "--name", "x", "--output", "", "--prompt", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

// TestGenerate_EndToEnd tests a single generation from flags through to files and history.
func TestGenerate_EndToEnd(t *testing.T) {
	cfgPath := missingConfig(t)
	server := fakeMeshy(t)
	t.Setenv("MESHY_BASEURL", server.URL)

	savePath := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "models")

	out, err := executeRoot(t,
		"--config", cfgPath,
		"--api-key", "msy_test",
		"--save-path", savePath,
		"--retry-delay", "0",
		"generate",
		"--prompt", "a brass lantern",
		"--output", outDir,
		"--name", "lantern",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully generated 3D model at "+outDir+" (0)")

	for _, name := range []string{"lantern.glb", "lantern.png", "lantern.mp4"} {
		content, readErr := os.ReadFile(filepath.Join(outDir, name))
		require.NoError(t, readErr, name)
		assert.True(t, strings.HasPrefix(string(content), "content of /files/job-2."))
	}

	out, err = executeRoot(t, "--config", cfgPath, "--save-path", savePath, "history", "--json", "--search", "lantern")
	require.NoError(t, err)
	var records []models.RunRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "a brass lantern", records[0].Prompt)
	assert.Equal(t, models.StatusRunSucceeded, records[0].Status)
	assert.Equal(t, "job-1", records[0].PreviewTaskID)
	assert.Equal(t, "job-2", records[0].RefineTaskID)
}

// TestTaskGet tests printing one task.
func TestTaskGet(t *testing.T) {
	cfgPath := missingConfig(t)
	server := fakeMeshy(t)
	t.Setenv("MESHY_BASEURL", server.URL)

	out, err := executeRoot(t, "--config", cfgPath, "--api-key", "k", "task", "get", "job-9")
	require.NoError(t, err)
	var task models.TaskEvent
	require.NoError(t, json.Unmarshal([]byte(out), &task))
	assert.Equal(t, "job-9", task.ID)
	assert.Equal(t, models.TaskSucceeded, task.Status)
}

// TestMissingAPIKey tests that service commands refuse to run without a key.
func TestMissingAPIKey(t *testing.T) {
	cfgPath := missingConfig(t)
	_, err := executeRoot(t, "--config", cfgPath, "--api-key", "", "task", "get", "job-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

type reconcilerFunc func(ctx context.Context, jobID string, onProgress tasks.ProgressFunc) (models.TaskEvent, error)

func (f reconcilerFunc) Reconcile(ctx context.Context, jobID string, onProgress tasks.ProgressFunc) (models.TaskEvent, error) {
	return f(ctx, jobID, onProgress)
}

// TestWatchTask tests following an existing job to completion.
func TestWatchTask(t *testing.T) {
	s := tasks.NewSupervisor(reconcilerFunc(func(ctx context.Context, jobID string, onProgress tasks.ProgressFunc) (models.TaskEvent, error) {
		onProgress(models.TaskEvent{ID: jobID, Status: models.TaskInProgress, Progress: 50})
		return models.TaskEvent{ID: jobID, Status: models.TaskSucceeded, Progress: 100, ModelURLs: map[string]string{"obj": "u2", "glb": "u1"}}, nil
	}), 1, 0)

	var out bytes.Buffer
	require.NoError(t, watchTask(context.Background(), s, "job-1", &out))
	assert.Contains(t, out.String(), "job-1 [IN_PROGRESS]: 50%")
	assert.Contains(t, out.String(), "glb: u1\nobj: u2\n")

	failing := tasks.NewSupervisor(reconcilerFunc(func(ctx context.Context, jobID string, onProgress tasks.ProgressFunc) (models.TaskEvent, error) {
		return models.TaskEvent{ID: jobID, Status: models.TaskFailed, TaskError: &models.TaskError{Message: "bad prompt"}}, nil
	}), 1, 0)
	err := watchTask(context.Background(), failing, "job-2", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad prompt")
}

// TestHistory_RecordRun tests ledger and index writes for finished runs.
func TestHistory_RecordRun(t *testing.T) {
	dir := t.TempDir()
	hist, err := openHistory(models.Config{DatabasePath: filepath.Join(dir, "runs.db"), IndexPath: filepath.Join(dir, "runs.bleve")})
	require.NoError(t, err)
	defer hist.Close()

	ok := pipeline.RunRequest{Params: models.GenerationParams{Prompt: "a teapot"}, OutputPath: "/srv", FileName: "teapot"}
	bad := pipeline.RunRequest{Params: models.GenerationParams{Prompt: "a broken chair"}, OutputPath: "/srv", FileName: "chair"}
	hist.RecordRun("b1", 0, ok, pipeline.Result{PreviewTaskID: "p1", RefineTaskID: "r1"}, nil)
	hist.RecordRun("b1", 1, bad, pipeline.Result{PreviewTaskID: "p2"}, errors.New("refine failed"))

	recent, err := hist.recent(0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	found, err := hist.search("chair", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, models.StatusRunFailed, found[0].Status)
	assert.Equal(t, "refine failed", found[0].ErrorDetails)

	limited, err := hist.recent(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// TestHistory_Remove tests deleting a run from the ledger and the index.
func TestHistory_Remove(t *testing.T) {
	dir := t.TempDir()
	hist, err := openHistory(models.Config{DatabasePath: filepath.Join(dir, "runs.db"), IndexPath: filepath.Join(dir, "runs.bleve")})
	require.NoError(t, err)
	defer hist.Close()

	req := pipeline.RunRequest{Params: models.GenerationParams{Prompt: "a copper kettle"}, OutputPath: "/srv", FileName: "kettle"}
	hist.RecordRun("b2", 0, req, pipeline.Result{PreviewTaskID: "p1", RefineTaskID: "r1"}, nil)
	key := database.RunKey("b2", 0)

	require.NoError(t, hist.remove(key))

	recent, err := hist.recent(0)
	require.NoError(t, err)
	assert.Empty(t, recent)
	found, err := hist.search("kettle", 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	err = hist.remove(key)
	assert.True(t, errors.Is(err, database.ErrNotFound))
}
