package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go-meshy-generate/internal/api"
	"go-meshy-generate/internal/models"
	"go-meshy-generate/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	err error

	mu   sync.Mutex
	reqs []pipeline.RunRequest
	ctx  context.Context
}

func (f *fakeRunner) Run(ctx context.Context, reqs []pipeline.RunRequest, sink pipeline.ProgressSink) ([]models.RunSummary, error) {
	f.mu.Lock()
	f.reqs = reqs
	f.ctx = ctx
	f.mu.Unlock()
	sink.Notify(0, pipeline.NotificationMessage(models.StagePreview, 0))
	sink.Notify(75, pipeline.NotificationMessage(models.StageRefine, 50))
	summaries := []models.RunSummary{{Index: 0, OutputPath: reqs[0].OutputPath, FileName: reqs[0].FileName}}
	return summaries, f.err
}

type fakeTasks struct{}

func (fakeTasks) GetTask(ctx context.Context, id string) (models.TaskEvent, error) {
	if id == "missing" {
		return models.TaskEvent{}, fmt.Errorf("task %s: %w", id, api.ErrNotFound)
	}
	return models.TaskEvent{ID: id, Status: models.TaskSucceeded, Progress: 100}, nil
}

const body = `{"tasks":[{"prompt":"a brass lantern","outputPath":"/srv/models","fileName":"lantern"}]}`

// TestHealth tests the liveness endpoint.
func TestHealth(t *testing.T) {
	srv := httptest.NewServer(New(&fakeRunner{}, fakeTasks{}).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

// TestGenerate_StreamsProgressAndResult tests the SSE frames of a successful batch.
func TestGenerate_StreamsProgressAndResult(t *testing.T) {
	runner := &fakeRunner{}
	srv := httptest.NewServer(New(runner, fakeTasks{}).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/text-to-3d", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(raw)

	assert.Contains(t, out, "event: progress\ndata: {\"percent\":0,\"message\":\"Previewing 3D model (0%)\"}\n\n")
	assert.Contains(t, out, "event: progress\ndata: {\"percent\":75,\"message\":\"Refining 3D model (50%)\"}\n\n")
	assert.Contains(t, out, "event: result\n")
	assert.Contains(t, out, "Successfully generated 3D model at")
	assert.NotContains(t, out, "event: error")

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.reqs, 1)
	assert.Equal(t, "a brass lantern", runner.reqs[0].Params.Prompt)
	assert.Equal(t, 30000, *runner.reqs[0].Params.TargetPolycount)
	assert.Nil(t, runner.ctx.Done(), "run context must not follow the request")
}

// TestGenerate_Failure tests the error frame of a failed batch.
func TestGenerate_Failure(t *testing.T) {
	runner := &fakeRunner{err: &pipeline.RunError{Index: 1, OutputPath: "/srv", Err: errors.New("boom")}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/text-to-3d", strings.NewReader(body))

	New(runner, fakeTasks{}).Routes().ServeHTTP(rec, req)

	out := rec.Body.String()
	assert.Contains(t, out, "event: error\n")
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "event: result")
}

// TestGenerate_BadRequests tests that invalid batches are rejected before anything runs.
func TestGenerate_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "empty batch", body: `{"tasks":[]}`},
		{name: "relative path", body: `{"tasks":[{"prompt":"p","outputPath":"rel","fileName":"x"}]}`},
		{name: "bad file name", body: `{"tasks":[{"prompt":"p","outputPath":"/srv","fileName":"x.glb"}]}`},
		{name: "bad art style", body: `{"tasks":[{"prompt":"p","art_style":"oil","outputPath":"/srv","fileName":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/text-to-3d", strings.NewReader(tt.body))

			New(runner, fakeTasks{}).Routes().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var payload map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.NotEmpty(t, payload["error"])
			assert.Nil(t, runner.reqs)
		})
	}
}

// TestGetTask tests the task lookup endpoint.
func TestGetTask(t *testing.T) {
	handler := New(&fakeRunner{}, fakeTasks{}).Routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/text-to-3d/task-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var task models.TaskEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "task-1", task.ID)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/text-to-3d/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
