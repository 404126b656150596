package tasks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go-meshy-generate/internal/api"
	"go-meshy-generate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu     sync.Mutex
	events []api.Event
	tail   error
	closes int
}

func (s *fakeStream) Next() (api.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		if s.tail != nil {
			return api.Event{}, s.tail
		}
		return api.Event{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

type fakeSubscriber struct {
	stream *fakeStream
	err    error
	calls  int
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, jobID string) (api.EventStream, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func data(payload string) api.Event { return api.Event{Name: "message", Data: []byte(payload)} }

const succeededPayload = `{"id":"j1","status":"SUCCEEDED","progress":100,"created_at":1,"started_at":2,"finished_at":3,` +
	`"model_urls":{"glb":"https://x/m.glb"},"thumbnail_url":"https://x/t.png","video_url":"https://x/v.mp4","texture_urls":[],"task_error":null}`

// TestReconcile_ProgressThenSucceeded tests ordered progress delivery and the terminal resolution.
func TestReconcile_ProgressThenSucceeded(t *testing.T) {
	stream := &fakeStream{events: []api.Event{
		data(`{"id":"j1","status":"PENDING","progress":0}`),
		data(`{"id":"j1","status":"IN_PROGRESS","progress":10}`),
		data(`{"id":"j1","status":"IN_PROGRESS","progress":60}`),
		data(succeededPayload),
		data(`{"id":"j1","status":"IN_PROGRESS","progress":99}`),
	}}
	r := NewStreamReconciler(&fakeSubscriber{stream: stream})

	var seen []float64
	event, err := r.Reconcile(context.Background(), "j1", func(ev models.TaskEvent) {
		seen = append(seen, ev.Progress)
	})

	require.NoError(t, err)
	assert.Equal(t, models.TaskSucceeded, event.Status)
	assert.Equal(t, "https://x/m.glb", event.ModelURLs["glb"])
	assert.Equal(t, []float64{10, 60}, seen, "PENDING is silent and nothing after the terminal event is delivered")
	assert.Equal(t, 1, stream.closes)
}

// TestReconcile_FailedAndCanceledResolve tests that FAILED and CANCELED are resolutions, not errors.
func TestReconcile_FailedAndCanceledResolve(t *testing.T) {
	for _, payload := range []string{
		`{"id":"j1","status":"FAILED","progress":0,"task_error":{"message":"boom"}}`,
		`{"id":"j1","status":"CANCELED","progress":30}`,
	} {
		stream := &fakeStream{events: []api.Event{data(payload)}}
		event, err := NewStreamReconciler(&fakeSubscriber{stream: stream}).Reconcile(context.Background(), "j1", nil)
		require.NoError(t, err)
		assert.True(t, event.Status.Terminal())
		assert.Equal(t, 1, stream.closes)
	}
}

// TestReconcile_ProtocolErrors tests invalid payloads and unknown statuses.
func TestReconcile_ProtocolErrors(t *testing.T) {
	payloads := []string{
		`not json`,
		`{"id":"j1","status":"WAITING","progress":0}`,
		`{"id":"j1","status":"SUCCEEDED","progress":100}`,
		`   `,
	}
	for _, payload := range payloads {
		stream := &fakeStream{events: []api.Event{data(`{"id":"j1","status":"IN_PROGRESS","progress":5}`), data(payload)}}
		calls := 0
		_, err := NewStreamReconciler(&fakeSubscriber{stream: stream}).Reconcile(context.Background(), "j1", func(models.TaskEvent) { calls++ })

		var protoErr *StreamProtocolError
		require.True(t, errors.As(err, &protoErr), "payload %q: got %v", payload, err)
		assert.Equal(t, "j1", protoErr.JobID)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, stream.closes)
		assert.True(t, IsRetryable(err))
	}
}

// TestReconcile_TransportErrors tests connect failures, resets, premature end and server abort.
func TestReconcile_TransportErrors(t *testing.T) {
	t.Run("subscribe fails", func(t *testing.T) {
		_, err := NewStreamReconciler(&fakeSubscriber{err: errors.New("dial tcp: refused")}).Reconcile(context.Background(), "j1", nil)
		var transportErr *StreamTransportError
		require.True(t, errors.As(err, &transportErr))
	})

	t.Run("reset", func(t *testing.T) {
		stream := &fakeStream{tail: errors.New("connection reset by peer")}
		_, err := NewStreamReconciler(&fakeSubscriber{stream: stream}).Reconcile(context.Background(), "j1", nil)
		var transportErr *StreamTransportError
		require.True(t, errors.As(err, &transportErr))
		assert.Equal(t, 1, stream.closes)
	})

	t.Run("premature end", func(t *testing.T) {
		stream := &fakeStream{events: []api.Event{data(`{"id":"j1","status":"IN_PROGRESS","progress":5}`)}}
		_, err := NewStreamReconciler(&fakeSubscriber{stream: stream}).Reconcile(context.Background(), "j1", nil)
		assert.True(t, errors.Is(err, ErrStreamEnded))
		assert.Equal(t, 1, stream.closes)
	})

	t.Run("server abort", func(t *testing.T) {
		stream := &fakeStream{events: []api.Event{{Name: "error", Data: []byte(`{"status_code":500}`)}}}
		_, err := NewStreamReconciler(&fakeSubscriber{stream: stream}).Reconcile(context.Background(), "j1", nil)
		assert.True(t, errors.Is(err, ErrServerAbort))
		assert.True(t, IsRetryable(err))
	})
}

// TestReconcile_ContextCanceled tests that a local abandon is not reported as a stream failure.
func TestReconcile_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stream := &fakeStream{tail: errors.New("read on closed body")}
	_, err := NewStreamReconciler(&fakeSubscriber{stream: stream}).Reconcile(ctx, "j1", nil)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, stream.closes)
}

// TestReconcile_OverHTTP tests the reconciler against a live event stream.
func TestReconcile_OverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, p := range []string{
			`{"id":"j1","status":"PENDING","progress":0}`,
			`{"id":"j1","status":"IN_PROGRESS","progress":50}`,
			succeededPayload,
		} {
			_, _ = io.WriteString(w, "event: message\ndata: "+p+"\n\n")
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := api.NewClient("k", server.Client(), models.Config{BaseURL: server.URL})
	var progress []float64
	event, err := NewStreamReconciler(client).Reconcile(context.Background(), "j1", func(ev models.TaskEvent) {
		progress = append(progress, ev.Progress)
	})

	require.NoError(t, err)
	assert.Equal(t, models.TaskSucceeded, event.Status)
	assert.Equal(t, []float64{50}, progress)
}
