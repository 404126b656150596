package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/launchdarkly/eventsource"
	log "github.com/sirupsen/logrus"
)

var ErrStreamRejected = errors.New("task stream rejected")

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	ID   string
	Data []byte
}

// EventStream yields the events of one task subscription in arrival order.
// Next returns io.EOF once the server ends the stream.
type EventStream interface {
	Next() (Event, error)
	Close() error
}

type sseStream struct {
	body      io.ReadCloser
	decoder   *eventsource.Decoder
	closeOnce sync.Once
	closeErr  error
}

// Subscribe opens the server-push status stream of one task. The returned stream
// stays open until the server ends it, ctx is canceled or Close is called.
func (c *Client) Subscribe(ctx context.Context, taskID string) (EventStream, error) {
	reqURL := fmt.Sprintf("%s/text-to-3d/%s/stream", c.BaseURL, url.PathEscape(taskID))
	req, err := c.newRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := c.StreamClient
	if client == nil {
		client = c.HttpClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open task stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %w: %s", ErrStreamRejected, statusError(resp.StatusCode), strings.TrimSpace(string(snippet)))
	}
	log.WithField("job_id", taskID).Debug("Task stream opened")

	return newSSEStream(resp.Body), nil
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, decoder: eventsource.NewDecoder(body)}
}

// Next blocks until the next event carrying data has been read. A trailing
// event cut off by the end of the stream is dropped.
func (s *sseStream) Next() (Event, error) {
	for {
		ev, err := s.decoder.Decode()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if ev.Data() == "" {
			continue
		}
		return Event{Name: ev.Event(), ID: ev.Id(), Data: []byte(ev.Data())}, nil
	}
}

// Close releases the underlying connection. It is safe to call more than once.
func (s *sseStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
