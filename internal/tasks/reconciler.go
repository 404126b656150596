package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go-meshy-generate/internal/api"
	"go-meshy-generate/internal/models"

	log "github.com/sirupsen/logrus"
)

// ProgressFunc receives every IN_PROGRESS event of a task, in stream order.
type ProgressFunc func(event models.TaskEvent)

// Subscriber opens the push channel of one task. *api.Client implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string) (api.EventStream, error)
}

// Reconciler turns one task subscription into exactly one outcome.
type Reconciler interface {
	Reconcile(ctx context.Context, jobID string, onProgress ProgressFunc) (models.TaskEvent, error)
}

// StreamReconciler reconciles a task by following its server-push status stream.
type StreamReconciler struct {
	Subscriber Subscriber
}

// NewStreamReconciler creates a StreamReconciler over sub.
func NewStreamReconciler(sub Subscriber) *StreamReconciler {
	return &StreamReconciler{Subscriber: sub}
}

// Reconcile follows the stream of jobID until it reports SUCCEEDED, FAILED or CANCELED
// and returns that terminal event. A terminal status is a resolution, not an error.
// Invalid payloads return *StreamProtocolError, broken subscriptions return
// *StreamTransportError, and a canceled ctx returns ctx.Err(). The subscription is
// closed exactly once before Reconcile returns.
func (r *StreamReconciler) Reconcile(ctx context.Context, jobID string, onProgress ProgressFunc) (models.TaskEvent, error) {
	logger := log.WithField("job_id", jobID)

	stream, err := r.Subscriber.Subscribe(ctx, jobID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.TaskEvent{}, ctxErr
		}
		return models.TaskEvent{}, &StreamTransportError{JobID: jobID, Err: err}
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			logger.WithError(closeErr).Debug("Error closing task stream")
		}
	}()

	for {
		ev, err := stream.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				logger.Debug("Task stream abandoned locally")
				return models.TaskEvent{}, ctxErr
			}
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			return models.TaskEvent{}, &StreamTransportError{JobID: jobID, Err: err}
		}

		if ev.Name == "error" {
			return models.TaskEvent{}, &StreamTransportError{
				JobID: jobID,
				Err:   fmt.Errorf("%w: %s", ErrServerAbort, bytes.TrimSpace(ev.Data)),
			}
		}
		if len(bytes.TrimSpace(ev.Data)) == 0 {
			return models.TaskEvent{}, &StreamProtocolError{JobID: jobID, Err: ErrEmptyPayload}
		}

		task, err := models.DecodeTaskEvent(ev.Data)
		if err != nil {
			logger.WithError(err).Warn("Rejecting task stream payload")
			return models.TaskEvent{}, &StreamProtocolError{JobID: jobID, Payload: string(ev.Data), Err: err}
		}
		logger.Debugf("Task event: status=%s progress=%.0f", task.Status, task.Progress)

		switch task.Status {
		case models.TaskSucceeded, models.TaskFailed, models.TaskCanceled:
			return task, nil
		case models.TaskInProgress:
			if onProgress != nil {
				onProgress(task)
			}
		case models.TaskPending:
			// queued, nothing to report yet
		default:
			return models.TaskEvent{}, &StreamProtocolError{
				JobID:   jobID,
				Payload: string(ev.Data),
				Err:     fmt.Errorf("%w: %q", models.ErrUnknownTaskStatus, task.Status),
			}
		}
	}
}
