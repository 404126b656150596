package tasks

import (
	"context"
	"time"

	"go-meshy-generate/internal/models"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Second
)

// Supervisor retries a Reconciler on stream failures. Terminal statuses, including
// FAILED and CANCELED, are returned as they are and never retried.
type Supervisor struct {
	Reconciler  Reconciler
	MaxAttempts int
	RetryDelay  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a Supervisor. Non-positive values select the defaults
// (3 attempts, 5 seconds apart).
func NewSupervisor(r Reconciler, maxAttempts int, retryDelay time.Duration) *Supervisor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if retryDelay < 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Supervisor{
		Reconciler:  r,
		MaxAttempts: maxAttempts,
		RetryDelay:  retryDelay,
		sleep:       sleepContext,
	}
}

// Await reconciles jobID, re-subscribing after a fixed delay whenever an attempt
// fails with a retryable stream error. After MaxAttempts failures it returns
// *ExhaustedRetriesError holding every attempt's error.
func (s *Supervisor) Await(ctx context.Context, jobID string, onProgress ProgressFunc) (models.TaskEvent, error) {
	logger := log.WithField("job_id", jobID)
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var attemptErrs []error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, s.RetryDelay); err != nil {
				return models.TaskEvent{}, err
			}
		}

		event, err := s.Reconciler.Reconcile(ctx, jobID, onProgress)
		if err == nil {
			if attempt > 1 {
				logger.Infof("Task stream recovered on attempt %d", attempt)
			}
			return event, nil
		}
		if !IsRetryable(err) {
			return models.TaskEvent{}, err
		}

		attemptErrs = append(attemptErrs, err)
		if attempt < maxAttempts {
			logger.WithError(err).Warnf("Task stream failed. Retrying (%d/%d) after %s...", attempt, maxAttempts, s.RetryDelay)
		}
	}

	exhausted := &ExhaustedRetriesError{JobID: jobID, Errors: attemptErrs}
	logger.WithError(exhausted).Error("Task stream retries exhausted")
	return models.TaskEvent{}, exhausted
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
