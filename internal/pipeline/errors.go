package pipeline

import (
	"errors"
	"fmt"

	"go-meshy-generate/internal/models"
)

var (
	ErrTooManyRuns     = fmt.Errorf("at most %d generations can run at once", MaxConcurrentRuns)
	ErrMissingArtifact = errors.New("finished task is missing an artifact URL")
)

// StageFailedError reports a stage whose task ended FAILED or CANCELED.
type StageFailedError struct {
	Stage   models.Stage
	JobID   string
	Status  models.TaskStatus
	Message string
}

func (e *StageFailedError) Error() string {
	msg := fmt.Sprintf("%s task %s ended with status %s", e.Stage, e.JobID, e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// RunError tags the failure of one run of a batch with its index.
type RunError struct {
	Index      int
	OutputPath string
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("generation %d (%s): %v", e.Index, e.OutputPath, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
