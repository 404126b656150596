package pipeline

import (
	"fmt"
	"math"

	"go-meshy-generate/internal/models"
)

// StageProgress is one progress observation of a run.
type StageProgress struct {
	Stage models.Stage
	JobID string
	// Raw is the stage's own percentage as reported by the service.
	Raw float64
	// Percent is the run-wide percentage: preview covers 0-50, refine 50-100.
	Percent float64
}

// ProgressFunc receives the progress of one run.
type ProgressFunc func(StageProgress)

// UnifiedProgress maps a stage-local percentage onto the whole two-stage run.
func UnifiedProgress(stage models.Stage, p float64) float64 {
	p = clampPercent(p)
	if stage == models.StageRefine {
		return 50 + p*0.5
	}
	return p * 0.5
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}

// NotificationMessage is the human readable status attached to a progress notification.
// percent is the stage's own percentage.
func NotificationMessage(stage models.Stage, percent float64) string {
	percent = clampPercent(percent)
	verb := "Previewing"
	if stage == models.StageRefine {
		verb = "Refining"
	}
	return fmt.Sprintf("%s 3D model (%.0f%%)", verb, percent)
}
