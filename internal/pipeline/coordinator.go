package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go-meshy-generate/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MaxConcurrentRuns bounds the number of generations accepted in one batch.
const MaxConcurrentRuns = 8

// RunRequest is one generation of a batch.
type RunRequest struct {
	Params     models.GenerationParams
	OutputPath string
	FileName   string
}

// Runner executes one two-stage generation. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, params models.GenerationParams, outputDir, fileName string, onProgress ProgressFunc) (Result, error)
}

// ProgressSink receives a normalized 0-100 value and a message for every progress update.
type ProgressSink interface {
	Notify(percent float64, message string)
}

// ProgressSinkFunc adapts a function to ProgressSink.
type ProgressSinkFunc func(percent float64, message string)

func (f ProgressSinkFunc) Notify(percent float64, message string) { f(percent, message) }

// RunRecorder is told about every finished run, successful or not.
type RunRecorder interface {
	RecordRun(batchID string, index int, req RunRequest, result Result, err error)
}

// Coordinator runs the generations of a batch concurrently and aggregates their progress.
type Coordinator struct {
	Runner Runner
	// Output receives the consolidated progress block after every update.
	Output io.Writer
	// Recorder, when set, is called once per finished run.
	Recorder RunRecorder
}

// NewCoordinator creates a Coordinator over runner.
func NewCoordinator(runner Runner) *Coordinator {
	return &Coordinator{Runner: runner}
}

// batch holds the live state of one Run call.
type batch struct {
	id   string
	out  io.Writer
	sink ProgressSink

	mu   sync.Mutex
	runs map[int]*models.PipelineRun
}

// Run executes every request concurrently and waits for all of them. A failing
// run does not stop the others; the first failure is returned as *RunError
// together with the summaries of the runs that did succeed. sink may be nil.
func (c *Coordinator) Run(ctx context.Context, reqs []RunRequest, sink ProgressSink) ([]models.RunSummary, error) {
	if len(reqs) > MaxConcurrentRuns {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyRuns, len(reqs))
	}

	b := &batch{
		id:   uuid.NewString(),
		out:  c.Output,
		sink: sink,
		runs: make(map[int]*models.PipelineRun, len(reqs)),
	}
	for i, req := range reqs {
		i, req := i, req
		b.runs[i] = &models.PipelineRun{
			Index:      i,
			OutputPath: req.OutputPath,
			FileName:   req.FileName,
			Stage:      models.StagePreview,
		}
	}
	logger := log.WithField("batch_id", b.id)
	logger.Infof("Starting %d generation(s)", len(reqs))

	summaries := make([]*models.RunSummary, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			result, err := c.Runner.Run(ctx, req.Params, req.OutputPath, req.FileName, func(p StageProgress) {
				b.update(i, p)
			})
			b.finish(i)
			if c.Recorder != nil {
				c.Recorder.RecordRun(b.id, i, req, result, err)
			}
			if err != nil {
				logger.WithField("run", i).WithError(err).Error("Generation failed")
				return &RunError{Index: i, OutputPath: req.OutputPath, Err: err}
			}
			summaries[i] = &models.RunSummary{
				Index:         i,
				OutputPath:    req.OutputPath,
				FileName:      req.FileName,
				PreviewTaskID: result.PreviewTaskID,
				RefineTaskID:  result.RefineTaskID,
				Files:         result.Files,
			}
			return nil
		})
	}
	err := g.Wait()

	done := make([]models.RunSummary, 0, len(reqs))
	for _, s := range summaries {
		if s != nil {
			done = append(done, *s)
		}
	}
	return done, err
}

func (b *batch) update(index int, p StageProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	run, ok := b.runs[index]
	if !ok {
		return
	}
	run.Stage = p.Stage
	run.Progress = p.Percent
	switch p.Stage {
	case models.StagePreview:
		run.PreviewTaskID = p.JobID
	case models.StageRefine:
		run.RefineTaskID = p.JobID
	}

	block := b.render()
	log.WithField("batch_id", b.id).Debugf("Progress:\n%s", block)
	if b.out != nil {
		fmt.Fprint(b.out, block)
	}
	if b.sink != nil {
		b.sink.Notify(p.Percent, NotificationMessage(p.Stage, p.Raw))
	}
}

func (b *batch) finish(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.runs, index)
}

// render formats one line per tracked run, ordered by index. Caller holds b.mu.
func (b *batch) render() string {
	indexes := make([]int, 0, len(b.runs))
	for i := range b.runs {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var sb strings.Builder
	for _, i := range indexes {
		sb.WriteString(FormatRunLine(*b.runs[i]))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FormatRunLine renders the progress line of one run.
func FormatRunLine(run models.PipelineRun) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d [%s]", run.Index, run.Stage)
	if run.PreviewTaskID != "" {
		fmt.Fprintf(&sb, " (preview: %s)", run.PreviewTaskID)
	}
	if run.RefineTaskID != "" {
		fmt.Fprintf(&sb, " (refine: %s)", run.RefineTaskID)
	}
	fmt.Fprintf(&sb, ": %.0f%%", run.Progress)
	return sb.String()
}

// SuccessMessage renders the final report of a batch, one line per run output directory.
func SuccessMessage(summaries []models.RunSummary) string {
	var sb strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&sb, "Successfully generated 3D model at %s (%d)\n", s.OutputPath, s.Index)
	}
	return sb.String()
}
