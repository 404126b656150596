package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"go-meshy-generate/internal/models"
	"go-meshy-generate/internal/tasks"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultModelFormat = "glb"

// ModelFormats lists the model_urls keys a run can materialize.
var ModelFormats = []string{"glb", "fbx", "obj", "usdz"}

// Submitter turns a stage request into a remote job id. *api.Client implements it.
type Submitter interface {
	CreateTask(ctx context.Context, req models.GenerationRequest) (string, error)
}

// Awaiter waits for a remote job to reach a terminal status. *tasks.Supervisor implements it.
type Awaiter interface {
	Await(ctx context.Context, jobID string, onProgress tasks.ProgressFunc) (models.TaskEvent, error)
}

// Fetcher materializes one artifact. *downloader.Downloader implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (models.Artifact, error)
}

// Result is the outcome of one successful two-stage run.
type Result struct {
	PreviewTaskID string
	RefineTaskID  string
	Files         []models.Artifact
}

// Orchestrator chains a preview job into a refine job and materializes the refined model.
type Orchestrator struct {
	Submitter   Submitter
	Awaiter     Awaiter
	Fetcher     Fetcher
	ModelFormat string
}

// NewOrchestrator creates an Orchestrator that materializes modelFormat (glb when empty).
func NewOrchestrator(submitter Submitter, awaiter Awaiter, fetcher Fetcher, modelFormat string) *Orchestrator {
	if modelFormat == "" {
		modelFormat = DefaultModelFormat
	}
	return &Orchestrator{Submitter: submitter, Awaiter: awaiter, Fetcher: fetcher, ModelFormat: modelFormat}
}

// Run executes preview then refine for params and writes <name>.<format>, <name>.png
// and <name>.mp4 into outputDir. The refine job is only submitted after the preview
// succeeded, and artifacts are only fetched after the refine succeeded.
func (o *Orchestrator) Run(ctx context.Context, params models.GenerationParams, outputDir, fileName string, onProgress ProgressFunc) (Result, error) {
	var result Result

	previewID, _, err := o.runStage(ctx, models.NewPreviewRequest(params), onProgress)
	result.PreviewTaskID = previewID
	if err != nil {
		return result, err
	}

	refineID, refined, err := o.runStage(ctx, models.NewRefineRequest(previewID, params), onProgress)
	result.RefineTaskID = refineID
	if err != nil {
		return result, err
	}

	files, err := o.materialize(ctx, refined, outputDir, fileName)
	result.Files = files
	return result, err
}

// runStage submits req and waits for its terminal status. It returns the job id
// whenever one was assigned.
func (o *Orchestrator) runStage(ctx context.Context, req models.GenerationRequest, onProgress ProgressFunc) (string, models.TaskEvent, error) {
	stage := req.Stage()
	jobID, err := o.Submitter.CreateTask(ctx, req)
	if err != nil {
		return "", models.TaskEvent{}, err
	}
	logger := log.WithFields(log.Fields{"stage": stage, "job_id": jobID})
	logger.Infof("Started %s task", stage)

	report := func(raw float64) {
		if onProgress != nil {
			onProgress(StageProgress{Stage: stage, JobID: jobID, Raw: clampPercent(raw), Percent: UnifiedProgress(stage, raw)})
		}
	}
	report(0)

	final, err := o.Awaiter.Await(ctx, jobID, func(ev models.TaskEvent) { report(ev.Progress) })
	if err != nil {
		return jobID, models.TaskEvent{}, err
	}
	if final.Status != models.TaskSucceeded {
		stageErr := &StageFailedError{Stage: stage, JobID: jobID, Status: final.Status, Message: final.ErrorMessage()}
		logger.WithError(stageErr).Error("Stage did not succeed")
		return jobID, final, stageErr
	}
	logger.Infof("Finished %s task", stage)
	return jobID, final, nil
}

type artifactTarget struct {
	kind string
	url  string
	ext  string
}

// materialize fetches the model, thumbnail and video of a refined task concurrently.
func (o *Orchestrator) materialize(ctx context.Context, refined models.TaskEvent, outputDir, fileName string) ([]models.Artifact, error) {
	format := o.ModelFormat
	if format == "" {
		format = DefaultModelFormat
	}
	targets := []artifactTarget{
		{kind: "model", url: refined.ModelURLs[format], ext: "." + format},
		{kind: "thumbnail", url: refined.ThumbnailURL, ext: ".png"},
		{kind: "video", url: refined.VideoURL, ext: ".mp4"},
	}
	for _, t := range targets {
		if t.url == "" {
			return nil, fmt.Errorf("%w: task %s has no %s (%s)", ErrMissingArtifact, refined.ID, t.kind, t.ext)
		}
	}

	files := make([]models.Artifact, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			artifact, err := o.Fetcher.Fetch(ctx, t.url, filepath.Join(outputDir, fileName+t.ext))
			if err != nil {
				return fmt.Errorf("fetch %s: %w", t.kind, err)
			}
			artifact.Kind = t.kind
			files[i] = artifact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}
