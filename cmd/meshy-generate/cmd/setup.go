package cmd

import (
	"fmt"
	"net/http"
	"time"

	"go-meshy-generate/index"
	"go-meshy-generate/internal/api"
	"go-meshy-generate/internal/database"
	"go-meshy-generate/internal/downloader"
	"go-meshy-generate/internal/models"
	"go-meshy-generate/internal/pipeline"
	"go-meshy-generate/internal/tasks"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// newAPIClient creates the service client on the shared transport.
func newAPIClient(cfg models.Config, transport http.RoundTripper) *api.Client {
	httpClient := &http.Client{
		Timeout:   time.Duration(cfg.APIClientTimeoutSec) * time.Second,
		Transport: transport,
	}
	return api.NewClient(cfg.APIKey, httpClient, cfg)
}

// newSupervisor wires the stream reconciler behind the retry supervisor.
func newSupervisor(cfg models.Config, client *api.Client) *tasks.Supervisor {
	return tasks.NewSupervisor(
		tasks.NewStreamReconciler(client),
		cfg.MaxAttempts,
		time.Duration(cfg.RetryDelaySec)*time.Second,
	)
}

// newCoordinator builds the full generation stack writing to fs.
func newCoordinator(cfg models.Config, transport http.RoundTripper, fs afero.Fs) (*pipeline.Coordinator, *api.Client) {
	client := newAPIClient(cfg, transport)
	fileDownloader := downloader.NewDownloader(&http.Client{Timeout: 15 * time.Minute, Transport: transport}, fs)
	orchestrator := pipeline.NewOrchestrator(client, newSupervisor(cfg, client), fileDownloader, cfg.ModelFormat)
	return pipeline.NewCoordinator(orchestrator), client
}

// history couples the run ledger with its search index.
type history struct {
	db  *database.DB
	idx bleve.Index
}

// openHistory opens the ledger and the index named by cfg.
func openHistory(cfg models.Config) (*history, error) {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	idx, err := index.OpenOrCreateIndex(cfg.IndexPath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &history{db: db, idx: idx}, nil
}

func (h *history) Close() error {
	idxErr := h.idx.Close()
	if err := h.db.Close(); err != nil {
		return err
	}
	return idxErr
}

// RecordRun writes one finished run to the ledger and the index. Failures are
// logged; they never fail the run itself.
func (h *history) RecordRun(batchID string, i int, req pipeline.RunRequest, result pipeline.Result, runErr error) {
	rec := models.RunRecord{
		Key:           database.RunKey(batchID, i),
		BatchID:       batchID,
		Index:         i,
		Prompt:        req.Params.Prompt,
		TexturePrompt: req.Params.TexturePrompt,
		ArtStyle:      req.Params.ArtStyle,
		OutputPath:    req.OutputPath,
		FileName:      req.FileName,
		PreviewTaskID: result.PreviewTaskID,
		RefineTaskID:  result.RefineTaskID,
		Files:         result.Files,
		Status:        models.StatusRunSucceeded,
		Timestamp:     time.Now().Unix(),
	}
	if runErr != nil {
		rec.Status = models.StatusRunFailed
		rec.ErrorDetails = runErr.Error()
	}

	logger := log.WithField("run", rec.Key)
	if err := h.db.PutRun(rec); err != nil {
		logger.WithError(err).Error("Failed to record run in ledger")
		return
	}
	if err := index.IndexRun(h.idx, rec); err != nil {
		logger.WithError(err).Warn("Failed to index run")
	}
}

// remove deletes one run from the ledger and the index.
func (h *history) remove(key string) error {
	if !h.db.Has([]byte(key)) {
		return fmt.Errorf("run %s: %w", key, database.ErrNotFound)
	}
	if err := h.db.Delete([]byte(key)); err != nil {
		return fmt.Errorf("deleting run %s: %w", key, err)
	}
	if err := h.idx.Delete(key); err != nil {
		log.WithError(err).Warnf("Failed to remove run %s from index", key)
	}
	return nil
}

// search returns the ledger records matching query, best first.
func (h *history) search(query string, limit int) ([]models.RunRecord, error) {
	hits, err := index.SearchRuns(h.idx, query, limit)
	if err != nil {
		return nil, err
	}
	records := make([]models.RunRecord, 0, len(hits))
	for _, hit := range hits {
		rec, err := h.db.GetRun(hit.Key)
		if err != nil {
			log.WithError(err).Warnf("Index entry %s has no ledger record", hit.Key)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// recent returns up to limit ledger records, newest first.
func (h *history) recent(limit int) ([]models.RunRecord, error) {
	records, err := h.db.Runs()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
