// Package index maintains a full-text index over finished generations.
package index

import (
	"errors"
	"fmt"

	"go-meshy-generate/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

// RunDocument is the indexed view of a ledger record. Its id is the ledger key.
type RunDocument struct {
	Prompt        string `json:"prompt"`
	TexturePrompt string `json:"texturePrompt"`
	ArtStyle      string `json:"artStyle"`
	FileName      string `json:"fileName"`
	OutputPath    string `json:"outputPath"`
	Status        string `json:"status"`
	Timestamp     int64  `json:"timestamp"`
}

// Hit is one search result.
type Hit struct {
	Key   string
	Score float64
}

// OpenOrCreateIndex opens the index at path, creating it when missing.
func OpenOrCreateIndex(path string) (bleve.Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		log.Debugf("Opened existing index at %s", path)
		return idx, nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}

	idx, err = bleve.New(path, bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating index %s: %w", path, err)
	}
	log.Infof("Created new index at %s", path)
	return idx, nil
}

// IndexRun adds or replaces the document of one ledger record.
func IndexRun(idx bleve.Index, rec models.RunRecord) error {
	doc := RunDocument{
		Prompt:        rec.Prompt,
		TexturePrompt: rec.TexturePrompt,
		ArtStyle:      rec.ArtStyle,
		FileName:      rec.FileName,
		OutputPath:    rec.OutputPath,
		Status:        rec.Status,
		Timestamp:     rec.Timestamp,
	}
	if err := idx.Index(rec.Key, doc); err != nil {
		return fmt.Errorf("indexing run %s: %w", rec.Key, err)
	}
	return nil
}

// SearchRuns runs a query-string search and returns matching ledger keys, best first.
func SearchRuns(idx bleve.Index, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching index for %q: %w", query, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{Key: h.ID, Score: h.Score})
	}
	return hits, nil
}
