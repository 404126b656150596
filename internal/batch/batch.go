// Package batch reads and validates lists of generation requests.
package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go-meshy-generate/internal/models"
	"go-meshy-generate/internal/paths"
	"go-meshy-generate/internal/pipeline"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported batch file format")
	ErrInvalidBatch      = errors.New("invalid batch")
)

// Task is one entry of a batch: the generation parameters plus where to write the result.
type Task struct {
	models.GenerationParams `yaml:",inline"`
	OutputPath              string `json:"outputPath" toml:"outputPath" yaml:"outputPath"`
	FileName                string `json:"fileName" toml:"fileName" yaml:"fileName"`
}

// File is the document shape of a batch file and of the serve request body.
type File struct {
	Tasks []Task `json:"tasks" toml:"tasks" yaml:"tasks"`
}

// Load reads a batch file; the format follows the extension (.toml, .yaml, .yml, .json).
func Load(path string) (File, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading batch file %s: %w", path, err)
	}
	return Decode(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
}

// Decode parses data in the given format.
func Decode(data []byte, format string) (File, error) {
	var f File
	var err error
	switch format {
	case "toml":
		_, err = toml.Decode(string(data), &f)
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &f)
	case "json":
		err = json.Unmarshal(data, &f)
	default:
		return File{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return File{}, fmt.Errorf("decoding %s batch: %w", format, err)
	}
	return f, nil
}

// WithConfig applies the configured generation defaults to every task.
func (f File) WithConfig(g models.GenerateConfig) File {
	out := File{Tasks: make([]Task, len(f.Tasks))}
	for i, t := range f.Tasks {
		t.GenerationParams = t.GenerationParams.WithConfig(g)
		out.Tasks[i] = t
	}
	return out
}

// RunRequests validates every task and converts the batch into coordinator requests.
// Output paths are resolved to absolute, cleaned directories and parameters get
// their defaults.
func (f File) RunRequests() ([]pipeline.RunRequest, error) {
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks", ErrInvalidBatch)
	}
	if len(f.Tasks) > pipeline.MaxConcurrentRuns {
		return nil, fmt.Errorf("%w: %w: got %d", ErrInvalidBatch, pipeline.ErrTooManyRuns, len(f.Tasks))
	}

	reqs := make([]pipeline.RunRequest, 0, len(f.Tasks))
	var problems []error
	for i, task := range f.Tasks {
		req, err := task.RunRequest()
		if err != nil {
			problems = append(problems, fmt.Errorf("task %d: %w", i, err))
			continue
		}
		reqs = append(reqs, req)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBatch, errors.Join(problems...))
	}
	return reqs, nil
}

// RunRequest validates one task.
func (t Task) RunRequest() (pipeline.RunRequest, error) {
	params := t.GenerationParams.WithDefaults()
	if err := params.Validate(); err != nil {
		return pipeline.RunRequest{}, err
	}
	if err := paths.ValidateFileName(t.FileName); err != nil {
		return pipeline.RunRequest{}, err
	}
	outputPath, err := paths.ResolveOutputPath(t.OutputPath)
	if err != nil {
		return pipeline.RunRequest{}, err
	}
	return pipeline.RunRequest{Params: params, OutputPath: outputPath, FileName: t.FileName}, nil
}
