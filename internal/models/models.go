package models

type (
	// Config holds the application's configuration settings.
	Config struct {
		APIKey              string         `toml:"ApiKey" json:"ApiKey"`
		BaseURL             string         `toml:"BaseUrl" json:"BaseUrl"`
		SavePath            string         `toml:"SavePath" json:"SavePath"`
		DatabasePath        string         `toml:"DatabasePath" json:"DatabasePath"`
		IndexPath           string         `toml:"IndexPath" json:"IndexPath"`
		LogLevel            string         `toml:"LogLevel" json:"LogLevel"`
		LogFormat           string         `toml:"LogFormat" json:"LogFormat"`
		ModelFormat         string         `toml:"ModelFormat" json:"ModelFormat"`
		Server              ServerConfig   `toml:"Server" json:"Server"`
		Generate            GenerateConfig `toml:"Generate" json:"Generate"`
		APIClientTimeoutSec int            `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		MaxAttempts         int            `toml:"MaxAttempts" json:"MaxAttempts"`
		RetryDelaySec       int            `toml:"RetryDelaySec" json:"RetryDelaySec"`
		LogApiRequests      bool           `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// ServerConfig holds settings for the 'serve' command.
	ServerConfig struct {
		Addr string `toml:"Addr" json:"Addr"`
	}

	// GenerateConfig holds default generation parameters for the 'generate' command.
	// Empty values fall back to the service defaults.
	GenerateConfig struct {
		// Strings first
		ArtStyle     string `toml:"ArtStyle" json:"ArtStyle"`
		AIModel      string `toml:"AiModel" json:"AiModel"`
		Topology     string `toml:"Topology" json:"Topology"`
		SymmetryMode string `toml:"SymmetryMode" json:"SymmetryMode"`
		// Integers
		TargetPolycount int `toml:"TargetPolycount" json:"TargetPolycount"`
		// Bools
		EnablePBR bool `toml:"EnablePbr" json:"EnablePbr"`
	}

	// Artifact is one file materialized from a finished task.
	Artifact struct {
		Kind   string `json:"kind"`
		URL    string `json:"url"`
		Path   string `json:"path"`
		BLAKE3 string `json:"blake3"`
		Size   int64  `json:"size"`
	}

	// PipelineRun is the coordinator's view of one in-flight generation.
	PipelineRun struct {
		OutputPath    string
		FileName      string
		Stage         Stage
		PreviewTaskID string
		RefineTaskID  string
		Progress      float64
		Index         int
	}

	// RunSummary describes one successfully finished generation.
	RunSummary struct {
		OutputPath    string     `json:"outputPath"`
		FileName      string     `json:"fileName"`
		PreviewTaskID string     `json:"previewTaskId"`
		RefineTaskID  string     `json:"refineTaskId"`
		Files         []Artifact `json:"files"`
		Index         int        `json:"index"`
	}

	// RunRecord is the ledger entry written for every finished run.
	RunRecord struct {
		Key           string     `json:"key"`
		BatchID       string     `json:"batchId"`
		Prompt        string     `json:"prompt"`
		TexturePrompt string     `json:"texturePrompt,omitempty"`
		ArtStyle      string     `json:"artStyle"`
		OutputPath    string     `json:"outputPath"`
		FileName      string     `json:"fileName"`
		PreviewTaskID string     `json:"previewTaskId,omitempty"`
		RefineTaskID  string     `json:"refineTaskId,omitempty"`
		Status        string     `json:"status"`
		ErrorDetails  string     `json:"errorDetails,omitempty"`
		Files         []Artifact `json:"files,omitempty"`
		Timestamp     int64      `json:"timestamp"`
		Index         int        `json:"index"`
	}
)

// Ledger Status Constants
const (
	StatusRunSucceeded = "Succeeded"
	StatusRunFailed    = "Failed"
)
