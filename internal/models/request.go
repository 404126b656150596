package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Stage identifies one of the two remote generation stages.
type Stage string

const (
	StagePreview Stage = "preview"
	StageRefine  Stage = "refine"
)

// Generation limits and defaults accepted by the text-to-3D service.
const (
	MaxPromptLength    = 600
	MinTargetPolycount = 100
	MaxTargetPolycount = 300000

	DefaultArtStyle        = "realistic"
	DefaultAIModel         = "meshy-4"
	DefaultTopology        = "triangle"
	DefaultSymmetryMode    = "auto"
	DefaultTargetPolycount = 30000
	DefaultShouldRemesh    = true
	DefaultEnablePBR       = false
)

var (
	ArtStyles     = []string{"realistic", "sculpture"}
	AIModels      = []string{"meshy-4", "latest"}
	Topologies    = []string{"quad", "triangle"}
	SymmetryModes = []string{"off", "auto", "on"}
)

var ErrInvalidParams = errors.New("invalid generation parameters")

// GenerationParams is the merged parameter set of one generation run. It carries
// the preview fields and the refine fields; pointer fields are optional.
type GenerationParams struct {
	// Strings first
	Prompt        string `json:"prompt" toml:"prompt" yaml:"prompt"`
	ArtStyle      string `json:"art_style,omitempty" toml:"art_style" yaml:"art_style,omitempty"`
	AIModel       string `json:"ai_model,omitempty" toml:"ai_model" yaml:"ai_model,omitempty"`
	Topology      string `json:"topology,omitempty" toml:"topology" yaml:"topology,omitempty"`
	SymmetryMode  string `json:"symmetry_mode,omitempty" toml:"symmetry_mode" yaml:"symmetry_mode,omitempty"`
	TexturePrompt string `json:"texture_prompt,omitempty" toml:"texture_prompt" yaml:"texture_prompt,omitempty"`
	// Optional values
	Seed            *int  `json:"seed,omitempty" toml:"seed" yaml:"seed,omitempty"`
	TargetPolycount *int  `json:"target_polycount,omitempty" toml:"target_polycount" yaml:"target_polycount,omitempty"`
	ShouldRemesh    *bool `json:"should_remesh,omitempty" toml:"should_remesh" yaml:"should_remesh,omitempty"`
	EnablePBR       *bool `json:"enable_pbr,omitempty" toml:"enable_pbr" yaml:"enable_pbr,omitempty"`
}

// WithDefaults returns a copy of p with every unset optional field filled in.
// Seed and TexturePrompt have no default and stay unset.
func (p GenerationParams) WithDefaults() GenerationParams {
	out := p
	if out.ArtStyle == "" {
		out.ArtStyle = DefaultArtStyle
	}
	if out.AIModel == "" {
		out.AIModel = DefaultAIModel
	}
	if out.Topology == "" {
		out.Topology = DefaultTopology
	}
	if out.SymmetryMode == "" {
		out.SymmetryMode = DefaultSymmetryMode
	}
	if out.TargetPolycount == nil {
		out.TargetPolycount = IntPtr(DefaultTargetPolycount)
	}
	if out.ShouldRemesh == nil {
		out.ShouldRemesh = BoolPtr(DefaultShouldRemesh)
	}
	if out.EnablePBR == nil {
		out.EnablePBR = BoolPtr(DefaultEnablePBR)
	}
	return out
}

// WithConfig fills the fields left unset in p from the configured generation
// defaults. Zero config values leave p untouched.
func (p GenerationParams) WithConfig(g GenerateConfig) GenerationParams {
	out := p
	if out.ArtStyle == "" {
		out.ArtStyle = g.ArtStyle
	}
	if out.AIModel == "" {
		out.AIModel = g.AIModel
	}
	if out.Topology == "" {
		out.Topology = g.Topology
	}
	if out.SymmetryMode == "" {
		out.SymmetryMode = g.SymmetryMode
	}
	if out.TargetPolycount == nil && g.TargetPolycount > 0 {
		out.TargetPolycount = IntPtr(g.TargetPolycount)
	}
	if out.EnablePBR == nil && g.EnablePBR {
		out.EnablePBR = BoolPtr(true)
	}
	return out
}

// Validate checks p against the service limits. Unset optional fields are
// accepted, so callers typically validate the result of WithDefaults.
func (p GenerationParams) Validate() error {
	var problems []string

	if strings.TrimSpace(p.Prompt) == "" {
		problems = append(problems, "prompt is required")
	} else if n := utf8.RuneCountInString(p.Prompt); n > MaxPromptLength {
		problems = append(problems, fmt.Sprintf("prompt is %d characters, limit is %d", n, MaxPromptLength))
	}
	if n := utf8.RuneCountInString(p.TexturePrompt); n > MaxPromptLength {
		problems = append(problems, fmt.Sprintf("texture_prompt is %d characters, limit is %d", n, MaxPromptLength))
	}
	checkEnum := func(field, value string, allowed []string) {
		if value == "" {
			return
		}
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		problems = append(problems, fmt.Sprintf("%s %q is not one of %s", field, value, strings.Join(allowed, ", ")))
	}
	checkEnum("art_style", p.ArtStyle, ArtStyles)
	checkEnum("ai_model", p.AIModel, AIModels)
	checkEnum("topology", p.Topology, Topologies)
	checkEnum("symmetry_mode", p.SymmetryMode, SymmetryModes)

	if p.TargetPolycount != nil && (*p.TargetPolycount < MinTargetPolycount || *p.TargetPolycount > MaxTargetPolycount) {
		problems = append(problems, fmt.Sprintf("target_polycount %d is outside [%d, %d]", *p.TargetPolycount, MinTargetPolycount, MaxTargetPolycount))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(problems, "; "))
	}
	return nil
}

// GenerationRequest is a request for one remote stage. It is implemented only
// by PreviewRequest and RefineRequest.
type GenerationRequest interface {
	Stage() Stage
	generationRequest()
}

// PreviewRequest asks the service for an untextured mesh from a prompt.
type PreviewRequest struct {
	Prompt          string
	ArtStyle        string
	AIModel         string
	Topology        string
	SymmetryMode    string
	Seed            *int
	TargetPolycount int
	ShouldRemesh    bool
}

// RefineRequest asks the service to texture a finished preview.
type RefineRequest struct {
	PreviewTaskID string
	TexturePrompt string
	EnablePBR     bool
}

func (PreviewRequest) Stage() Stage       { return StagePreview }
func (PreviewRequest) generationRequest() {}

func (RefineRequest) Stage() Stage       { return StageRefine }
func (RefineRequest) generationRequest() {}

// NewPreviewRequest builds the preview stage request from p with defaults applied.
func NewPreviewRequest(p GenerationParams) PreviewRequest {
	d := p.WithDefaults()
	return PreviewRequest{
		Prompt:          d.Prompt,
		ArtStyle:        d.ArtStyle,
		AIModel:         d.AIModel,
		Topology:        d.Topology,
		SymmetryMode:    d.SymmetryMode,
		Seed:            d.Seed,
		TargetPolycount: *d.TargetPolycount,
		ShouldRemesh:    *d.ShouldRemesh,
	}
}

// NewRefineRequest builds the refine stage request for a succeeded preview task.
func NewRefineRequest(previewTaskID string, p GenerationParams) RefineRequest {
	d := p.WithDefaults()
	return RefineRequest{
		PreviewTaskID: previewTaskID,
		TexturePrompt: d.TexturePrompt,
		EnablePBR:     *d.EnablePBR,
	}
}

func IntPtr(v int) *int    { return &v }
func BoolPtr(v bool) *bool { return &v }
