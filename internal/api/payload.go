package api

import (
	"errors"
	"fmt"

	"go-meshy-generate/internal/models"
)

var ErrUnsupportedRequest = errors.New("unsupported generation request")

type previewPayload struct {
	Mode            string `json:"mode"`
	Prompt          string `json:"prompt"`
	ArtStyle        string `json:"art_style"`
	Seed            *int   `json:"seed,omitempty"`
	AIModel         string `json:"ai_model"`
	Topology        string `json:"topology"`
	TargetPolycount int    `json:"target_polycount"`
	ShouldRemesh    bool   `json:"should_remesh"`
	SymmetryMode    string `json:"symmetry_mode"`
}

type refinePayload struct {
	Mode          string `json:"mode"`
	PreviewTaskID string `json:"preview_task_id"`
	EnablePBR     bool   `json:"enable_pbr"`
	TexturePrompt string `json:"texture_prompt,omitempty"`
}

// BuildTaskPayload converts a stage request into the JSON body of the create-task call.
func BuildTaskPayload(req models.GenerationRequest) (any, error) {
	switch r := req.(type) {
	case models.PreviewRequest:
		return previewPayload{
			Mode:            string(models.StagePreview),
			Prompt:          r.Prompt,
			ArtStyle:        r.ArtStyle,
			Seed:            r.Seed,
			AIModel:         r.AIModel,
			Topology:        r.Topology,
			TargetPolycount: r.TargetPolycount,
			ShouldRemesh:    r.ShouldRemesh,
			SymmetryMode:    r.SymmetryMode,
		}, nil
	case models.RefineRequest:
		if r.PreviewTaskID == "" {
			return nil, fmt.Errorf("%w: refine request without preview task id", ErrUnsupportedRequest)
		}
		return refinePayload{
			Mode:          string(models.StageRefine),
			PreviewTaskID: r.PreviewTaskID,
			EnablePBR:     r.EnablePBR,
			TexturePrompt: r.TexturePrompt,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedRequest, req)
	}
}
