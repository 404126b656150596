package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TaskStatus is the remote job status reported by the service.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskSucceeded  TaskStatus = "SUCCEEDED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCanceled   TaskStatus = "CANCELED"
)

// Terminal reports whether no further status change can follow s.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCanceled
}

var (
	ErrInvalidTaskEvent  = errors.New("invalid task event")
	ErrUnknownTaskStatus = errors.New("unknown task status")
)

type (
	TaskError struct {
		Message string `json:"message"`
	}

	TextureURLs struct {
		BaseColor string `json:"base_color,omitempty"`
		Metallic  string `json:"metallic,omitempty"`
		Roughness string `json:"roughness,omitempty"`
		Normal    string `json:"normal,omitempty"`
	}

	// TaskEvent is one status snapshot of a remote job, as pushed on the task
	// stream or returned by the task endpoint.
	TaskEvent struct {
		ModelURLs     map[string]string `json:"model_urls,omitempty"`
		TaskError     *TaskError        `json:"task_error"`
		ID            string            `json:"id"`
		Mode          string            `json:"mode,omitempty"`
		Prompt        string            `json:"prompt,omitempty"`
		ArtStyle      string            `json:"art_style,omitempty"`
		Status        TaskStatus        `json:"status"`
		ThumbnailURL  string            `json:"thumbnail_url,omitempty"`
		VideoURL      string            `json:"video_url,omitempty"`
		TextureURLs   []TextureURLs     `json:"texture_urls,omitempty"`
		Progress      float64           `json:"progress"`
		CreatedAt     int64             `json:"created_at,omitempty"`
		StartedAt     int64             `json:"started_at,omitempty"`
		FinishedAt    int64             `json:"finished_at,omitempty"`
		PrecedingTask string            `json:"preceding_task_id,omitempty"`
	}
)

// ErrorMessage returns the service supplied failure message, if any.
func (e TaskEvent) ErrorMessage() string {
	if e.TaskError == nil {
		return ""
	}
	return e.TaskError.Message
}

// taskEventWire mirrors TaskEvent with pointers so that missing fields can be told apart
// from zero values during validation.
type taskEventWire struct {
	ModelURLs     map[string]string `json:"model_urls"`
	TaskError     *TaskError        `json:"task_error"`
	ID            *string           `json:"id"`
	Status        *string           `json:"status"`
	Progress      *float64          `json:"progress"`
	Mode          string            `json:"mode"`
	Prompt        string            `json:"prompt"`
	ArtStyle      string            `json:"art_style"`
	ThumbnailURL  *string           `json:"thumbnail_url"`
	VideoURL      *string           `json:"video_url"`
	TextureURLs   *[]TextureURLs    `json:"texture_urls"`
	CreatedAt     *int64            `json:"created_at"`
	StartedAt     *int64            `json:"started_at"`
	FinishedAt    *int64            `json:"finished_at"`
	PrecedingTask string            `json:"preceding_task_id"`
}

// DecodeTaskEvent decodes and validates one task payload. Every payload needs an id,
// a status and a progress value. FAILED payloads need a task_error key, which may be
// null. SUCCEEDED payloads additionally need the model, thumbnail, video and texture
// URLs and the timestamps. Failures wrap ErrInvalidTaskEvent or ErrUnknownTaskStatus.
func DecodeTaskEvent(data []byte) (TaskEvent, error) {
	var w taskEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return TaskEvent{}, fmt.Errorf("%w: %v", ErrInvalidTaskEvent, err)
	}
	if w.ID == nil || *w.ID == "" {
		return TaskEvent{}, fmt.Errorf("%w: missing id", ErrInvalidTaskEvent)
	}
	if w.Status == nil {
		return TaskEvent{}, fmt.Errorf("%w: missing status", ErrInvalidTaskEvent)
	}
	if w.Progress == nil {
		return TaskEvent{}, fmt.Errorf("%w: missing progress", ErrInvalidTaskEvent)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return TaskEvent{}, fmt.Errorf("%w: %v", ErrInvalidTaskEvent, err)
	}
	_, hasTaskError := keys["task_error"]

	event := TaskEvent{
		ID:            *w.ID,
		Status:        TaskStatus(*w.Status),
		Progress:      *w.Progress,
		Mode:          w.Mode,
		Prompt:        w.Prompt,
		ArtStyle:      w.ArtStyle,
		TaskError:     w.TaskError,
		PrecedingTask: w.PrecedingTask,
	}

	switch event.Status {
	case TaskPending, TaskInProgress, TaskCanceled:
		// no status specific fields
	case TaskFailed:
		if !hasTaskError {
			return TaskEvent{}, fmt.Errorf("%w: failed task %s is missing task_error", ErrInvalidTaskEvent, event.ID)
		}
	case TaskSucceeded:
		var missing []string
		if !hasTaskError {
			missing = append(missing, "task_error")
		}
		if w.TextureURLs == nil {
			missing = append(missing, "texture_urls")
		}
		if w.ModelURLs == nil {
			missing = append(missing, "model_urls")
		}
		if w.ThumbnailURL == nil {
			missing = append(missing, "thumbnail_url")
		}
		if w.VideoURL == nil {
			missing = append(missing, "video_url")
		}
		if w.CreatedAt == nil {
			missing = append(missing, "created_at")
		}
		if w.StartedAt == nil {
			missing = append(missing, "started_at")
		}
		if w.FinishedAt == nil {
			missing = append(missing, "finished_at")
		}
		if len(missing) > 0 {
			return TaskEvent{}, fmt.Errorf("%w: succeeded task %s is missing %v", ErrInvalidTaskEvent, event.ID, missing)
		}
		event.ModelURLs = w.ModelURLs
		event.ThumbnailURL = *w.ThumbnailURL
		event.VideoURL = *w.VideoURL
		event.TextureURLs = *w.TextureURLs
		event.CreatedAt = *w.CreatedAt
		event.StartedAt = *w.StartedAt
		event.FinishedAt = *w.FinishedAt
	default:
		return TaskEvent{}, fmt.Errorf("%w: %q", ErrUnknownTaskStatus, *w.Status)
	}

	return event, nil
}
