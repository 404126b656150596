package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go-meshy-generate/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrRateLimited       = errors.New("API rate limit exceeded")
	ErrUnauthorized      = errors.New("API request unauthorized (check API key)")
	ErrNotFound          = errors.New("API resource not found")
	ErrServerError       = errors.New("API server error")
	ErrPaymentRequired   = errors.New("API request rejected (insufficient credits)")
	ErrBadRequest        = errors.New("API request rejected")
	ErrMalformedResponse = errors.New("malformed API response")
)

const MeshyApiBaseUrl = "https://api.meshy.ai/openapi/v2"

// SubmissionError is returned when a stage request could not be turned into a remote job.
type SubmissionError struct {
	Stage      models.Stage
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submit %s task: status %d: %v", e.Stage, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submit %s task: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Client struct for interacting with the Meshy text-to-3D API
type Client struct {
	ApiKey  string
	BaseURL string
	// HttpClient serves the short request/response calls.
	HttpClient *http.Client
	// StreamClient serves task subscriptions and never times out on its own.
	StreamClient *http.Client
}

// NewClient creates a new API client
func NewClient(apiKey string, httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = MeshyApiBaseUrl
	}
	log.Debugf("NewClient called for %s (API logging handled by transport if enabled)", baseURL)

	return &Client{
		ApiKey:       apiKey,
		BaseURL:      baseURL,
		HttpClient:   httpClient,
		StreamClient: &http.Client{Transport: httpClient.Transport},
	}
}

func (c *Client) newRequest(ctx context.Context, method, reqURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.ApiKey)
	}
	return req, nil
}

// statusError maps a non-2xx response to one of the package sentinels.
func statusError(statusCode int) error {
	switch statusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusPaymentRequired:
		return ErrPaymentRequired
	case http.StatusNotFound:
		return ErrNotFound
	default:
		if statusCode >= 500 {
			return fmt.Errorf("%w (status code %d)", ErrServerError, statusCode)
		}
		return fmt.Errorf("%w (status code %d)", ErrBadRequest, statusCode)
	}
}

// CreateTask submits one stage request and returns the remote job id.
// It performs exactly one request; every failure is a *SubmissionError.
func (c *Client) CreateTask(ctx context.Context, genReq models.GenerationRequest) (string, error) {
	stage := models.Stage("unknown")
	if genReq != nil {
		stage = genReq.Stage()
	}
	logger := log.WithField("stage", stage)

	payload, err := BuildTaskPayload(genReq)
	if err != nil {
		return "", &SubmissionError{Stage: stage, Err: err}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &SubmissionError{Stage: stage, Err: fmt.Errorf("error marshalling payload: %w", err)}
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.BaseURL+"/text-to-3d", bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Stage: stage, Err: err}
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		logger.WithError(err).Error("Task submission request failed")
		return "", &SubmissionError{Stage: stage, Err: fmt.Errorf("http request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmissionError{Stage: stage, StatusCode: resp.StatusCode, Err: fmt.Errorf("error reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		subErr := &SubmissionError{Stage: stage, StatusCode: resp.StatusCode, Body: string(respBody), Err: statusError(resp.StatusCode)}
		logger.WithError(subErr).Errorf("Task submission rejected: %s", strings.TrimSpace(string(respBody)))
		return "", subErr
	}

	var created struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		log.Debugf("Response body causing unmarshal error: %s", string(respBody))
		return "", &SubmissionError{Stage: stage, StatusCode: resp.StatusCode, Body: string(respBody), Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if strings.TrimSpace(created.Result) == "" {
		return "", &SubmissionError{Stage: stage, StatusCode: resp.StatusCode, Body: string(respBody), Err: fmt.Errorf("%w: empty task id", ErrMalformedResponse)}
	}

	logger.WithField("job_id", created.Result).Infof("Submitted %s task", stage)
	return created.Result, nil
}

// GetTask fetches the current state of one task.
func (c *Client) GetTask(ctx context.Context, taskID string) (models.TaskEvent, error) {
	reqURL := fmt.Sprintf("%s/text-to-3d/%s", c.BaseURL, url.PathEscape(taskID))
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return models.TaskEvent{}, err
	}
	task, err := models.DecodeTaskEvent(body)
	if err != nil {
		log.Debugf("Response body causing decode error: %s", string(body))
		return models.TaskEvent{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return task, nil
}

// ListTasks fetches one page of the account's text-to-3D tasks, newest first.
func (c *Client) ListTasks(ctx context.Context, pageSize, pageNum int) ([]models.TaskEvent, error) {
	values := url.Values{}
	if pageSize > 0 {
		values.Set("page_size", strconv.Itoa(pageSize))
	}
	if pageNum > 0 {
		values.Set("page_num", strconv.Itoa(pageNum))
	}
	reqURL := c.BaseURL + "/text-to-3d"
	if encoded := values.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	var tasks []models.TaskEvent
	if err := json.Unmarshal(body, &tasks); err != nil {
		log.Debugf("Response body causing unmarshal error: %s", string(body))
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return tasks, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		log.WithError(err).Errorf("Error requesting %s", reqURL)
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}
	return body, nil
}
