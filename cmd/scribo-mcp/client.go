package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/models"
)

// apiClient is a thin HTTP client for the orchestrator API
type apiClient struct {
	baseURL string
	client  *http.Client
	logger  arbor.ILogger
}

func newAPIClient(baseURL string, logger arbor.ILogger) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type submitPayload struct {
	ProjectID  string `json:"project_id"`
	Text       string `json:"text,omitempty"`
	PDFPath    string `json:"pdf_path,omitempty"`
	RigorLevel string `json:"rigor_level,omitempty"`
}

// submitWorkflow posts a JSON submission and returns the acknowledgement.
// A 429 is surfaced with its Retry-After hint so the agent can back off.
func (c *apiClient) submitWorkflow(ctx context.Context, payload submitPayload) (*models.SubmitResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workflow/submit", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		if retryAfter == "" {
			retryAfter = "a few"
		}
		return nil, fmt.Errorf("pipeline is at capacity, retry in %s seconds", retryAfter)
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("submission rejected: %s", readErrorMessage(resp))
	}

	var ack models.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to decode acknowledgement: %w", err)
	}
	return &ack, nil
}

func (c *apiClient) jobStatus(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	var status models.JobStatusResponse
	if err := c.getJSON(ctx, "/workflow/status/"+url.PathEscape(jobID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// jobResultView carries whichever shape the result endpoint returned
type jobResultView struct {
	// Done is set on 200 with the full result envelope
	Done *models.JobResult
	// Pending is set on 202 while the job is still processing
	Pending *models.JobStatusResponse
	// Failure is set on 500 for FAILED and CANCELLED jobs
	Failure string
}

func (c *apiClient) jobResult(ctx context.Context, jobID string) (*jobResultView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/workflow/result/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result models.JobResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		return &jobResultView{Done: &result}, nil
	case http.StatusAccepted:
		var status models.JobStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return nil, fmt.Errorf("failed to decode status: %w", err)
		}
		return &jobResultView{Pending: &status}, nil
	case http.StatusInternalServerError:
		var failure struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil || failure.Error == "" {
			failure.Error = "job did not complete"
		}
		return &jobResultView{Failure: failure.Error}, nil
	default:
		return nil, fmt.Errorf("result request failed: %s", readErrorMessage(resp))
	}
}

func (c *apiClient) listProjects(ctx context.Context, query, rigor string) ([]*models.Project, error) {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	if rigor != "" {
		params.Set("rigor", rigor)
	}
	path := "/api/projects"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var listing struct {
		Projects []*models.Project `json:"projects"`
	}
	if err := c.getJSON(ctx, path, &listing); err != nil {
		return nil, err
	}
	return listing.Projects, nil
}

func (c *apiClient) getProject(ctx context.Context, projectID string) (*models.Project, error) {
	var project models.Project
	if err := c.getJSON(ctx, "/api/projects/"+url.PathEscape(projectID), &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// getJSON performs a GET and decodes a 200 response into out
func (c *apiClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("orchestrator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed: %s", readErrorMessage(resp))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// readErrorMessage pulls the error field from an API error body,
// falling back to the HTTP status line
func readErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(body) > 0 {
		var apiError struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiError) == nil && apiError.Error != "" {
			return apiError.Error
		}
	}
	return resp.Status
}
