package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/workflow"
)

// WorkflowInfo is the engine's view of a deployed workflow
type WorkflowInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Execution is one workflow run recorded by the engine
type Execution struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
	StartedAt  string `json:"startedAt"`
	StoppedAt  string `json:"stoppedAt,omitempty"`
}

// APIError reports a non-2xx response from the engine REST API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine API error: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the execution engine's REST API. Authentication uses
// the engine's API-key header on every request.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *utils.LogsManager
}

// NewClient creates a REST client for the engine. The base URL and API
// key come from the environment (N8N_API_URL, N8N_API_KEY) with
// config-file fallback.
func NewClient(cm *utils.ConfigManager, logger *utils.LogsManager) *Client {
	baseURL := os.Getenv("N8N_API_URL")
	if baseURL == "" {
		baseURL = cm.GetConfigWithDefault("n8n_api_url", "http://localhost:5678")
	}
	apiKey := os.Getenv("N8N_API_KEY")
	if apiKey == "" {
		apiKey = cm.GetConfigWithDefault("n8n_api_key", "")
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: cm.GetConfigDuration("http_timeout", 15*time.Second),
		},
		logger: logger,
	}
}

// Configured reports whether the client has enough settings to reach
// the engine
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	if !c.Configured() {
		return fmt.Errorf("engine API URL and key must be configured")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to serialize request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-N8N-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read engine response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn(fmt.Sprintf("Engine %s %s returned %d", method, path, resp.StatusCode), "engine")
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse engine response: %v", err)
		}
	}
	return nil
}

// CreateWorkflow deploys a document and returns the engine's record of it
func (c *Client) CreateWorkflow(ctx context.Context, doc *workflow.Document) (*WorkflowInfo, error) {
	var info WorkflowInfo
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows", doc, &info); err != nil {
		return nil, err
	}
	c.logger.Info(fmt.Sprintf("Created engine workflow %s (%s)", info.ID, info.Name), "engine")
	return &info, nil
}

// GetWorkflow fetches a deployed workflow by engine ID
func (c *Client) GetWorkflow(ctx context.Context, id string) (*WorkflowInfo, error) {
	var info WorkflowInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+id, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UpdateWorkflow replaces a deployed workflow's definition
func (c *Client) UpdateWorkflow(ctx context.Context, id string, doc *workflow.Document) (*WorkflowInfo, error) {
	var info WorkflowInfo
	if err := c.do(ctx, http.MethodPut, "/api/v1/workflows/"+id, doc, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteWorkflow removes a deployed workflow
func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/workflows/"+id, nil, nil)
}

// ListWorkflows returns all workflows known to the engine
func (c *Client) ListWorkflows(ctx context.Context) ([]WorkflowInfo, error) {
	var wrapper struct {
		Data []WorkflowInfo `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows", nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Data, nil
}

// RunWorkflow triggers one execution of a deployed workflow
func (c *Client) RunWorkflow(ctx context.Context, id string) (*Execution, error) {
	var exec Execution
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows/"+id+"/run", nil, &exec); err != nil {
		return nil, err
	}
	c.logger.Info(fmt.Sprintf("Started execution %s of workflow %s", exec.ID, id), "engine")
	return &exec, nil
}

// ListExecutions returns the run history of a deployed workflow
func (c *Client) ListExecutions(ctx context.Context, id string) ([]Execution, error) {
	var wrapper struct {
		Data []Execution `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+id+"/executions", nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Data, nil
}

// SetActive activates or deactivates a deployed workflow
func (c *Client) SetActive(ctx context.Context, id string, active bool) error {
	path := "/api/v1/workflows/" + id + "/deactivate"
	if active {
		path = "/api/v1/workflows/" + id + "/activate"
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}
