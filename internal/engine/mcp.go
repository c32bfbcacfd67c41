package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/workflow"
)

// MCPAdapter drives the engine through its MCP server. Workflow
// operations map onto MCP tool calls; when the server is unreachable
// the deployer falls back to the REST client.
type MCPAdapter struct {
	endpoint     string
	probeTimeout time.Duration
	logger       *utils.LogsManager

	mu     sync.Mutex
	client client.MCPClient
}

// NewMCPAdapter creates an MCP adapter. The endpoint comes from the
// environment (N8N_MCP_URL) with config-file fallback.
func NewMCPAdapter(cm *utils.ConfigManager, logger *utils.LogsManager) *MCPAdapter {
	endpoint := os.Getenv("N8N_MCP_URL")
	if endpoint == "" {
		endpoint = cm.GetConfigWithDefault("n8n_mcp_url", "")
	}

	return &MCPAdapter{
		endpoint:     endpoint,
		probeTimeout: cm.GetConfigDuration("engine_probe_timeout", 3*time.Second),
		logger:       logger,
	}
}

// connect establishes and initializes the MCP session once
func (a *MCPAdapter) connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return nil
	}
	if a.endpoint == "" {
		return fmt.Errorf("MCP endpoint is not configured")
	}

	httpClient, err := client.NewStreamableHttpClient(a.endpoint)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %v", err)
	}
	if err := httpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP transport: %v", err)
	}

	initRequest := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "flowdeck-node",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	initCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	if _, err := httpClient.Initialize(initCtx, initRequest); err != nil {
		httpClient.Close()
		return fmt.Errorf("failed to initialize MCP session: %v", err)
	}

	a.client = httpClient
	a.logger.Info(fmt.Sprintf("Connected to engine MCP server at %s", a.endpoint), "engine")
	return nil
}

// Ping reports whether the MCP server is reachable, connecting lazily
func (a *MCPAdapter) Ping(ctx context.Context) bool {
	if err := a.connect(ctx); err != nil {
		return false
	}

	listCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	a.mu.Lock()
	cl := a.client
	a.mu.Unlock()

	if _, err := cl.ListTools(listCtx, mcp.ListToolsRequest{}); err != nil {
		a.logger.Warn(fmt.Sprintf("Engine MCP server unreachable: %v", err), "engine")
		a.Close()
		return false
	}
	return true
}

// Close tears down the MCP session
func (a *MCPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

// callTool invokes a named engine tool and decodes the JSON payload
// from the first text content block of the result
func (a *MCPAdapter) callTool(ctx context.Context, name string, args map[string]interface{}, out interface{}) error {
	if err := a.connect(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	cl := a.client
	a.mu.Unlock()

	request := mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	}

	result, err := cl.CallTool(ctx, request)
	if err != nil {
		return fmt.Errorf("MCP tool %s failed: %v", name, err)
	}
	if result.IsError {
		return fmt.Errorf("MCP tool %s returned an error: %s", name, textContent(result))
	}

	if out != nil {
		payload := textContent(result)
		if payload == "" {
			return fmt.Errorf("MCP tool %s returned no content", name)
		}
		if err := json.Unmarshal([]byte(payload), out); err != nil {
			return fmt.Errorf("failed to parse MCP tool %s result: %v", name, err)
		}
	}
	return nil
}

// textContent extracts the first text block from a tool result
func textContent(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			return text.Text
		}
	}
	return ""
}

// docArguments converts a workflow document to tool-call arguments
func docArguments(doc *workflow.Document) (map[string]interface{}, error) {
	raw, err := doc.JSON()
	if err != nil {
		return nil, err
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &asMap); err != nil {
		return nil, fmt.Errorf("failed to convert workflow document: %v", err)
	}
	return map[string]interface{}{"workflow": asMap}, nil
}

// CreateWorkflow deploys a document through the MCP server
func (a *MCPAdapter) CreateWorkflow(ctx context.Context, doc *workflow.Document) (*WorkflowInfo, error) {
	args, err := docArguments(doc)
	if err != nil {
		return nil, err
	}
	var info WorkflowInfo
	if err := a.callTool(ctx, "create_workflow", args, &info); err != nil {
		return nil, err
	}
	a.logger.Info(fmt.Sprintf("Created engine workflow %s via MCP", info.ID), "engine")
	return &info, nil
}

// UpdateWorkflow replaces a deployed workflow through the MCP server
func (a *MCPAdapter) UpdateWorkflow(ctx context.Context, id string, doc *workflow.Document) (*WorkflowInfo, error) {
	args, err := docArguments(doc)
	if err != nil {
		return nil, err
	}
	args["id"] = id
	var info WorkflowInfo
	if err := a.callTool(ctx, "update_workflow", args, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteWorkflow removes a deployed workflow through the MCP server
func (a *MCPAdapter) DeleteWorkflow(ctx context.Context, id string) error {
	return a.callTool(ctx, "delete_workflow", map[string]interface{}{"id": id}, nil)
}

// RunWorkflow executes a deployed workflow through the MCP server
func (a *MCPAdapter) RunWorkflow(ctx context.Context, id string) (*Execution, error) {
	var exec Execution
	err := a.callTool(ctx, "execute_workflow", map[string]interface{}{"id": id}, &exec)
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// SetActive toggles a deployed workflow through the MCP server
func (a *MCPAdapter) SetActive(ctx context.Context, id string, active bool) error {
	return a.callTool(ctx, "set_workflow_status", map[string]interface{}{
		"id":     id,
		"active": active,
	}, nil)
}
