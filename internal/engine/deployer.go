package engine

import (
	"context"
	"fmt"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/workflow"
)

// Deployer routes engine operations through the MCP server when it is
// reachable and falls back to the REST API otherwise. Every operation
// probes independently so an MCP server that comes up later gets
// picked up without a restart.
type Deployer struct {
	mcp    *MCPAdapter
	rest   *Client
	logger *utils.LogsManager
}

// NewDeployer creates a deployer over both engine transports
func NewDeployer(mcp *MCPAdapter, rest *Client, logger *utils.LogsManager) *Deployer {
	return &Deployer{mcp: mcp, rest: rest, logger: logger}
}

func (d *Deployer) fallback(op string, err error) {
	d.logger.Warn(fmt.Sprintf("MCP %s failed, falling back to REST: %v", op, err), "engine")
}

// Deploy creates the workflow on the engine and returns its engine ID
func (d *Deployer) Deploy(ctx context.Context, doc *workflow.Document) (*WorkflowInfo, error) {
	if d.mcp.Ping(ctx) {
		info, err := d.mcp.CreateWorkflow(ctx, doc)
		if err == nil {
			return info, nil
		}
		d.fallback("deploy", err)
	}
	return d.rest.CreateWorkflow(ctx, doc)
}

// Update replaces a deployed workflow's definition
func (d *Deployer) Update(ctx context.Context, id string, doc *workflow.Document) (*WorkflowInfo, error) {
	if d.mcp.Ping(ctx) {
		info, err := d.mcp.UpdateWorkflow(ctx, id, doc)
		if err == nil {
			return info, nil
		}
		d.fallback("update", err)
	}
	return d.rest.UpdateWorkflow(ctx, id, doc)
}

// Remove deletes a deployed workflow
func (d *Deployer) Remove(ctx context.Context, id string) error {
	if d.mcp.Ping(ctx) {
		err := d.mcp.DeleteWorkflow(ctx, id)
		if err == nil {
			return nil
		}
		d.fallback("delete", err)
	}
	return d.rest.DeleteWorkflow(ctx, id)
}

// Run triggers one execution of a deployed workflow
func (d *Deployer) Run(ctx context.Context, id string) (*Execution, error) {
	if d.mcp.Ping(ctx) {
		exec, err := d.mcp.RunWorkflow(ctx, id)
		if err == nil {
			return exec, nil
		}
		d.fallback("run", err)
	}
	return d.rest.RunWorkflow(ctx, id)
}

// SetActive toggles a deployed workflow's activation state
func (d *Deployer) SetActive(ctx context.Context, id string, active bool) error {
	if d.mcp.Ping(ctx) {
		err := d.mcp.SetActive(ctx, id, active)
		if err == nil {
			return nil
		}
		d.fallback("status update", err)
	}
	return d.rest.SetActive(ctx, id, active)
}

// Executions returns the run history. The REST API is authoritative
// for execution records.
func (d *Deployer) Executions(ctx context.Context, id string) ([]Execution, error) {
	return d.rest.ListExecutions(ctx, id)
}
