package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/api/middleware"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/database"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/workflow"
)

type workflowRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Spec        *workflow.Spec `json:"spec"`
}

type activateRequest struct {
	Active bool `json:"active"`
}

// workflowIDFromPath extracts the workflow ID from a request path,
// stripping an optional action suffix like "/activate"
func workflowIDFromPath(path, suffix string) string {
	id := strings.TrimPrefix(path, "/api/workflows/")
	if suffix != "" {
		id = strings.TrimSuffix(id, suffix)
	}
	return strings.Trim(id, "/")
}

// handleGetWorkflows returns all workflows owned by the current user
func (s *APIServer) handleGetWorkflows(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	workflows, err := s.dbManager.Workflows.ListWorkflows(claims.UserID)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to get workflows: %v", err), "api")
		http.Error(w, "Failed to retrieve workflows", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"workflows": workflows,
		"total":     len(workflows),
	})
}

// handleGetWorkflow returns a specific workflow
func (s *APIServer) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := workflowIDFromPath(r.URL.Path, "")
	if id == "" {
		http.Error(w, "Invalid workflow ID", http.StatusBadRequest)
		return
	}

	wf, err := s.dbManager.Workflows.GetWorkflow(claims.UserID, id)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to get workflow: %v", err), "api")
		http.Error(w, "Failed to retrieve workflow", http.StatusInternalServerError)
		return
	}
	if wf == nil {
		http.Error(w, "Workflow not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wf)
}

// compileSpec validates a workflow spec, checks credential readiness and
// compiles it into an engine document. Writes the error response and
// returns ok=false when the workflow cannot be built.
func (s *APIServer) compileSpec(w http.ResponseWriter, userID string, req *workflowRequest) (definition, checksum string, ok bool) {
	if req.Name == "" {
		http.Error(w, "Missing required field: name", http.StatusBadRequest)
		return "", "", false
	}
	if req.Spec == nil {
		http.Error(w, "Missing required field: spec", http.StatusBadRequest)
		return "", "", false
	}
	if err := req.Spec.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}

	readiness, err := s.gatekeeper.CheckReadiness(userID, req.Spec)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to check workflow readiness: %v", err), "api")
		http.Error(w, "Failed to check credentials", http.StatusInternalServerError)
		return "", "", false
	}
	if !readiness.Ready {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":   "missing_credentials",
			"missing": readiness.Missing,
		})
		return "", "", false
	}

	doc, err := workflow.Compile(req.Spec, readiness.Credentials)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to compile workflow: %v", err), "api")
		http.Error(w, "Failed to compile workflow", http.StatusInternalServerError)
		return "", "", false
	}

	definition, err = doc.JSON()
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to serialize workflow: %v", err), "api")
		http.Error(w, "Failed to compile workflow", http.StatusInternalServerError)
		return "", "", false
	}

	return definition, utils.HashString(definition), true
}

// handleCreateWorkflow compiles a workflow spec and persists the result
func (s *APIServer) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	definition, checksum, ok := s.compileSpec(w, claims.UserID, &req)
	if !ok {
		return
	}

	wf, err := s.dbManager.Workflows.CreateWorkflow(claims.UserID, req.Name, req.Description, definition, checksum)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to create workflow: %v", err), "api")
		http.Error(w, "Failed to create workflow", http.StatusInternalServerError)
		return
	}

	s.eventEmitter.WorkflowsChanged(claims.UserID, wf.ID, "created")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(wf)
}

// handleUpdateWorkflow recompiles a workflow from a new spec. A workflow
// already deployed to the engine is updated there as well.
func (s *APIServer) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := workflowIDFromPath(r.URL.Path, "")
	if id == "" {
		http.Error(w, "Invalid workflow ID", http.StatusBadRequest)
		return
	}

	wf, err := s.dbManager.Workflows.GetWorkflow(claims.UserID, id)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to get workflow: %v", err), "api")
		http.Error(w, "Failed to retrieve workflow", http.StatusInternalServerError)
		return
	}
	if wf == nil {
		http.Error(w, "Workflow not found", http.StatusNotFound)
		return
	}

	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = wf.Name
	}

	definition, checksum, ok := s.compileSpec(w, claims.UserID, &req)
	if !ok {
		return
	}

	if err := s.dbManager.Workflows.UpdateDefinition(claims.UserID, id, definition, checksum); err != nil {
		s.logger.Error(fmt.Sprintf("Failed to update workflow: %v", err), "api")
		http.Error(w, "Failed to update workflow", http.StatusInternalServerError)
		return
	}

	// Keep the deployed copy in sync
	if wf.EngineID != "" {
		doc, parseErr := workflow.ParseDocument(definition)
		if parseErr == nil {
			if _, deployErr := s.deployer.Update(r.Context(), wf.EngineID, doc); deployErr != nil {
				s.logger.Warn(fmt.Sprintf("Failed to update deployed workflow %s: %v", wf.EngineID, deployErr), "api")
			}
		}
	}

	s.eventEmitter.WorkflowsChanged(claims.UserID, id, "updated")

	updated, err := s.dbManager.Workflows.GetWorkflow(claims.UserID, id)
	if err != nil || updated == nil {
		http.Error(w, "Failed to retrieve workflow", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// handleDeleteWorkflow removes a workflow, detaching it from the engine first
func (s *APIServer) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := workflowIDFromPath(r.URL.Path, "")
	if id == "" {
		http.Error(w, "Invalid workflow ID", http.StatusBadRequest)
		return
	}

	wf, err := s.dbManager.Workflows.GetWorkflow(claims.UserID, id)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to get workflow: %v", err), "api")
		http.Error(w, "Failed to retrieve workflow", http.StatusInternalServerError)
		return
	}
	if wf == nil {
		http.Error(w, "Workflow not found", http.StatusNotFound)
		return
	}

	// Best effort, the local record is removed either way
	if wf.EngineID != "" {
		if err := s.deployer.Remove(r.Context(), wf.EngineID); err != nil {
			s.logger.Warn(fmt.Sprintf("Failed to remove workflow %s from engine: %v", wf.EngineID, err), "api")
		}
	}

	if err := s.dbManager.Workflows.DeleteWorkflow(claims.UserID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Workflow not found", http.StatusNotFound)
			return
		}
		s.logger.Error(fmt.Sprintf("Failed to delete workflow: %v", err), "api")
		http.Error(w, "Failed to delete workflow", http.StatusInternalServerError)
		return
	}

	s.eventEmitter.WorkflowsChanged(claims.UserID, id, "deleted")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      id,
		"deleted": true,
	})
}

// handleActivateWorkflow deploys a workflow to the engine and toggles its
// active state, POST /api/workflows/{id}/activate
func (s *APIServer) handleActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := workflowIDFromPath(r.URL.Path, "/activate")
	if id == "" {
		http.Error(w, "Invalid workflow ID", http.StatusBadRequest)
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, err := s.dbManager.Workflows.GetWorkflow(claims.UserID, id)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to get workflow: %v", err), "api")
		http.Error(w, "Failed to retrieve workflow", http.StatusInternalServerError)
		return
	}
	if wf == nil {
		http.Error(w, "Workflow not found", http.StatusNotFound)
		return
	}

	engineID := wf.EngineID

	// First activation deploys the document to the engine
	if req.Active && engineID == "" {
		doc, err := workflow.ParseDocument(wf.Definition)
		if err != nil {
			s.logger.Error(fmt.Sprintf("Failed to parse stored workflow: %v", err), "api")
			http.Error(w, "Stored workflow definition is invalid", http.StatusInternalServerError)
			return
		}

		info, err := s.deployer.Deploy(r.Context(), doc)
		if err != nil {
			s.logger.Error(fmt.Sprintf("Failed to deploy workflow: %v", err), "api")
			http.Error(w, "Failed to deploy workflow to engine", http.StatusBadGateway)
			return
		}
		engineID = info.ID

		if err := s.dbManager.Workflows.SetEngineID(claims.UserID, id, engineID); err != nil {
			s.logger.Error(fmt.Sprintf("Failed to record engine ID: %v", err), "api")
			http.Error(w, "Failed to record deployment", http.StatusInternalServerError)
			return
		}
	}

	if engineID != "" {
		if err := s.deployer.SetActive(r.Context(), engineID, req.Active); err != nil {
			s.logger.Error(fmt.Sprintf("Failed to set workflow active state: %v", err), "api")
			http.Error(w, "Failed to update workflow in engine", http.StatusBadGateway)
			return
		}
	}

	if err := s.dbManager.Workflows.SetActive(claims.UserID, id, req.Active); err != nil {
		s.logger.Error(fmt.Sprintf("Failed to persist active state: %v", err), "api")
		http.Error(w, "Failed to update workflow", http.StatusInternalServerError)
		return
	}

	s.eventEmitter.WorkflowDeployed(claims.UserID, id, engineID, req.Active)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":        id,
		"engine_id": engineID,
		"active":    req.Active,
	})
}

// handleRunWorkflow triggers a manual execution,
// POST /api/workflows/{id}/run
func (s *APIServer) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := workflowIDFromPath(r.URL.Path, "/run")
	wf, ok := s.deployedWorkflow(w, claims.UserID, id)
	if !ok {
		return
	}

	execution, err := s.deployer.Run(r.Context(), wf.EngineID)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to run workflow: %v", err), "api")
		http.Error(w, "Failed to run workflow", http.StatusBadGateway)
		return
	}

	s.eventEmitter.ExecutionFinished(claims.UserID, id, execution.ID, execution.Status)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(execution)
}

// handleGetExecutions lists engine executions for a workflow,
// GET /api/workflows/{id}/executions
func (s *APIServer) handleGetExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := workflowIDFromPath(r.URL.Path, "/executions")
	wf, ok := s.deployedWorkflow(w, claims.UserID, id)
	if !ok {
		return
	}

	executions, err := s.deployer.Executions(r.Context(), wf.EngineID)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to list executions: %v", err), "api")
		http.Error(w, "Failed to retrieve executions", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"executions": executions,
		"total":      len(executions),
	})
}

type engineEventRequest struct {
	WorkflowID  string `json:"workflowId"`
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
}

// handleEngineEvent receives execution notifications posted by the
// engine, POST /api/engine/events. The engine knows workflows by its
// own IDs; the event is mapped back to the owning user and forwarded
// over the websocket.
func (s *APIServer) handleEngineEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req engineEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.WorkflowID == "" || req.ExecutionID == "" {
		http.Error(w, "Missing required fields: workflowId, executionId", http.StatusBadRequest)
		return
	}

	wf, err := s.dbManager.Workflows.GetWorkflowByEngineID(req.WorkflowID)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to resolve engine workflow: %v", err), "api")
		http.Error(w, "Failed to resolve workflow", http.StatusInternalServerError)
		return
	}
	if wf == nil {
		http.Error(w, "Unknown workflow", http.StatusNotFound)
		return
	}

	s.eventEmitter.ExecutionFinished(wf.UserID, wf.ID, req.ExecutionID, req.Status)

	w.WriteHeader(http.StatusNoContent)
}

// deployedWorkflow loads a workflow and requires it to be deployed.
// Writes the error response and returns ok=false otherwise.
func (s *APIServer) deployedWorkflow(w http.ResponseWriter, userID, id string) (*database.Workflow, bool) {
	if id == "" {
		http.Error(w, "Invalid workflow ID", http.StatusBadRequest)
		return nil, false
	}

	wf, err := s.dbManager.Workflows.GetWorkflow(userID, id)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to get workflow: %v", err), "api")
		http.Error(w, "Failed to retrieve workflow", http.StatusInternalServerError)
		return nil, false
	}
	if wf == nil {
		http.Error(w, "Workflow not found", http.StatusNotFound)
		return nil, false
	}
	if wf.EngineID == "" {
		http.Error(w, "Workflow is not deployed", http.StatusConflict)
		return nil, false
	}

	return wf, true
}
