package events

import (
	ws "github.com/Flowdeck-Labs/flowdeck-node/internal/api/websocket"
	"github.com/sirupsen/logrus"
)

// Emitter broadcasts real-time events to WebSocket clients
type Emitter struct {
	hub    *ws.Hub
	logger *logrus.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(hub *ws.Hub, logger *logrus.Logger) *Emitter {
	return &Emitter{
		hub:    hub,
		logger: logger,
	}
}

// CredentialsChanged notifies a user's connections that a credential was
// stored or deleted
func (e *Emitter) CredentialsChanged(userID, service, action string) {
	payload := ws.CredentialsUpdatedPayload{
		Service: service,
		Action:  action,
	}
	if err := e.hub.BroadcastPayload(userID, ws.MessageTypeCredentialsUpdated, payload); err != nil {
		e.logger.WithError(err).Error("Failed to broadcast credentials update")
	}
}

// WorkflowsChanged notifies a user's connections that the workflow list changed
func (e *Emitter) WorkflowsChanged(userID, workflowID, action string) {
	payload := ws.WorkflowsUpdatedPayload{
		WorkflowID: workflowID,
		Action:     action,
	}
	if err := e.hub.BroadcastPayload(userID, ws.MessageTypeWorkflowsUpdated, payload); err != nil {
		e.logger.WithError(err).Error("Failed to broadcast workflows update")
	}
}

// WorkflowDeployed notifies a user's connections of an engine deployment
func (e *Emitter) WorkflowDeployed(userID, workflowID, engineID string, active bool) {
	payload := ws.WorkflowDeployedPayload{
		WorkflowID: workflowID,
		EngineID:   engineID,
		Active:     active,
	}
	if err := e.hub.BroadcastPayload(userID, ws.MessageTypeWorkflowDeployed, payload); err != nil {
		e.logger.WithError(err).Error("Failed to broadcast workflow deployment")
	}
}

// ExecutionFinished notifies a user's connections of a workflow run result
func (e *Emitter) ExecutionFinished(userID, workflowID, executionID, status string) {
	payload := ws.ExecutionUpdatedPayload{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Status:      status,
	}
	if err := e.hub.BroadcastPayload(userID, ws.MessageTypeExecutionUpdated, payload); err != nil {
		e.logger.WithError(err).Error("Failed to broadcast execution update")
	}
}
