package websocket

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Data update message types
	MessageTypeCredentialsUpdated MessageType = "credentials.updated"
	MessageTypeWorkflowsUpdated   MessageType = "workflows.updated"
	MessageTypeWorkflowDeployed   MessageType = "workflow.deployed"
	MessageTypeExecutionUpdated   MessageType = "execution.updated"

	// Control message types
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
	MessageTypeError     MessageType = "error"
	MessageTypeConnected MessageType = "connected"
)

// Message is the base structure for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().Unix(),
	}, nil
}

// ConnectedPayload confirms a successful WebSocket connection
type ConnectedPayload struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// CredentialsUpdatedPayload signals that a user's stored credentials changed
type CredentialsUpdatedPayload struct {
	Service string `json:"service"`
	Action  string `json:"action"` // "stored" or "deleted"
}

// WorkflowsUpdatedPayload signals that a user's workflow list changed
type WorkflowsUpdatedPayload struct {
	WorkflowID string `json:"workflow_id"`
	Action     string `json:"action"` // "created", "updated" or "deleted"
}

// WorkflowDeployedPayload signals a workflow deployment to the engine
type WorkflowDeployedPayload struct {
	WorkflowID string `json:"workflow_id"`
	EngineID   string `json:"engine_id"`
	Active     bool   `json:"active"`
}

// ExecutionUpdatedPayload carries the result of a workflow run
type ExecutionUpdatedPayload struct {
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}
