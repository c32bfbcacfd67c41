package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
)

// CredentialRef points a node at a stored engine credential
type CredentialRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Node is one node in an engine workflow document
type Node struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Type        string                   `json:"type"`
	TypeVersion int                      `json:"typeVersion"`
	Position    [2]int                   `json:"position"`
	Parameters  map[string]interface{}   `json:"parameters"`
	Credentials map[string]CredentialRef `json:"credentials,omitempty"`
}

// Link is one outgoing edge from a node
type Link struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// NodeConnections holds the outgoing edges of a node, grouped by output
type NodeConnections struct {
	Main [][]Link `json:"main"`
}

// Settings carries workflow-level engine settings
type Settings struct {
	SaveManualExecutions bool `json:"saveManualExecutions"`
}

// Document is the workflow document in the shape the execution engine
// expects. Field names and casing match the engine's JSON exactly.
type Document struct {
	Name        string                     `json:"name"`
	Active      bool                       `json:"active"`
	Nodes       []Node                     `json:"nodes"`
	Connections map[string]NodeConnections `json:"connections"`
	CreatedAt   string                     `json:"createdAt"`
	UpdatedAt   string                     `json:"updatedAt"`
	Settings    Settings                   `json:"settings"`
	StaticData  interface{}                `json:"staticData"`
	Tags        []string                   `json:"tags"`
}

// NewDocument creates an empty inactive document with default settings
func NewDocument(name string) *Document {
	now := time.Now().UTC().Format(time.RFC3339)
	return &Document{
		Name:        name,
		Active:      false,
		Nodes:       []Node{},
		Connections: map[string]NodeConnections{},
		CreatedAt:   now,
		UpdatedAt:   now,
		Settings:    Settings{SaveManualExecutions: true},
		StaticData:  nil,
		Tags:        []string{},
	}
}

// ParseDocument deserializes a stored document definition
func ParseDocument(definition string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(definition), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %v", err)
	}
	return &doc, nil
}

// JSON serializes the document for storage or deployment
func (d *Document) JSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to serialize workflow document: %v", err)
	}
	return string(data), nil
}

// Checksum returns the BLAKE3 fingerprint of the serialized document
func (d *Document) Checksum() (string, error) {
	data, err := d.JSON()
	if err != nil {
		return "", err
	}
	return utils.HashString(data), nil
}

// chainNodes links nodes into a single linear main chain, in order
func chainNodes(nodes []Node) map[string]NodeConnections {
	connections := make(map[string]NodeConnections)
	for i := 0; i < len(nodes)-1; i++ {
		connections[nodes[i].Name] = NodeConnections{
			Main: [][]Link{{
				{Node: nodes[i+1].Name, Type: "main", Index: 0},
			}},
		}
	}
	return connections
}
