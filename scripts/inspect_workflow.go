package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

type documentNode struct {
	Name        string                     `json:"name"`
	Type        string                     `json:"type"`
	Position    [2]int                     `json:"position"`
	Credentials map[string]json.RawMessage `json:"credentials"`
}

type documentLink struct {
	Node string `json:"node"`
}

type documentConnections struct {
	Main [][]documentLink `json:"main"`
}

type engineDocument struct {
	Name        string                         `json:"name"`
	Active      bool                           `json:"active"`
	Nodes       []documentNode                 `json:"nodes"`
	Connections map[string]documentConnections `json:"connections"`
}

// RunInspectWorkflow prints a stored workflow row and summarizes the engine
// document it compiled to: nodes, wiring and credential references.
func RunInspectWorkflow(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: go run ./scripts inspect-workflow <workflow_id>")
		fmt.Println("Example: go run ./scripts inspect-workflow 4f7c1a2e")
		os.Exit(1)
	}

	workflowID := args[0]

	db, err := sql.Open("sqlite", dbPath())
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var userID, name, definition, checksum string
	var description, engineID sql.NullString
	var active int
	var createdAt, updatedAt int64

	query := `SELECT user_id, name, description, definition, engine_id, checksum, active,
	                 created_at, updated_at
	          FROM workflows WHERE id = ?`
	err = db.QueryRow(query, workflowID).Scan(&userID, &name, &description, &definition,
		&engineID, &checksum, &active, &createdAt, &updatedAt)
	if err != nil {
		fmt.Printf("Failed to get workflow %s: %v\n", workflowID, err)
		os.Exit(1)
	}

	fmt.Println("=== Workflow ===")
	fmt.Printf("ID: %s\n", workflowID)
	fmt.Printf("User: %s\n", userID)
	fmt.Printf("Name: %s\n", name)
	if description.Valid && description.String != "" {
		fmt.Printf("Description: %s\n", description.String)
	}
	if engineID.Valid && engineID.String != "" {
		fmt.Printf("Engine ID: %s\n", engineID.String)
	} else {
		fmt.Println("Engine ID: (not deployed)")
	}
	fmt.Printf("Active: %t\n", active != 0)
	fmt.Printf("Checksum: %s\n", checksum)
	fmt.Printf("Definition: %d bytes\n", len(definition))
	fmt.Printf("Created: %s\n", time.Unix(createdAt, 0).Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", time.Unix(updatedAt, 0).Format(time.RFC3339))
	fmt.Println()

	var doc engineDocument
	if err := json.Unmarshal([]byte(definition), &doc); err != nil {
		fmt.Printf("Failed to parse definition: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Nodes (%d) ===\n", len(doc.Nodes))
	for _, node := range doc.Nodes {
		fmt.Printf("  %s\n", node.Name)
		fmt.Printf("    type: %s\n", node.Type)
		fmt.Printf("    position: [%d, %d]\n", node.Position[0], node.Position[1])
		for credType := range node.Credentials {
			fmt.Printf("    credential: %s\n", credType)
		}
	}
	fmt.Println()

	fmt.Printf("=== Connections (%d) ===\n", len(doc.Connections))
	for source, conns := range doc.Connections {
		for _, branch := range conns.Main {
			for _, link := range branch {
				fmt.Printf("  %s -> %s\n", source, link.Node)
			}
		}
	}
}
