package workflow

import (
	"fmt"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/database"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
)

// Readiness reports whether a spec can be compiled for a user.
// Credentials maps each required service to the stored credential ID
// that compiled nodes will reference.
type Readiness struct {
	Ready       bool              `json:"ready"`
	Missing     []string          `json:"missing,omitempty"`
	Credentials map[string]string `json:"-"`
}

// Gatekeeper checks credential coverage before compilation. A spec is
// only compiled once every service it touches has a stored credential.
type Gatekeeper struct {
	store  *database.CredentialStore
	logger *utils.LogsManager
}

// NewGatekeeper creates a gatekeeper over the credential store
func NewGatekeeper(store *database.CredentialStore, logger *utils.LogsManager) *Gatekeeper {
	return &Gatekeeper{store: store, logger: logger}
}

// CheckReadiness resolves every service the spec requires against the
// user's stored credentials
func (g *Gatekeeper) CheckReadiness(userID string, spec *Spec) (*Readiness, error) {
	readiness := &Readiness{
		Credentials: make(map[string]string),
	}

	for _, service := range spec.RequiredServices() {
		cred, err := g.store.GetCredential(userID, service)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s credential: %v", service, err)
		}
		if cred == nil {
			readiness.Missing = append(readiness.Missing, service)
			continue
		}
		readiness.Credentials[service] = cred.ID
	}

	readiness.Ready = len(readiness.Missing) == 0
	if !readiness.Ready {
		g.logger.Info(fmt.Sprintf("Workflow %q blocked on credentials: %v", spec.Name, readiness.Missing), "workflow")
	}
	return readiness, nil
}
