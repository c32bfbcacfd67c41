package registry

import "fmt"

// CredentialRequirements describes what a user has to provide to connect a
// service. Surfaced to callers that prompt the user for the missing credential.
type CredentialRequirements struct {
	Service        string   `json:"service"`
	Name           string   `json:"name"`
	Type           AuthKind `json:"type"`
	RequiresOAuth  bool     `json:"requiresOAuth,omitempty"`
	RequiresAPIKey bool     `json:"requiresApiKey,omitempty"`
	Scope          string   `json:"scope,omitempty"`
	Description    string   `json:"description"`
	Instructions   []string `json:"instructions,omitempty"`
}

// Requirements returns the credential requirements descriptor for a service
func Requirements(serviceID string) (*CredentialRequirements, error) {
	svc, err := Get(serviceID)
	if err != nil {
		return nil, err
	}

	req := &CredentialRequirements{
		Service: svc.ID,
		Name:    svc.Name,
		Type:    svc.Auth,
	}

	switch svc.Auth {
	case AuthOAuth2:
		req.RequiresOAuth = true
		req.Scope = svc.Scope
		req.Description = fmt.Sprintf("Connect your %s account to enable automation", svc.Name)
	case AuthAPIKey:
		req.RequiresAPIKey = true
		req.Description = fmt.Sprintf("Enter your %s API key to enable automation", svc.Name)
		req.Instructions = apiKeyInstructions(svc.ID)
	}

	return req, nil
}

// apiKeyInstructions returns setup steps for API key based services
func apiKeyInstructions(serviceID string) []string {
	switch serviceID {
	case "openai":
		return []string{
			"Go to https://platform.openai.com/api-keys",
			"Sign in to your OpenAI account",
			"Click \"Create new secret key\"",
			"Copy the generated API key",
			"Paste it in the field below",
		}
	default:
		return []string{"Contact your service provider for API key setup instructions"}
	}
}
