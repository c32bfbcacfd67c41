package registry

import (
	"embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed services.yaml
var servicesYAML embed.FS

// AuthKind describes how a service authenticates
type AuthKind string

const (
	AuthAPIKey AuthKind = "api_key"
	AuthOAuth2 AuthKind = "oauth2"
)

// ServiceConfig describes a supported external service: its display name,
// authentication scheme and, for OAuth2 services, the endpoints and scope
// needed to run the authorization-code flow. The table is loaded once from
// the embedded services.yaml and never mutated.
type ServiceConfig struct {
	ID           string   `yaml:"-"`
	Name         string   `yaml:"name"`
	Auth         AuthKind `yaml:"auth"`
	AuthorizeURL string   `yaml:"authorize_url,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty"`
	Scope        string   `yaml:"scope,omitempty"`
	TestURL      string   `yaml:"test_url"`
}

type serviceFile struct {
	Services map[string]*ServiceConfig `yaml:"services"`
}

var (
	loadOnce sync.Once
	loadErr  error
	services map[string]*ServiceConfig
)

func load() {
	data, err := servicesYAML.ReadFile("services.yaml")
	if err != nil {
		loadErr = fmt.Errorf("failed to read embedded service registry: %w", err)
		return
	}

	var file serviceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		loadErr = fmt.Errorf("failed to parse service registry: %w", err)
		return
	}

	for id, svc := range file.Services {
		svc.ID = id
		if svc.Auth != AuthAPIKey && svc.Auth != AuthOAuth2 {
			loadErr = fmt.Errorf("service %s has unknown auth kind %q", id, svc.Auth)
			return
		}
		if svc.Auth == AuthOAuth2 && (svc.AuthorizeURL == "" || svc.TokenURL == "") {
			loadErr = fmt.Errorf("oauth2 service %s is missing authorize/token endpoints", id)
			return
		}
	}

	services = file.Services
}

// Get returns the configuration for a service, or an error if the service is unknown
func Get(serviceID string) (*ServiceConfig, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return nil, loadErr
	}

	svc, ok := services[serviceID]
	if !ok {
		return nil, fmt.Errorf("unknown service: %s", serviceID)
	}
	return svc, nil
}

// Has reports whether a service is known to the registry
func Has(serviceID string) bool {
	svc, err := Get(serviceID)
	return err == nil && svc != nil
}

// All returns every registered service sorted by ID
func All() ([]*ServiceConfig, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return nil, loadErr
	}

	all := make([]*ServiceConfig, 0, len(services))
	for _, svc := range services {
		all = append(all, svc)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}
