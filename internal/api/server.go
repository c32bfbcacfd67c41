package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/api/events"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/api/middleware"
	ws "github.com/Flowdeck-Labs/flowdeck-node/internal/api/websocket"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/database"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/engine"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/interpreter"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/oauth"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/vault"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/workflow"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// APIServer provides the HTTP REST/WebSocket API for the node
type APIServer struct {
	ctx          context.Context
	cancel       context.CancelFunc
	server       *http.Server
	listener     net.Listener
	port         string
	logger       *utils.LogsManager
	config       *utils.ConfigManager
	dbManager    *database.SQLiteManager
	vault        *vault.CredentialVault
	exchange     *oauth.Exchange
	deployer     *engine.Deployer
	interp       *interpreter.Interpreter
	gatekeeper   *workflow.Gatekeeper
	jwtManager   *middleware.JWTManager
	wsHub        *ws.Hub
	wsLogger     *logrus.Logger
	wsUpgrader   websocket.Upgrader
	eventEmitter *events.Emitter
	startTime    time.Time
	mutex        sync.RWMutex
}

// NewAPIServer creates a new API server instance
func NewAPIServer(
	config *utils.ConfigManager,
	logger *utils.LogsManager,
	dbManager *database.SQLiteManager,
	credVault *vault.CredentialVault,
	exchange *oauth.Exchange,
	deployer *engine.Deployer,
	interp *interpreter.Interpreter,
	jwtSecret string,
) *APIServer {
	ctx, cancel := context.WithCancel(context.Background())

	issuer := config.GetConfigWithDefault("api_jwt_issuer", "flowdeck-node")
	jwtManager := middleware.NewJWTManager(jwtSecret, issuer)

	wsLogger := logrus.New()
	if logger.File != nil {
		wsLogger.SetOutput(logger.File)
	}

	wsHub := ws.NewHub(wsLogger)
	eventEmitter := events.NewEmitter(wsHub, wsLogger)

	return &APIServer{
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
		config:       config,
		dbManager:    dbManager,
		vault:        credVault,
		exchange:     exchange,
		deployer:     deployer,
		interp:       interp,
		gatekeeper:   workflow.NewGatekeeper(dbManager.Credentials, logger),
		jwtManager:   jwtManager,
		wsHub:        wsHub,
		wsLogger:     wsLogger,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// CORS policy is enforced at the HTTP layer
				return true
			},
		},
		eventEmitter: eventEmitter,
		startTime:    time.Now(),
	}
}

// Start initializes and starts the API server
func (s *APIServer) Start() error {
	// Get API port from config (use dedicated api_port, fallback to 8080)
	apiPort := s.config.GetConfigWithDefault("api_port", "8080")
	s.port = apiPort

	s.logger.Info(fmt.Sprintf("Starting API server on port %s", apiPort), "api")

	// Get fallback ports from config
	fallbackPortsStr := s.config.GetConfigWithDefault("api_fallback_ports", "8081,8082")
	fallbackPorts := parsePortList(fallbackPortsStr)

	// Build ports list: primary port + fallbacks
	ports := append([]string{apiPort}, fallbackPorts...)
	var err error

	for _, port := range ports {
		addr := fmt.Sprintf(":%s", port)
		s.listener, err = net.Listen("tcp", addr)
		if err == nil {
			s.port = port
			s.logger.Info(fmt.Sprintf("API server bound to port %s", port), "api")
			break
		}
	}

	if s.listener == nil {
		return fmt.Errorf("failed to bind API server to any port: %v", err)
	}

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register routes
	s.registerRoutes(mux)

	// Wrap mux with CORS middleware
	handler := middleware.CORSMiddleware(mux)

	// Create HTTP server
	s.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Optional HTTPS with a self-signed certificate
	if s.config.GetConfigBool("api_tls", false) {
		paths := utils.GetAppPaths("")
		tlsCert, certErr := loadOrGenerateAPICertificates(paths, s.logger)
		if certErr != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %v", certErr)
		}
		s.server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{tlsCert},
			MinVersion:   tls.VersionTLS12,
		}
		s.listener = tls.NewListener(s.listener, s.server.TLSConfig)
		s.logger.Info("API server TLS enabled", "api")
	}

	// Start WebSocket hub
	go s.wsHub.Run()

	// Start server in goroutine
	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error(fmt.Sprintf("API server error: %v", err), "api")
		}
	}()

	s.logger.Info("API server started successfully", "api")
	return nil
}

// registerRoutes sets up all HTTP routes
func (s *APIServer) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)

	// Auth routes
	mux.HandleFunc("/api/auth/signup", s.handleSignup)
	mux.HandleFunc("/api/auth/login", s.handleLogin)

	// Service registry routes
	mux.HandleFunc("/api/services", s.handleGetServices)
	mux.HandleFunc("/api/services/", s.handleServiceRequirements)

	// Credential routes
	mux.Handle("/api/credentials", s.jwtManager.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.handleListCredentials(w, r)
		} else if r.Method == http.MethodPost {
			s.handleStoreCredential(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle("/api/credentials/", s.jwtManager.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/test") {
			s.handleTestCredential(w, r)
			return
		}
		if r.Method == http.MethodDelete {
			s.handleDeleteCredential(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// OAuth routes
	mux.Handle("/api/oauth/url", s.jwtManager.AuthMiddleware(http.HandlerFunc(s.handleOAuthURL)))
	mux.HandleFunc("/api/oauth/callback", s.handleOAuthCallback)

	// Workflow routes
	mux.Handle("/api/workflows", s.jwtManager.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.handleGetWorkflows(w, r)
		} else if r.Method == http.MethodPost {
			s.handleCreateWorkflow(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle("/api/workflows/", s.jwtManager.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/activate") {
			s.handleActivateWorkflow(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/run") {
			s.handleRunWorkflow(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/executions") {
			s.handleGetExecutions(w, r)
			return
		}

		// Otherwise, handle as CRUD operations
		if r.Method == http.MethodGet {
			s.handleGetWorkflow(w, r)
		} else if r.Method == http.MethodPut {
			s.handleUpdateWorkflow(w, r)
		} else if r.Method == http.MethodDelete {
			s.handleDeleteWorkflow(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// Engine callback route
	mux.HandleFunc("/api/engine/events", s.handleEngineEvent)

	// Chat route
	mux.Handle("/api/chat", s.jwtManager.AuthMiddleware(http.HandlerFunc(s.handleChat)))

	// WebSocket endpoint
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	s.logger.Debug("API routes registered", "api")
}

// handleHealth returns API health status
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime":%d}`, int64(time.Since(s.startTime).Seconds()))
}

// Stop gracefully shuts down the API server
func (s *APIServer) Stop() error {
	s.logger.Info("Stopping API server", "api")
	s.cancel()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}

	return nil
}

// GetPort returns the port the server is listening on
func (s *APIServer) GetPort() string {
	return s.port
}

// parsePortList parses a comma-separated list of ports
func parsePortList(portList string) []string {
	if portList == "" {
		return []string{}
	}
	ports := strings.Split(portList, ",")
	result := make([]string, 0, len(ports))
	for _, port := range ports {
		port = strings.TrimSpace(port)
		if port != "" {
			result = append(result, port)
		}
	}
	return result
}
