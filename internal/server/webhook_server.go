// ABOUTME: HTTP intake for webhook-triggered workflow execution
// ABOUTME: Validates the inbound signature before ever touching the scheduler, per source-scoped shared secrets

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgeflow/core/internal/history"
	"github.com/forgeflow/core/internal/scheduler"
	"github.com/forgeflow/core/internal/security"
	"github.com/forgeflow/core/pkg/types"
)

// WorkflowLookup resolves a webhook source to the workflow that
// should run when it fires.
type WorkflowLookup func(source string) (*types.WorkflowResource, bool)

// SecretLookup resolves a webhook source to its shared HMAC secret.
type SecretLookup func(source string) ([]byte, bool)

// Config wires a Server's dependencies.
type Config struct {
	Addr            string
	SignatureHeader string
	Scheduler       *scheduler.Scheduler
	History         *history.Store
	Workflows       WorkflowLookup
	Secrets         SecretLookup
	Logger          types.Logger
}

// Server is the webhook intake and execution-status HTTP API.
type Server struct {
	cfg    Config
	server *http.Server
}

// New builds a Server; call Start to begin serving.
func New(cfg Config) *Server {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Forgeflow-Signature"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/", s.handleWebhook)
	mux.HandleFunc("/executions/", s.handleExecution)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the server is stopped or fails.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleWebhook implements POST /webhooks/{source}: reads the body,
// validates its signature against source's shared secret, and on
// success dispatches the matching workflow asynchronously. A
// validation failure is rejected with 401 without the payload ever
// reaching the scheduler.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	source := strings.TrimPrefix(r.URL.Path, "/webhooks/")
	if source == "" {
		http.Error(w, "missing webhook source", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	secret, ok := s.cfg.Secrets(source)
	if !ok {
		http.Error(w, "unknown webhook source", http.StatusNotFound)
		return
	}

	signature := r.Header.Get(s.cfg.SignatureHeader)
	if !security.Validate(body, signature, secret) {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Warn().Str("source", source).Msg("rejected webhook: signature validation failed")
		}
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	trigger := types.WebhookTrigger{Source: source, Payload: body, SignatureHeader: signature}

	workflow, ok := s.cfg.Workflows(source)
	if !ok {
		http.Error(w, "no workflow registered for source", http.StatusNotFound)
		return
	}

	executionID := uuid.NewString()
	go s.runAsync(executionID, workflow, trigger)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"executionId": executionID,
		"status":      "accepted",
	})
}

func (s *Server) runAsync(executionID string, workflow *types.WorkflowResource, trigger types.WebhookTrigger) {
	input := map[string]any{
		"source":  trigger.Source,
		"payload": json.RawMessage(trigger.Payload),
	}

	result := s.cfg.Scheduler.Run(context.Background(), workflow, input)
	result.ExecutionID = executionID

	if s.cfg.History != nil {
		if err := s.cfg.History.Record(result); err != nil {
			if s.cfg.Logger != nil {
				s.cfg.Logger.Error().Err(err).Str("execution_id", executionID).Str("workflow", workflow.Name).Msg("failed to record execution")
			}
		}
	}
}

// handleExecution implements GET /executions/{id}.
func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/executions/")
	if id == "" {
		http.Error(w, "missing execution id", http.StatusBadRequest)
		return
	}

	result, ok := s.cfg.History.Get(id)
	if !ok {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "timestamp": time.Now().UTC()})
}
