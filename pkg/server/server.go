// Package server provides the public entry point for initializing the
// leadgate service.
//
// This package lives in pkg/ (not internal/) so other binaries can compose
// the same decision core, e.g. the offline evaluation harness.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/leadgate/leadgate/internal/agent"
	"github.com/leadgate/leadgate/internal/api"
	"github.com/leadgate/leadgate/internal/api/handlers"
	"github.com/leadgate/leadgate/internal/api/middleware"
	"github.com/leadgate/leadgate/internal/approvals"
	"github.com/leadgate/leadgate/internal/config"
	"github.com/leadgate/leadgate/internal/guardrails"
	"github.com/leadgate/leadgate/internal/memory"
	"github.com/leadgate/leadgate/internal/notify"
	modelrouter "github.com/leadgate/leadgate/internal/router"
	"github.com/leadgate/leadgate/internal/scoring"
	"github.com/leadgate/leadgate/internal/store"
	"github.com/leadgate/leadgate/internal/telemetry"
	"github.com/leadgate/leadgate/internal/tools"
	"github.com/leadgate/leadgate/pkg/contracts"
)

// Server holds the initialized leadgate service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Agent is the decision core, exposed for in-process callers.
	Agent *agent.Agent

	Store  store.Store
	Ledger *approvals.Ledger
	Memory *memory.Service
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	webhook           *notify.Webhook
	shutdownTelemetry func(context.Context) error
}

// New loads configuration from the environment and builds a Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig wires every component from cfg.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}

	mem, err := memory.New(ctx, cfg.Memory)
	if err != nil {
		dataStore.Close()
		shutdown(ctx)
		return nil, fmt.Errorf("init company memory: %w", err)
	}
	log.Info().Str("backend", mem.Backend()).Msg("✅ Company memory initialized")

	policy, err := guardrails.LoadPolicy(cfg.Guardrail.PolicyPath)
	if err != nil {
		mem.Close()
		dataStore.Close()
		shutdown(ctx)
		return nil, fmt.Errorf("load guardrail policy: %w", err)
	}
	evaluator, err := guardrails.NewEvaluator(policy)
	if err != nil {
		mem.Close()
		dataStore.Close()
		shutdown(ctx)
		return nil, fmt.Errorf("compile guardrail policy: %w", err)
	}
	log.Info().Int("conditional_rules", len(policy.Conditional)).Msg("✅ Guardrails initialized")

	mr := modelrouter.NewModelRouter(cfg.LLM)
	scorer := NewScorer(cfg, mr)
	log.Info().Str("scorer", scorer.Name()).Msg("✅ Scorer initialized")

	ledger := approvals.NewLedger(dataStore)
	var webhook *notify.Webhook
	if cfg.Notify.WebhookURL != "" {
		webhook = notify.NewWebhook(cfg.Notify)
		ledger.SetNotifier(webhook)
		log.Info().Msg("✅ Approval webhook enabled")
	}

	toolbox := tools.New(dataStore, dataStore, cfg.Agent.ToolTimeout)
	core := agent.New(agent.Deps{
		Scorer:     scorer,
		Guardrails: evaluator,
		Ledger:     ledger,
		Memory:     mem,
		Tools:      toolbox,
		Traces:     dataStore,
	}, agent.Options{MemoryTimeout: cfg.Agent.MemoryTimeout})

	auth := middleware.NewAPIKeyAuth(cfg.Auth.APIKeys)
	if auth.Enabled() {
		log.Info().Msg("🔐 API key auth enabled")
	} else {
		log.Warn().Msg("API key auth disabled (LEADGATE_API_KEYS not set)")
	}

	h := &handlers.Handlers{
		Agent:  core,
		Store:  dataStore,
		Ledger: ledger,
		Memory: mem,
		Router: mr,
		Tools:  toolbox,
		Scorer: scorer.Name(),
	}

	return &Server{
		Handler:           api.NewRouter(cfg, h, auth),
		Agent:             core,
		Store:             dataStore,
		Ledger:            ledger,
		Memory:            mem,
		Config:            cfg,
		Port:              cfg.Port,
		webhook:           webhook,
		shutdownTelemetry: shutdown,
	}, nil
}

// NewScorer returns the LLM scorer when a provider is configured and the
// heuristic scorer otherwise.
func NewScorer(cfg *config.Config, mr *modelrouter.ModelRouter) contracts.Scorer {
	if mr == nil || !mr.Enabled() {
		return scoring.NewHeuristicScorer()
	}
	return scoring.NewLLMScorer(mr, scoring.LLMOptions{
		Timeout:     cfg.Agent.LLMTimeout,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.URL == "" {
		s := store.NewMemoryStore(cfg.DataDir)
		log.Info().Str("data_dir", cfg.DataDir).Msg("✅ In-memory store initialized")
		return s, nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	log.Info().Msg("✅ PostgreSQL store initialized")
	return pg, nil
}

// Close drains webhook deliveries and releases every backend.
func (s *Server) Close(ctx context.Context) {
	if s.webhook != nil {
		s.webhook.Close()
	}
	if err := s.Memory.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close company memory")
	}
	if err := s.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
	if err := s.shutdownTelemetry(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}
