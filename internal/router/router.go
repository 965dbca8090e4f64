// Package router sends chat-completion requests to the configured LLM
// provider.
//
// The router speaks the OpenAI-compatible chat completions API (openai,
// azure-openai, ollama, and any generic compatible gateway) and the
// Anthropic Messages API. It tracks a rolling latency average and token
// usage totals per provider.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leadgate/leadgate/internal/config"
	"github.com/leadgate/leadgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// ModelRouter routes chat requests to a single configured provider.
type ModelRouter struct {
	cfg    config.LLMConfig
	client *http.Client

	mu        sync.RWMutex
	latencyMs int64
	usage     models.TokenUsage
	calls     int64
}

// NewModelRouter creates a router for the given provider configuration.
// Request deadlines come from the caller's context.
func NewModelRouter(cfg config.LLMConfig) *ModelRouter {
	return &ModelRouter{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// Enabled reports whether a provider is configured.
func (mr *ModelRouter) Enabled() bool {
	return mr.cfg.Provider != "" && mr.cfg.Provider != "none"
}

// Provider returns the configured provider kind.
func (mr *ModelRouter) Provider() string { return mr.cfg.Provider }

// Complete sends req to the configured provider and returns its reply.
func (mr *ModelRouter) Complete(ctx context.Context, req *models.RouteRequest) (*models.RouteResponse, error) {
	if !mr.Enabled() {
		return nil, fmt.Errorf("no model provider configured")
	}
	start := time.Now()

	model := req.Model
	if model == "" {
		model = mr.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = mr.cfg.MaxTokens
	}

	var resp *models.RouteResponse
	var err error
	switch mr.cfg.Provider {
	case "anthropic":
		resp, err = mr.callAnthropic(ctx, model, maxTokens, req)
	case "ollama":
		resp, err = mr.callOpenAI(ctx, "http://localhost:11434/v1", model, maxTokens, req)
	default:
		// openai, azure-openai, or a generic OpenAI-compatible gateway
		resp, err = mr.callOpenAI(ctx, "https://api.openai.com/v1", model, maxTokens, req)
	}
	if err != nil {
		log.Warn().
			Str("provider", mr.cfg.Provider).
			Str("model", model).
			Err(err).
			Msg("Provider call failed")
		return nil, err
	}

	resp.LatencyMs = time.Since(start).Milliseconds()
	mr.record(resp)
	return resp, nil
}

func (mr *ModelRouter) record(resp *models.RouteResponse) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if mr.latencyMs == 0 {
		mr.latencyMs = resp.LatencyMs
	} else {
		// Exponential moving average
		mr.latencyMs = (mr.latencyMs*7 + resp.LatencyMs*3) / 10
	}
	mr.calls++
	mr.usage.InputTokens += resp.Usage.InputTokens
	mr.usage.OutputTokens += resp.Usage.OutputTokens
	mr.usage.TotalTokens += resp.Usage.TotalTokens
}

// Stats is a snapshot of router activity.
type Stats struct {
	Provider     string            `json:"provider"`
	Model        string            `json:"model"`
	Calls        int64             `json:"calls"`
	AvgLatencyMs int64             `json:"avg_latency_ms"`
	Usage        models.TokenUsage `json:"usage"`
}

// Stats returns call count, rolling latency, and accumulated token usage.
func (mr *ModelRouter) Stats() Stats {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return Stats{
		Provider:     mr.cfg.Provider,
		Model:        mr.cfg.Model,
		Calls:        mr.calls,
		AvgLatencyMs: mr.latencyMs,
		Usage:        mr.usage,
	}
}

// ── OpenAI-compatible Provider ──────────────────────────────

type openAIRequest struct {
	Model          string               `json:"model"`
	Messages       []models.ChatMessage `json:"messages"`
	Temperature    float64              `json:"temperature"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (mr *ModelRouter) callOpenAI(ctx context.Context, defaultEndpoint, model string, maxTokens int, req *models.RouteRequest) (*models.RouteResponse, error) {
	endpoint := strings.TrimRight(mr.cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	kind := mr.cfg.Provider
	if kind != "ollama" && mr.cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api_key not configured", kind)
	}

	payload := openAIRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, _ := json.Marshal(payload)

	url := endpoint + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", kind, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Azure OpenAI uses a different auth header
	switch {
	case kind == "azure-openai":
		httpReq.Header.Set("api-key", mr.cfg.APIKey)
	case mr.cfg.APIKey != "":
		httpReq.Header.Set("Authorization", "Bearer "+mr.cfg.APIKey)
	}

	httpResp, err := mr.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", kind, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("%s: status %d: %s", kind, httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", kind, err)
	}

	content := ""
	if len(oaiResp.Choices) > 0 {
		content = oaiResp.Choices[0].Message.Content
	}
	id := oaiResp.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &models.RouteResponse{
		ID:       id,
		Provider: kind,
		Model:    model,
		Content:  content,
		Usage: models.TokenUsage{
			InputTokens:  oaiResp.Usage.PromptTokens,
			OutputTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:  oaiResp.Usage.TotalTokens,
		},
	}, nil
}

// ── Anthropic Provider ──────────────────────────────────────

type anthropicRequest struct {
	Model       string               `json:"model"`
	System      string               `json:"system,omitempty"`
	Messages    []models.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature float64              `json:"temperature"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (mr *ModelRouter) callAnthropic(ctx context.Context, model string, maxTokens int, req *models.RouteRequest) (*models.RouteResponse, error) {
	endpoint := strings.TrimRight(mr.cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	if mr.cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api_key not configured")
	}

	// The Messages API takes the system prompt out of band.
	var system []string
	var messages []models.ChatMessage
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, m)
	}

	body, _ := json.Marshal(anthropicRequest{
		Model:       model,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})

	url := endpoint + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", mr.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := mr.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anthResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	content := ""
	for _, c := range anthResp.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}

	return &models.RouteResponse{
		ID:       anthResp.ID,
		Provider: "anthropic",
		Model:    model,
		Content:  content,
		Usage: models.TokenUsage{
			InputTokens:  anthResp.Usage.InputTokens,
			OutputTokens: anthResp.Usage.OutputTokens,
			TotalTokens:  anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
		},
	}, nil
}
