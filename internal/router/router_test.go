package router_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leadgate/leadgate/internal/config"
	"github.com/leadgate/leadgate/internal/router"
	"github.com/leadgate/leadgate/pkg/models"
)

func newTestRouter(t *testing.T, provider string, h http.HandlerFunc) *router.ModelRouter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return router.NewModelRouter(config.LLMConfig{
		Provider:  provider,
		Endpoint:  srv.URL,
		APIKey:    "test-key",
		Model:     "test-model",
		MaxTokens: 256,
	})
}

func TestComplete_OpenAI(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	mr := newTestRouter(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"cmpl-1","choices":[{"message":{"content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	})

	resp, err := mr.Complete(context.Background(), &models.RouteRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q, want /chat/completions", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want Bearer test-key", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v, want test-model", gotBody["model"])
	}
	if _, ok := gotBody["response_format"]; !ok {
		t.Error("response_format missing with JSONMode=true")
	}
	if resp.Content != `{"ok":true}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Usage.TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}

	stats := mr.Stats()
	if stats.Calls != 1 || stats.Usage.TotalTokens != 15 {
		t.Errorf("Stats() = %+v, want 1 call / 15 tokens", stats)
	}
}

func TestComplete_AnthropicSplitsSystemPrompt(t *testing.T) {
	var gotKey string
	var gotBody struct {
		System   string               `json:"system"`
		Messages []models.ChatMessage `json:"messages"`
	}
	mr := newTestRouter(t, "anthropic", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"hello"}],"usage":{"input_tokens":3,"output_tokens":2}}`))
	})

	resp, err := mr.Complete(context.Background(), &models.RouteRequest{
		Messages: []models.ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("x-api-key = %q, want test-key", gotKey)
	}
	if gotBody.System != "be brief" {
		t.Errorf("system = %q, want %q", gotBody.System, "be brief")
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0].Role != "user" {
		t.Errorf("messages = %+v, want only the user message", gotBody.Messages)
	}
	if resp.Content != "hello" || resp.Usage.TotalTokens != 5 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestComplete_ErrorStatus(t *testing.T) {
	mr := newTestRouter(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	if _, err := mr.Complete(context.Background(), &models.RouteRequest{}); err == nil {
		t.Fatal("Complete() expected error for 502")
	}
}

func TestComplete_ContextDeadline(t *testing.T) {
	mr := newTestRouter(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := mr.Complete(ctx, &models.RouteRequest{}); err == nil {
		t.Fatal("Complete() expected deadline error")
	}
}

func TestComplete_Disabled(t *testing.T) {
	mr := router.NewModelRouter(config.LLMConfig{Provider: "none"})
	if mr.Enabled() {
		t.Error("Enabled() = true for provider none")
	}
	if _, err := mr.Complete(context.Background(), &models.RouteRequest{}); err == nil {
		t.Error("Complete() expected error when disabled")
	}
}
