package llms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateModel(t *testing.T) {
	tests := []struct {
		name         string
		providerType ProviderType
		model        string
		wantErr      bool
	}{
		{"anthropic claude", ProviderAnthropic, "claude-sonnet-4-20250514", false},
		{"anthropic wrong family", ProviderAnthropic, "gpt-4o", true},
		{"openai gpt", ProviderOpenAI, "gpt-4o-mini", false},
		{"openai o-series", ProviderOpenAI, "o1-preview", false},
		{"openai wrong family", ProviderOpenAI, "claude-haiku", true},
		{"gemini", ProviderGemini, "gemini-2.0-flash", false},
		{"ollama anything", ProviderOllama, "llama3.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModel(tt.providerType, tt.model)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateModel(%q, %q) error = %v, wantErr %v", tt.providerType, tt.model, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnsupportedModel) {
				t.Errorf("error should wrap ErrUnsupportedModel, got %v", err)
			}
		})
	}
}

func TestCreateProviderUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateProvider("x", &ProviderConfig{Type: "watson"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("error = %v, want ErrUnknownProvider", err)
	}
}

func TestCreateProviderRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	r := NewRegistry()
	_, err := r.CreateProvider("x", &ProviderConfig{Type: ProviderAnthropic})
	if err == nil {
		t.Fatal("anthropic provider without API key should fail")
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	tests := []struct {
		name string
		typ  ProviderType
		env  map[string]string
		want string
	}{
		{"anthropic", ProviderAnthropic, map[string]string{"ANTHROPIC_API_KEY": "sk-ant"}, "sk-ant"},
		{"openai", ProviderOpenAI, map[string]string{"OPENAI_API_KEY": "sk-oai"}, "sk-oai"},
		{"gemini primary", ProviderGemini, map[string]string{"GEMINI_API_KEY": "g1", "GOOGLE_API_KEY": "g2"}, "g1"},
		{"gemini google fallback", ProviderGemini, map[string]string{"GEMINI_API_KEY": "", "GOOGLE_API_KEY": "g2"}, "g2"},
		{"ollama needs none", ProviderOllama, map[string]string{"ANTHROPIC_API_KEY": "sk-ant"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := &ProviderConfig{Type: tt.typ}
			cfg.SetDefaults()
			if cfg.APIKey != tt.want {
				t.Errorf("APIKey = %q, want %q", cfg.APIKey, tt.want)
			}
		})
	}
}

func TestAPIKeyExplicitWinsOverEnvironment(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	cfg := &ProviderConfig{Type: ProviderAnthropic, APIKey: "from-config"}
	cfg.SetDefaults()
	if cfg.APIKey != "from-config" {
		t.Errorf("APIKey = %q, want config value to win", cfg.APIKey)
	}
}

func TestCreateProviderWithEnvironmentKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	r := NewRegistry()
	p, err := r.CreateProvider("writer", &ProviderConfig{Type: ProviderAnthropic})
	if err != nil {
		t.Fatalf("CreateProvider() error = %v", err)
	}
	if p.ModelName() == "" {
		t.Error("ModelName() is empty")
	}
}

func TestCreateProviderRegistersAndLooksUp(t *testing.T) {
	r := NewRegistry()
	p, err := r.CreateProvider("local", &ProviderConfig{Type: ProviderOllama})
	if err != nil {
		t.Fatalf("CreateProvider() error = %v", err)
	}

	got, err := r.GetProvider("local")
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if got != p {
		t.Error("GetProvider returned a different instance")
	}

	if _, err := r.GetProvider("missing"); err == nil {
		t.Error("GetProvider(missing) should fail")
	}
}

func TestPricingForModel(t *testing.T) {
	tests := []struct {
		model     string
		wantInput float64
	}{
		{"claude-sonnet-4-20250514", 3.00},
		{"claude-opus-4-20250514", 15.00},
		{"gpt-4o-mini-2024-07-18", 0.15},
		{"gpt-4o-2024-08-06", 2.50},
		{"gemini-2.0-flash", 0.10},
		{"llama3.1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p := PricingForModel(tt.model)
			if p.InputPerMTok != tt.wantInput {
				t.Errorf("PricingForModel(%q).InputPerMTok = %v, want %v", tt.model, p.InputPerMTok, tt.wantInput)
			}
		})
	}
}

func TestCostFor(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	got := CostFor("claude-sonnet-4-20250514", usage)
	if got != 18.00 {
		t.Errorf("CostFor() = %v, want 18.00", got)
	}
}

func TestAnthropicInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "you are a PM" {
			t.Errorf("system = %q", req.System)
		}

		json.NewEncoder(w).Encode(anthropicResponse{
			Model:   req.Model,
			Content: []anthropicContent{{Type: "text", Text: "drafted"}},
			Usage:   anthropicUsage{InputTokens: 100, OutputTokens: 50},
		})
	}))
	defer server.Close()

	cfg := &ProviderConfig{Type: ProviderAnthropic, APIKey: "test-key", BaseURL: server.URL}
	cfg.SetDefaults()
	p, err := NewAnthropicProvider(cfg)
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	resp, err := p.Invoke(context.Background(), Request{System: "you are a PM", Prompt: "write a PRD"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Text != "drafted" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 150 {
		t.Errorf("total tokens = %d, want 150", resp.Usage.TotalTokens)
	}
	if resp.Cost <= 0 {
		t.Errorf("cost = %v, want > 0", resp.Cost)
	}
}

func TestAnthropicInvokeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(anthropicResponse{
			Error: &anthropicError{Type: "invalid_request_error", Message: "bad prompt"},
		})
	}))
	defer server.Close()

	cfg := &ProviderConfig{Type: ProviderAnthropic, APIKey: "k", BaseURL: server.URL}
	cfg.SetDefaults()
	p, _ := NewAnthropicProvider(cfg)

	_, err := p.Invoke(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrInvocation) {
		t.Errorf("error = %v, want ErrInvocation", err)
	}
}

func TestOpenAIInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}

		json.NewEncoder(w).Encode(openAIResponse{
			Model: "gpt-4o",
			Choices: []openAIChoice{
				{Message: openAIMessage{Role: "assistant", Content: "reviewed"}},
			},
			Usage: openAIUsage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30},
		})
	}))
	defer server.Close()

	cfg := &ProviderConfig{Type: ProviderOpenAI, APIKey: "test-key", BaseURL: server.URL}
	cfg.SetDefaults()
	p, err := NewOpenAIProvider(cfg)
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}

	resp, err := p.Invoke(context.Background(), Request{Prompt: "review this"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Text != "reviewed" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 30 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}
}

func TestOllamaInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ollamaResponse{
			Model:           "llama3.1",
			Response:        "local answer",
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       8,
		})
	}))
	defer server.Close()

	cfg := &ProviderConfig{Type: ProviderOllama, BaseURL: server.URL}
	cfg.SetDefaults()
	p, err := NewOllamaProvider(cfg)
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}

	resp, err := p.Invoke(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Text != "local answer" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 20 {
		t.Errorf("total tokens = %d, want 20", resp.Usage.TotalTokens)
	}
	if resp.Cost != 0 {
		t.Errorf("local cost = %v, want 0", resp.Cost)
	}
}

func TestTokenCounterFallback(t *testing.T) {
	tc, err := NewTokenCounter("some-unknown-model")
	if err != nil {
		t.Fatalf("NewTokenCounter() error = %v", err)
	}
	if tc.Count("hello world") == 0 {
		t.Error("Count() returned 0 for non-empty text")
	}
}
