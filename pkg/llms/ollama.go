// Copyright 2025 BMAD Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bmad-labs/bmad/pkg/httpclient"
)

const ollamaDefaultHost = "http://localhost:11434"

// OllamaProvider calls a local Ollama server. Local invocations cost
// nothing; usage is still reported for accounting, estimated with a
// token counter when the server omits eval counts.
type OllamaProvider struct {
	config     *ProviderConfig
	httpClient *httpclient.Client
	counter    *TokenCounter
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// NewOllamaProvider creates an Ollama adapter from config.
func NewOllamaProvider(cfg *ProviderConfig) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ollamaDefaultHost
	}

	counter, err := NewTokenCounter(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}

	return &OllamaProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		),
		counter: counter,
	}, nil
}

func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

// EstimateCost always returns zero for local models.
func (p *OllamaProvider) EstimateCost(usage TokenUsage) float64 {
	return 0
}

func (p *OllamaProvider) Close() error {
	return nil
}

// Invoke sends one non-streaming generate request.
func (p *OllamaProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	temperature := p.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := p.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	apiReq := ollamaRequest{
		Model:  p.config.Model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: &ollamaOptions{
			Temperature: temperature,
			NumPredict:  maxTokens,
		},
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.config.BaseURL, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if apiResp.Error != "" {
		return nil, fmt.Errorf("%w: ollama error: %s", ErrInvocation, apiResp.Error)
	}

	usage := TokenUsage{
		InputTokens:  apiResp.PromptEvalCount,
		OutputTokens: apiResp.EvalCount,
	}
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage = p.counter.EstimateUsage(req.System+req.Prompt, apiResp.Response)
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &Response{
		Text:  apiResp.Response,
		Model: apiResp.Model,
		Usage: usage,
		Cost:  0,
	}, nil
}
