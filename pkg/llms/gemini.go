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
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider calls Google Gemini through the official genai SDK.
type GeminiProvider struct {
	config *ProviderConfig
	client *genai.Client
}

// NewGeminiProvider creates a Gemini adapter from config.
func NewGeminiProvider(cfg *ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{config: cfg, client: client}, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) EstimateCost(usage TokenUsage) float64 {
	return CostFor(p.config.Model, usage)
}

func (p *GeminiProvider) Close() error {
	return nil
}

// Invoke sends one non-streaming generation request.
func (p *GeminiProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	genCfg := &genai.GenerateContentConfig{}

	temperature := p.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	genCfg.Temperature = genai.Ptr(float32(temperature))

	maxTokens := p.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(maxTokens)
	}

	if req.System != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}},
	}

	genResp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini generation failed: %v", ErrInvocation, err)
	}
	if len(genResp.Candidates) == 0 || genResp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: gemini returned no candidates", ErrInvocation)
	}

	var text strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	var usage TokenUsage
	if genResp.UsageMetadata != nil {
		usage = TokenUsage{
			InputTokens:  int(genResp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(genResp.UsageMetadata.TotalTokenCount),
		}
	}

	return &Response{
		Text:  text.String(),
		Model: p.config.Model,
		Usage: usage,
		Cost:  p.EstimateCost(usage),
	}, nil
}
