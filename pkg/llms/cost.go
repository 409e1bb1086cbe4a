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
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Pricing holds USD cost per million tokens.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// modelPricing maps model-name prefixes to pricing. Longest prefix wins.
var modelPricing = map[string]Pricing{
	"claude-opus":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-sonnet":   {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-haiku":    {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"claude-3-5":      {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"gpt-4o-mini":     {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":          {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4":           {InputPerMTok: 30.00, OutputPerMTok: 60.00},
	"o1":              {InputPerMTok: 15.00, OutputPerMTok: 60.00},
	"gemini-2.0":      {InputPerMTok: 0.10, OutputPerMTok: 0.40},
	"gemini-1.5-pro":  {InputPerMTok: 1.25, OutputPerMTok: 5.00},
	"gemini-1.5":      {InputPerMTok: 0.075, OutputPerMTok: 0.30},
}

// PricingForModel returns pricing for a model by longest-prefix match.
// Unknown models (including all local Ollama models) price at zero.
func PricingForModel(model string) Pricing {
	var best string
	for prefix := range modelPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return Pricing{}
	}
	return modelPricing[best]
}

// CostFor computes USD cost for the given usage and model.
func CostFor(model string, usage TokenUsage) float64 {
	p := PricingForModel(model)
	return float64(usage.InputTokens)/1e6*p.InputPerMTok +
		float64(usage.OutputTokens)/1e6*p.OutputPerMTok
}

// TokenCounter estimates token counts for providers that do not report
// usage. Encodings are cached per model.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for a specific model, falling back
// to the cl100k_base encoding for models tiktoken does not know.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// EstimateUsage builds a TokenUsage from prompt and completion text.
func (tc *TokenCounter) EstimateUsage(prompt, completion string) TokenUsage {
	in := tc.Count(prompt)
	out := tc.Count(completion)
	return TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}
