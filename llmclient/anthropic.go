// Copyright 2025 Kadir Pekel
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

package llmclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kalyank1144/ordinex/ratelimit"
)

// ErrRateLimited is returned by AnthropicClient.Complete when the
// provider throughput guard (ratelimit) denies the call before it ever
// reaches the network.
var ErrRateLimited = errors.New("llmclient: provider rate limit exceeded")

const defaultMaxTokens = 4096

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
}

// AnthropicClient adapts anthropic-sdk-go to the Client interface,
// gating every call through a ratelimit.RateLimiter keyed on the model
// name (ratelimit.ScopeProvider) before it reaches the network.
type AnthropicClient struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
	temp      *float64
	limiter   ratelimit.RateLimiter
}

// NewAnthropicClient constructs an AnthropicClient. limiter may be nil,
// in which case calls are never throttled (matches ratelimit's
// nil-is-a-noop convention used elsewhere in this module).
func NewAnthropicClient(cfg AnthropicConfig, limiter ratelimit.RateLimiter) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmclient: anthropic api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicClient{
		sdk:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     model,
		maxTokens: int64(maxTokens),
		temp:      cfg.Temperature,
		limiter:   limiter,
	}, nil
}

// Model returns the configured model identifier.
func (c *AnthropicClient) Model() string { return c.model }

// Complete sends req to Anthropic's Messages API, translating the
// response into this package's provider-neutral Response shape.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		estimatedTokens := estimateTokens(req)
		result, err := c.limiter.CheckAndRecord(ctx, ratelimit.ScopeProvider, c.model, estimatedTokens, 1)
		if err != nil {
			return nil, fmt.Errorf("llmclient: rate limit check failed: %w", err)
		}
		if !result.Allowed {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, result.Reason)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	temp := req.Temperature
	if temp == nil {
		temp = c.temp
	}
	if temp != nil {
		params.Temperature = anthropic.Float(*temp)
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llmclient: anthropic request failed: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text: text,
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		StopReason: toStopReason(string(msg.StopReason)),
	}, nil
}

func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			// RoleSystem messages are folded into params.System by the
			// caller; anything else (including RoleUser) is a user turn.
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func toStopReason(reason string) StopReason {
	switch reason {
	case "max_tokens":
		return StopMaxTokens
	case "stop_sequence":
		return StopStopSequence
	default:
		return StopEndTurn
	}
}

// estimateTokens is a cheap pre-call estimate (roughly four characters
// per token, a common rule of thumb before a real usage figure is
// available) used only to decide whether the call would exceed the
// configured throughput budget; the limiter is not re-recorded with the
// real usage figure afterwards, so a systematic under-estimate only
// delays — never defeats — the guard.
func estimateTokens(req Request) int64 {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return int64(chars/4) + int64(maxTokens)
}
