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

// Package llmclient is the LLM collaborator interface: a single
// non-streaming request/response call. None of this engine's own
// callers (judge, repair's diagnose/propose, llmedit) need partial-token
// streaming or multi-turn chat history persistence — each is a single
// bounded call that wants back one block of text plus token usage — so
// the interface is trimmed to Complete(ctx, Request) (*Response, error).
package llmclient

import "context"

// Role is the speaker of one message in a request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a Request's conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is one bounded, non-streaming LLM call.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Usage is the token accounting for one call, used for cost
// observability (observability.Metrics.RecordLLMTokens). The provider
// throughput guard (ratelimit) is fed a pre-call estimate, not this
// figure.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StopReason mirrors the provider's reason the response ended, narrowed
// to the values callers actually branch on.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Response is the result of a Complete call.
type Response struct {
	Text       string
	Usage      Usage
	StopReason StopReason
}

// Truncated reports whether the provider cut the response off for
// hitting its token ceiling rather than finishing naturally — this is
// what llmedit's truncation detector keys off of.
func (r *Response) Truncated() bool {
	return r.StopReason == StopMaxTokens
}

// Client is the collaborator interface every caller in this module
// depends on. Callers with a deterministic fallback (judge, repair's
// diagnose step) use it on any error from Complete rather than fail the
// mission outright when the LLM is unavailable.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Model() string
}
