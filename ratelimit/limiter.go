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

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config configures a DefaultRateLimiter.
type Config struct {
	Enabled bool
	Limits  []LimitRule
}

// DefaultRateLimiter is the standard RateLimiter implementation:
// check-then-record under one lock, so CheckAndRecord never races with
// itself.
type DefaultRateLimiter struct {
	config *Config
	store  Store
	mu     sync.Mutex
}

// NewRateLimiter builds a DefaultRateLimiter over the given store.
func NewRateLimiter(cfg *Config, store Store) (*DefaultRateLimiter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ratelimit: config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}
	for i, limit := range cfg.Limits {
		if limit.Type == "" {
			return nil, fmt.Errorf("ratelimit: limit[%d]: type is required", i)
		}
		if limit.Window == "" {
			return nil, fmt.Errorf("ratelimit: limit[%d]: window is required", i)
		}
		if limit.Limit <= 0 {
			return nil, fmt.Errorf("ratelimit: limit[%d]: limit must be positive", i)
		}
	}
	return &DefaultRateLimiter{config: cfg, store: store}, nil
}

// Check reports whether a call for identifier (e.g. a model name)
// would be within every configured limit, without recording anything.
func (rl *DefaultRateLimiter) Check(ctx context.Context, scope Scope, identifier string) (*CheckResult, error) {
	if !rl.config.Enabled {
		return &CheckResult{Allowed: true}, nil
	}
	if identifier == "" {
		return nil, fmt.Errorf("ratelimit: identifier cannot be empty")
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.checkUnlocked(ctx, scope, identifier)
}

// Record records token and/or request usage without checking limits
// first.
func (rl *DefaultRateLimiter) Record(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) error {
	if !rl.config.Enabled {
		return nil
	}
	if identifier == "" {
		return fmt.Errorf("ratelimit: identifier cannot be empty")
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.recordUnlocked(ctx, scope, identifier, tokenCount, requestCount)
}

// CheckAndRecord atomically checks every limit against the usage so far
// and, if all pass, records this call's usage, then checks again and
// returns that second result. A denial by the first check records
// nothing; a call whose own usage takes a limit past its cap is recorded
// and reported as denied. llmclient calls this immediately before
// dispatching a request.
func (rl *DefaultRateLimiter) CheckAndRecord(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) (*CheckResult, error) {
	if !rl.config.Enabled {
		return &CheckResult{Allowed: true}, nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	result, err := rl.checkUnlocked(ctx, scope, identifier)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, nil
	}
	if err := rl.recordUnlocked(ctx, scope, identifier, tokenCount, requestCount); err != nil {
		return nil, fmt.Errorf("ratelimit: failed to record usage: %w", err)
	}
	return rl.checkUnlocked(ctx, scope, identifier)
}

// GetUsage returns current usage for every configured limit.
func (rl *DefaultRateLimiter) GetUsage(ctx context.Context, scope Scope, identifier string) ([]Usage, error) {
	if !rl.config.Enabled {
		return []Usage{}, nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	result, err := rl.checkUnlocked(ctx, scope, identifier)
	if err != nil {
		return nil, err
	}
	return result.Usages, nil
}

// Reset clears all usage for an identifier.
func (rl *DefaultRateLimiter) Reset(ctx context.Context, scope Scope, identifier string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.store.DeleteUsage(ctx, scope, identifier)
}

// ResetExpired prunes usage records whose window has already ended.
func (rl *DefaultRateLimiter) ResetExpired(ctx context.Context, before time.Time) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.store.DeleteExpired(ctx, before)
}

func (rl *DefaultRateLimiter) checkUnlocked(ctx context.Context, scope Scope, identifier string) (*CheckResult, error) {
	result := &CheckResult{Allowed: true, Usages: make([]Usage, 0, len(rl.config.Limits))}
	now := time.Now()
	var earliestRetry *time.Time

	for _, limit := range rl.config.Limits {
		current, windowEnd, err := rl.store.GetUsage(ctx, scope, identifier, limit.Type, limit.Window)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: failed to get usage for %s/%s: %w", limit.Type, limit.Window, err)
		}
		if windowEnd.Before(now) {
			current = 0
			windowEnd = now.Add(limit.Window.Duration())
		}
		remaining := limit.Limit - current
		if remaining < 0 {
			remaining = 0
		}
		usage := Usage{
			LimitType: limit.Type, Window: limit.Window, Current: current,
			Limit: limit.Limit, WindowEnd: windowEnd, Remaining: remaining,
			Percentage: float64(current) / float64(limit.Limit) * 100,
		}
		result.Usages = append(result.Usages, usage)

		if current > limit.Limit {
			result.Allowed = false
			if result.Reason == "" {
				result.Reason = fmt.Sprintf("%s limit exceeded for %s window (%d/%d)",
					limit.Type, limit.Window, current, limit.Limit)
			}
			if earliestRetry == nil || windowEnd.Before(*earliestRetry) {
				earliestRetry = &windowEnd
			}
		}
	}

	if !result.Allowed && earliestRetry != nil {
		if d := time.Until(*earliestRetry); d > 0 {
			result.RetryAfter = &d
		}
	}
	return result, nil
}

func (rl *DefaultRateLimiter) recordUnlocked(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) error {
	now := time.Now()
	for _, limit := range rl.config.Limits {
		var amount int64
		switch limit.Type {
		case LimitTypeTokens:
			amount = tokenCount
		case LimitTypeRequests:
			amount = requestCount
		default:
			continue
		}
		if amount <= 0 {
			continue
		}

		_, windowEnd, err := rl.store.GetUsage(ctx, scope, identifier, limit.Type, limit.Window)
		if err != nil {
			return fmt.Errorf("ratelimit: failed to get usage for %s/%s: %w", limit.Type, limit.Window, err)
		}
		if windowEnd.Before(now) {
			windowEnd = now.Add(limit.Window.Duration())
			if err := rl.store.SetUsage(ctx, scope, identifier, limit.Type, limit.Window, amount, windowEnd); err != nil {
				return fmt.Errorf("ratelimit: failed to reset usage for %s/%s: %w", limit.Type, limit.Window, err)
			}
			continue
		}
		if _, _, err := rl.store.IncrementUsage(ctx, scope, identifier, limit.Type, limit.Window, amount); err != nil {
			return fmt.Errorf("ratelimit: failed to increment usage for %s/%s: %w", limit.Type, limit.Window, err)
		}
	}
	return nil
}

// IsEnabled reports whether rate limiting is active.
func (rl *DefaultRateLimiter) IsEnabled() bool {
	return rl.config.Enabled
}
