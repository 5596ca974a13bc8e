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

package ratelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/ratelimit"
)

func newLimiter(t *testing.T, limits ...ratelimit.LimitRule) *ratelimit.DefaultRateLimiter {
	t.Helper()
	store := ratelimit.NewMemoryStore()
	limiter, err := ratelimit.NewRateLimiter(&ratelimit.Config{Enabled: true, Limits: limits}, store)
	require.NoError(t, err)
	return limiter
}

func TestCheckAndRecordAllowsWithinLimit(t *testing.T) {
	limiter := newLimiter(t, ratelimit.LimitRule{Type: ratelimit.LimitTypeTokens, Window: ratelimit.WindowMinute, Limit: 100})
	ctx := context.Background()

	result, err := limiter.CheckAndRecord(ctx, ratelimit.ScopeProvider, "claude-3-5-sonnet", 50, 1)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = limiter.CheckAndRecord(ctx, ratelimit.ScopeProvider, "claude-3-5-sonnet", 40, 1)
	require.NoError(t, err)
	require.True(t, result.Allowed)
}

func TestCheckAndRecordDeniesOverLimit(t *testing.T) {
	limiter := newLimiter(t, ratelimit.LimitRule{Type: ratelimit.LimitTypeTokens, Window: ratelimit.WindowMinute, Limit: 100})
	ctx := context.Background()

	_, err := limiter.CheckAndRecord(ctx, ratelimit.ScopeProvider, "claude-3-5-sonnet", 90, 1)
	require.NoError(t, err)

	result, err := limiter.CheckAndRecord(ctx, ratelimit.ScopeProvider, "claude-3-5-sonnet", 20, 1)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.NotEmpty(t, result.Reason)
}

func TestCheckAndRecordIsPerIdentifier(t *testing.T) {
	limiter := newLimiter(t, ratelimit.LimitRule{Type: ratelimit.LimitTypeRequests, Window: ratelimit.WindowMinute, Limit: 1})
	ctx := context.Background()

	r1, err := limiter.CheckAndRecord(ctx, ratelimit.ScopeProvider, "model-a", 0, 1)
	require.NoError(t, err)
	require.True(t, r1.Allowed)

	r2, err := limiter.CheckAndRecord(ctx, ratelimit.ScopeProvider, "model-b", 0, 1)
	require.NoError(t, err)
	require.True(t, r2.Allowed)
}

func TestResetClearsUsage(t *testing.T) {
	limiter := newLimiter(t, ratelimit.LimitRule{Type: ratelimit.LimitTypeRequests, Window: ratelimit.WindowMinute, Limit: 1})
	ctx := context.Background()

	_, err := limiter.CheckAndRecord(ctx, ratelimit.ScopeProvider, "model-a", 0, 1)
	require.NoError(t, err)

	require.NoError(t, limiter.Reset(ctx, ratelimit.ScopeProvider, "model-a"))

	result, err := limiter.CheckAndRecord(ctx, ratelimit.ScopeProvider, "model-a", 0, 1)
	require.NoError(t, err)
	require.True(t, result.Allowed)
}

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	limiter, err := ratelimit.NewRateLimiter(&ratelimit.Config{Enabled: false}, store)
	require.NoError(t, err)

	result, err := limiter.CheckAndRecord(context.Background(), ratelimit.ScopeProvider, "model-a", 1_000_000, 1_000_000)
	require.NoError(t, err)
	require.True(t, result.Allowed)
}
