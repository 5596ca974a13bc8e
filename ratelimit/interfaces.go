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
	"time"
)

// RateLimiter throttles calls to an external provider. Implementations
// must be safe for concurrent use.
type RateLimiter interface {
	Check(ctx context.Context, scope Scope, identifier string) (*CheckResult, error)
	Record(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) error
	CheckAndRecord(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) (*CheckResult, error)
	GetUsage(ctx context.Context, scope Scope, identifier string) ([]Usage, error)
	Reset(ctx context.Context, scope Scope, identifier string) error
	ResetExpired(ctx context.Context, before time.Time) error
}

// Store is the persistence layer behind a RateLimiter. Implementations
// must be safe for concurrent use.
type Store interface {
	GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error)
	IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error)
	SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error
	DeleteUsage(ctx context.Context, scope Scope, identifier string) error
	DeleteExpired(ctx context.Context, before time.Time) error
	Close() error
}

var (
	_ RateLimiter = (*DefaultRateLimiter)(nil)
	_ Store       = (*MemoryStore)(nil)
	_ Store       = (*SQLStore)(nil)
)
