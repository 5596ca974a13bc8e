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

package fence_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/fence"
)

func TestDenylistHardRejects(t *testing.T) {
	f := fence.New(nil, nil, 0)
	res := f.Validate("src/node_modules/pkg/index.js", 10)
	require.False(t, res.Allowed)
	require.Equal(t, fence.RuleDenylist, res.RejectedBy)
	require.False(t, res.RequiresScopeExpansion)
}

func TestNotAllowlistedRequiresScopeExpansion(t *testing.T) {
	f := fence.New(nil, nil, 0)
	res := f.Validate("random/unexpected/path.go", 10)
	require.False(t, res.Allowed)
	require.Equal(t, fence.RuleNotAllowlisted, res.RejectedBy)
	require.True(t, res.RequiresScopeExpansion)
}

func TestAllowlistedWithinSizeSucceeds(t *testing.T) {
	f := fence.New(nil, nil, 0)
	res := f.Validate("src/app/widget.go", 20)
	require.True(t, res.Allowed)
}

func TestMaxSizeRejected(t *testing.T) {
	f := fence.New(nil, nil, 5)
	res := f.Validate("src/app/widget.go", 20)
	require.False(t, res.Allowed)
	require.Equal(t, fence.RuleMaxSize, res.RejectedBy)
}

func TestExpandAllowlistPermitsPreviouslyRejectedPath(t *testing.T) {
	f := fence.New(nil, nil, 0)
	res := f.Validate("scripts/gen.go", 10)
	require.False(t, res.Allowed)

	f.ExpandAllowlist("scripts/**")
	res = f.Validate("scripts/gen.go", 10)
	require.True(t, res.Allowed)
}

func TestValidatePatternRejectsEmpty(t *testing.T) {
	require.Error(t, fence.ValidatePattern(""))
	require.NoError(t, fence.ValidatePattern("src/**"))
}
