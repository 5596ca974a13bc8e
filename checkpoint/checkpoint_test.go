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

package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/checkpoint"
)

func newTestManager(t *testing.T) *checkpoint.Manager {
	t.Helper()
	storage, err := checkpoint.NewStorage(t.TempDir())
	require.NoError(t, err)
	return checkpoint.NewManager(storage, nil)
}

func TestCreateAndRestoreOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.go")
	require.NoError(t, os.WriteFile(path, []byte("package app\n"), 0o644))

	mgr := newTestManager(t)
	state, err := mgr.Create(context.Background(), "t1", checkpoint.OriginEdit, []string{path})
	require.NoError(t, err)
	require.Len(t, state.Files, 1)
	require.True(t, state.Files[0].ExistedBefore)

	require.NoError(t, os.WriteFile(path, []byte("package app\n\nfunc broken() {\n"), 0o644))

	require.NoError(t, mgr.Restore(context.Background(), state.CheckpointID))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "package app\n", string(got))
}

func TestCreateAndRestoreDeletesNewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.go")

	mgr := newTestManager(t)
	state, err := mgr.Create(context.Background(), "t1", checkpoint.OriginEdit, []string{path})
	require.NoError(t, err)
	require.False(t, state.Files[0].ExistedBefore)

	require.NoError(t, os.WriteFile(path, []byte("package app\n"), 0o644))
	require.NoError(t, mgr.Restore(context.Background(), state.CheckpointID))

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestPreviewRestoreShowsDiffWithoutMutating(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.go")
	require.NoError(t, os.WriteFile(path, []byte("line one\n"), 0o644))

	mgr := newTestManager(t)
	state, err := mgr.Create(context.Background(), "t1", checkpoint.OriginEdit, []string{path})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("line one changed\n"), 0o644))

	diffs, err := mgr.PreviewRestore(state.CheckpointID)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.NotEmpty(t, diffs[0].UnifiedDiff)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "line one changed\n", string(got))
}

func TestPruneRemovesExpiredOnly(t *testing.T) {
	storage, err := checkpoint.NewStorage(t.TempDir())
	require.NoError(t, err)
	mgr := checkpoint.NewManager(storage, nil)

	dir := t.TempDir()
	path := filepath.Join(dir, "app.go")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	fresh, err := mgr.Create(context.Background(), "t1", checkpoint.OriginMission, []string{path})
	require.NoError(t, err)

	removed, err := mgr.Prune(time.Now().UTC(), 0)
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	removed, err = mgr.Prune(time.Now().UTC().Add(49*time.Hour), 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = storage.Load(fresh.CheckpointID)
	require.Error(t, err)
}

func TestPruneEvictsOldestAutoCheckpointsOverCap(t *testing.T) {
	storage, err := checkpoint.NewStorage(t.TempDir())
	require.NoError(t, err)
	mgr := checkpoint.NewManager(storage, nil)

	dir := t.TempDir()
	var autoIDs []string
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, "app.go")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		cp, err := mgr.Create(context.Background(), "t1", checkpoint.OriginEdit, []string{path})
		require.NoError(t, err)
		autoIDs = append(autoIDs, cp.CheckpointID)
		time.Sleep(time.Millisecond)
	}
	userCP, err := mgr.Create(context.Background(), "t1", checkpoint.OriginUser, []string{filepath.Join(dir, "app.go")})
	require.NoError(t, err)

	removed, err := mgr.Prune(time.Now().UTC(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	// The two oldest auto checkpoints are gone; the newest auto one and the
	// user-created one survive.
	_, err = storage.Load(autoIDs[0])
	require.Error(t, err)
	_, err = storage.Load(autoIDs[1])
	require.Error(t, err)
	_, err = storage.Load(autoIDs[2])
	require.NoError(t, err)
	_, err = storage.Load(userCP.CheckpointID)
	require.NoError(t, err)
}

func TestStatsCountsRecoverableAndExpired(t *testing.T) {
	storage, err := checkpoint.NewStorage(t.TempDir())
	require.NoError(t, err)
	mgr := checkpoint.NewManager(storage, nil)

	dir := t.TempDir()
	path := filepath.Join(dir, "app.go")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err = mgr.Create(context.Background(), "t1", checkpoint.OriginEdit, []string{path})
	require.NoError(t, err)

	stats, err := mgr.Stats(time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.Recoverable)
	require.Equal(t, 0, stats.Expired)
}
