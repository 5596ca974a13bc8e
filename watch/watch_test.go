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

package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/watch"
)

func TestWatcherReportsModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.go")
	require.NoError(t, os.WriteFile(path, []byte("package app\n"), 0o644))

	w, err := watch.New(watch.Config{Paths: []string{path}, Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("package app\n\nfunc X() {}\n"), 0o644))

	select {
	case change := <-changes:
		require.Equal(t, path, change.Path)
		require.Equal(t, watch.ChangeModified, change.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "app.go")
	other := filepath.Join(dir, "other.go")
	require.NoError(t, os.WriteFile(watched, []byte("package app\n"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("package app\n"), 0o644))

	w, err := watch.New(watch.Config{Paths: []string{watched}, Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(other, []byte("package app\n\nfunc Y() {}\n"), 0o644))

	select {
	case change := <-changes:
		t.Fatalf("unexpected change reported for unrelated file: %+v", change)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherReportsRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.go")
	require.NoError(t, os.WriteFile(path, []byte("package app\n"), 0o644))

	w, err := watch.New(watch.Config{Paths: []string{path}, Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.Remove(path))

	select {
	case change := <-changes:
		require.Equal(t, path, change.Path)
		require.Equal(t, watch.ChangeRemoved, change.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for removal event")
	}
}

func TestStartTwiceReturnsSameChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.go")
	require.NoError(t, os.WriteFile(path, []byte("package app\n"), 0o644))

	w, err := watch.New(watch.Config{Paths: []string{path}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := w.Start(ctx)
	second := w.Start(ctx)
	require.Equal(t, first, second)
	require.NoError(t, w.Stop())
}
