package approval_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/kalyank1144/ordinex/approval"
	"github.com/kalyank1144/ordinex/eventbus"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := eventbus.NewStore(db, "sqlite")
	require.NoError(t, err)
	return eventbus.NewBus(store, nil)
}

func TestRequestResolveApproved(t *testing.T) {
	bus := newTestBus(t)
	mgr := approval.NewManager(bus)

	done := make(chan approval.Resolution, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := mgr.Request(context.Background(), approval.Request{
			TaskID:      "t1",
			Type:        approval.TypeApplyDiff,
			Description: "apply diff to src/app.ts",
		}, time.Second)
		done <- res
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return mgr.IsPending("") == false // id unknown here; just ensure goroutine scheduled
	}, time.Second, time.Millisecond)

	// Poll until the request is registered, then resolve it. We don't know
	// the generated id up front, so list via events.
	var id string
	require.Eventually(t, func() bool {
		evs, err := bus.EventsByTask(context.Background(), "t1")
		require.NoError(t, err)
		for _, ev := range evs {
			if ev.Type == eventbus.TypeApprovalRequested {
				id = ev.Payload["approval_id"].(string)
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	require.NoError(t, mgr.Resolve(id, approval.DecisionApproved, nil))

	res := <-done
	require.NoError(t, <-errCh)
	require.Equal(t, approval.DecisionApproved, res.Decision)

	evs, err := bus.EventsByTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, eventbus.TypeApprovalRequested, evs[0].Type)
	require.Equal(t, eventbus.TypeApprovalResolved, evs[1].Type)
}

func TestRequestTimeout(t *testing.T) {
	bus := newTestBus(t)
	mgr := approval.NewManager(bus)

	_, err := mgr.Request(context.Background(), approval.Request{
		TaskID: "t2",
		Type:   approval.TypeTerminal,
	}, 10*time.Millisecond)
	require.ErrorIs(t, err, approval.ErrTimeout)
}

func TestResolveUnknown(t *testing.T) {
	bus := newTestBus(t)
	mgr := approval.NewManager(bus)
	err := mgr.Resolve("does-not-exist", approval.DecisionApproved, nil)
	require.ErrorIs(t, err, approval.ErrUnknownApproval)
}

func TestCancelAll(t *testing.T) {
	bus := newTestBus(t)
	mgr := approval.NewManager(bus)

	resCh := make(chan approval.Resolution, 1)
	go func() {
		res, _ := mgr.Request(context.Background(), approval.Request{TaskID: "t3", Type: approval.TypeApplyDiff}, time.Second)
		resCh <- res
	}()

	require.Eventually(t, func() bool {
		evs, _ := bus.EventsByTask(context.Background(), "t3")
		return len(evs) == 1
	}, time.Second, time.Millisecond)

	mgr.CancelAll("t3")
	res := <-resCh
	require.Equal(t, approval.DecisionCancelled, res.Decision)
}
