// Package approval implements the approval manager: a typed
// request/await/resolve protocol correlated by approval id, suspending the
// caller until the editor frontend resolves the decision. Resolution is
// channel-per-key registration with a timeout, the same shape as a
// pending-status-now-decision-later human-in-the-loop gate.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalyank1144/ordinex/eventbus"
)

// Type is the kind of decision being requested.
type Type string

const (
	TypeTerminal        Type = "terminal"
	TypeApplyDiff       Type = "apply_diff"
	TypeScopeExpansion  Type = "scope_expansion"
	TypePlanApproval    Type = "plan_approval"
	TypeVisionConsent   Type = "vision_consent"
)

// Decision is the resolution of a pending approval.
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionDenied    Decision = "denied"
	DecisionCancelled Decision = "cancelled"
)

// Request describes one thing awaiting a human decision.
type Request struct {
	ApprovalID  string
	TaskID      string
	Type        Type
	Description string
	Context     map[string]any
}

// Resolution is what the editor frontend (or a cancellation) provides back.
type Resolution struct {
	ApprovalID string
	Decision   Decision
	Metadata   map[string]any
}

var (
	// ErrTimeout is returned by Request when no resolution arrives before the
	// deadline.
	ErrTimeout = errors.New("approval: timed out waiting for decision")
	// ErrUnknownApproval is returned by Resolve when no request is pending
	// under the given id.
	ErrUnknownApproval = errors.New("approval: no pending request with that id")
)

type pending struct {
	req Request
	ch  chan Resolution
}

// Manager owns the in-memory set of pending approvals for a process. The
// set itself is not persisted separately — it is rebuildable from the
// event log ("approval_requested" with no matching "approval_resolved"
// is still pending) — but the live channels used to unblock an
// in-process Request call cannot be reconstructed across a restart, so a
// Request in flight at a crash never returns a decision; continuing after
// recovery takes a new Request (mission.Recover only derives the paused
// state and does not issue one).
type Manager struct {
	bus *eventbus.Bus

	mu      sync.Mutex
	pendings map[string]*pending
}

// NewManager constructs an approval Manager publishing through bus.
func NewManager(bus *eventbus.Bus) *Manager {
	return &Manager{bus: bus, pendings: make(map[string]*pending)}
}

// Request publishes approval_requested and suspends the caller until
// Resolve is called for the same approval id, the context is cancelled, or
// timeout elapses (0 means wait indefinitely until ctx is done).
func (m *Manager) Request(ctx context.Context, req Request, timeout time.Duration) (Resolution, error) {
	if req.ApprovalID == "" {
		req.ApprovalID = uuid.NewString()
	}

	ch := make(chan Resolution, 1)
	m.mu.Lock()
	m.pendings[req.ApprovalID] = &pending{req: req, ch: ch}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pendings, req.ApprovalID)
		m.mu.Unlock()
	}()

	if _, err := m.bus.Publish(ctx, eventbus.Event{
		TaskID: req.TaskID,
		Type:   eventbus.TypeApprovalRequested,
		Stage:  eventbus.StageNone,
		Payload: map[string]any{
			"approval_id": req.ApprovalID,
			"type":        string(req.Type),
			"description": req.Description,
			"context":     req.Context,
		},
	}); err != nil {
		return Resolution{}, fmt.Errorf("approval: failed to publish approval_requested: %w", err)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ctx.Done():
		return m.cancelLocked(ctx, req, DecisionCancelled)
	case <-timeoutCh:
		return Resolution{}, ErrTimeout
	case res := <-ch:
		if _, err := m.bus.Publish(ctx, eventbus.Event{
			TaskID: req.TaskID,
			Type:   eventbus.TypeApprovalResolved,
			Stage:  eventbus.StageNone,
			Payload: map[string]any{
				"approval_id": res.ApprovalID,
				"decision":    string(res.Decision),
				"metadata":    res.Metadata,
			},
		}); err != nil {
			return res, fmt.Errorf("approval: failed to publish approval_resolved: %w", err)
		}
		return res, nil
	}
}

func (m *Manager) cancelLocked(ctx context.Context, req Request, decision Decision) (Resolution, error) {
	res := Resolution{ApprovalID: req.ApprovalID, Decision: decision}
	// Best-effort: the task's own context is already cancelled, so this
	// publish uses context.Background to still record the cancellation in
	// the durable log — a resolved event must exist once a request exists,
	// even when the resolution is "the user stopped".
	_, _ = m.bus.Publish(context.Background(), eventbus.Event{
		TaskID: req.TaskID,
		Type:   eventbus.TypeApprovalResolved,
		Stage:  eventbus.StageNone,
		Payload: map[string]any{
			"approval_id": req.ApprovalID,
			"decision":    string(decision),
		},
	})
	return res, ctx.Err()
}

// Resolve delivers a human decision to a pending Request call. It returns
// ErrUnknownApproval if no request is currently pending under id (already
// resolved, never requested, or the task restarted since the request).
func (m *Manager) Resolve(id string, decision Decision, metadata map[string]any) error {
	m.mu.Lock()
	p, ok := m.pendings[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownApproval
	}

	select {
	case p.ch <- Resolution{ApprovalID: id, Decision: decision, Metadata: metadata}:
		return nil
	default:
		return fmt.Errorf("approval: resolution channel for %q already delivered", id)
	}
}

// CancelAll resolves every pending approval for a task as cancelled. Used
// when the task receives a user stop request: that cancels every
// in-flight await for the task.
func (m *Manager) CancelAll(taskID string) {
	m.mu.Lock()
	var toCancel []*pending
	for _, p := range m.pendings {
		if p.req.TaskID == taskID {
			toCancel = append(toCancel, p)
		}
	}
	m.mu.Unlock()

	for _, p := range toCancel {
		select {
		case p.ch <- Resolution{ApprovalID: p.req.ApprovalID, Decision: DecisionCancelled}:
		default:
		}
	}
}

// IsPending reports whether an approval id currently awaits resolution.
func (m *Manager) IsPending(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pendings[id]
	return ok
}
