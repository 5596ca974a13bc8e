package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Subscription is a cold, ordered stream of events for one task (or, if
// filter.TaskID is empty, every task). Delivery is at-least-once but
// ordered per task.
type Subscription struct {
	ch     chan Event
	cancel func()
}

// Events returns the channel events are delivered on. It is closed when
// the subscription is cancelled.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Cancel stops delivery and releases the subscription's resources.
func (s *Subscription) Cancel() { s.cancel() }

// Filter narrows a subscription. An empty TaskID subscribes to all tasks.
type Filter struct {
	TaskID string
}

// Bus is the process-local publish/subscribe fan-out in front of Store and
// Journal. One Bus instance is shared across all tasks in a process (the
// store itself may be shared globally too) while writes for a single task
// are serialized by the caller holding that task's mission-runner lock,
// which is what keeps per-task ordering total.
type Bus struct {
	store   *Store
	journal *Journal

	mu   sync.Mutex
	subs map[string]*subscriber // keyed by a random subscription id
}

type subscriber struct {
	filter Filter
	ch     chan Event
}

// NewBus constructs a Bus backed by the given durable Store and, if
// non-nil, a Journal mirror.
func NewBus(store *Store, journal *Journal) *Bus {
	return &Bus{
		store:   store,
		journal: journal,
		subs:    make(map[string]*subscriber),
	}
}

// Publish validates ev's type tag, assigns it the next sequence for its
// task, durably appends it (SQL store, and the journal mirror if
// configured), and only then fans it out to subscribers. A write failure
// is surfaced to the caller; no partial append is visible to subscribers.
func (b *Bus) Publish(ctx context.Context, ev Event) (Event, error) {
	if !IsKnown(ev.Type) {
		// Unknown tags are accepted (forward-compatibility seam applies at
		// the reducer, not the bus) but logged loudly since publishing one
		// from this binary version usually indicates a typo, not evolution.
		slog.Warn("eventbus: publishing event with unrecognized type tag", "type", ev.Type, "task_id", ev.TaskID)
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.TaskID == "" {
		return Event{}, fmt.Errorf("eventbus: publish requires a task_id")
	}

	seq, err := b.store.Append(ctx, ev)
	if err != nil {
		return Event{}, fmt.Errorf("eventbus: publish failed: %w", err)
	}
	ev.Sequence = seq

	if b.journal != nil {
		if err := b.journal.Append(ev); err != nil {
			// The SQL append already succeeded and is the source of truth;
			// journal mirror failure is reported but does not unwind the
			// publish, matching "subscriber failures do not block the
			// publisher" in spirit (the journal is treated as a
			// best-effort secondary sink here).
			slog.Error("eventbus: journal mirror append failed", "event_id", ev.EventID, "error", err)
		}
	}

	b.fanOut(ev)
	return ev, nil
}

func (b *Bus) fanOut(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.filter.TaskID != "" && sub.filter.TaskID != ev.TaskID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// A slow subscriber must never block the publisher or other
			// subscribers; drop and log. At-least-once delivery is still
			// honored via EventsByTask replay.
			slog.Warn("eventbus: subscriber channel full, dropping live delivery", "task_id", ev.TaskID, "type", ev.Type)
		}
	}
}

// Subscribe opens a cold subscription. When filter.TaskID is set, the
// subscriber receives every already-durable event for that task with
// sequence >= fromSeq (replay; fromSeq 0 replays the whole history) from
// a goroutine that runs alongside live delivery of newly published
// events. A subscription without a TaskID filter gets live events only.
func (b *Bus) Subscribe(ctx context.Context, filter Filter, fromSeq int64) (*Subscription, error) {
	ch := make(chan Event, 256)
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = &subscriber{filter: filter, ch: ch}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}

	if filter.TaskID != "" {
		history, err := b.store.EventsByTask(ctx, filter.TaskID)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("eventbus: subscribe replay failed: %w", err)
		}
		go func() {
			for _, ev := range history {
				if ev.Sequence < fromSeq {
					continue
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	return &Subscription{ch: ch, cancel: cancel}, nil
}

// EventsByTask returns the durable, ordered event history for a task.
func (b *Bus) EventsByTask(ctx context.Context, taskID string) ([]Event, error) {
	return b.store.EventsByTask(ctx, taskID)
}
