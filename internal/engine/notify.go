package engine

import (
	"log/slog"
	"sync"

	"github.com/brightwavehq/streamfetch/internal/model"
)

// Capability names one class of event a subscriber can receive.
type Capability string

const (
	CapabilityProgress    Capability = "progress"
	CapabilityStateChange Capability = "state_change"
	CapabilityBatch       Capability = "batch"
	CapabilityBandwidthHint Capability = "bandwidth_hint"
)

// Event is the envelope delivered to subscribers; exactly one of its
// payload fields is populated, matching Capability.
type Event struct {
	Capability Capability
	Progress   *model.ProgressSample
	TaskID     model.ID
	FromState  model.TaskState
	ToState    model.TaskState
	BatchID    model.ID
	Hint       string
}

const subscriberQueueDepth = 64

// subscription is one registered listener. Delivery never blocks the
// publisher: a full queue drops the oldest buffered event rather than
// stalling, because a slow UI should not throttle the download engine.
type subscription struct {
	id    int
	caps  map[Capability]bool
	ch    chan Event
	done  chan struct{}
}

// notifier owns the subscriber registry. Events are fanned out by publish
// on the publishing goroutine; there is no separate dispatch goroutine.
// One notifier per Engine.
type notifier struct {
	mu     sync.Mutex
	next   int
	subs   map[int]*subscription
	logger *slog.Logger
}

func newNotifier(logger *slog.Logger) *notifier {
	return &notifier{subs: make(map[int]*subscription), logger: logger}
}

// Subscribe registers a new listener for the given capabilities and
// returns its delivery channel plus an Unsubscribe func.
func (n *notifier) Subscribe(caps ...Capability) (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	n.next++
	sub := &subscription{id: n.next, caps: set, ch: make(chan Event, subscriberQueueDepth), done: make(chan struct{})}
	n.subs[sub.id] = sub

	unsubscribe := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if s, ok := n.subs[sub.id]; ok {
			close(s.done)
			delete(n.subs, sub.id)
		}
	}
	return sub.ch, unsubscribe
}

// publish fans out ev to every subscriber interested in its capability.
// Drop-oldest policy: if a subscriber's queue is full, its oldest buffered
// event is discarded to make room, and the drop is logged at Debug.
func (n *notifier) publish(ev Event) {
	n.mu.Lock()
	subs := make([]*subscription, 0, len(n.subs))
	for _, s := range n.subs {
		if s.caps[ev.Capability] {
			subs = append(subs, s)
		}
	}
	n.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
			n.logger.Debug("dropped oldest buffered event for slow subscriber", slog.Int("subscriber_id", s.id), slog.String("capability", string(ev.Capability)))
		}
	}
}
