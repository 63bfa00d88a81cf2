package task

import (
	"sync"

	"github.com/stackmesh/loom/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Snapshots are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// EventBroker fans task snapshots out to streaming subscribers. It sits on
// top of the registry's per-task observer contract: the first subscriber for
// a task installs a registry observer, and the topic is closed once the task
// turns terminal.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a task finishes) receive a closed channel instead of
// blocking forever.
type EventBroker struct {
	registry *Registry

	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan *model.Task
	nextID int
	closed bool
	unsub  func() // detaches the registry observer
}

// NewEventBroker creates a broker over the given registry.
func NewEventBroker(registry *Registry) *EventBroker {
	return &EventBroker{
		registry: registry,
		topics:   make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel of task snapshots for the given task and an
// unsubscribe function. If the task is unknown or already terminal, the
// returned channel is immediately closed.
func (b *EventBroker) Subscribe(taskID string) (<-chan *model.Task, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan *model.Task)}

		current := b.registry.Get(taskID)
		if current == nil || model.Terminal(current.Status) {
			t.closed = true
		} else {
			t.unsub = b.registry.Subscribe(taskID, func(snap *model.Task) {
				b.publish(taskID, snap)
			})
			// The task may have turned terminal between the Get above and the
			// observer registration; re-check so no subscriber waits forever.
			if now := b.registry.Get(taskID); now == nil || model.Terminal(now.Status) {
				b.closeTopicLocked(t)
			}
		}
		b.topics[taskID] = t
	}

	ch := make(chan *model.Task, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// publish delivers a snapshot to all subscribers of a task, dropping it for
// subscribers whose buffers are full. A terminal snapshot closes the topic.
func (b *EventBroker) publish(taskID string, snap *model.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
			// Drop for slow subscribers to avoid blocking the task's writer.
		}
	}

	if model.Terminal(snap.Status) {
		b.closeTopicLocked(t)
	}
}

// closeTopicLocked closes all subscriber channels and marks the topic closed.
// Callers must hold b.mu.
func (b *EventBroker) closeTopicLocked(t *eventTopic) {
	t.closed = true
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
