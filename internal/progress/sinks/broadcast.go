package sinks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/prodscout/internal/progress"
)

const defaultSubscriberBuffer = 64

// Broadcast delivers events to live subscribers of a run. A slow subscriber
// loses events rather than stalling the hub. Subscriber channels close after
// the run's terminal event or when the sink closes.
type Broadcast struct {
	buffer int

	mu     sync.Mutex
	subs   map[uuid.UUID]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch   chan progress.Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewBroadcast creates a Broadcast; buffer sizes each subscriber channel.
func NewBroadcast(buffer int) *Broadcast {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcast{buffer: buffer, subs: make(map[uuid.UUID]map[*subscriber]struct{})}
}

// Subscribe returns a channel of events for runID and a function to stop
// receiving them.
func (b *Broadcast) Subscribe(runID uuid.UUID) (<-chan progress.Event, func()) {
	sub := &subscriber{ch: make(chan progress.Event, b.buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub.ch, func() {}
	}
	set, ok := b.subs[runID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[runID] = set
	}
	set[sub] = struct{}{}
	return sub.ch, func() { b.unsubscribe(runID, sub) }
}

func (b *Broadcast) unsubscribe(runID uuid.UUID, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, runID)
		}
	}
	sub.close()
}

// Subscribers returns how many subscribers are attached to runID.
func (b *Broadcast) Subscribers(runID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

// Consume forwards each event to the subscribers of its run.
func (b *Broadcast) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range batch {
		set := b.subs[evt.RunID]
		for sub := range set {
			select {
			case sub.ch <- evt:
			default:
			}
		}
		if evt.Stage.Terminal() {
			for sub := range set {
				sub.close()
			}
			delete(b.subs, evt.RunID)
		}
	}
	return nil
}

// Close ends every subscription.
func (b *Broadcast) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, set := range b.subs {
		for sub := range set {
			sub.close()
		}
		delete(b.subs, id)
	}
	return nil
}
