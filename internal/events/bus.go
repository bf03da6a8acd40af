package events

import (
	"errors"
	"sync"
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("event bus closed")

// Bus is an ordered, replayable fan-out of one run's events.
//
// Thread Safety: Bus is safe for concurrent use. Each subscriber has its own
// unbounded queue drained by a goroutine, so a slow consumer never stalls
// Publish or other consumers.
type Bus struct {
	mu      sync.Mutex
	seq     int64
	history []Event
	subs    map[*Subscription]struct{}
	closed  bool
	done    chan struct{}
}

// NewBus creates an open bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{}), done: make(chan struct{})}
}

// Publish assigns the next sequence number and delivers the event to every
// subscriber. It returns the stamped event.
func (b *Bus) Publish(e Event) (Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return e, ErrClosed
	}
	b.seq++
	e.Seq = b.seq
	b.history = append(b.history, e)
	for s := range b.subs {
		s.push(e)
	}
	return e, nil
}

// Subscribe registers a consumer. With replay, every event published so far is
// delivered first, in order, before live events.
func (b *Bus) Subscribe(replay bool) *Subscription {
	s := &Subscription{
		bus:    b,
		out:    make(chan Event),
		notify: make(chan struct{}, 1),
		cancel: make(chan struct{}),
	}
	b.mu.Lock()
	if replay {
		s.queue = append(s.queue, b.history...)
	}
	if b.closed {
		s.finished = true
	} else {
		b.subs[s] = struct{}{}
	}
	b.mu.Unlock()
	go s.pump()
	return s
}

// History returns a copy of every event published so far.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.history...)
}

// Close ends the stream. Subscribers receive what is queued, then their
// channel closes. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.finish()
	}
	b.subs = nil
	close(b.done)
}

// Done is closed when the bus closes.
func (b *Bus) Done() <-chan struct{} { return b.done }

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Subscription is one consumer's view of a Bus.
type Subscription struct {
	bus    *Bus
	out    chan Event
	notify chan struct{}
	cancel chan struct{}
	once   sync.Once

	mu       sync.Mutex
	queue    []Event
	finished bool
}

// Events delivers events in publish order. It closes after the bus closes and
// the queue drains, or after Close.
func (s *Subscription) Events() <-chan Event { return s.out }

// Close detaches the subscription. Pending events are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		close(s.cancel)
	})
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.cancel:
				return
			}
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.cancel:
			return
		}
	}
}
