package stream

import (
	"context"
	"sync"
)

// Subject holds a current value and broadcasts every change to its
// subscribers. Each subscriber sees the value current at subscription time
// followed by every later Send, in order, with nothing merged or dropped.
type Subject[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[*Subscription[T]]struct{}
	closed  bool
}

// NewSubject returns a Subject whose current value is initial.
func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{current: initial, subs: make(map[*Subscription[T]]struct{})}
}

// Send makes v the current value and queues it for every subscriber.
// It never blocks. Sends after Close are ignored.
func (s *Subject[T]) Send(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.current = v
	for sub := range s.subs {
		sub.queue.Push(v)
	}
}

// Value returns the current value.
func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers a new subscriber. Call Close on the subscription when
// done with it.
func (s *Subject[T]) Subscribe() *Subscription[T] {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription[T]{
		queue:  NewQueue[T](),
		out:    make(chan T),
		cancel: cancel,
		parent: s,
	}

	s.mu.Lock()
	sub.queue.Push(s.current)
	if s.closed {
		sub.queue.Close()
	} else {
		s.subs[sub] = struct{}{}
	}
	s.mu.Unlock()

	go sub.run(ctx)
	return sub
}

// Close ends every subscription after its queued values are delivered.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.queue.Close()
	}
	clear(s.subs)
}

func (s *Subject[T]) remove(sub *Subscription[T]) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Subscription is one subscriber's ordered view of a Subject.
type Subscription[T any] struct {
	queue  *Queue[T]
	out    chan T
	cancel context.CancelFunc
	parent *Subject[T]
	once   sync.Once
}

// C returns the delivery channel. It is closed after Close, or after the
// Subject is closed and every queued value has been received.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Close stops delivery. Values not yet received are discarded.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.parent.remove(s)
		s.queue.Close()
		s.cancel()
	})
}

func (s *Subscription[T]) run(ctx context.Context) {
	defer close(s.out)
	for {
		v, ok := s.queue.Pop(ctx)
		if !ok {
			return
		}
		select {
		case s.out <- v:
		case <-ctx.Done():
			return
		}
	}
}
