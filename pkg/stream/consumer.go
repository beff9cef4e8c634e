package stream

import (
	"context"
	"sync"
)

// Consumer receives finalized objects. Offer returns false when the
// consumer cannot take obj now; the object is then kept and offered again
// later, before any object finalized after it.
type Consumer interface {
	Offer(obj any) bool
}

// Completer is implemented by consumers that need to know the stream is over.
// Complete is called once, after the last object has been accepted.
type Completer interface {
	Complete(ctx context.Context) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(obj any) bool

// Offer implements Consumer.
func (f ConsumerFunc) Offer(obj any) bool { return f(obj) }

// ChanConsumer offers objects to a channel without blocking: a full
// channel refuses intake.
type ChanConsumer chan<- any

// Offer implements Consumer.
func (c ChanConsumer) Offer(obj any) bool {
	select {
	case c <- obj:
		return true
	default:
		return false
	}
}

// SliceConsumer accepts everything and keeps it in memory.
type SliceConsumer struct {
	mu        sync.Mutex
	objects   []any
	completed bool
}

// Offer implements Consumer.
func (s *SliceConsumer) Offer(obj any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = append(s.objects, obj)
	return true
}

// Complete implements Completer.
func (s *SliceConsumer) Complete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
	return nil
}

// Objects returns the accepted objects in order.
func (s *SliceConsumer) Objects() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.objects...)
}

// Completed reports whether Complete was called.
func (s *SliceConsumer) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}
