package nest

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/rows"
)

// Session drives the root level of a parser tree over one row sequence at a
// time. Only sessions notify observers; nested levels attach their values to
// the parent object instead. A Session is not safe for concurrent use.
type Session struct {
	id        string
	root      Grouper
	observers []func(any)
	logger    *zap.Logger
	emitted   int64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger. Finalized objects are logged at debug level.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithObserver registers fn as if by OnObject.
func WithObserver(fn func(any)) SessionOption {
	return func(s *Session) { s.OnObject(fn) }
}

// NewSession starts a session over any Spec.
func NewSession(spec Spec, opts ...SessionOption) *Session {
	s := &Session{
		id:     uuid.New().String(),
		root:   spec.NewGrouper(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.id))
	return s
}

// NewSession starts a session with this parser as root.
func (p *Parser) NewSession(opts ...SessionOption) *Session {
	return NewSession(p, opts...)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Emitted returns the number of objects delivered to observers so far.
func (s *Session) Emitted() int64 { return s.emitted }

// OnObject registers fn to receive every finalized root object, in order.
// Ownership of the object passes to the observers.
func (s *Session) OnObject(fn func(any)) {
	if fn != nil {
		s.observers = append(s.observers, fn)
	}
}

// Ingest feeds one row and returns the root object open after it, or nil.
// If the row finalizes the previous root object, observers have been called
// with it by the time Ingest returns. On error nothing changed.
//
// The row's new object, computed properties included, is built before
// observers see the object it finalizes, so a computed function with side
// effects runs ahead of that notification.
func (s *Session) Ingest(row rows.Row) (any, error) {
	step, err := s.root.Prepare(row, false)
	if err != nil {
		s.logger.Debug("row rejected", zap.Error(err))
		return nil, err
	}

	prev, wasOpen := s.root.Current()
	if _, opened := step.Commit(); opened && wasOpen {
		s.emit(prev)
	}
	cur, _ := s.root.Current()
	return cur, nil
}

// End finalizes the open root object, notifies observers and returns it.
// With nothing open it does nothing. The session can then start a new,
// independent sequence.
func (s *Session) End() (any, bool) {
	obj, ok := s.root.End()
	if ok {
		s.emit(obj)
	}
	return obj, ok
}

// Reset discards the open root object without notifying anyone.
func (s *Session) Reset() {
	if _, ok := s.root.End(); ok {
		s.logger.Debug("open object discarded")
	}
}

// Current returns the open root object.
func (s *Session) Current() (any, bool) {
	return s.root.Current()
}

func (s *Session) emit(obj any) {
	s.emitted++
	s.logger.Debug("object completed", zap.Int64("seq", s.emitted))
	for _, fn := range s.observers {
		fn(obj)
	}
}
