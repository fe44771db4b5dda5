package completion

import "sync"

// Signal is a one-shot terminal event.
//
// A row stream typically fires more than once (EOF from Next followed by an
// explicit Close). Only the first Fire counts; later ones are expected and
// silently dropped.
type Signal struct {
	mu        sync.Mutex
	fired     bool
	err       error
	observers []func(error)
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{}
}

// Fire completes the signal with err and runs the registered observers.
// It reports whether this call was the one that completed the signal.
func (s *Signal) Fire(err error) bool {
	if s == nil {
		return false
	}

	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return false
	}
	s.fired = true
	s.err = err
	observers := s.observers
	s.observers = nil
	s.mu.Unlock()

	for _, fn := range observers {
		fn(err)
	}
	return true
}

// OnDone implements Source.
func (s *Signal) OnDone(fn func(error)) {
	if s == nil || fn == nil {
		return
	}

	s.mu.Lock()
	if s.fired {
		err := s.err
		s.mu.Unlock()
		fn(err)
		return
	}
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Fired reports whether the signal completed.
func (s *Signal) Fired() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Err returns the error the signal completed with.
func (s *Signal) Err() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
