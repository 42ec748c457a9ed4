package fluxtor

import "log/slog"

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the dispatch pipeline.
// Default: a logger that discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver attaches an observer to the pipeline. Repeated calls attach
// several observers, called in the order they were given.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o == nil {
			return
		}
		if s.observer == nil {
			s.observer = o
			return
		}
		s.observer = NewMultiObserver(s.observer, o)
	}
}

// WithIDGenerator sets the dispatch id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithClock sets the logical clock that stamps dispatches.
// Use NewClockAt to continue a sequence from an earlier run.
func WithClock(c Sequencer) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}
