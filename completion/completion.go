// Package completion funnels the different ways an asynchronous database
// operation reports that it is done into a single finish notification.
//
// An operation completes in exactly one of three styles:
//
//   - Callback: the caller passed a function to invoke with the outcome.
//   - Deferred: the operation returned a Future that resolves later.
//   - Stream: the operation returned rows that finish on EOF, error or Close.
//
// Adapt takes the style and the finish function of the traced operation and
// wires them so finish runs when the operation really ends, not when the
// method returns.
package completion

// Kind identifies the completion style of an operation.
type Kind uint8

const (
	// Callback operations report through a caller-supplied function.
	Callback Kind = iota + 1

	// Deferred operations report through a Future.
	Deferred

	// Stream operations report when their row stream reaches a terminal state.
	Stream
)

// String returns the style name.
func (k Kind) String() string {
	switch k {
	case Callback:
		return "callback"
	case Deferred:
		return "deferred"
	case Stream:
		return "stream"
	default:
		return "unknown"
	}
}

// Source is anything that announces its terminal outcome exactly once.
type Source interface {
	// OnDone registers fn to run when the source completes. If the source
	// already completed, fn runs immediately.
	OnDone(fn func(error))
}

// Style describes how one operation completes.
type Style struct {
	kind     Kind
	callback func(error)
	source   Source
}

// WithCallback selects the callback style. fn may be nil for
// fire-and-forget calls; finish is still notified.
func WithCallback(fn func(error)) Style {
	return Style{kind: Callback, callback: fn}
}

// WithDeferred selects the deferred style backed by src.
func WithDeferred(src Source) Style {
	return Style{kind: Deferred, source: src}
}

// WithStream selects the stream style backed by src.
func WithStream(src Source) Style {
	return Style{kind: Stream, source: src}
}

// Kind returns the completion style. The zero Style reports Callback.
func (s Style) Kind() Kind {
	if s.kind == 0 {
		return Callback
	}
	return s.kind
}

// Adapt wires finish to the operation's real completion.
//
// For Callback it returns the function the operation must call with its
// outcome: finish is notified first, then the caller's callback runs.
// Nothing deduplicates repeated calls; the finish side detects those.
//
// For Deferred and Stream finish is registered on the source and Adapt
// returns nil, because the source itself signals completion.
func Adapt(s Style, finish func(error)) func(error) {
	if finish == nil {
		finish = func(error) {}
	}

	switch s.Kind() {
	case Deferred, Stream:
		if s.source == nil {
			return finish
		}
		s.source.OnDone(finish)
		return nil
	default:
		cb := s.callback
		return func(err error) {
			finish(err)
			if cb != nil {
				cb(err)
			}
		}
	}
}
