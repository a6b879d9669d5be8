// Package progress defines the progress event shape shared by the router and
// its downstream sessions, plus the composition helpers that let many nested
// tool calls share one overall progress stream.
package progress

import (
	"context"
	"sync"
)

// Fixed checkpoints reported by the orchestration entry point. Everything
// between Executing and Synthesizing is interpolated per planned call.
const (
	CheckpointReceived     = 0.1
	CheckpointPlanning     = 0.2
	CheckpointExecuting    = 0.3
	CheckpointSynthesizing = 0.9
	CheckpointDone         = 1.0
)

// executionSpan is the share of overall progress reserved for tool
// execution, split evenly across planned calls.
const executionSpan = CheckpointSynthesizing - CheckpointExecuting - 0.1

// Event is a single progress update. Fraction is in [0,1] relative to Total;
// Total defaults to 1 when the producer did not set it.
type Event struct {
	Fraction float64
	Total    float64
	Message  string
}

// Norm returns the event's fraction normalized against its total, so a
// producer reporting 3/10 and one reporting 0.3/1 look the same downstream.
func (e Event) Norm() float64 {
	total := e.Total
	if total <= 0 {
		total = 1
	}

	return e.Fraction / total
}

// Sink receives progress events. Sinks never fail: a slow or broken observer
// must not affect the operation it is observing. A Sink may be nil, and nil
// sinks are safe to call through the helpers in this package.
type Sink func(ctx context.Context, ev Event)

// Emit sends an event to the sink if it is non-nil.
func (s Sink) Emit(ctx context.Context, fraction float64, message string) {
	if s == nil {
		return
	}

	s(ctx, Event{Fraction: fraction, Total: 1, Message: message})
}

// Scaler maps a sub-operation's local [0,1] progress into a reserved
// [Lo,Hi] slice of the parent's overall progress. The zero value maps onto
// the full range.
type Scaler struct {
	Lo float64
	Hi float64
}

// Slice returns the scaler for planned call i of n, reserving a disjoint
// share of the execution span per call.
func Slice(i, n int) Scaler {
	if n <= 0 {
		return Scaler{Lo: CheckpointExecuting, Hi: CheckpointExecuting + executionSpan}
	}

	width := executionSpan / float64(n)
	lo := CheckpointExecuting + width*float64(i)

	return Scaler{Lo: lo, Hi: lo + width}
}

// Scale maps a local fraction into the scaler's range, clamping the input
// to [0,1] so a misbehaving producer cannot escape its slice.
func (s Scaler) Scale(f float64) float64 {
	lo, hi := s.Lo, s.Hi
	if lo == 0 && hi == 0 {
		hi = 1
	}

	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}

	return lo + (hi-lo)*f
}

// Wrap returns a Sink that rescales incoming events into the scaler's range
// before forwarding them to next. A nil next yields a nil Sink.
func (s Scaler) Wrap(next Sink) Sink {
	if next == nil {
		return nil
	}

	return func(ctx context.Context, ev Event) {
		next(ctx, Event{
			Fraction: s.Scale(ev.Norm()),
			Total:    1,
			Message:  ev.Message,
		})
	}
}

// Monotonic wraps a sink so that observed fractions never decrease and never
// exceed 1, even when events arrive from concurrent producers. Events that
// would move progress backwards are reported at the current high-water mark
// so their messages still get through.
func Monotonic(next Sink) Sink {
	if next == nil {
		return nil
	}

	var (
		mu   sync.Mutex
		high float64
	)

	return func(ctx context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()

		f := ev.Norm()
		if f > 1 {
			f = 1
		}
		if f < high {
			f = high
		}
		high = f

		// Deliver under the lock so observers see fractions in
		// non-decreasing order even with concurrent producers.
		next(ctx, Event{Fraction: f, Total: 1, Message: ev.Message})
	}
}
