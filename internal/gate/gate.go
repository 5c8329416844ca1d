// Package gate admits recognition events into conversational turns.
//
// A Gate is idle or busy. While busy every event is dropped. While idle,
// partial results are surfaced for display and a non-empty final result
// flips the gate to busy with a single atomic test-and-set.
package gate

import (
	"sync/atomic"

	"github.com/rbright/parley/internal/transcript"
)

// Verdict classifies what Submit did with an event.
type Verdict int

const (
	// Dropped means the event had no observable effect.
	Dropped Verdict = iota
	// Partial means the event is a live hypothesis for display only.
	Partial
	// Opened means the event started a turn; the caller owns Resume.
	Opened
)

func (v Verdict) String() string {
	switch v {
	case Partial:
		return "partial"
	case Opened:
		return "opened"
	default:
		return "dropped"
	}
}

// Gate is safe for concurrent use.
type Gate struct {
	busy    atomic.Bool
	dropped atomic.Int64
}

func New() *Gate {
	return &Gate{}
}

// Submit classifies ev and returns the normalized text for Partial and
// Opened verdicts.
func (g *Gate) Submit(ev transcript.Result) (Verdict, string) {
	if g.busy.Load() {
		g.dropped.Add(1)
		return Dropped, ""
	}

	text := transcript.Normalize(ev.Text)
	if ev.IsPartial {
		if text == "" {
			return Dropped, ""
		}
		return Partial, text
	}
	if text == "" {
		return Dropped, ""
	}

	if !g.busy.CompareAndSwap(false, true) {
		g.dropped.Add(1)
		return Dropped, ""
	}
	return Opened, text
}

// TryAcquire flips the gate to busy without a transcript. It is used for
// maintenance work that must not overlap a turn.
func (g *Gate) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Resume returns the gate to idle. It reports false when the gate was
// already idle, which indicates a double resume.
func (g *Gate) Resume() bool {
	return g.busy.CompareAndSwap(true, false)
}

// Busy reports whether a turn is in flight.
func (g *Gate) Busy() bool {
	return g.busy.Load()
}

// DroppedWhileBusy counts events discarded because a turn was in flight.
func (g *Gate) DroppedWhileBusy() int64 {
	return g.dropped.Load()
}
