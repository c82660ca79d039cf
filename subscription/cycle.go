// Package subscription computes monthly billing cycles and runs the premium
// subscription lifecycle.
package subscription

import "time"

// Cycle is one billing window. End is the last millisecond before the next
// window starts.
type Cycle struct {
	Number int       `json:"cycle_number"`
	Start  time.Time `json:"cycle_start"`
	End    time.Time `json:"cycle_end"`
}

const tick = time.Millisecond

// Contains reports whether t falls inside the window, bounds included.
func (c Cycle) Contains(t time.Time) bool {
	return !t.Before(c.Start) && !t.After(c.End)
}

// ResetsOn is the instant the following window begins.
func (c Cycle) ResetsOn() time.Time {
	return c.End.Add(tick)
}

// Next returns the window after c with the cycle number advanced.
func (c Cycle) Next() Cycle {
	n := NextCycle(c.End)
	n.Number = c.Number + 1
	return n
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// boundary is the start of the k-th window after anchor. When the anchor's
// day does not exist in the target month the window starts on the first of
// the following month.
func boundary(anchor time.Time, k int) time.Time {
	y, m, d := anchor.Date()
	first := time.Date(y, m+time.Month(k), 1, 0, 0, 0, 0, time.UTC)
	if d > first.AddDate(0, 1, -1).Day() {
		return first.AddDate(0, 1, 0)
	}
	return time.Date(y, m+time.Month(k), d, 0, 0, 0, 0, time.UTC)
}

// CurrentCycle returns the window anchored on start's calendar day that
// contains now. Cycles are numbered from 1. A now before start yields cycle 1.
func CurrentCycle(start, now time.Time) Cycle {
	anchor := startOfDay(start)
	now = now.UTC()

	k := 0
	if now.After(anchor) {
		k = (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
		for k > 0 && boundary(anchor, k).After(now) {
			k--
		}
		for !boundary(anchor, k+1).After(now) {
			k++
		}
	}
	return Cycle{
		Number: k + 1,
		Start:  boundary(anchor, k),
		End:    boundary(anchor, k+1).Add(-tick),
	}
}

// NextCycle returns the window that begins right after currentEnd and runs for
// one calendar month. Number is left zero; Cycle.Next fills it in.
func NextCycle(currentEnd time.Time) Cycle {
	start := startOfDay(currentEnd.Add(tick))
	return Cycle{
		Start: start,
		End:   boundary(start, 1).Add(-tick),
	}
}
