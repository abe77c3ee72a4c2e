// Package stall detects agent sessions that make no forward progress:
// tight re-read loops, silent hangs, and overlong sessions. It holds no
// state beyond the current session's bounded event history.
package stall

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harnesslab/overseer/internal/session"
)

const (
	// DefaultHistory is the minimum read-history ring buffer capacity;
	// the ring grows to the configured window when that is larger.
	DefaultHistory = 15

	// DefaultWindow is the trailing read-event window inspected for loops.
	DefaultWindow = 12

	// DefaultMaxDistinct is the distinct-resource ceiling for the loop
	// rule. Requiring both narrow diversity and zero mutations avoids
	// false positives during legitimate multi-file investigation.
	DefaultMaxDistinct = 2

	// DefaultInactivity is the no-events-at-all window.
	DefaultInactivity = 10 * time.Minute
)

// readRecord is one read event in the ring buffer.
type readRecord struct {
	resource string
	at       time.Time
}

// Detector consumes executor events in real time and flags sessions with
// no forward progress. It requests cancellation; it never decides retry.
type Detector struct {
	window      int
	history     int
	maxDistinct int
	inactivity  time.Duration
	timeout     time.Duration

	// Observe is called from the executor's stream goroutine while Check
	// runs on the monitor goroutine.
	mu sync.Mutex

	started      time.Time
	lastEvent    time.Time
	lastMutation time.Time
	reads        []readRecord
}

// NewDetector creates a Detector. Zero values fall back to defaults;
// timeout is the session wall-clock limit shared with the executor.
func NewDetector(window, maxDistinct int, inactivity, timeout time.Duration) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxDistinct <= 0 {
		maxDistinct = DefaultMaxDistinct
	}
	if inactivity <= 0 {
		inactivity = DefaultInactivity
	}
	history := DefaultHistory
	if window > history {
		// The ring must hold at least one full window or the loop rule
		// can never trigger.
		history = window
	}
	return &Detector{
		window:      window,
		history:     history,
		maxDistinct: maxDistinct,
		inactivity:  inactivity,
		timeout:     timeout,
	}
}

// Start marks the session start and clears all history.
func (d *Detector) Start(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = now
	d.lastEvent = now
	d.lastMutation = time.Time{}
	d.reads = d.reads[:0]
}

// Observe feeds one executor event into the detector.
func (d *Detector) Observe(ev session.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastEvent = ev.Time

	switch {
	case ev.IsRead():
		d.reads = append(d.reads, readRecord{resource: ev.Resource, at: ev.Time})
		if len(d.reads) > d.history {
			d.reads = d.reads[len(d.reads)-d.history:]
		}
	case ev.IsMutation():
		// Any mutation resets the inactivity concern for the loop rule.
		d.lastMutation = ev.Time
	}
}

// Check evaluates the compound stall rule at the given instant.
// It returns true with a reason when the session should be cancelled.
func (d *Detector) Check(now time.Time) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started.IsZero() {
		return false, ""
	}

	if d.timeout > 0 && now.Sub(d.started) > d.timeout {
		return true, fmt.Sprintf("session exceeded %v limit", d.timeout)
	}

	if stalled, reason := d.checkReadLoop(); stalled {
		return true, reason
	}

	if now.Sub(d.lastEvent) > d.inactivity {
		return true, fmt.Sprintf("no events for %v", d.inactivity)
	}

	return false, ""
}

// checkReadLoop flags repeated re-reading of the same one or two resources
// with zero mutations inside the trailing window.
func (d *Detector) checkReadLoop() (bool, string) {
	if len(d.reads) < d.window {
		return false, ""
	}

	recent := d.reads[len(d.reads)-d.window:]
	distinct := make(map[string]bool, d.maxDistinct+1)
	for _, r := range recent {
		distinct[r.resource] = true
	}
	if len(distinct) > d.maxDistinct {
		return false, ""
	}

	// A mutation inside the window means iterative work, not a loop.
	windowStart := recent[0].at
	if !d.lastMutation.IsZero() && !d.lastMutation.Before(windowStart) {
		return false, ""
	}

	resources := make([]string, 0, len(distinct))
	for r := range distinct {
		resources = append(resources, r)
	}
	return true, fmt.Sprintf("re-reading %s with no mutations in last %d reads",
		strings.Join(resources, ", "), d.window)
}
