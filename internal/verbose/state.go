package verbose

import (
	"sync/atomic"
	"time"

	"vgclog/internal/clock"
	"vgclog/internal/hook"
	"vgclog/internal/metrics"

	"github.com/rs/zerolog"
)

// category groups events for per-kind counters and interval tracking.
type category int

const (
	catSystemGC category = iota
	catAllocFailure
	catCycle
	catCompact
	catResize
	catConcurrent
	catKickoff
	catExcessive
	catRealtimeCycle
	catHeartbeat
	catTrigger
	catSyncGC
	catOutOfMemory
	catPartialGC
	catGlobalMark
	catCopyForward
	catTaxation

	numCategories
)

// State is the render context shared by every event a manager processes:
// the indentation depth, per-category counters, the time each category was
// last seen, and spans whose start and end land in different streams.
//
// Everything except lastBeat is touched only during stream processing,
// which the manager serialises.
type State struct {
	Clock   clock.Clock
	Log     zerolog.Logger
	Metrics *metrics.Metrics

	// Indent is the current nesting depth in two-space levels.
	Indent int
	// Cycles counts processed streams.
	Cycles uint64

	counts [numCategories]uint64
	last   [numCategories]uint64

	open     [numCategories]uint64
	openSeen [numCategories]bool

	// heartbeat threshold in clock microseconds
	beat     uint64
	lastBeat atomic.Uint64
}

// NewState returns a zeroed state. heartbeat is the realtime threshold at
// which a heartbeat ends its chain.
func NewState(c clock.Clock, log zerolog.Logger, m *metrics.Metrics, heartbeat time.Duration) *State {
	if m == nil {
		m = metrics.New()
	}
	return &State{
		Clock:   c,
		Log:     log,
		Metrics: m,
		beat:    uint64(heartbeat / time.Microsecond),
	}
}

func (st *State) push() { st.Indent++ }

func (st *State) pop() {
	if st.Indent > 0 {
		st.Indent--
	}
}

// count returns how many events of c have been consumed.
func (st *State) count(c category) uint64 { return st.counts[c] }

// bump increments the counter for c and returns the new value, used as the
// event's id.
func (st *State) bump(c category) uint64 {
	st.counts[c]++
	return st.counts[c]
}

// since returns the time from the last mark of c to ts, zero before the
// first mark.
func (st *State) since(c category, ts uint64) uint64 {
	if st.last[c] == 0 {
		return 0
	}
	return delta(ts, st.last[c])
}

// mark records ts as the latest time seen for c.
func (st *State) mark(c category, ts uint64) { st.last[c] = ts }

// openSpan records the start time of a bracket whose end is expected in a
// later stream.
func (st *State) openSpan(c category, ts uint64) {
	st.open[c] = ts
	st.openSeen[c] = true
}

// closeSpan returns and clears the open start time for c.
func (st *State) closeSpan(c category) (uint64, bool) {
	ts, ok := st.open[c], st.openSeen[c]
	st.open[c], st.openSeen[c] = 0, false
	return ts, ok
}

// corrupt records an end event whose start could not be found.
func (st *State) corrupt(end, start hook.ID) {
	atomic.AddInt64(&st.Metrics.ConsumeCorruptions, 1)
	st.Log.Warn().
		Stringer("event", end).
		Stringer("missing", start).
		Msg("verbose stream corrupted, rendering placeholder")
}

// stamp renders ts as wall-clock time.
func (st *State) stamp(ts uint64) string {
	if st.Clock == nil {
		return ""
	}
	return clock.Stamp(st.Clock, ts)
}

// heartbeatDue reports whether a heartbeat at ts closes the current
// heartbeat window, and claims the window when it does. Safe to call from
// producer goroutines.
func (st *State) heartbeatDue(ts uint64) bool {
	for {
		last := st.lastBeat.Load()
		if ts < last || ts-last < st.beat {
			return false
		}
		if st.lastBeat.CompareAndSwap(last, ts) {
			return true
		}
	}
}
