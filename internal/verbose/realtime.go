package verbose

import "vgclog/internal/hook"

// ---------------------------------------------------------------
// Incremental (realtime) collector events
//
// A realtime cycle runs for a long time in small quanta, so its output is
// driven by heartbeats: every heartbeat is chained, and the first one at
// least one heartbeat interval after the previous terminal heartbeat ends
// the chain and reports the quanta since then. Cycle and trigger brackets
// span several streams and are matched through State.
// ---------------------------------------------------------------

// ---- cycle ----

type realtimeCycleStart struct {
	Header
	stats hook.Stats

	id       uint64
	interval uint64
}

func newRealtimeCycleStart(p *hook.Payload) Event {
	return &realtimeCycleStart{stats: p.Stats}
}

func (e *realtimeCycleStart) Consume(_ *Stream, st *State) {
	e.id = st.bump(catRealtimeCycle)
	e.interval = st.since(catRealtimeCycle, e.Timestamp)
	st.openSpan(catRealtimeCycle, e.Timestamp)
}

func (e *realtimeCycleStart) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<cycle-start id="%d" type="global" timestamp="%s" intervalms="%s" />`,
		e.id, st.stamp(e.Timestamp), millis(e.interval))
}

type realtimeCycleEnd struct {
	Header
	stats hook.Stats

	id uint64
	span
}

func newRealtimeCycleEnd(p *hook.Payload) Event {
	return &realtimeCycleEnd{stats: p.Stats}
}

func (e *realtimeCycleEnd) Consume(_ *Stream, st *State) {
	e.id = st.count(catRealtimeCycle)
	e.resolveState(&e.Header, st, catRealtimeCycle, hook.RealtimeCycleStart)
	st.mark(catRealtimeCycle, e.Timestamp)
}

func (e *realtimeCycleEnd) EndsChain(*State) bool { return true }

func (e *realtimeCycleEnd) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<cycle-end id="%d" type="global" timestamp="%s" durationms="%s" />`,
		e.id, st.stamp(e.Timestamp), millis(e.duration(e.Timestamp)))
	e.renderMissing(w, st, hook.RealtimeCycleStart)
}

// ---- heartbeat ----

type heartbeat struct {
	Header
	quantum  uint64
	priority int
	stats    hook.Stats

	// set on the raising goroutine before chaining
	terminal bool

	id       uint64
	interval uint64
	quanta   uint64
	minQ     uint64
	maxQ     uint64
	totalQ   uint64
}

func newHeartbeat(p *hook.Payload) Event {
	return &heartbeat{quantum: p.Quantum, priority: p.Priority, stats: p.Stats}
}

// EndsChain closes the heartbeat window once the configured interval has
// passed since the previous terminal heartbeat.
func (e *heartbeat) EndsChain(st *State) bool {
	e.terminal = st.heartbeatDue(e.Timestamp)
	return e.terminal
}

// DefinesOutput keeps only the terminal heartbeat; the others are folded
// into it during consume.
func (e *heartbeat) DefinesOutput() bool { return e.terminal }

func (e *heartbeat) Consume(_ *Stream, st *State) {
	if !e.terminal {
		return
	}
	for h := &e.Header; h != nil; h = h.prev {
		hb, ok := h.Event().(*heartbeat)
		if !ok || h.Source != e.Source {
			continue
		}
		if hb != e && hb.terminal {
			break
		}
		e.quanta++
		e.totalQ += hb.quantum
		if e.quanta == 1 || hb.quantum < e.minQ {
			e.minQ = hb.quantum
		}
		if hb.quantum > e.maxQ {
			e.maxQ = hb.quantum
		}
	}

	e.id = st.bump(catHeartbeat)
	e.interval = st.since(catHeartbeat, e.Timestamp)
	st.mark(catHeartbeat, e.Timestamp)
}

func (e *heartbeat) Render(w Writer, st *State) {
	mean := uint64(0)
	if e.quanta > 0 {
		mean = e.totalQ / e.quanta
	}
	w.FormatAndOutput(st.Indent, `<gc-op id="%d" type="heartbeat" timestamp="%s" intervalms="%s">`,
		e.id, st.stamp(e.Timestamp), millis(e.interval))
	st.push()
	w.FormatAndOutput(st.Indent, `<quanta quantumCount="%d" minTimeMs="%s" meanTimeMs="%s" maxTimeMs="%s" />`,
		e.quanta, millis(e.minQ), millis(mean), millis(e.maxQ))
	w.FormatAndOutput(st.Indent, `<priority value="%d" />`, e.priority)
	renderStats(w, st, e.stats)
	st.pop()
	w.FormatAndOutput(st.Indent, `</gc-op>`)
}

// ---- trigger ----

// Trigger start and end are raised from the allocating thread outside any
// cycle and are each processed alone.
type triggerStart struct {
	Header
	reason string

	id uint64
}

func newTriggerStart(p *hook.Payload) Event {
	return &triggerStart{reason: p.Reason}
}

func (e *triggerStart) Atomic() bool          { return true }
func (e *triggerStart) EndsChain(*State) bool { return true }

func (e *triggerStart) Consume(_ *Stream, st *State) {
	e.id = st.bump(catTrigger)
	st.openSpan(catTrigger, e.Timestamp)
}

func (e *triggerStart) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<trigger-start id="%d" timestamp="%s" reason="%s" />`,
		e.id, st.stamp(e.Timestamp), e.reason)
}

type triggerEnd struct {
	Header

	id uint64
	span
}

func newTriggerEnd(*hook.Payload) Event { return &triggerEnd{} }

func (e *triggerEnd) Atomic() bool          { return true }
func (e *triggerEnd) EndsChain(*State) bool { return true }

func (e *triggerEnd) Consume(_ *Stream, st *State) {
	e.id = st.count(catTrigger)
	e.resolveState(&e.Header, st, catTrigger, hook.TriggerStart)
}

func (e *triggerEnd) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<trigger-end id="%d" timestamp="%s" durationms="%s" />`,
		e.id, st.stamp(e.Timestamp), millis(e.duration(e.Timestamp)))
	e.renderMissing(w, st, hook.TriggerStart)
}

// ---- synchronous GC ----

type syncGCStart struct {
	Header
	stats  hook.Stats
	reason string

	id       uint64
	interval uint64
}

func newSyncGCStart(p *hook.Payload) Event {
	return &syncGCStart{stats: p.Stats, reason: p.Reason}
}

func (e *syncGCStart) Consume(_ *Stream, st *State) {
	e.id = st.bump(catSyncGC)
	e.interval = st.since(catSyncGC, e.Timestamp)
}

func (e *syncGCStart) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<sync-gc id="%d" timestamp="%s" intervalms="%s" reason="%s">`,
		e.id, st.stamp(e.Timestamp), millis(e.interval), e.reason)
	st.push()
	renderStats(w, st, e.stats)
}

type syncGCEnd struct {
	Header
	stats hook.Stats
	span
}

func newSyncGCEnd(p *hook.Payload) Event {
	return &syncGCEnd{stats: p.Stats}
}

func (e *syncGCEnd) Consume(s *Stream, st *State) {
	e.resolve(&e.Header, s, st, hook.SyncGCStart)
	st.mark(catSyncGC, e.Timestamp)
}

func (e *syncGCEnd) EndsChain(*State) bool { return true }

func (e *syncGCEnd) Render(w Writer, st *State) {
	renderStats(w, st, e.stats)
	e.renderMissing(w, st, hook.SyncGCStart)
	renderTime(w, st, &e.span, e.Timestamp)
	st.pop()
	w.FormatAndOutput(st.Indent, `</sync-gc>`)
}

// ---- out of memory ----

type outOfMemory struct {
	Header
	requested uint64
	stats     hook.Stats

	id uint64
}

func newOutOfMemory(p *hook.Payload) Event {
	return &outOfMemory{requested: p.RequestedBytes, stats: p.Stats}
}

func (e *outOfMemory) Atomic() bool          { return true }
func (e *outOfMemory) EndsChain(*State) bool { return true }

func (e *outOfMemory) Consume(_ *Stream, st *State) {
	e.id = st.bump(catOutOfMemory)
}

func (e *outOfMemory) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<warning details="out of memory" id="%d" timestamp="%s" requested_bytes="%d" />`,
		e.id, st.stamp(e.Timestamp), e.requested)
}
