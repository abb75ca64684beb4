package verbose

import "vgclog/internal/hook"

// ---------------------------------------------------------------
// Standard (stop-the-world) collector events
//
// Allocation failures and explicit system GCs bracket one or more
// collection cycles. The end of either bracket ends the chain, so one
// stream holds exactly one pause.
// ---------------------------------------------------------------

// ---- system GC ----

type systemGCStart struct {
	Header
	stats  hook.Stats
	reason string

	id       uint64
	interval uint64
}

func newSystemGCStart(p *hook.Payload) Event {
	return &systemGCStart{stats: p.Stats, reason: p.Reason}
}

func (e *systemGCStart) Consume(_ *Stream, st *State) {
	e.id = st.bump(catSystemGC)
	e.interval = st.since(catSystemGC, e.Timestamp)
}

func (e *systemGCStart) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<sys id="%d" timestamp="%s" intervalms="%s" reason="%s">`,
		e.id, st.stamp(e.Timestamp), millis(e.interval), e.reason)
	st.push()
	renderStats(w, st, e.stats)
}

type systemGCEnd struct {
	Header
	stats hook.Stats
	span
}

func newSystemGCEnd(p *hook.Payload) Event {
	return &systemGCEnd{stats: p.Stats}
}

func (e *systemGCEnd) Consume(s *Stream, st *State) {
	e.resolve(&e.Header, s, st, hook.SystemGCStart)
	st.mark(catSystemGC, e.Timestamp)
}

func (e *systemGCEnd) EndsChain(*State) bool { return true }

func (e *systemGCEnd) Render(w Writer, st *State) {
	renderStats(w, st, e.stats)
	e.renderMissing(w, st, hook.SystemGCStart)
	renderTime(w, st, &e.span, e.Timestamp)
	st.pop()
	w.FormatAndOutput(st.Indent, `</sys>`)
}

// ---- allocation failure ----

type allocFailureStart struct {
	Header
	stats     hook.Stats
	subspace  string
	requested uint64

	id       uint64
	interval uint64
}

func newAllocFailureStart(p *hook.Payload) Event {
	return &allocFailureStart{stats: p.Stats, subspace: p.Subspace, requested: p.RequestedBytes}
}

func (e *allocFailureStart) Consume(_ *Stream, st *State) {
	e.id = st.bump(catAllocFailure)
	e.interval = st.since(catAllocFailure, e.Timestamp)
}

func (e *allocFailureStart) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<af type="%s" id="%d" timestamp="%s" intervalms="%s">`,
		e.subspace, e.id, st.stamp(e.Timestamp), millis(e.interval))
	st.push()
	w.FormatAndOutput(st.Indent, `<minimum requested_bytes="%d" />`, e.requested)
	renderStats(w, st, e.stats)
}

type allocFailureEnd struct {
	Header
	stats hook.Stats
	span
}

func newAllocFailureEnd(p *hook.Payload) Event {
	return &allocFailureEnd{stats: p.Stats}
}

func (e *allocFailureEnd) Consume(s *Stream, st *State) {
	e.resolve(&e.Header, s, st, hook.AllocFailureStart)
	st.mark(catAllocFailure, e.Timestamp)
}

func (e *allocFailureEnd) EndsChain(*State) bool { return true }

func (e *allocFailureEnd) Render(w Writer, st *State) {
	renderStats(w, st, e.stats)
	e.renderMissing(w, st, hook.AllocFailureStart)
	renderTime(w, st, &e.span, e.Timestamp)
	st.pop()
	w.FormatAndOutput(st.Indent, `</af>`)
}

// ---- collection cycle ----

type cycleStart struct {
	Header
	stats  hook.Stats
	global bool

	id       uint64
	interval uint64
}

func newCycleStart(p *hook.Payload) Event {
	return &cycleStart{stats: p.Stats, global: p.Global}
}

func cycleType(global bool) string {
	if global {
		return "global"
	}
	return "scavenge"
}

func (e *cycleStart) Consume(_ *Stream, st *State) {
	e.id = st.bump(catCycle)
	e.interval = st.since(catCycle, e.Timestamp)
}

func (e *cycleStart) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<gc type="%s" id="%d" timestamp="%s" intervalms="%s">`,
		cycleType(e.global), e.id, st.stamp(e.Timestamp), millis(e.interval))
	st.push()
	renderStats(w, st, e.stats)
}

type cycleEnd struct {
	Header
	stats hook.Stats
	span
}

func newCycleEnd(p *hook.Payload) Event {
	return &cycleEnd{stats: p.Stats}
}

func (e *cycleEnd) Consume(s *Stream, st *State) {
	e.resolve(&e.Header, s, st, hook.CycleStart)
	st.mark(catCycle, e.Timestamp)
}

func (e *cycleEnd) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<refs_cleared weak="%d" soft="%d" phantom="%d" />`,
		e.stats.WeakRefsCleared, e.stats.SoftRefsCleared, e.stats.PhantomRefsCleared)
	renderStats(w, st, e.stats)
	e.renderMissing(w, st, hook.CycleStart)
	renderTime(w, st, &e.span, e.Timestamp)
	st.pop()
	w.FormatAndOutput(st.Indent, `</gc>`)
}

// ---- compaction ----

// compactStart only anchors the duration of its end event.
type compactStart struct {
	Header
}

func newCompactStart(*hook.Payload) Event { return &compactStart{} }

func (*compactStart) DefinesOutput() bool { return false }
func (*compactStart) Render(Writer, *State) {}

type compactEnd struct {
	Header
	objects uint64
	bytes   uint64
	reason  string

	id uint64
	span
}

func newCompactEnd(p *hook.Payload) Event {
	return &compactEnd{objects: p.MovedObjects, bytes: p.MovedBytes, reason: p.Reason}
}

// Consume matches the start within the enclosing cycle only; a compaction
// start from an earlier cycle is never used.
func (e *compactEnd) Consume(s *Stream, st *State) {
	e.id = st.bump(catCompact)
	start := s.ReturnEventBounded(hook.CompactStart, e.Source, &e.Header, hook.CycleStart, e.Source)
	if start == nil {
		e.missing = true
		st.corrupt(e.Kind, hook.CompactStart)
		return
	}
	e.start = start.Base().Timestamp
}

func (e *compactEnd) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<compaction id="%d" movecount="%d" movebytes="%d" reason="%s" timems="%s" />`,
		e.id, e.objects, e.bytes, e.reason, millis(e.duration(e.Timestamp)))
	e.renderMissing(w, st, hook.CompactStart)
}

// ---- heap resize ----

// heapResize absorbs the run of resizes directly before it that change the
// same space in the same direction. Every resize but the last of a run is
// pruned.
type heapResize struct {
	Header
	expand   bool
	subspace string
	amount   uint64
	newSize  uint64
	reason   string
	count    uint64

	totalAmount uint64
	totalCount  uint64
	merged      bool
}

func newHeapResize(p *hook.Payload) Event {
	count := p.Count
	if count == 0 {
		count = 1
	}
	return &heapResize{
		expand:   p.ResizeExpand,
		subspace: p.Subspace,
		amount:   p.ResizeAmount,
		newSize:  p.NewSize,
		reason:   p.Reason,
		count:    count,
	}
}

// resizeRun reports whether h is a resize that folds into e.
func (e *heapResize) resizeRun(h *Header) (*heapResize, bool) {
	if h == nil {
		return nil, false
	}
	r, ok := h.Event().(*heapResize)
	if !ok || r.Source != e.Source || r.expand != e.expand || r.subspace != e.subspace {
		return nil, false
	}
	return r, true
}

func (e *heapResize) Consume(_ *Stream, st *State) {
	st.bump(catResize)
	st.mark(catResize, e.Timestamp)

	e.totalAmount, e.totalCount = e.amount, e.count
	for r, ok := e.resizeRun(e.Prev()); ok; r, ok = e.resizeRun(r.Prev()) {
		e.totalAmount += r.amount
		e.totalCount += r.count
	}

	_, e.merged = e.resizeRun(e.Next())
}

func (e *heapResize) DefinesOutput() bool { return !e.merged }

func resizeType(expand bool) string {
	if expand {
		return "expand"
	}
	return "contract"
}

func (e *heapResize) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<heap-resize type="%s" space="%s" amount="%d" count="%d" newsize="%d" reason="%s" />`,
		resizeType(e.expand), e.subspace, e.totalAmount, e.totalCount, e.newSize, e.reason)
}

// ---- work stack overflow ----

type workStackOverflow struct {
	Header
	count uint64
}

func newWorkStackOverflow(p *hook.Payload) Event {
	return &workStackOverflow{count: p.Count}
}

func (e *workStackOverflow) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<warning details="work stack overflow" thread="%d" count="%d" />`,
		e.Thread, e.count)
}

// ---- concurrent ----

// concurrentKickoff happens outside any pause and is processed alone.
type concurrentKickoff struct {
	Header
	reason string
	target uint64
	stats  hook.Stats

	id       uint64
	interval uint64
}

func newConcurrentKickoff(p *hook.Payload) Event {
	return &concurrentKickoff{reason: p.Reason, target: p.RequestedBytes, stats: p.Stats}
}

func (e *concurrentKickoff) Atomic() bool          { return true }
func (e *concurrentKickoff) EndsChain(*State) bool { return true }

func (e *concurrentKickoff) Consume(_ *Stream, st *State) {
	e.id = st.bump(catKickoff)
	e.interval = st.since(catKickoff, e.Timestamp)
	st.mark(catKickoff, e.Timestamp)
}

func (e *concurrentKickoff) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<concurrent-kickoff id="%d" timestamp="%s" intervalms="%s">`,
		e.id, st.stamp(e.Timestamp), millis(e.interval))
	st.push()
	w.FormatAndOutput(st.Indent, `<kickoff reason="%s" targetbytes="%d" thread="%d" />`, e.reason, e.target, e.Thread)
	renderStats(w, st, e.stats)
	st.pop()
	w.FormatAndOutput(st.Indent, `</concurrent-kickoff>`)
}

type concurrentStart struct {
	Header
	stats hook.Stats

	id       uint64
	interval uint64
}

func newConcurrentStart(p *hook.Payload) Event {
	return &concurrentStart{stats: p.Stats}
}

func (e *concurrentStart) Consume(_ *Stream, st *State) {
	e.id = st.bump(catConcurrent)
	e.interval = st.since(catConcurrent, e.Timestamp)
}

func (e *concurrentStart) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<concurrent-collection id="%d" timestamp="%s" intervalms="%s">`,
		e.id, st.stamp(e.Timestamp), millis(e.interval))
	st.push()
	renderStats(w, st, e.stats)
}

type concurrentEnd struct {
	Header
	stats hook.Stats
	span
}

func newConcurrentEnd(p *hook.Payload) Event {
	return &concurrentEnd{stats: p.Stats}
}

func (e *concurrentEnd) Consume(s *Stream, st *State) {
	e.resolve(&e.Header, s, st, hook.ConcurrentCollectionStart)
	st.mark(catConcurrent, e.Timestamp)
}

func (e *concurrentEnd) EndsChain(*State) bool { return true }

func (e *concurrentEnd) Render(w Writer, st *State) {
	renderStats(w, st, e.stats)
	e.renderMissing(w, st, hook.ConcurrentCollectionStart)
	renderTime(w, st, &e.span, e.Timestamp)
	st.pop()
	w.FormatAndOutput(st.Indent, `</concurrent-collection>`)
}

// ---- excessive GC ----

type excessiveGC struct {
	Header
	message string
	reason  string

	id uint64
}

func newExcessiveGC(p *hook.Payload) Event {
	msg := p.Message
	if msg == "" {
		msg = "excessive gc activity"
	}
	return &excessiveGC{message: msg, reason: p.Reason}
}

func (e *excessiveGC) Atomic() bool          { return true }
func (e *excessiveGC) EndsChain(*State) bool { return true }

func (e *excessiveGC) Consume(_ *Stream, st *State) {
	e.id = st.bump(catExcessive)
}

func (e *excessiveGC) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<warning details="%s" id="%d" timestamp="%s" reason="%s" />`,
		e.message, e.id, st.stamp(e.Timestamp), e.reason)
}
