package verbose

import "vgclog/internal/hook"

// ---------------------------------------------------------------
// Region-based collector events
//
// A partial GC is one pause; copy-forward runs inside it. Global mark
// increments are pauses of their own. Taxation entries record why a pause
// was taken and are folded into the partial GC that follows.
// ---------------------------------------------------------------

// ---- taxation ----

type taxationEntry struct {
	Header
	threshold uint64
}

func newTaxationEntry(p *hook.Payload) Event {
	return &taxationEntry{threshold: p.RequestedBytes}
}

func (e *taxationEntry) Consume(_ *Stream, st *State) {
	st.bump(catTaxation)
	st.mark(catTaxation, e.Timestamp)
}

func (*taxationEntry) DefinesOutput() bool   { return false }
func (*taxationEntry) Render(Writer, *State) {}

// ---- partial GC ----

type partialGCStart struct {
	Header
	stats hook.Stats

	id        uint64
	interval  uint64
	threshold uint64
	taxed     bool
}

func newPartialGCStart(p *hook.Payload) Event {
	return &partialGCStart{stats: p.Stats}
}

func (e *partialGCStart) Consume(s *Stream, st *State) {
	e.id = st.bump(catPartialGC)
	e.interval = st.since(catPartialGC, e.Timestamp)

	ev := s.ReturnEventBounded(hook.TaxationEntry, e.Source, &e.Header, hook.PartialGCEnd, e.Source)
	if tax, ok := ev.(*taxationEntry); ok {
		e.threshold = tax.threshold
		e.taxed = true
	}
}

func (e *partialGCStart) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<gc-op id="%d" type="partial gc" timestamp="%s" intervalms="%s">`,
		e.id, st.stamp(e.Timestamp), millis(e.interval))
	st.push()
	if e.taxed {
		w.FormatAndOutput(st.Indent, `<allocation-taxation threshold="%d" />`, e.threshold)
	}
	renderStats(w, st, e.stats)
}

type partialGCEnd struct {
	Header
	stats hook.Stats
	span
}

func newPartialGCEnd(p *hook.Payload) Event {
	return &partialGCEnd{stats: p.Stats}
}

func (e *partialGCEnd) Consume(s *Stream, st *State) {
	e.resolve(&e.Header, s, st, hook.PartialGCStart)
	st.mark(catPartialGC, e.Timestamp)
}

func (e *partialGCEnd) EndsChain(*State) bool { return true }

func (e *partialGCEnd) Render(w Writer, st *State) {
	renderStats(w, st, e.stats)
	e.renderMissing(w, st, hook.PartialGCStart)
	renderTime(w, st, &e.span, e.Timestamp)
	st.pop()
	w.FormatAndOutput(st.Indent, `</gc-op>`)
}

// ---- global mark increment ----

type globalMarkStart struct {
	Header
	stats hook.Stats

	id       uint64
	interval uint64
}

func newGlobalMarkStart(p *hook.Payload) Event {
	return &globalMarkStart{stats: p.Stats}
}

func (e *globalMarkStart) Consume(_ *Stream, st *State) {
	e.id = st.bump(catGlobalMark)
	e.interval = st.since(catGlobalMark, e.Timestamp)
}

func (e *globalMarkStart) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<gc-op id="%d" type="global mark increment" timestamp="%s" intervalms="%s">`,
		e.id, st.stamp(e.Timestamp), millis(e.interval))
	st.push()
	renderStats(w, st, e.stats)
}

type globalMarkEnd struct {
	Header
	stats hook.Stats
	span
}

func newGlobalMarkEnd(p *hook.Payload) Event {
	return &globalMarkEnd{stats: p.Stats}
}

func (e *globalMarkEnd) Consume(s *Stream, st *State) {
	e.resolve(&e.Header, s, st, hook.GlobalMarkStart)
	st.mark(catGlobalMark, e.Timestamp)
}

func (e *globalMarkEnd) EndsChain(*State) bool { return true }

func (e *globalMarkEnd) Render(w Writer, st *State) {
	renderStats(w, st, e.stats)
	e.renderMissing(w, st, hook.GlobalMarkStart)
	renderTime(w, st, &e.span, e.Timestamp)
	st.pop()
	w.FormatAndOutput(st.Indent, `</gc-op>`)
}

// ---- copy forward ----

type copyForwardStart struct {
	Header

	id uint64
}

func newCopyForwardStart(*hook.Payload) Event { return &copyForwardStart{} }

func (e *copyForwardStart) Consume(_ *Stream, st *State) {
	e.id = st.bump(catCopyForward)
}

func (e *copyForwardStart) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<copy-forward id="%d" timestamp="%s">`, e.id, st.stamp(e.Timestamp))
	st.push()
}

type copyForwardEnd struct {
	Header
	objects uint64
	bytes   uint64
	regions uint64
	span
}

func newCopyForwardEnd(p *hook.Payload) Event {
	return &copyForwardEnd{objects: p.MovedObjects, bytes: p.MovedBytes, regions: p.Count}
}

func (e *copyForwardEnd) Consume(s *Stream, st *State) {
	e.resolve(&e.Header, s, st, hook.CopyForwardStart)
	st.mark(catCopyForward, e.Timestamp)
}

func (e *copyForwardEnd) Render(w Writer, st *State) {
	w.FormatAndOutput(st.Indent, `<summary objects="%d" bytes="%d" regions="%d" />`, e.objects, e.bytes, e.regions)
	e.renderMissing(w, st, hook.CopyForwardStart)
	renderTime(w, st, &e.span, e.Timestamp)
	st.pop()
	w.FormatAndOutput(st.Indent, `</copy-forward>`)
}
