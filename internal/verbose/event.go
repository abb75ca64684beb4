// Package verbose is the verbose GC event pipeline.
//
// Collector hooks become Events. Events are appended lock-free to a Stream
// by whichever collector goroutine raised them. When an event that ends the
// chain arrives, the raising goroutine processes the stream: every event
// resolves its references to earlier events (consume), events without
// output are spliced out (prune), and the rest are rendered once per active
// output agent.
package verbose

import (
	"sync/atomic"

	"vgclog/internal/hook"
)

// Writer is the formatting primitive an event renders through. Every
// output.Agent satisfies it.
type Writer interface {
	FormatAndOutput(indent int, format string, args ...any)
}

// Event is one diagnostic occurrence.
//
// Lifecycle: created by a Factory when the hook fires, consumed exactly
// once while its stream is processed, rendered zero or more times, dropped
// with its stream. Fields written by Consume are written once and never
// changed by Render, so rendering the same event for several agents yields
// identical output.
type Event interface {
	Base() *Header

	// Consume resolves references to earlier events in s and records
	// derived values on the event. It runs before any Render.
	Consume(s *Stream, st *State)
	// DefinesOutput reports whether the event survives pruning. Evaluated
	// after every event in the stream has consumed.
	DefinesOutput() bool
	// EndsChain reports whether appending this event triggers processing.
	// It runs on the raising goroutine before the event is chained, so it
	// may only read the atomic parts of st.
	EndsChain(st *State) bool
	// Atomic events get a one-shot stream of their own.
	Atomic() bool
	// Render writes the event through w at st.Indent, pushing or popping
	// the indentation for bracketing kinds.
	Render(w Writer, st *State)
}

// Factory builds the event for one hook id. It may return nil when the
// payload is unusable; the notification is then dropped.
type Factory func(p *hook.Payload) Event

// Header is embedded in every event kind. It carries the fields common to
// all kinds and the stream links.
type Header struct {
	Timestamp uint64
	Kind      hook.ID
	Source    *hook.Registry
	Thread    int

	event    Event
	prev     *Header
	next     atomic.Pointer[Header]
	detached bool // taken off the master stream for processing
}

func (h *Header) Base() *Header { return h }

// Event returns the event this header belongs to.
func (h *Header) Event() Event { return h.event }

// Prev is the previously chained event, nil at the head.
func (h *Header) Prev() *Header { return h.prev }

// Next is the following event, nil at the tail.
func (h *Header) Next() *Header { return h.next.Load() }

// Defaults. Kinds override what differs.

func (*Header) Consume(*Stream, *State) {}
func (*Header) DefinesOutput() bool     { return true }
func (*Header) EndsChain(*State) bool   { return false }
func (*Header) Atomic() bool            { return false }

// matches reports whether h is an event of kind raised through src.
func (h *Header) matches(kind hook.ID, src *hook.Registry) bool {
	return h.Kind == kind && h.Source == src
}

// span is the consumed half of an end event: the timestamp of its start
// event, or a marker that the start was never found.
type span struct {
	start   uint64
	missing bool
}

// resolve finds the start event for the end event h, walking back from h
// and stopping at an earlier end of the same kind so a start from a
// previous bracket is never matched.
func (sp *span) resolve(h *Header, s *Stream, st *State, startKind hook.ID) Event {
	ev := s.ReturnEventBounded(startKind, h.Source, h, h.Kind, h.Source)
	if ev == nil {
		sp.missing = true
		st.corrupt(h.Kind, startKind)
		return nil
	}
	sp.start = ev.Base().Timestamp
	return ev
}

// resolveState is resolve for brackets whose start lives in an earlier
// stream and was recorded in st.
func (sp *span) resolveState(h *Header, st *State, c category, startKind hook.ID) {
	start, ok := st.closeSpan(c)
	if !ok {
		sp.missing = true
		st.corrupt(h.Kind, startKind)
		return
	}
	sp.start = start
}

func (sp *span) duration(end uint64) uint64 {
	if sp.missing {
		return 0
	}
	return delta(end, sp.start)
}

// renderMissing emits the placeholder for a corrupted bracket.
func (sp *span) renderMissing(w Writer, st *State, startKind hook.ID) {
	if sp.missing {
		w.FormatAndOutput(st.Indent, `<warning details="missing %s event" />`, startKind)
	}
}
