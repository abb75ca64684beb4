package verbose

import (
	"sync/atomic"

	"vgclog/internal/hook"

	"github.com/google/uuid"
)

// Stream is an append-only chain of events for one diagnostic cycle.
//
// Producers append concurrently through Chain; the tail pointer is the only
// point of contention and is advanced with compare-and-swap. Processing
// never overlaps appends to the same stream: the manager detaches the
// events up to the one that ends the chain while appends to the master
// stream are held off, and a disposable stream has a single producer.
type Stream struct {
	id         string
	disposable bool

	head atomic.Pointer[Header]
	tail atomic.Pointer[Header]

	length    atomic.Int64
	completed uint64 // timestamp of the last processing, master only
	destroyed bool
}

// NewStream returns an empty stream. Disposable streams carry a single
// atomic event and are destroyed after one processing pass.
func NewStream(disposable bool) *Stream {
	return &Stream{id: uuid.NewString(), disposable: disposable}
}

func (s *Stream) ID() string        { return s.id }
func (s *Stream) Disposable() bool  { return s.disposable }
func (s *Stream) Destroyed() bool   { return s.destroyed }
func (s *Stream) Completed() uint64 { return s.completed }
func (s *Stream) Len() int          { return int(s.length.Load()) }

// Head returns the first event, nil when empty.
func (s *Stream) Head() Event {
	if h := s.head.Load(); h != nil {
		return h.event
	}
	return nil
}

// Tail returns the last event, nil when empty.
func (s *Stream) Tail() Event {
	if h := s.tail.Load(); h != nil {
		return h.event
	}
	return nil
}

// Chain appends ev. It never blocks: a lost race on the tail retries.
func (s *Stream) Chain(ev Event) {
	h := ev.Base()
	h.event = ev
	h.next.Store(nil)

	for {
		old := s.tail.Load()
		h.prev = old
		if s.tail.CompareAndSwap(old, h) {
			if old == nil {
				s.head.Store(h)
			} else {
				old.next.Store(h)
			}
			s.length.Add(1)
			return
		}
	}
}

// ReturnEvent walks back from `from` (inclusive) and returns the first event
// of kind raised through src, or nil at the head.
func (s *Stream) ReturnEvent(kind hook.ID, src *hook.Registry, from *Header) Event {
	for h := from; h != nil; h = h.prev {
		if h.matches(kind, src) {
			return h.event
		}
	}
	return nil
}

// ReturnEventBounded is ReturnEvent that gives up when an event of
// (stopKind, stopSrc) is met before a match. `from` itself is never treated
// as a stop.
func (s *Stream) ReturnEventBounded(kind hook.ID, src *hook.Registry, from *Header, stopKind hook.ID, stopSrc *hook.Registry) Event {
	for h := from; h != nil; h = h.prev {
		if h.matches(kind, src) {
			return h.event
		}
		if h != from && h.matches(stopKind, stopSrc) {
			return nil
		}
	}
	return nil
}

// Events returns the chain head to tail.
func (s *Stream) Events() []Event {
	out := make([]Event, 0, s.Len())
	for h := s.head.Load(); h != nil; h = h.next.Load() {
		out = append(out, h.event)
	}
	return out
}

// consume runs every event's Consume in chain order. Each event only looks
// backwards, and everything behind it is fully linked.
func (s *Stream) consume(st *State) {
	for h := s.head.Load(); h != nil; h = h.next.Load() {
		h.event.Consume(s, st)
	}
}

// prune splices out every event that defines no output and returns how
// many were removed.
func (s *Stream) prune() int {
	removed := 0
	for h := s.head.Load(); h != nil; {
		next := h.next.Load()
		if !h.event.DefinesOutput() {
			s.unlink(h)
			removed++
		}
		h = next
	}
	return removed
}

func (s *Stream) unlink(h *Header) {
	next := h.next.Load()

	if h.prev == nil {
		s.head.Store(next)
	} else {
		h.prev.next.Store(next)
	}
	if next == nil {
		s.tail.Store(h.prev)
	} else {
		next.prev = h.prev
	}

	h.prev = nil
	h.next.Store(nil)
	s.length.Add(-1)
}

// detach moves the events from the head through end into a new stream
// and leaves everything chained after end in s. It returns nil when end
// was already taken by an earlier detach. Chain must not run on s
// meanwhile.
func (s *Stream) detach(end *Header) *Stream {
	if end.detached {
		return nil
	}

	n := int64(0)
	for h := s.head.Load(); h != nil; h = h.next.Load() {
		h.detached = true
		n++
		if h == end {
			break
		}
	}

	out := &Stream{id: uuid.NewString()}
	out.head.Store(s.head.Load())
	out.tail.Store(end)
	out.length.Store(n)

	rest := end.next.Load()
	end.next.Store(nil)
	s.head.Store(rest)
	if rest == nil {
		s.tail.Store(nil)
	} else {
		rest.prev = nil
	}
	s.length.Add(-n)
	return out
}

// reset empties the master stream for the next cycle.
func (s *Stream) reset(now uint64) {
	s.clear()
	s.completed = now
}

// destroy drops a disposable stream and the links of every event in it.
func (s *Stream) destroy() {
	s.clear()
	s.destroyed = true
}

func (s *Stream) clear() {
	for h := s.head.Load(); h != nil; {
		next := h.next.Load()
		h.prev = nil
		h.next.Store(nil)
		h = next
	}
	s.head.Store(nil)
	s.tail.Store(nil)
	s.length.Store(0)
}
