package output

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one completed cycle as delivered to subscribers.
type Record struct {
	Cycle uint64    `json:"cycle"`
	Time  time.Time `json:"time"`
	Lines []string  `json:"lines"`
}

// Text joins the record back into rendered form.
func (r Record) Text() string {
	var sb bytes.Buffer
	for _, l := range r.Lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// SubscriberFunc receives every completed cycle. Returning an error removes
// the subscriber.
type SubscriberFunc func(Record) error

// AlarmFunc is told when a subscriber was removed because it failed.
type AlarmFunc func(id string, err error)

var errNilSubscriber = errors.New("output: nil subscriber")

type subscriber struct {
	id    string
	fn    SubscriberFunc
	alarm AlarmFunc
}

// HookOutput hands each completed cycle to external subscriber callbacks.
// Subscriber bookkeeping is guarded separately so callers outside the
// manager's processing lock may read Last and Subscribers.
type HookOutput struct {
	base

	mu     sync.Mutex
	subs   []subscriber
	cycles uint64
	last   Record
	has    bool

	now func() time.Time
}

func NewHook(env Env) *HookOutput {
	return &HookOutput{base: newBase(env), now: time.Now}
}

func (h *HookOutput) Type() Type { return TypeHook }

// Subscribe registers fn and returns its id. alarm may be nil.
func (h *HookOutput) Subscribe(fn SubscriberFunc, alarm AlarmFunc) (string, error) {
	if fn == nil {
		return "", errNilSubscriber
	}
	id := uuid.NewString()

	h.mu.Lock()
	h.subs = append(h.subs, subscriber{id: id, fn: fn, alarm: alarm})
	h.mu.Unlock()

	return id, nil
}

// Unsubscribe removes id and reports whether it was registered.
func (h *HookOutput) Unsubscribe(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(id)
}

// Subscribers returns the number of registered subscribers.
func (h *HookOutput) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Last returns the most recent record, if any cycle completed.
func (h *HookOutput) Last() (Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.has
}

func (h *HookOutput) FormatAndOutput(indent int, format string, args ...any) {
	if h.buf == nil {
		return
	}
	h.buf.Write(formatLine(indent, format, args...))
}

// EndOfCycle delivers the cycle to every subscriber on the calling
// goroutine. A subscriber that returns an error is removed and its alarm
// called.
func (h *HookOutput) EndOfCycle() {
	if h.buf == nil || h.buf.Len() == 0 {
		return
	}
	var lines []string
	for _, l := range bytes.Split(bytes.TrimRight(h.buf.Bytes(), "\n"), []byte{'\n'}) {
		lines = append(lines, string(l))
	}
	h.buf.Reset()

	h.mu.Lock()
	h.cycles++
	rec := Record{Cycle: h.cycles, Time: h.now(), Lines: lines}
	h.last, h.has = rec, true
	subs := make([]subscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, s := range subs {
		if err := s.fn(rec); err != nil {
			h.mu.Lock()
			h.removeLocked(s.id)
			h.mu.Unlock()

			h.env.Log.Warn().Err(err).Str("subscriber", s.id).Msg("verbose subscriber failed, removed")
			if s.alarm != nil {
				s.alarm(s.id, err)
			}
		}
	}
}

func (h *HookOutput) CloseStream() { h.EndOfCycle() }

func (h *HookOutput) Reconfigure(Spec) error { return nil }

func (h *HookOutput) Kill() {
	h.mu.Lock()
	h.subs = nil
	h.mu.Unlock()
	h.release()
}

func (h *HookOutput) removeLocked(id string) bool {
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return true
		}
	}
	return false
}

var _ Agent = (*HookOutput)(nil)
