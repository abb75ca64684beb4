// Package clock supplies timestamps for verbose events.
//
// Event timestamps are opaque uint64 microsecond values taken from a
// monotonic source; only differences between them are meaningful. Wall
// clock strings are derived from the clock's base time when rendering.
package clock

import (
	"sync"
	"time"
)

// Clock is the timestamp source the verbose pipeline reads.
type Clock interface {
	// Now returns monotonic microseconds since the clock's base. Zero is
	// reserved for "not stamped"; only a Manual clock set to it returns it.
	Now() uint64
	// Wall converts a value returned by Now to wall-clock time.
	Wall(ts uint64) time.Time
}

// StampLayout is the wall-clock format used in rendered output.
const StampLayout = "2006-01-02T15:04:05.000"

// Stamp renders ts from c in StampLayout.
func Stamp(c Clock, ts uint64) string {
	return c.Wall(ts).Format(StampLayout)
}

// System reads the Go runtime's monotonic clock.
type System struct {
	base time.Time
}

// NewSystem starts the clock one microsecond in the past so Now is never
// zero.
func NewSystem() *System {
	return &System{base: time.Now().Add(-time.Microsecond)}
}

func (s *System) Now() uint64 {
	return uint64(time.Since(s.base) / time.Microsecond)
}

func (s *System) Wall(ts uint64) time.Time {
	return s.base.Add(time.Duration(ts) * time.Microsecond)
}

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu   sync.Mutex
	base time.Time
	now  uint64
}

func NewManual(base time.Time) *Manual {
	return &Manual{base: base}
}

func (m *Manual) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Wall(ts uint64) time.Time {
	return m.base.Add(time.Duration(ts) * time.Microsecond)
}

// Advance moves the clock forward by d, truncated to microseconds.
func (m *Manual) Advance(d time.Duration) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += uint64(d / time.Microsecond)
	return m.now
}

// Set moves the clock to an absolute value.
func (m *Manual) Set(ts uint64) {
	m.mu.Lock()
	m.now = ts
	m.mu.Unlock()
}

var (
	_ Clock = (*System)(nil)
	_ Clock = (*Manual)(nil)
)
