// Package output holds the verbose GC sinks ("output agents").
//
// An agent accumulates formatted lines for one diagnostic cycle and writes
// them out at EndOfCycle. Agents do no locking of their own: the verbose
// manager drives every agent under its processing lock.
package output

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"vgclog/internal/metrics"
	"vgclog/internal/pool"

	"github.com/rs/zerolog"
)

// Version is stamped into the header of every file and stream.
const Version = "vgclog 1.0"

var (
	// ErrUnknownSink is returned for a sink spec that names no sink.
	ErrUnknownSink = errors.New("output: unknown sink")
	// ErrOpenFailed is returned when a file sink cannot open any file.
	ErrOpenFailed = errors.New("output: open failed")
)

// Type tags an agent. At most one agent of each type lives in a manager's
// chain.
type Type int

const (
	TypeFile Type = iota + 1
	TypeStdStream
	TypeTrace
	TypeHook
)

func (t Type) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeStdStream:
		return "stream"
	case TypeTrace:
		return "trace"
	case TypeHook:
		return "hook"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

const (
	StreamStderr = "stderr"
	StreamStdout = "stdout"
	TargetTrace  = "trace"
	TargetHook   = "hook"
)

// Spec is a sink configuration request.
type Spec struct {
	Target string // stream name, "trace", "hook", or a file template
	Files  int    // rotation file count, 0 for a single file
	Cycles int    // cycles per file when rotating
}

// ParseType resolves a sink target to its agent type. Anything that is not
// a reserved name is a file template.
func ParseType(target string) (Type, error) {
	switch strings.TrimSpace(target) {
	case "":
		return 0, fmt.Errorf("%w: empty target", ErrUnknownSink)
	case StreamStderr, StreamStdout:
		return TypeStdStream, nil
	case TargetTrace:
		return TypeTrace, nil
	case TargetHook:
		return TypeHook, nil
	}
	return TypeFile, nil
}

// Agent is one verbose GC sink.
type Agent interface {
	Type() Type
	Active() bool
	SetActive(active bool)

	// FormatAndOutput appends one line at the given nesting depth.
	FormatAndOutput(indent int, format string, args ...any)
	// EndOfCycle writes out what the cycle produced.
	EndOfCycle()
	// CloseStream writes the footer and releases the destination but keeps
	// the agent reusable through Reconfigure.
	CloseStream()
	// Reconfigure applies new settings in place.
	Reconfigure(spec Spec) error
	// Kill closes the stream and returns the agent's buffer.
	Kill()
}

// Env is what every agent needs from its surroundings.
type Env struct {
	Log     zerolog.Logger
	Metrics *metrics.Metrics

	Stdout io.Writer
	Stderr io.Writer // also the last-resort fallback for every agent

	// OnFileClosed is called with the path of every file the file agent
	// finishes. Nil disables it.
	OnFileClosed func(path string)
}

func (e Env) withDefaults() Env {
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
	if e.Metrics == nil {
		e.Metrics = metrics.New()
	}
	return e
}

// New builds the agent a spec names.
func New(env Env, spec Spec) (Agent, error) {
	t, err := ParseType(spec.Target)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeFile:
		return NewFile(env, spec)
	case TypeStdStream:
		return NewStream(env, spec), nil
	case TypeTrace:
		return NewTrace(env, nil), nil
	case TypeHook:
		return NewHook(env), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSink, spec.Target)
}

// ---------------------------------------------------------------
// base: accumulation buffer and the write fallback chain
// ---------------------------------------------------------------

type base struct {
	env    Env
	active bool
	buf    *bytes.Buffer

	// warned limits write-failure logging to one line per failure streak
	warned atomic.Bool
}

func newBase(env Env) base {
	return base{env: env.withDefaults(), buf: pool.GetLine()}
}

func (b *base) Active() bool          { return b.active }
func (b *base) SetActive(active bool) { b.active = active }

// formatLine renders one indented line, two spaces per level.
func formatLine(indent int, f string, args ...any) []byte {
	if indent < 0 {
		indent = 0
	}
	var sb bytes.Buffer
	sb.Grow(2*indent + len(f) + 16)
	for i := 0; i < indent; i++ {
		sb.WriteString("  ")
	}
	fmt.Fprintf(&sb, f, args...)
	sb.WriteByte('\n')
	return sb.Bytes()
}

// appendLine buffers a line, writing through to dst when the buffer is
// gone or full.
func (b *base) appendLine(dst io.Writer, line []byte) {
	if b.buf == nil {
		b.writeOut(dst, line)
		return
	}
	b.buf.Write(line)
	if b.buf.Len() >= pool.LineFlushSize {
		b.flush(dst)
	}
}

// flush writes the buffer to dst and empties it.
func (b *base) flush(dst io.Writer) {
	if b.buf == nil || b.buf.Len() == 0 {
		return
	}
	b.writeOut(dst, b.buf.Bytes())
	b.buf.Reset()
}

// writeOut is the fallback chain: the primary destination, then the error
// stream. Errors never leave the agent.
func (b *base) writeOut(dst io.Writer, p []byte) {
	if dst != nil {
		_, err := dst.Write(p)
		if err == nil {
			b.warned.Store(false)
			return
		}
		atomic.AddInt64(&b.env.Metrics.SinkWriteErrors, 1)
		if !b.warned.Swap(true) {
			b.env.Log.Warn().Err(err).Msg("verbose sink write failed, using error stream")
		}
	}
	atomic.AddInt64(&b.env.Metrics.SinkFallbackWrites, 1)
	_, _ = b.env.Stderr.Write(p)
}

func (b *base) release() {
	pool.PutLine(b.buf)
	b.buf = nil
}

func header() []byte {
	return []byte(fmt.Sprintf("<?xml version=\"1.0\" ?>\n\n<verbosegc version=\"%s\">\n\n", Version))
}

func footer() []byte {
	return []byte("</verbosegc>\n")
}
