package output

import (
	"bytes"

	"github.com/rs/zerolog"
)

// Tracer receives relayed verbose lines.
type Tracer interface {
	Trace(line string)
}

// LogTracer relays lines into the process log at debug level.
type LogTracer struct {
	Log zerolog.Logger
}

func (t LogTracer) Trace(line string) {
	t.Log.Debug().Str("tracepoint", "verbosegc").Msg(line)
}

// TraceOutput relays each rendered line to a Tracer at the end of a cycle.
// No header or footer is sent; a trace consumer sees only event lines.
type TraceOutput struct {
	base
	tracer Tracer
}

// NewTrace relays to tracer, or to the environment's logger when nil.
func NewTrace(env Env, tracer Tracer) *TraceOutput {
	t := &TraceOutput{base: newBase(env), tracer: tracer}
	if t.tracer == nil {
		t.tracer = LogTracer{Log: t.env.Log}
	}
	return t
}

func (t *TraceOutput) Type() Type { return TypeTrace }

func (t *TraceOutput) FormatAndOutput(indent int, format string, args ...any) {
	line := formatLine(indent, format, args...)
	if t.buf == nil {
		t.tracer.Trace(string(bytes.TrimRight(line, "\n")))
		return
	}
	t.buf.Write(line)
}

func (t *TraceOutput) EndOfCycle() {
	if t.buf == nil || t.buf.Len() == 0 {
		return
	}
	for _, line := range bytes.Split(bytes.TrimRight(t.buf.Bytes(), "\n"), []byte{'\n'}) {
		t.tracer.Trace(string(line))
	}
	t.buf.Reset()
}

func (t *TraceOutput) CloseStream() { t.EndOfCycle() }

func (t *TraceOutput) Reconfigure(Spec) error { return nil }

func (t *TraceOutput) Kill() {
	t.EndOfCycle()
	t.release()
}

var _ Agent = (*TraceOutput)(nil)
