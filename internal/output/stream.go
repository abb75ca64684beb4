package output

import "io"

// StreamOutput writes to standard error, or to standard output when the
// spec names "stdout".
type StreamOutput struct {
	base
	name string
	w    io.Writer
	open bool
}

func NewStream(env Env, spec Spec) *StreamOutput {
	s := &StreamOutput{base: newBase(env)}
	s.selectStream(spec.Target)
	s.openStream()
	return s
}

func (s *StreamOutput) Type() Type { return TypeStdStream }

// Name is "stderr" or "stdout".
func (s *StreamOutput) Name() string { return s.name }

func (s *StreamOutput) FormatAndOutput(indent int, format string, args ...any) {
	if !s.open {
		s.openStream()
	}
	s.appendLine(s.w, formatLine(indent, format, args...))
}

func (s *StreamOutput) EndOfCycle() {
	s.flush(s.w)
}

func (s *StreamOutput) CloseStream() {
	if !s.open {
		return
	}
	s.flush(s.w)
	s.writeOut(s.w, footer())
	s.open = false
}

// Reconfigure may switch between stdout and stderr. The footer is written
// to the old stream and the header to the new one only when it changes.
func (s *StreamOutput) Reconfigure(spec Spec) error {
	prev, w := s.name, s.w
	s.flush(w)
	s.selectStream(spec.Target)
	if s.name != prev && s.open {
		s.writeOut(w, footer())
		s.openStream()
	}
	return nil
}

func (s *StreamOutput) Kill() {
	s.CloseStream()
	s.release()
}

func (s *StreamOutput) selectStream(target string) {
	if target == StreamStdout {
		s.name, s.w = StreamStdout, s.env.Stdout
		return
	}
	s.name, s.w = StreamStderr, s.env.Stderr
}

func (s *StreamOutput) openStream() {
	s.writeOut(s.w, header())
	s.open = true
}

var _ Agent = (*StreamOutput)(nil)
