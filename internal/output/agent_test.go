package output

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestNewBuildsEachType(t *testing.T) {
	env, _, _ := testEnv(t)

	tests := []struct {
		spec Spec
		want Type
	}{
		{Spec{Target: "stderr"}, TypeStdStream},
		{Spec{Target: "stdout"}, TypeStdStream},
		{Spec{Target: "trace"}, TypeTrace},
		{Spec{Target: "hook"}, TypeHook},
		{Spec{Target: filepath.Join(t.TempDir(), "gc.log")}, TypeFile},
	}
	for _, tt := range tests {
		a, err := New(env, tt.spec)
		require.NoError(t, err, tt.spec.Target)
		assert.Equal(t, tt.want, a.Type())
		assert.False(t, a.Active())
		a.Kill()
	}

	_, err := New(env, Spec{})
	assert.ErrorIs(t, err, ErrUnknownSink)
}

func TestStreamHeaderAndFooter(t *testing.T) {
	env, stdout, stderr := testEnv(t)

	s := NewStream(env, Spec{Target: "stdout"})
	assert.Equal(t, "stdout", s.Name())

	s.FormatAndOutput(2, "<x/>")
	assert.NotContains(t, stdout.String(), "<x/>", "lines are buffered until the cycle ends")
	s.EndOfCycle()
	s.CloseStream()

	out := stdout.String()
	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, "\n    <x/>\n")
	assert.True(t, strings.HasSuffix(out, "</verbosegc>\n"))
	assert.Empty(t, stderr.String())
}

func TestStreamDefaultsToStderr(t *testing.T) {
	env, stdout, stderr := testEnv(t)
	s := NewStream(env, Spec{Target: "anything-else"})
	s.FormatAndOutput(0, "<y/>")
	s.EndOfCycle()

	assert.Equal(t, "stderr", s.Name())
	assert.Contains(t, stderr.String(), "<y/>")
	assert.Empty(t, stdout.String())
}

func TestStreamReconfigureSwitchesStream(t *testing.T) {
	env, stdout, stderr := testEnv(t)
	s := NewStream(env, Spec{Target: "stderr"})

	require.NoError(t, s.Reconfigure(Spec{Target: "stdout"}))
	s.FormatAndOutput(0, "<z/>")
	s.EndOfCycle()

	assert.Contains(t, stdout.String(), "<?xml")
	assert.Contains(t, stdout.String(), "<z/>")
	assert.NotContains(t, stderr.String(), "<z/>")
	assert.Contains(t, stderr.String(), "</verbosegc>", "old stream is closed with a footer")
}

func TestWriteFailureFallsBackToStderr(t *testing.T) {
	env, _, stderr := testEnv(t)
	env.Stdout = failingWriter{}

	s := NewStream(env, Spec{Target: "stdout"})
	s.FormatAndOutput(0, "<rescued/>")
	s.EndOfCycle()

	assert.Contains(t, stderr.String(), "<rescued/>")
	// header and cycle both failed on stdout
	assert.Equal(t, int64(2), env.Metrics.SinkWriteErrors)
	assert.Equal(t, int64(2), env.Metrics.SinkFallbackWrites)
}

func TestKilledAgentWritesThrough(t *testing.T) {
	env, _, stderr := testEnv(t)
	s := NewStream(env, Spec{Target: "stderr"})
	s.Kill()
	stderr.Reset()

	assert.NotPanics(t, func() { s.FormatAndOutput(0, "<after-kill/>") })
	assert.Contains(t, stderr.String(), "<after-kill/>")
}

type lineTracer struct{ lines []string }

func (l *lineTracer) Trace(line string) { l.lines = append(l.lines, line) }

func TestTraceRelaysLines(t *testing.T) {
	env, _, _ := testEnv(t)
	tr := &lineTracer{}
	a := NewTrace(env, tr)

	a.FormatAndOutput(0, `<gc id="%d">`, 7)
	a.FormatAndOutput(1, `<heap freebytes="%d" />`, 10)
	a.FormatAndOutput(0, `</gc>`)
	assert.Empty(t, tr.lines)

	a.EndOfCycle()
	assert.Equal(t, []string{`<gc id="7">`, `  <heap freebytes="10" />`, `</gc>`}, tr.lines)

	a.EndOfCycle()
	assert.Len(t, tr.lines, 3, "empty cycle relays nothing")
}

func TestHookSubscribers(t *testing.T) {
	env, _, _ := testEnv(t)
	h := NewHook(env)
	h.now = func() time.Time { return time.Unix(100, 0) }

	var got []Record
	id, err := h.Subscribe(func(r Record) error {
		got = append(got, r)
		return nil
	}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, h.Subscribers())

	_, ok := h.Last()
	assert.False(t, ok)

	h.FormatAndOutput(0, "<a/>")
	h.FormatAndOutput(1, "<b/>")
	h.EndOfCycle()

	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Cycle)
	assert.Equal(t, []string{"<a/>", "  <b/>"}, got[0].Lines)
	assert.Equal(t, "<a/>\n  <b/>\n", got[0].Text())

	last, ok := h.Last()
	assert.True(t, ok)
	assert.Equal(t, got[0], last)

	assert.True(t, h.Unsubscribe(id))
	assert.False(t, h.Unsubscribe(id))
}

func TestHookFailingSubscriberIsRemovedAndAlarmed(t *testing.T) {
	env, _, _ := testEnv(t)
	h := NewHook(env)

	var alarmed []string
	boom := errors.New("subscriber crashed")
	badID, err := h.Subscribe(func(Record) error { return boom }, func(id string, err error) {
		assert.ErrorIs(t, err, boom)
		alarmed = append(alarmed, id)
	})
	require.NoError(t, err)

	good := 0
	_, err = h.Subscribe(func(Record) error { good++; return nil }, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		h.FormatAndOutput(0, "<c/>")
		h.EndOfCycle()
	}

	assert.Equal(t, []string{badID}, alarmed)
	assert.Equal(t, 2, good)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHookRejectsNilSubscriber(t *testing.T) {
	env, _, _ := testEnv(t)
	_, err := NewHook(env).Subscribe(nil, nil)
	assert.Error(t, err)
}
