package verbose

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vgclog/internal/clock"
	"vgclog/internal/config"
	"vgclog/internal/hook"
	"vgclog/internal/metrics"
	"vgclog/internal/output"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

type fixture struct {
	m      *Manager
	reg    *hook.Registry
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newManager(modes ...string) (*Manager, *hook.Registry, *bytes.Buffer, *bytes.Buffer) {
	reg := hook.NewRegistry("test")
	var stdout, stderr bytes.Buffer
	m := NewManager(Options{
		Registry:  reg,
		Clock:     clock.NewManual(testBase),
		Log:       zerolog.Nop(),
		Metrics:   metrics.New(),
		Env:       output.Env{Stdout: &stdout, Stderr: &stderr},
		Modes:     modes,
		Heartbeat: time.Millisecond,
	})
	return m, reg, &stdout, &stderr
}

// newFixture returns an enabled manager writing to a captured stdout.
func newFixture(t *testing.T, modes ...string) *fixture {
	t.Helper()
	m, reg, stdout, stderr := newManager(modes...)
	require.NoError(t, m.Enable())
	require.NoError(t, m.Configure(output.Spec{Target: output.StreamStdout}))
	t.Cleanup(m.Shutdown)
	return &fixture{m: m, reg: reg, stdout: stdout, stderr: stderr}
}

func (f *fixture) fire(id hook.ID, ts uint64, set ...func(p *hook.Payload)) {
	p := &hook.Payload{Timestamp: ts}
	for _, fn := range set {
		fn(p)
	}
	f.reg.Trigger(id, p)
}

// body returns the non-empty lines written after the stream header.
func body(out string) []string {
	if i := strings.Index(out, "<verbosegc version"); i >= 0 {
		out = out[i:]
		out = out[strings.Index(out, "\n")+1:]
	}
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func stampAt(us uint64) string {
	return testBase.Add(time.Duration(us) * time.Microsecond).Format(clock.StampLayout)
}

type recWriter struct{ lines []string }

func (r *recWriter) FormatAndOutput(indent int, format string, args ...any) {
	r.lines = append(r.lines, strings.Repeat("  ", indent)+fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------
// end-to-end
// ---------------------------------------------------------------

func TestSingleCycleToFile(t *testing.T) {
	m, reg, _, _ := newManager()
	path := filepath.Join(t.TempDir(), "gc.log")
	require.NoError(t, m.Configure(output.Spec{Target: path}))
	require.NoError(t, m.Enable())

	reg.Trigger(hook.SystemGCStart, &hook.Payload{Timestamp: 1000, Reason: "explicit"})
	assert.Equal(t, 1, m.Master().Len())
	reg.Trigger(hook.SystemGCEnd, &hook.Payload{Timestamp: 2500})

	assert.Equal(t, 0, m.Master().Len())
	assert.Equal(t, int64(1), m.Metrics().StreamsProcessed)
	assert.Equal(t, uint64(1), m.Status().Cycles)

	m.CloseStreams()
	m.Shutdown()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`<sys id="1" timestamp="` + stampAt(1000) + `" intervalms="0.000" reason="explicit">`,
		`  <time totalms="1.500" />`,
		`</sys>`,
		`</verbosegc>`,
	}, body(string(raw)))
}

func TestNestedBracketsBalanceIndentation(t *testing.T) {
	f := newFixture(t)

	f.fire(hook.AllocFailureStart, 1000, func(p *hook.Payload) { p.Subspace = "nursery"; p.RequestedBytes = 64 })
	f.fire(hook.CycleStart, 2000)
	f.fire(hook.CompactStart, 2500)
	f.fire(hook.CompactEnd, 3500, func(p *hook.Payload) { p.MovedObjects = 10; p.MovedBytes = 640; p.Reason = "fragmented" })
	f.fire(hook.CycleEnd, 5000)
	f.fire(hook.AllocFailureEnd, 6000)

	assert.Equal(t, []string{
		`<af type="nursery" id="1" timestamp="` + stampAt(1000) + `" intervalms="0.000">`,
		`  <minimum requested_bytes="64" />`,
		`  <gc type="scavenge" id="1" timestamp="` + stampAt(2000) + `" intervalms="0.000">`,
		`    <compaction id="1" movecount="10" movebytes="640" reason="fragmented" timems="1.000" />`,
		`    <refs_cleared weak="0" soft="0" phantom="0" />`,
		`    <time totalms="3.000" />`,
		`  </gc>`,
		`  <time totalms="5.000" />`,
		`</af>`,
	}, body(f.stdout.String()))

	assert.Equal(t, 0, f.m.Status().Indent)
	assert.Equal(t, int64(1), f.m.Metrics().EventsPruned, "compact start is pruned")
}

func TestIntervalsBetweenCycles(t *testing.T) {
	f := newFixture(t)

	f.fire(hook.SystemGCStart, 1000)
	f.fire(hook.SystemGCEnd, 2000)
	f.fire(hook.SystemGCStart, 7500)
	f.fire(hook.SystemGCEnd, 8000)

	out := f.stdout.String()
	assert.Contains(t, out, `<sys id="2" timestamp="`+stampAt(7500)+`" intervalms="5.500"`)
	assert.Contains(t, out, `<time totalms="0.500" />`)
}

func TestMissingStartRendersPlaceholder(t *testing.T) {
	f := newFixture(t)

	assert.NotPanics(t, func() { f.fire(hook.AllocFailureEnd, 5000) })

	assert.Equal(t, []string{
		`<warning details="missing af-start event" />`,
		`<time totalms="0.000" />`,
		`</af>`,
	}, body(f.stdout.String()))
	assert.Equal(t, int64(1), f.m.Metrics().ConsumeCorruptions)
	assert.Equal(t, 0, f.m.Status().Indent)
}

func TestEndMatchesOnlyItsOwnBracket(t *testing.T) {
	f := newFixture(t)

	// an earlier, completed cycle inside the same stream must not be matched
	f.fire(hook.SystemGCStart, 1000)
	f.fire(hook.CycleStart, 1100)
	f.fire(hook.CycleEnd, 1200)
	f.fire(hook.CycleEnd, 1300)
	f.fire(hook.SystemGCEnd, 2000)

	out := f.stdout.String()
	assert.Contains(t, out, `<time totalms="0.100" />`)
	assert.Contains(t, out, `<warning details="missing cycle-start event" />`)
	assert.Equal(t, int64(1), f.m.Metrics().ConsumeCorruptions)
}

func TestRenderIsIdempotent(t *testing.T) {
	src := hook.NewRegistry("a")
	st := NewState(clock.NewManual(testBase), zerolog.Nop(), nil, time.Second)
	s := NewStream(false)

	start := &allocFailureStart{subspace: "tenure", requested: 32}
	start.Kind, start.Source, start.Timestamp = hook.AllocFailureStart, src, 1000
	end := &allocFailureEnd{stats: hook.Stats{TenureFree: 10, TenureTotal: 40}}
	end.Kind, end.Source, end.Timestamp = hook.AllocFailureEnd, src, 4250
	s.Chain(start)
	s.Chain(end)
	s.consume(st)

	render := func() []string {
		w := &recWriter{}
		st.Indent = 0
		for _, ev := range s.Events() {
			ev.Render(w, st)
		}
		assert.Equal(t, 0, st.Indent)
		return w.lines
	}

	first, second := render(), render()
	assert.Equal(t, first, second)
	assert.Contains(t, first, `  <heap type="tenure" freebytes="10" totalbytes="40" percent="25" />`)
	assert.Contains(t, first, `  <time totalms="3.250" />`)
}

func TestEveryActiveAgentSeesTheSameText(t *testing.T) {
	f := newFixture(t)

	var got []output.Record
	_, err := f.m.RegisterSubscriber(func(r output.Record) error {
		got = append(got, r)
		return nil
	}, nil)
	require.NoError(t, err)

	f.fire(hook.AllocFailureStart, 1000, func(p *hook.Payload) { p.Subspace = "nursery" })
	f.fire(hook.CycleStart, 1500, func(p *hook.Payload) { p.Global = true })
	f.fire(hook.CycleEnd, 2500)
	f.fire(hook.AllocFailureEnd, 3000)

	require.Len(t, got, 1)
	assert.Equal(t, body(f.stdout.String()), got[0].Lines)
	assert.Equal(t, 0, f.m.Status().Indent)
}

// ---------------------------------------------------------------
// kinds with dynamic predicates
// ---------------------------------------------------------------

func TestHeapResizeMergesConsecutive(t *testing.T) {
	f := newFixture(t)

	expand := func(amount uint64) func(*hook.Payload) {
		return func(p *hook.Payload) {
			p.ResizeExpand, p.Subspace, p.ResizeAmount, p.NewSize = true, "tenure", amount, 1000+amount
		}
	}

	f.fire(hook.AllocFailureStart, 1000, func(p *hook.Payload) { p.Subspace = "tenure" })
	f.fire(hook.HeapResize, 1100, expand(100))
	f.fire(hook.HeapResize, 1200, expand(200))
	f.fire(hook.HeapResize, 1300, func(p *hook.Payload) { p.Subspace = "tenure"; p.ResizeAmount = 50; p.NewSize = 1250 })
	f.fire(hook.AllocFailureEnd, 2000)

	var resizes []string
	for _, l := range body(f.stdout.String()) {
		if strings.Contains(l, "<heap-resize") {
			resizes = append(resizes, strings.TrimSpace(l))
		}
	}
	assert.Equal(t, []string{
		`<heap-resize type="expand" space="tenure" amount="300" count="2" newsize="1200" reason="" />`,
		`<heap-resize type="contract" space="tenure" amount="50" count="1" newsize="1250" reason="" />`,
	}, resizes)
	assert.Equal(t, int64(1), f.m.Metrics().EventsPruned)
}

func TestHeapResizeRunLeavesPassedDataAlone(t *testing.T) {
	src := hook.NewRegistry("a")
	s := NewStream(false)

	var rs []*heapResize
	for _, amount := range []uint64{100, 200, 300} {
		r := newHeapResize(&hook.Payload{ResizeExpand: true, Subspace: "nursery", ResizeAmount: amount, NewSize: 1000 + amount}).(*heapResize)
		r.Kind, r.Source = hook.HeapResize, src
		rs = append(rs, r)
		s.Chain(r)
	}

	s.consume(&State{})

	for i, amount := range []uint64{100, 200, 300} {
		assert.Equal(t, amount, rs[i].amount, "resize %d", i)
		assert.Equal(t, uint64(1), rs[i].count, "resize %d", i)
	}
	assert.True(t, rs[0].merged)
	assert.True(t, rs[1].merged)
	assert.False(t, rs[2].merged)
	assert.Equal(t, 2, s.prune())

	var w recWriter
	rs[2].Render(&w, &State{})
	assert.Equal(t, []string{
		`<heap-resize type="expand" space="nursery" amount="600" count="3" newsize="1300" reason="" />`,
	}, w.lines)
}

func TestHeartbeatWindow(t *testing.T) {
	f := newFixture(t, config.ModeRealtime)

	beat := func(ts, quantum uint64) {
		f.fire(hook.Heartbeat, ts, func(p *hook.Payload) { p.Quantum = quantum; p.Priority = 11 })
	}

	beat(100, 100)
	beat(400, 200)
	assert.Equal(t, 2, f.m.Master().Len(), "heartbeats inside the window do not end the chain")
	beat(1200, 300)
	assert.Equal(t, 0, f.m.Master().Len())

	beat(1500, 50)
	beat(2300, 150)

	assert.Equal(t, []string{
		`<gc-op id="1" type="heartbeat" timestamp="` + stampAt(1200) + `" intervalms="0.000">`,
		`  <quanta quantumCount="3" minTimeMs="0.100" meanTimeMs="0.200" maxTimeMs="0.300" />`,
		`  <priority value="11" />`,
		`</gc-op>`,
		`<gc-op id="2" type="heartbeat" timestamp="` + stampAt(2300) + `" intervalms="1.100">`,
		`  <quanta quantumCount="2" minTimeMs="0.050" meanTimeMs="0.100" maxTimeMs="0.150" />`,
		`  <priority value="11" />`,
		`</gc-op>`,
	}, body(f.stdout.String()))
	assert.Equal(t, int64(3), f.m.Metrics().EventsPruned)
}

func TestRealtimeCycleSpansStreams(t *testing.T) {
	f := newFixture(t, config.ModeRealtime)

	f.fire(hook.RealtimeCycleStart, 1000)
	f.fire(hook.Heartbeat, 3000, func(p *hook.Payload) { p.Quantum = 500 })
	f.fire(hook.RealtimeCycleEnd, 6000)

	out := f.stdout.String()
	assert.Contains(t, out, `<cycle-start id="1" type="global" timestamp="`+stampAt(1000)+`" intervalms="0.000" />`)
	assert.Contains(t, out, `<cycle-end id="1" type="global" timestamp="`+stampAt(6000)+`" durationms="5.000" />`)
	assert.Equal(t, int64(2), f.m.Metrics().StreamsProcessed)
}

func TestTriggerAcrossDisposableStreams(t *testing.T) {
	f := newFixture(t, config.ModeRealtime)

	f.fire(hook.TriggerStart, 1000, func(p *hook.Payload) { p.Reason = "allocation" })
	f.fire(hook.TriggerEnd, 4000)
	f.fire(hook.TriggerEnd, 5000)

	assert.Equal(t, []string{
		`<trigger-start id="1" timestamp="` + stampAt(1000) + `" reason="allocation" />`,
		`<trigger-end id="1" timestamp="` + stampAt(4000) + `" durationms="3.000" />`,
		`<trigger-end id="1" timestamp="` + stampAt(5000) + `" durationms="0.000" />`,
		`<warning details="missing trigger-start event" />`,
	}, body(f.stdout.String()))
	assert.Equal(t, int64(3), f.m.Metrics().DisposableStreams)
	assert.Equal(t, int64(1), f.m.Metrics().ConsumeCorruptions)
}

func TestRegionPartialGC(t *testing.T) {
	f := newFixture(t, config.ModeRegion)

	f.fire(hook.TaxationEntry, 900, func(p *hook.Payload) { p.RequestedBytes = 4096 })
	f.fire(hook.PartialGCStart, 1000)
	f.fire(hook.CopyForwardStart, 1500)
	f.fire(hook.CopyForwardEnd, 2500, func(p *hook.Payload) { p.MovedObjects, p.MovedBytes, p.Count = 5, 320, 3 })
	f.fire(hook.PartialGCEnd, 4000)

	assert.Equal(t, []string{
		`<gc-op id="1" type="partial gc" timestamp="` + stampAt(1000) + `" intervalms="0.000">`,
		`  <allocation-taxation threshold="4096" />`,
		`  <copy-forward id="1" timestamp="` + stampAt(1500) + `">`,
		`    <summary objects="5" bytes="320" regions="3" />`,
		`    <time totalms="1.000" />`,
		`  </copy-forward>`,
		`  <time totalms="3.000" />`,
		`</gc-op>`,
	}, body(f.stdout.String()))
	assert.Equal(t, int64(1), f.m.Metrics().EventsPruned)
}

func TestCombinedModes(t *testing.T) {
	f := newFixture(t, config.ModeStandard, config.ModeRegion)

	f.fire(hook.GlobalMarkStart, 1000)
	f.fire(hook.GlobalMarkEnd, 1800)
	f.fire(hook.SystemGCStart, 2000)
	f.fire(hook.SystemGCEnd, 2100)

	out := f.stdout.String()
	assert.Contains(t, out, `type="global mark increment"`)
	assert.Contains(t, out, `<time totalms="0.800" />`)
	assert.Contains(t, out, `<sys id="1"`)
	assert.Equal(t, int64(2), f.m.Metrics().StreamsProcessed)
}

// ---------------------------------------------------------------
// routing
// ---------------------------------------------------------------

func TestAtomicEventUsesDisposableStream(t *testing.T) {
	f := newFixture(t)

	var created []*Stream
	f.m.newStream = func() (*Stream, error) {
		s := NewStream(true)
		created = append(created, s)
		return s, nil
	}

	f.fire(hook.AllocFailureStart, 1000, func(p *hook.Payload) { p.Subspace = "nursery" })
	f.fire(hook.ExcessiveGC, 1500, func(p *hook.Payload) { p.Reason = "gc time above threshold" })

	require.Len(t, created, 1)
	assert.True(t, created[0].Destroyed())
	assert.Equal(t, 0, created[0].Len())

	assert.False(t, f.m.Master().Destroyed())
	assert.Equal(t, 1, f.m.Master().Len(), "the open allocation failure stays on the master stream")

	assert.Equal(t, []string{
		`<warning details="excessive gc activity" id="1" timestamp="` + stampAt(1500) + `" reason="gc time above threshold" />`,
	}, body(f.stdout.String()))
	assert.Equal(t, int64(1), f.m.Metrics().DisposableStreams)

	f.fire(hook.AllocFailureEnd, 2000)
	assert.Equal(t, 0, f.m.Master().Len())
	assert.False(t, f.m.Master().Destroyed())
}

func TestDisposableStreamFallback(t *testing.T) {
	f := newFixture(t)
	f.m.newStream = func() (*Stream, error) { return nil, errors.New("out of memory") }

	f.fire(hook.AllocFailureStart, 1000, func(p *hook.Payload) { p.Subspace = "nursery" })
	f.fire(hook.ConcurrentKickoff, 1500, func(p *hook.Payload) { p.Reason = "threshold"; p.RequestedBytes = 1 << 20 })

	assert.Equal(t, int64(1), f.m.Metrics().StreamFallbacks)
	assert.Equal(t, int64(0), f.m.Metrics().DisposableStreams)
	assert.Equal(t, 0, f.m.Master().Len())
	assert.False(t, f.m.Master().Destroyed())

	out := f.stdout.String()
	assert.Contains(t, out, `<af type="nursery"`)
	assert.Contains(t, out, `<kickoff reason="threshold" targetbytes="1048576" thread="0" />`)
}

func TestConcurrentProducers(t *testing.T) {
	f := newFixture(t)

	f.fire(hook.AllocFailureStart, 1000, func(p *hook.Payload) { p.Subspace = "tenure" })

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				f.reg.Trigger(hook.WorkStackOverflow, &hook.Payload{Timestamp: 1100, Thread: w, Count: 1})
			}
		}(w)
	}
	wg.Wait()

	f.fire(hook.AllocFailureEnd, 2000)

	assert.Equal(t, 80, strings.Count(f.stdout.String(), `details="work stack overflow"`))
	assert.Equal(t, int64(82), f.m.Metrics().EventsRaised)
	assert.Equal(t, 0, f.m.Master().Len())
}

// Heartbeats raised from many workers at once, with terminal ones
// processing the master stream while others are still appended, must all
// be counted by some terminal heartbeat or still wait on the stream.
func TestConcurrentHeartbeatsAreNeverLost(t *testing.T) {
	f := newFixture(t, config.ModeRealtime)

	const workers, beats = 16, 500
	var ts atomic.Uint64

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < beats; i++ {
				f.reg.Trigger(hook.Heartbeat, &hook.Payload{Timestamp: ts.Add(7), Thread: w, Quantum: 1})
			}
		}(w)
	}
	wg.Wait()

	reported := 0
	for _, m := range regexp.MustCompile(`quantumCount="(\d+)"`).FindAllStringSubmatch(f.stdout.String(), -1) {
		n, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		reported += n
	}

	assert.Equal(t, int64(workers*beats), f.m.Metrics().EventsRaised)
	assert.Greater(t, reported, 0)
	assert.Equal(t, workers*beats, reported+f.m.Master().Len(), "heartbeats lost")
}

func TestUnstampedPayloadTakesClockTime(t *testing.T) {
	f := newFixture(t)
	c := f.m.clock.(*clock.Manual)

	c.Set(5000)
	f.fire(hook.SystemGCStart, hook.Unstamped)
	c.Set(6500)
	f.fire(hook.SystemGCEnd, hook.Unstamped)

	assert.Equal(t, []string{
		`<sys id="1" timestamp="` + stampAt(5000) + `" intervalms="0.000" reason="">`,
		`  <time totalms="1.500" />`,
		`</sys>`,
	}, body(f.stdout.String()))
}

func TestDroppedEvents(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.reg.Register(hook.ID(900), f.m, Factory(func(*hook.Payload) Event { return nil })))
	require.NoError(t, f.reg.Register(hook.ID(901), f.m, Factory(func(*hook.Payload) Event { panic("boom") })))
	require.NoError(t, f.reg.Register(hook.ID(902), f.m, "not a factory"))

	assert.NotPanics(t, func() {
		f.fire(hook.ID(900), 1)
		f.fire(hook.ID(901), 2)
		f.fire(hook.ID(902), 3)
	})

	assert.Equal(t, int64(3), f.m.Metrics().EventsDropped)
	assert.Equal(t, 0, f.m.Master().Len())
}

// ---------------------------------------------------------------
// hook attachment
// ---------------------------------------------------------------

func TestEnableDisableIdempotent(t *testing.T) {
	m, reg, _, _ := newManager()
	assert.False(t, m.Enabled())

	require.NoError(t, m.Enable())
	require.NoError(t, m.Enable())
	assert.True(t, m.Enabled())
	assert.Equal(t, 1, reg.Registered(hook.SystemGCStart))
	assert.Equal(t, 1, reg.Registered(hook.ExcessiveGC))
	assert.Equal(t, 0, reg.Registered(hook.Heartbeat))

	m.Disable()
	m.Disable()
	assert.False(t, m.Enabled())
	assert.Equal(t, 0, reg.Registered(hook.SystemGCStart))
	assert.Equal(t, 0, reg.Trigger(hook.SystemGCEnd, &hook.Payload{Timestamp: 1}))
}

func TestEnableUnknownModeRegistersNothing(t *testing.T) {
	m, reg, _, _ := newManager(config.ModeStandard, "bogus")

	err := m.Enable()
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.False(t, m.Enabled())
	assert.Equal(t, 0, reg.Registered(hook.SystemGCStart))
}

// ---------------------------------------------------------------
// configuration
// ---------------------------------------------------------------

func activeTypes(s Status) []string {
	var out []string
	for _, a := range s.Agents {
		if a.Active {
			out = append(out, a.Type)
		}
	}
	return out
}

func TestConfigureUnknownTargetKeepsActiveSink(t *testing.T) {
	f := newFixture(t)

	err := f.m.Configure(output.Spec{Target: "  "})
	assert.ErrorIs(t, err, output.ErrUnknownSink)
	assert.Equal(t, []string{"stream"}, activeTypes(f.m.Status()))
}

func TestConfigureReconfiguresInPlace(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.m.Configure(output.Spec{Target: output.StreamStderr}))
	st := f.m.Status()
	require.Len(t, st.Agents, 1)
	assert.True(t, st.Agents[0].Active)

	f.fire(hook.SystemGCStart, 1000)
	f.fire(hook.SystemGCEnd, 1100)
	assert.Contains(t, f.stderr.String(), `<sys id="1"`)
	assert.NotContains(t, f.stdout.String(), `<sys id="1"`)
}

func TestConfigureOneLiveSink(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "gc.log")

	require.NoError(t, f.m.Configure(output.Spec{Target: path}))
	require.NoError(t, f.m.Configure(output.Spec{Target: output.StreamStdout}))

	st := f.m.Status()
	require.Len(t, st.Agents, 2)
	assert.Equal(t, []string{"stream"}, activeTypes(st))
	assert.Equal(t, "file", st.Agents[0].Type, "new agents are prepended")
	assert.Equal(t, path, st.Agents[0].Path)

	f.fire(hook.SystemGCStart, 1000)
	f.fire(hook.SystemGCEnd, 1100)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "<sys")
	assert.Contains(t, f.stdout.String(), "<sys")
}

func TestConfigureFileFallsBackToStderr(t *testing.T) {
	m, reg, _, stderr := newManager()
	require.NoError(t, m.Enable())
	t.Cleanup(m.Shutdown)

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := m.Configure(output.Spec{Target: filepath.Join(blocker, "logs", "gc#.log"), Files: 3, Cycles: 2})
	require.NoError(t, err)

	st := m.Status()
	require.Len(t, st.Agents, 1)
	assert.Equal(t, "stream", st.Agents[0].Type)
	assert.True(t, st.Agents[0].Active)

	reg.Trigger(hook.SystemGCStart, &hook.Payload{Timestamp: 1000})
	reg.Trigger(hook.SystemGCEnd, &hook.Payload{Timestamp: 2000})
	assert.Contains(t, stderr.String(), `<time totalms="1.000" />`)
}

// ---------------------------------------------------------------
// subscribers
// ---------------------------------------------------------------

func TestSubscriberLifecycle(t *testing.T) {
	f := newFixture(t)

	var delivered int
	id, err := f.m.RegisterSubscriber(func(output.Record) error {
		delivered++
		return nil
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stream", "hook"}, activeTypes(f.m.Status()))

	f.fire(hook.SystemGCStart, 1000)
	f.fire(hook.SystemGCEnd, 1500)
	assert.Equal(t, 1, delivered)

	rec, ok := f.m.LastRecord()
	require.True(t, ok)
	assert.Contains(t, rec.Text(), `<time totalms="0.500" />`)

	assert.True(t, f.m.DeregisterSubscriber(id))
	assert.False(t, f.m.DeregisterSubscriber(id))
	assert.Equal(t, []string{"stream"}, activeTypes(f.m.Status()))

	f.fire(hook.SystemGCStart, 2000)
	f.fire(hook.SystemGCEnd, 2500)
	assert.Equal(t, 1, delivered)
}

func TestFailingSubscriberRaisesAlarm(t *testing.T) {
	f := newFixture(t)

	var alarms []string
	id, err := f.m.RegisterSubscriber(
		func(output.Record) error { return errors.New("consumer gone") },
		func(id string, err error) { alarms = append(alarms, id) },
	)
	require.NoError(t, err)

	f.fire(hook.SystemGCStart, 1000)
	f.fire(hook.SystemGCEnd, 1500)

	assert.Equal(t, []string{id}, alarms)
	assert.Equal(t, []string{"stream"}, activeTypes(f.m.Status()))
	assert.Contains(t, f.stdout.String(), "<sys id=\"1\"")
}

func TestLastRecordWithoutHookAgent(t *testing.T) {
	f := newFixture(t)
	_, ok := f.m.LastRecord()
	assert.False(t, ok)
	assert.False(t, f.m.DeregisterSubscriber("missing"))
}
