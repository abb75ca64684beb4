package verbose

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vgclog/internal/clock"
	"vgclog/internal/config"
	"vgclog/internal/hook"
	"vgclog/internal/metrics"
	"vgclog/internal/output"

	"github.com/rs/zerolog"
)

var (
	// ErrNoSink is returned when Configure could not activate any sink,
	// not even the standard-stream fallback.
	ErrNoSink = errors.New("verbose: no sink available")
	// ErrUnknownMode is returned by Enable for a collector mode with no
	// hook table.
	ErrUnknownMode = errors.New("verbose: unknown collector mode")
)

// Options configures a Manager.
type Options struct {
	Registry *hook.Registry
	Clock    clock.Clock
	Log      zerolog.Logger
	Metrics  *metrics.Metrics

	// Env is handed to every output agent. Its Log and Metrics default to
	// the ones above.
	Env output.Env

	Modes     []string
	Heartbeat time.Duration
}

// Manager bridges collector hooks to event streams and owns the output
// agent chain.
//
// Hook dispatch runs on the raising goroutine. Appends contend only on the
// stream tail. Processing a stream and changing the agent chain share one
// mutex, since nothing outside this package serialises the goroutines that
// end chains.
type Manager struct {
	log      zerolog.Logger
	metrics  *metrics.Metrics
	registry *hook.Registry
	clock    clock.Clock
	env      output.Env
	modes    []string

	// hookMu guards attached; Enable/Disable never wait on processing.
	hookMu   sync.Mutex
	attached bool

	// mu serialises processStream and every change to agents.
	mu sync.Mutex

	// chainMu is held shared by appends to the master stream and
	// exclusively while processStream detaches from it.
	chainMu sync.RWMutex

	state  *State
	master *Stream
	agents []output.Agent // newest first

	// newStream builds disposable streams. A failure routes the atomic
	// event to the master stream.
	newStream func() (*Stream, error)
}

// NewManager creates a manager with an empty master stream and no agents.
func NewManager(opts Options) *Manager {
	if opts.Registry == nil {
		opts.Registry = hook.NewRegistry("collector")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if len(opts.Modes) == 0 {
		opts.Modes = []string{config.ModeStandard}
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = time.Second
	}

	env := opts.Env
	env.Log = opts.Log
	env.Metrics = opts.Metrics

	return &Manager{
		log:      opts.Log,
		metrics:  opts.Metrics,
		registry: opts.Registry,
		clock:    opts.Clock,
		env:      env,
		modes:    opts.Modes,
		state:    NewState(opts.Clock, opts.Log, opts.Metrics, opts.Heartbeat),
		master:   NewStream(false),
		newStream: func() (*Stream, error) {
			return NewStream(true), nil
		},
	}
}

// Registry is the hook registry the manager attaches to.
func (m *Manager) Registry() *hook.Registry { return m.registry }

// Metrics returns the counters shared with the agents.
func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }

// Master returns the shared stream.
func (m *Manager) Master() *Stream { return m.master }

// ---------------------------------------------------------------
// hook attachment
// ---------------------------------------------------------------

// Enable registers one hook per event kind of every configured mode.
// Calling it again while enabled does nothing.
func (m *Manager) Enable() error {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	if m.attached {
		return nil
	}

	var done []hook.ID
	for _, mode := range m.modes {
		table, ok := modeTable(mode)
		if !ok {
			m.unregister(done)
			return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
		}
		for _, r := range table {
			if err := m.registry.Register(r.id, m, r.factory); err != nil {
				m.unregister(done)
				return fmt.Errorf("register %s: %w", r.id, err)
			}
			done = append(done, r.id)
		}
	}

	m.attached = true
	m.log.Info().Strs("modes", m.modes).Int("hooks", len(done)).Msg("verbose gc enabled")
	return nil
}

// Disable removes every hook Enable registered. Idempotent.
func (m *Manager) Disable() {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	if !m.attached {
		return
	}
	for _, mode := range m.modes {
		table, _ := modeTable(mode)
		for _, r := range table {
			m.registry.Unregister(r.id, m)
		}
	}
	m.attached = false
	m.log.Info().Msg("verbose gc disabled")
}

// Enabled reports whether hooks are attached.
func (m *Manager) Enabled() bool {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	return m.attached
}

func (m *Manager) unregister(ids []hook.ID) {
	for _, id := range ids {
		m.registry.Unregister(id, m)
	}
}

// ---------------------------------------------------------------
// dispatch
// ---------------------------------------------------------------

// HookFired is the dispatch function shared by every registration.
// userData is the event kind's Factory.
func (m *Manager) HookFired(id hook.ID, p *hook.Payload, userData any) {
	atomic.AddInt64(&m.metrics.EventsRaised, 1)

	factory, ok := userData.(Factory)
	if !ok || p == nil {
		m.drop(id, "no factory or payload")
		return
	}

	ev := m.build(id, p, factory)
	if ev == nil {
		return
	}

	ends := ev.EndsChain(m.state)
	s := m.streamFor(ev)
	if s.disposable {
		s.Chain(ev)
	} else {
		m.chainMu.RLock()
		s.Chain(ev)
		m.chainMu.RUnlock()
	}

	if ends {
		m.processStream(s, ev.Base())
	}
}

// build runs the factory and fills the header. A factory panic is a
// dropped event.
func (m *Manager) build(id hook.ID, p *hook.Payload, factory Factory) (ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.drop(id, fmt.Sprintf("factory panic: %v", r))
			ev = nil
		}
	}()

	ev = factory(p)
	if ev == nil {
		m.drop(id, "factory returned nil")
		return nil
	}

	h := ev.Base()
	h.Kind = id
	h.Source = m.registry
	h.Thread = p.Thread
	h.Timestamp = p.Timestamp
	if h.Timestamp == hook.Unstamped {
		h.Timestamp = m.clock.Now()
	}
	return ev
}

func (m *Manager) drop(id hook.ID, why string) {
	atomic.AddInt64(&m.metrics.EventsDropped, 1)
	m.log.Warn().Stringer("hook", id).Str("reason", why).Msg("verbose event dropped")
}

// streamFor returns a fresh disposable stream for atomic events and the
// master stream otherwise.
func (m *Manager) streamFor(ev Event) *Stream {
	if !ev.Atomic() {
		return m.master
	}

	s, err := m.newStream()
	if err != nil || s == nil {
		atomic.AddInt64(&m.metrics.StreamFallbacks, 1)
		m.log.Warn().Err(err).Stringer("hook", ev.Base().Kind).Msg("disposable stream unavailable, using master stream")
		return m.master
	}
	atomic.AddInt64(&m.metrics.DisposableStreams, 1)
	return s
}

// processStream consumes, prunes and renders the events of s up to end.
// A disposable stream is processed whole and destroyed. On the master
// stream the events through end are detached while appends are held off;
// anything chained after end waits for the next chain end. When an earlier
// pass already took end with it there is nothing left to do.
func (m *Manager) processStream(s *Stream, end *Header) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := s
	if !s.disposable {
		m.chainMu.Lock()
		batch = s.detach(end)
		m.chainMu.Unlock()
		if batch == nil {
			return
		}
	}

	st := m.state
	st.Cycles++

	batch.consume(st)
	if n := batch.prune(); n > 0 {
		atomic.AddInt64(&m.metrics.EventsPruned, int64(n))
	}

	if events := batch.Events(); len(events) > 0 {
		m.emit(events)
	}

	batch.destroy()
	if !s.disposable {
		s.completed = m.clock.Now()
	}
	atomic.AddInt64(&m.metrics.StreamsProcessed, 1)
}

// emit renders events through every active agent. Each agent starts from
// the same indentation, so all agents see the same text.
func (m *Manager) emit(events []Event) {
	st := m.state
	saved := st.Indent
	after := saved

	for _, a := range m.agents {
		if !a.Active() {
			continue
		}
		st.Indent = saved
		for _, ev := range events {
			ev.Render(a, st)
		}
		after = st.Indent

		h, isHook := a.(*output.HookOutput)
		if !isHook {
			a.EndOfCycle()
			continue
		}
		// the last subscriber failing switches the hook agent off
		before := h.Subscribers()
		h.EndOfCycle()
		if before > 0 && h.Subscribers() == 0 {
			h.SetActive(false)
		}
	}
	st.Indent = after
}

// ---------------------------------------------------------------
// agent chain
// ---------------------------------------------------------------

// Configure points verbose output at spec. Every agent is deactivated,
// then the agent of spec's type is reconfigured in place or created and
// prepended. A file that cannot be opened falls back to standard error;
// only a failure of that fallback is returned.
func (m *Manager) Configure(spec output.Spec) error {
	typ, err := output.ParseType(spec.Target)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		a.SetActive(false)
	}

	a, err := m.findOrCreate(typ, spec)
	if err == nil {
		a.SetActive(true)
		m.log.Info().Str("target", spec.Target).Int("files", spec.Files).Int("cycles", spec.Cycles).
			Stringer("sink", typ).Msg("verbose output configured")
		return nil
	}
	if typ != output.TypeFile {
		return err
	}

	m.log.Warn().Err(err).Str("target", spec.Target).Msg("verbose file unavailable, falling back to stderr")

	fb, fbErr := m.findOrCreate(output.TypeStdStream, output.Spec{Target: output.StreamStderr})
	if fbErr != nil {
		return fmt.Errorf("%w: %v (fallback: %v)", ErrNoSink, err, fbErr)
	}
	fb.SetActive(true)
	return nil
}

// findOrCreate must be called with mu held.
func (m *Manager) findOrCreate(typ output.Type, spec output.Spec) (output.Agent, error) {
	if a := m.find(typ); a != nil {
		if err := a.Reconfigure(spec); err != nil {
			return nil, err
		}
		return a, nil
	}

	a, err := output.New(m.env, spec)
	if err != nil {
		return nil, err
	}
	m.agents = append([]output.Agent{a}, m.agents...)
	return a, nil
}

func (m *Manager) find(typ output.Type) output.Agent {
	for _, a := range m.agents {
		if a.Type() == typ {
			return a
		}
	}
	return nil
}

// CloseStreams writes footers and releases destinations without tearing
// the agents down.
func (m *Manager) CloseStreams() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		a.CloseStream()
	}
}

// Shutdown detaches from the collector and kills every agent.
func (m *Manager) Shutdown() {
	m.Disable()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		a.Kill()
	}
	m.agents = nil

	m.chainMu.Lock()
	m.master.reset(m.clock.Now())
	m.chainMu.Unlock()
}

// ---------------------------------------------------------------
// subscribers
// ---------------------------------------------------------------

// RegisterSubscriber adds an external callback receiving every completed
// cycle and activates the hook agent. Other active agents stay active.
// alarm, if set, is called when fn fails and is removed; it runs while
// the manager is processing and must not call back into the manager.
func (m *Manager) RegisterSubscriber(fn output.SubscriberFunc, alarm output.AlarmFunc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.findOrCreate(output.TypeHook, output.Spec{Target: output.TargetHook})
	if err != nil {
		return "", err
	}
	h := a.(*output.HookOutput)

	id, err := h.Subscribe(fn, alarm)
	if err != nil {
		return "", err
	}
	h.SetActive(true)
	return id, nil
}

// DeregisterSubscriber removes a subscriber. The hook agent is deactivated
// when none are left.
func (m *Manager) DeregisterSubscriber(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.find(output.TypeHook).(*output.HookOutput)
	if !ok {
		return false
	}
	removed := h.Unsubscribe(id)
	if h.Subscribers() == 0 {
		h.SetActive(false)
	}
	return removed
}

// LastRecord returns the last cycle delivered to subscribers.
func (m *Manager) LastRecord() (output.Record, bool) {
	m.mu.Lock()
	h, ok := m.find(output.TypeHook).(*output.HookOutput)
	m.mu.Unlock()

	if !ok {
		return output.Record{}, false
	}
	return h.Last()
}

// ---------------------------------------------------------------
// status
// ---------------------------------------------------------------

// AgentStatus describes one agent in the chain.
type AgentStatus struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
	Path   string `json:"path,omitempty"`
}

// Status is a point-in-time view of the manager.
type Status struct {
	Enabled bool          `json:"enabled"`
	Modes   []string      `json:"modes"`
	Cycles  uint64        `json:"cycles"`
	Indent  int           `json:"indent"`
	Agents  []AgentStatus `json:"agents"`
}

func (m *Manager) Status() Status {
	enabled := m.Enabled()

	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Enabled: enabled,
		Modes:   append([]string(nil), m.modes...),
		Cycles:  m.state.Cycles,
		Indent:  m.state.Indent,
		Agents:  make([]AgentStatus, 0, len(m.agents)),
	}
	for _, a := range m.agents {
		as := AgentStatus{Type: a.Type().String(), Active: a.Active()}
		if f, ok := a.(*output.FileOutput); ok {
			as.Path = f.Path()
		}
		s.Agents = append(s.Agents, as)
	}
	return s
}

var _ hook.Listener = (*Manager)(nil)
