// Package collector is a simulated garbage collector. It raises the same
// hook sequence a parallel collector raises during each kind of cycle, so
// the verbose pipeline can run without a real managed heap behind it.
package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vgclog/internal/clock"
	"vgclog/internal/config"
	"vgclog/internal/hook"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options configures a Simulator.
type Options struct {
	Registry *hook.Registry
	Clock    clock.Clock
	Log      zerolog.Logger
	Modes    []string
	Workers  int           // parallel collector threads, default 4
	Quantum  time.Duration // realtime quantum length, default 500µs
}

// Simulator raises hooks into a registry.
type Simulator struct {
	reg     *hook.Registry
	clock   clock.Clock
	log     zerolog.Logger
	modes   []string
	workers int
	quantum uint64

	cycles atomic.Uint64

	mu   sync.Mutex
	heap heapModel
}

func New(opts Options) *Simulator {
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Quantum <= 0 {
		opts.Quantum = 500 * time.Microsecond
	}
	if len(opts.Modes) == 0 {
		opts.Modes = []string{config.ModeStandard}
	}
	return &Simulator{
		reg:     opts.Registry,
		clock:   opts.Clock,
		log:     opts.Log,
		modes:   opts.Modes,
		workers: opts.Workers,
		quantum: uint64(opts.Quantum / time.Microsecond),
		heap:    newHeapModel(),
	}
}

// Cycles is the number of completed simulated collections.
func (s *Simulator) Cycles() uint64 { return s.cycles.Load() }

// Run performs one collection per configured mode every interval until
// ctx is done.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			for _, mode := range s.modes {
				if err := s.Cycle(ctx, mode); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
		}
	}
}

// Cycle raises one complete collection of the given mode.
func (s *Simulator) Cycle(ctx context.Context, mode string) error {
	n := s.cycles.Add(1)

	var err error
	switch mode {
	case config.ModeStandard:
		err = s.standard(ctx, n)
	case config.ModeRealtime:
		err = s.realtime(ctx, n)
	case config.ModeRegion:
		err = s.region(ctx, n)
	default:
		err = fmt.Errorf("collector: unknown mode %q", mode)
	}
	if err != nil {
		return err
	}

	s.log.Debug().Str("mode", mode).Uint64("cycle", n).Msg("simulated collection")
	return nil
}

// standard is a stop-the-world collection. Every fifth one is an explicit
// global collection with compaction; the rest answer a nursery allocation
// failure.
func (s *Simulator) standard(ctx context.Context, n uint64) error {
	explicit := n%5 == 0

	if n%7 == 0 {
		s.raise(hook.ConcurrentKickoff, &hook.Payload{Reason: "threshold reached", RequestedBytes: 8 << 20})
		s.raise(hook.ConcurrentCollectionStart, s.payload(false))
		s.raise(hook.ConcurrentCollectionEnd, s.payload(true))
	}

	if explicit {
		p := s.payload(false)
		p.Reason = "explicit"
		s.raise(hook.SystemGCStart, p)
	} else {
		p := s.payload(false)
		p.Subspace = "nursery"
		p.RequestedBytes = 64
		s.raise(hook.AllocFailureStart, p)
	}

	start := s.payload(false)
	start.Global = explicit
	s.raise(hook.CycleStart, start)

	if err := s.parallel(ctx, hook.WorkStackOverflow, func(w int) *hook.Payload {
		return &hook.Payload{Count: uint64(w + 1)}
	}); err != nil {
		return err
	}

	if explicit {
		s.raise(hook.CompactStart, &hook.Payload{})
		s.raise(hook.CompactEnd, &hook.Payload{MovedObjects: 1200 * n, MovedBytes: 96 << 10, Reason: "compact to meet allocation"})
	}

	end := s.payload(true)
	end.Stats.WeakRefsCleared = n
	s.raise(hook.CycleEnd, end)

	for i := 0; i < 2; i++ {
		s.raise(hook.HeapResize, &hook.Payload{
			Subspace:     "nursery",
			ResizeExpand: true,
			ResizeAmount: 1 << 20,
			NewSize:      s.grow(1 << 20),
			Reason:       "excessive time being spent scavenging",
		})
	}

	if explicit {
		s.raise(hook.SystemGCEnd, s.payload(true))
	} else {
		s.raise(hook.AllocFailureEnd, s.payload(true))
	}

	if n%11 == 0 {
		s.raise(hook.ExcessiveGC, &hook.Payload{Reason: "gc time exceeded threshold"})
	}
	return nil
}

// realtime is one incremental cycle: a trigger, one quantum per worker
// reported through heartbeats, and the cycle end.
func (s *Simulator) realtime(ctx context.Context, n uint64) error {
	s.raise(hook.TriggerStart, &hook.Payload{Reason: "heap occupancy"})
	s.raise(hook.RealtimeCycleStart, s.payload(false))

	if err := s.parallel(ctx, hook.Heartbeat, func(w int) *hook.Payload {
		p := s.payload(false)
		p.Quantum = s.quantum + uint64(w)*10
		p.Priority = 11
		return p
	}); err != nil {
		return err
	}

	if n%3 == 0 {
		p := s.payload(false)
		p.Reason = "out of memory"
		s.raise(hook.SyncGCStart, p)
		s.raise(hook.SyncGCEnd, s.payload(true))
	}

	s.raise(hook.RealtimeCycleEnd, s.payload(true))
	s.raise(hook.TriggerEnd, &hook.Payload{})
	return nil
}

// region is one partial collection with a copy-forward phase, preceded
// every fourth time by a global mark increment.
func (s *Simulator) region(ctx context.Context, n uint64) error {
	if n%4 == 0 {
		s.raise(hook.GlobalMarkStart, s.payload(false))
		s.raise(hook.GlobalMarkEnd, s.payload(false))
	}

	s.raise(hook.TaxationEntry, &hook.Payload{RequestedBytes: 32 << 20})
	s.raise(hook.PartialGCStart, s.payload(false))
	s.raise(hook.CopyForwardStart, &hook.Payload{})

	var moved atomic.Uint64
	if err := s.parallel(ctx, hook.WorkStackOverflow, func(w int) *hook.Payload {
		moved.Add(uint64(100 * (w + 1)))
		return &hook.Payload{Count: 1}
	}); err != nil {
		return err
	}

	s.raise(hook.CopyForwardEnd, &hook.Payload{
		MovedObjects: moved.Load(),
		MovedBytes:   moved.Load() * 48,
		Count:        uint64(s.workers),
	})
	s.raise(hook.PartialGCEnd, s.payload(true))
	return nil
}

// parallel raises id once from each worker goroutine.
func (s *Simulator) parallel(ctx context.Context, id hook.ID, build func(worker int) *hook.Payload) error {
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < s.workers; w++ {
		w := w
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := build(w)
			p.Thread = w + 1
			s.raise(id, p)
			return nil
		})
	}
	return g.Wait()
}

func (s *Simulator) raise(id hook.ID, p *hook.Payload) {
	p.Timestamp = s.clock.Now()
	s.reg.Trigger(id, p)
}

// ---------------------------------------------------------------
// heap model
// ---------------------------------------------------------------

type heapModel struct {
	nurseryTotal uint64
	tenureTotal  uint64
	tenureUsed   uint64
}

func newHeapModel() heapModel {
	return heapModel{nurseryTotal: 64 << 20, tenureTotal: 256 << 20, tenureUsed: 32 << 20}
}

// payload snapshots the heap: a nearly full nursery before a collection
// and an empty one after, with a slowly filling tenure space.
func (s *Simulator) payload(after bool) *hook.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := &s.heap
	nurseryFree := h.nurseryTotal / 16
	if after {
		nurseryFree = h.nurseryTotal
		h.tenureUsed += 256 << 10
		if h.tenureUsed > h.tenureTotal*3/4 {
			h.tenureUsed = h.tenureTotal / 8
		}
	}
	return &hook.Payload{
		Stats: hook.Stats{
			NurseryFree:  nurseryFree,
			NurseryTotal: h.nurseryTotal,
			TenureFree:   h.tenureTotal - h.tenureUsed,
			TenureTotal:  h.tenureTotal,
		},
	}
}

func (s *Simulator) grow(by uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heap.nurseryTotal += by
	return s.heap.nurseryTotal
}
