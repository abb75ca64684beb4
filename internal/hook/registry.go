package hook

import (
	"errors"
	"sync"
)

// ErrNilListener is returned when registering a nil listener.
var ErrNilListener = errors.New("hook: nil listener")

// Listener receives hook notifications. Implementations must be comparable
// (pointer receivers) because Unregister matches on the listener value.
type Listener interface {
	HookFired(id ID, p *Payload, userData any)
}

type registration struct {
	listener Listener
	userData any
}

// Registry maps hook IDs to listeners. Safe for concurrent use: collector
// threads trigger while the manager registers or unregisters.
type Registry struct {
	name string

	mu    sync.RWMutex
	hooks map[ID][]registration
}

func NewRegistry(name string) *Registry {
	return &Registry{
		name:  name,
		hooks: make(map[ID][]registration),
	}
}

func (r *Registry) Name() string { return r.name }

// Register adds l for id. The same listener may register one id several
// times with different userData; each registration is dispatched.
func (r *Registry) Register(id ID, l Listener, userData any) error {
	if l == nil {
		return ErrNilListener
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.hooks[id] = append(r.hooks[id], registration{listener: l, userData: userData})
	return nil
}

// Unregister removes every registration of l for id.
func (r *Registry) Unregister(id ID, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.hooks[id]
	kept := regs[:0]
	for _, reg := range regs {
		if reg.listener != l {
			kept = append(kept, reg)
		}
	}
	// zero the tail so dropped listeners are not retained
	for i := len(kept); i < len(regs); i++ {
		regs[i] = registration{}
	}

	if len(kept) == 0 {
		delete(r.hooks, id)
		return
	}
	r.hooks[id] = kept
}

// Trigger dispatches p to every listener registered for id, in registration
// order, on the calling goroutine. It returns the number of listeners
// notified. Listeners may register or unregister from inside HookFired.
func (r *Registry) Trigger(id ID, p *Payload) int {
	r.mu.RLock()
	regs := r.hooks[id]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	r.mu.RUnlock()

	for _, reg := range snapshot {
		reg.listener.HookFired(id, p, reg.userData)
	}
	return len(snapshot)
}

// Registered returns the number of registrations for id.
func (r *Registry) Registered(id ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[id])
}
