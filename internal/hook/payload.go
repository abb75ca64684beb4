package hook

// Stats is the collector's heap accounting at the moment a hook fires.
type Stats struct {
	NurseryFree  uint64
	NurseryTotal uint64
	TenureFree   uint64
	TenureTotal  uint64

	WeakRefsCleared    uint64
	SoftRefsCleared    uint64
	PhantomRefsCleared uint64
}

// Free returns free bytes across both spaces.
func (s Stats) Free() uint64 { return s.NurseryFree + s.TenureFree }

// Total returns total bytes across both spaces.
func (s Stats) Total() uint64 { return s.NurseryTotal + s.TenureTotal }

// Unstamped is the Payload.Timestamp of a hook raised without a time. The
// receiver stamps such payloads from its own clock. clock.System never
// returns it.
const Unstamped uint64 = 0

// Payload is the snapshot passed with every hook. Fields that do not apply
// to a given ID stay zero.
type Payload struct {
	Timestamp uint64 // clock.Clock microseconds, Unstamped when unset
	Thread    int    // raising collector thread

	Stats Stats

	// Subspace is "nursery" or "tenure" for resize, allocation failure and
	// cycle hooks.
	Subspace string
	// Global distinguishes a global cycle from a local (nursery) one.
	Global bool
	Reason string

	RequestedBytes uint64 // allocation failure
	ResizeExpand   bool   // heap resize: true expand, false contract
	ResizeAmount   uint64
	NewSize        uint64

	MovedObjects uint64 // compact, copy-forward
	MovedBytes   uint64

	Count    uint64 // work stack overflows, quanta, regions, ...
	Quantum  uint64 // realtime: length of one GC quantum in microseconds
	Priority int    // realtime heartbeat: GC thread priority
	Message  string // warnings
}
