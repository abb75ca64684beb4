// Package hook is the collector-side notification registry.
//
// The collector raises a hook (an ID plus a Payload snapshot) at each
// lifecycle point. Listeners register per ID with an opaque userData value
// that is handed back on every dispatch; the verbose manager stores its
// event factory there.
package hook

import "strconv"

// ID identifies one collector lifecycle hook.
type ID int

// Standard (stop-the-world) collector hooks.
const (
	SystemGCStart ID = iota + 1
	SystemGCEnd
	AllocFailureStart
	AllocFailureEnd
	CycleStart
	CycleEnd
	CompactStart
	CompactEnd
	HeapResize
	WorkStackOverflow
	ConcurrentKickoff
	ConcurrentCollectionStart
	ConcurrentCollectionEnd
	ExcessiveGC
)

// Incremental (realtime) collector hooks.
const (
	RealtimeCycleStart ID = iota + 100
	RealtimeCycleEnd
	Heartbeat
	TriggerStart
	TriggerEnd
	SyncGCStart
	SyncGCEnd
	OutOfMemory
)

// Region-based collector hooks.
const (
	PartialGCStart ID = iota + 200
	PartialGCEnd
	GlobalMarkStart
	GlobalMarkEnd
	CopyForwardStart
	CopyForwardEnd
	TaxationEntry
)

var names = map[ID]string{
	SystemGCStart:             "system-gc-start",
	SystemGCEnd:               "system-gc-end",
	AllocFailureStart:         "af-start",
	AllocFailureEnd:           "af-end",
	CycleStart:                "cycle-start",
	CycleEnd:                  "cycle-end",
	CompactStart:              "compact-start",
	CompactEnd:                "compact-end",
	HeapResize:                "heap-resize",
	WorkStackOverflow:         "work-stack-overflow",
	ConcurrentKickoff:         "concurrent-kickoff",
	ConcurrentCollectionStart: "concurrent-collection-start",
	ConcurrentCollectionEnd:   "concurrent-collection-end",
	ExcessiveGC:               "excessive-gc",

	RealtimeCycleStart: "realtime-cycle-start",
	RealtimeCycleEnd:   "realtime-cycle-end",
	Heartbeat:          "heartbeat",
	TriggerStart:       "trigger-start",
	TriggerEnd:         "trigger-end",
	SyncGCStart:        "sync-gc-start",
	SyncGCEnd:          "sync-gc-end",
	OutOfMemory:        "out-of-memory",

	PartialGCStart:   "partial-gc-start",
	PartialGCEnd:     "partial-gc-end",
	GlobalMarkStart:  "global-mark-start",
	GlobalMarkEnd:    "global-mark-end",
	CopyForwardStart: "copy-forward-start",
	CopyForwardEnd:   "copy-forward-end",
	TaxationEntry:    "taxation-entry",
}

func (id ID) String() string {
	if n, ok := names[id]; ok {
		return n
	}
	return "hook(" + strconv.Itoa(int(id)) + ")"
}
