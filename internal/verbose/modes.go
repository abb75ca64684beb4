package verbose

import (
	"vgclog/internal/config"
	"vgclog/internal/hook"
)

// registration maps one collector hook to the factory of its event kind.
type registration struct {
	id      hook.ID
	factory Factory
}

var standardEvents = []registration{
	{hook.SystemGCStart, newSystemGCStart},
	{hook.SystemGCEnd, newSystemGCEnd},
	{hook.AllocFailureStart, newAllocFailureStart},
	{hook.AllocFailureEnd, newAllocFailureEnd},
	{hook.CycleStart, newCycleStart},
	{hook.CycleEnd, newCycleEnd},
	{hook.CompactStart, newCompactStart},
	{hook.CompactEnd, newCompactEnd},
	{hook.HeapResize, newHeapResize},
	{hook.WorkStackOverflow, newWorkStackOverflow},
	{hook.ConcurrentKickoff, newConcurrentKickoff},
	{hook.ConcurrentCollectionStart, newConcurrentStart},
	{hook.ConcurrentCollectionEnd, newConcurrentEnd},
	{hook.ExcessiveGC, newExcessiveGC},
}

var realtimeEvents = []registration{
	{hook.RealtimeCycleStart, newRealtimeCycleStart},
	{hook.RealtimeCycleEnd, newRealtimeCycleEnd},
	{hook.Heartbeat, newHeartbeat},
	{hook.TriggerStart, newTriggerStart},
	{hook.TriggerEnd, newTriggerEnd},
	{hook.SyncGCStart, newSyncGCStart},
	{hook.SyncGCEnd, newSyncGCEnd},
	{hook.OutOfMemory, newOutOfMemory},
}

var regionEvents = []registration{
	{hook.PartialGCStart, newPartialGCStart},
	{hook.PartialGCEnd, newPartialGCEnd},
	{hook.GlobalMarkStart, newGlobalMarkStart},
	{hook.GlobalMarkEnd, newGlobalMarkEnd},
	{hook.CopyForwardStart, newCopyForwardStart},
	{hook.CopyForwardEnd, newCopyForwardEnd},
	{hook.TaxationEntry, newTaxationEntry},
}

// modeTable returns the hook table for a collector mode.
func modeTable(mode string) ([]registration, bool) {
	switch mode {
	case config.ModeStandard:
		return standardEvents, true
	case config.ModeRealtime:
		return realtimeEvents, true
	case config.ModeRegion:
		return regionEvents, true
	}
	return nil, false
}
