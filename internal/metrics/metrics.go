package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics is the set of internal counters for the verbose GC pipeline.
// Every field is updated with sync/atomic; readers use Snapshot or String.
type Metrics struct {
	// ======================
	// Event level
	// ======================

	// EventsRaised
	// - every hook notification the manager received while enabled.
	EventsRaised int64

	// EventsDropped
	// - notifications that produced no event: factory returned nil or
	//   panicked. The collector never sees these failures.
	EventsDropped int64

	// EventsPruned
	// - events removed before output because they define no output routine
	//   (informational starts, merged resizes, non-terminal heartbeats).
	EventsPruned int64

	// ======================
	// Stream level
	// ======================

	// StreamsProcessed
	// - completed consume/prune/emit cycles, master and disposable.
	StreamsProcessed int64

	// DisposableStreams
	// - one-shot streams created for atomic events.
	DisposableStreams int64

	// StreamFallbacks
	// - atomic events that had to join the master stream because a
	//   disposable stream could not be created.
	StreamFallbacks int64

	// ConsumeCorruptions
	// - end events whose matching start event was not in the stream.
	//   Rendered with a zero duration and a warning element.
	ConsumeCorruptions int64

	// ======================
	// Sink level
	// ======================

	// SinkWriteErrors
	// - failed writes to a sink's primary destination.
	SinkWriteErrors int64

	// SinkFallbackWrites
	// - writes that went to the error stream because the primary
	//   destination was missing or failed.
	SinkFallbackWrites int64

	// FilesOpened / FilesRotated
	// - file sink opens (initial and per rotation) and rotation advances.
	FilesOpened  int64
	FilesRotated int64

	// ======================
	// Archive level
	// ======================

	ArchiveUploads   int64 // completed files stored in object storage
	ArchivePutErrors int64 // failed PutObject attempts, one per retry
	ArchiveDropped   int64 // files not queued because the archive queue was full

	// ======================
	// Spool (local dead letter directory for failed uploads)
	// ======================

	SpoolEnqueued     int64 // files written to the spool
	SpoolReuploaded   int64 // spooled files later uploaded
	SpoolDropped      int64 // files refused because the spool was full
	SpoolFilesExpired int64 // files removed by age or capacity policy
	SpoolFilesCurrent int64 // gauge
	SpoolSizeBytes    int64 // gauge
}

func New() *Metrics {
	return &Metrics{}
}

// Snapshot returns the counters keyed by their exported metric name.
func (m *Metrics) Snapshot() map[string]int64 {
	out := make(map[string]int64, 20)
	for _, f := range m.fields() {
		out[f.name] = atomic.LoadInt64(f.ptr)
	}
	return out
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	for _, f := range m.fields() {
		fmt.Fprintf(&sb, "%s=%d\n", f.name, atomic.LoadInt64(f.ptr))
	}

	return sb.String()
}

type field struct {
	name string
	ptr  *int64
}

func (m *Metrics) fields() []field {
	return []field{
		{"verbose_events_raised_total", &m.EventsRaised},
		{"verbose_events_dropped_total", &m.EventsDropped},
		{"verbose_events_pruned_total", &m.EventsPruned},
		{"verbose_streams_processed_total", &m.StreamsProcessed},
		{"verbose_disposable_streams_total", &m.DisposableStreams},
		{"verbose_stream_fallbacks_total", &m.StreamFallbacks},
		{"verbose_consume_corruptions_total", &m.ConsumeCorruptions},

		{"sink_write_errors_total", &m.SinkWriteErrors},
		{"sink_fallback_writes_total", &m.SinkFallbackWrites},
		{"sink_files_opened_total", &m.FilesOpened},
		{"sink_files_rotated_total", &m.FilesRotated},

		{"archive_uploads_total", &m.ArchiveUploads},
		{"archive_put_errors_total", &m.ArchivePutErrors},
		{"archive_dropped_total", &m.ArchiveDropped},

		{"spool_enqueued_total", &m.SpoolEnqueued},
		{"spool_reuploaded_total", &m.SpoolReuploaded},
		{"spool_dropped_total", &m.SpoolDropped},
		{"spool_files_expired_total", &m.SpoolFilesExpired},
		{"spool_files_current", &m.SpoolFilesCurrent},
		{"spool_size_bytes", &m.SpoolSizeBytes},
	}
}
