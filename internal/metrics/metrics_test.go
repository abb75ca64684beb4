package metrics

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringListsEveryCounter(t *testing.T) {
	m := New()
	atomic.AddInt64(&m.EventsRaised, 3)
	atomic.AddInt64(&m.SpoolSizeBytes, 4096)

	out := m.String()
	assert.Contains(t, out, "verbose_events_raised_total=3\n")
	assert.Contains(t, out, "spool_size_bytes=4096\n")
	assert.Equal(t, len(m.fields()), strings.Count(out, "\n"))
}

func TestSnapshotConcurrentUpdates(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				atomic.AddInt64(&m.StreamsProcessed, 1)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(8000), snap["verbose_streams_processed_total"])
	assert.Equal(t, int64(0), snap["verbose_events_dropped_total"])
}
