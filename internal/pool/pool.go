package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pools
//
// Output agents hold one accumulation buffer each and hand it back
// when they are torn down or reconfigured. The archiver compresses
// whole log files, one per rotation. Both would otherwise allocate
// on every cycle.
// ---------------------------------------------------------------

var (
	// LinePool:
	//   - accumulation buffer of an output agent
	//   - initial capacity 16KB, enough for a typical GC cycle
	//   - agents flush at LineFlushSize, so buffers rarely grow past it
	LinePool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 16*1024))
		},
	}

	// BufferPool:
	//   - gzip output of an archived log file
	//   - initial capacity 256KB
	//   - buffers grown past MaxBufferCap are left to the GC
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer reuse
	//   - BestSpeed: archiving runs beside a live process
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

const (
	// LineFlushSize is the buffered size at which an agent writes through
	// before the end of a cycle.
	LineFlushSize = 64 * 1024

	// MaxBufferCap is the largest buffer returned to a pool.
	MaxBufferCap = 1 * 1024 * 1024
)

// GetLine returns an empty accumulation buffer.
func GetLine() *bytes.Buffer {
	buf := LinePool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutLine returns an accumulation buffer unless it grew past MaxBufferCap.
func PutLine(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		LinePool.Put(buf)
	}
}

// PutBuffer:
//   - return a gzip result buffer
//   - oversized buffers are dropped so one huge log file does not pin
//     memory for the life of the process
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
