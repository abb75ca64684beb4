// internal/clock/timecache.go
package clock

import (
	"sync/atomic"
	"time"
)

//
// timecache.go
// ------------------------------------------------------------
// Caches the current UTC epoch seconds and the date/hour partition
// strings, refreshed once per second.
//
// Uses:
//   - archive object key partitions (dt=YYYY-MM-DD / hr=HH)
//   - archive and spool file names (<unix>_...)
//   - spool TTL checks
//
// processStart is fixed at package init and feeds the %Y %m %d %H %M %S
// tokens of file sink templates, so every file of one process shares the
// same timestamp tokens regardless of when it rotates.
// ------------------------------------------------------------

var (
	unixSec atomic.Int64

	dtVal atomic.Value // "YYYY-MM-DD"
	hrVal atomic.Value // "HH"

	processStart = time.Now()
)

func init() {
	update()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for range ticker.C {
			update()
		}
	}()
}

func update() {
	now := time.Now().UTC()
	unixSec.Store(now.Unix())
	dtVal.Store(now.Format("2006-01-02"))
	hrVal.Store(now.Format("15"))
}

// ------------------------------------------------------------
// Public API
// ------------------------------------------------------------

// Unix returns current UTC epoch seconds (cached, 1-second precision).
func Unix() int64 {
	return unixSec.Load()
}

// DT returns "YYYY-MM-DD" (UTC).
func DT() string {
	return dtVal.Load().(string)
}

// HR returns "HH" (UTC).
func HR() string {
	return hrVal.Load().(string)
}

// ProcessStart returns the time this process loaded the package.
func ProcessStart() time.Time {
	return processStart
}
