package archive

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"vgclog/internal/clock"
)

// Object names
// ------------------------------------------------------------
//
//	<unix>_<instance>_<counter>_<base>.gz
//
// e.g. 1764721594_host1_000042_gc.001.log.gz
//
// The unix prefix makes a lexical sort of the spool directory a time
// sort, and lets the spool judge age from the name alone.
var counter uint64

// nextCounter wraps at 1e6; unix seconds and instance keep names unique.
func nextCounter() uint64 {
	return atomic.AddUint64(&counter, 1) % 1_000_000
}

// objectName builds the archive name for a finished log file.
func objectName(instance, path string) string {
	base := strings.ReplaceAll(filepath.Base(path), "_", "-")
	return fmt.Sprintf("%d_%s_%06d_%s.gz", clock.Unix(), instance, nextCounter(), base)
}

// objectKey places name under prefix, partitioned by UTC date and hour:
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<name>
func objectKey(prefix, name string) string {
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", prefix, clock.DT(), clock.HR(), name)
}

// unixFromName parses the unix seconds prefix of an object name.
func unixFromName(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
