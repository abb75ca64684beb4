package verbose

import (
	"strconv"

	"vgclog/internal/hook"
)

// millis renders microseconds as milliseconds with three fractional
// digits: 1500 -> "1.500".
func millis(us uint64) string {
	frac := strconv.FormatUint(us%1000, 10)
	for len(frac) < 3 {
		frac = "0" + frac
	}
	return strconv.FormatUint(us/1000, 10) + "." + frac
}

// delta is end-start, clamped at zero for clocks that stepped back.
func delta(end, start uint64) uint64 {
	if end < start {
		return 0
	}
	return end - start
}

func percent(free, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	return free * 100 / total
}

// renderStats writes one line per heap space with a non-zero size.
func renderStats(w Writer, st *State, s hook.Stats) {
	if s.NurseryTotal > 0 {
		w.FormatAndOutput(st.Indent, `<heap type="nursery" freebytes="%d" totalbytes="%d" percent="%d" />`,
			s.NurseryFree, s.NurseryTotal, percent(s.NurseryFree, s.NurseryTotal))
	}
	if s.TenureTotal > 0 {
		w.FormatAndOutput(st.Indent, `<heap type="tenure" freebytes="%d" totalbytes="%d" percent="%d" />`,
			s.TenureFree, s.TenureTotal, percent(s.TenureFree, s.TenureTotal))
	}
}

// renderTime writes the duration line of an end event.
func renderTime(w Writer, st *State, sp *span, end uint64) {
	w.FormatAndOutput(st.Indent, `<time totalms="%s" />`, millis(sp.duration(end)))
}
