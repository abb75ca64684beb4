package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SeqToken is replaced by the 1-based, 3-digit rotation index.
const SeqToken = "%seq"

// ParseTemplate rewrites the '#' shorthand in a user file template.
//
// An unescaped '#' becomes %seq. A '#' preceded by an odd run of '%' is
// escaped: one '%' is dropped and the '#' becomes the bare word "seq", so
// "foo%#" reads "fooseq" and "foo%%#" reads "foo%%%seq".
//
// When rotating and the template has neither '#' nor %seq, ".%seq" is
// appended so rotated files never share a name.
func ParseTemplate(in string, rotating bool) string {
	var sb strings.Builder
	sb.Grow(len(in) + len(SeqToken))

	escapes := 0
	sawHash := false
	for i := 0; i < len(in); i++ {
		c := in[i]
		switch c {
		case '%':
			escapes++
			sb.WriteByte(c)
		case '#':
			sawHash = true
			if escapes%2 == 1 {
				s := sb.String()
				sb.Reset()
				sb.WriteString(s[:len(s)-1])
				sb.WriteString("seq")
			} else {
				sb.WriteString(SeqToken)
			}
			escapes = 0
		default:
			escapes = 0
			sb.WriteByte(c)
		}
	}

	out := sb.String()
	if rotating && !sawHash && !strings.Contains(out, SeqToken) {
		out += "." + SeqToken
	}
	return out
}

// SeqString renders a 0-based rotation index for display: 0 is "001".
func SeqString(index int) string {
	return fmt.Sprintf("%03d", index+1)
}

// Tokens are the values substituted into a parsed template.
type Tokens struct {
	Seq   int // 0-based rotation index
	PID   int
	Start time.Time // process start, for the date and time tokens
}

// Expand substitutes %seq, %pid, %Y, %y, %m, %d, %H, %M, %S and %% in a
// parsed template. Unknown tokens are kept verbatim.
func Expand(tmpl string, tok Tokens) string {
	var sb strings.Builder
	sb.Grow(len(tmpl) + 16)

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' || i+1 == len(tmpl) {
			sb.WriteByte(c)
			continue
		}

		rest := tmpl[i+1:]
		switch {
		case rest[0] == '%':
			sb.WriteByte('%')
			i++
		case strings.HasPrefix(rest, "seq"):
			sb.WriteString(SeqString(tok.Seq))
			i += len("seq")
		case strings.HasPrefix(rest, "pid"):
			sb.WriteString(strconv.Itoa(tok.PID))
			i += len("pid")
		default:
			if v, ok := timeToken(rest[0], tok.Start); ok {
				sb.WriteString(v)
				i++
			} else {
				sb.WriteByte(c)
			}
		}
	}
	return sb.String()
}

func timeToken(c byte, t time.Time) (string, bool) {
	switch c {
	case 'Y':
		return fmt.Sprintf("%04d", t.Year()), true
	case 'y':
		return fmt.Sprintf("%02d", t.Year()%100), true
	case 'm':
		return fmt.Sprintf("%02d", int(t.Month())), true
	case 'd':
		return fmt.Sprintf("%02d", t.Day()), true
	case 'H':
		return fmt.Sprintf("%02d", t.Hour()), true
	case 'M':
		return fmt.Sprintf("%02d", t.Minute()), true
	case 'S':
		return fmt.Sprintf("%02d", t.Second()), true
	}
	return "", false
}
