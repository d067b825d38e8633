package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TimeSpan is one cut segment, in whole seconds from the start of the source.
type TimeSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (t TimeSpan) Duration() int { return t.End - t.Start }

var timeSpanRe = regexp.MustCompile(`^(?:(\d+):)?(\d+):(\d+)-(?:(\d+):)?(\d+):(\d+)$`)

// ParseTimeSpans parses a comma-separated segment list of the form
// "mm:ss-mm:ss" (optionally "hh:mm:ss-hh:mm:ss"). Single-digit fields are
// accepted. Every segment must have its end strictly after its start.
func ParseTimeSpans(s string) ([]TimeSpan, error) {
	var out []TimeSpan
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		m := timeSpanRe.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("bad timestamp %q (must be mm:ss-mm:ss)", part)
		}
		start := clockSeconds(m[1], m[2], m[3])
		end := clockSeconds(m[4], m[5], m[6])
		if end <= start {
			return nil, fmt.Errorf("segment %q: end must be after start", part)
		}
		out = append(out, TimeSpan{Start: start, End: end})
	}
	return out, nil
}

func clockSeconds(h, m, s string) int {
	total := 0
	if h != "" {
		n, _ := strconv.Atoi(h)
		total += n * 3600
	}
	n, _ := strconv.Atoi(m)
	total += n * 60
	n, _ = strconv.Atoi(s)
	return total + n
}
