package parse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"laundry-display-sync/internal/engine"
)

var clockRe = regexp.MustCompile(`^\s*(?:(\d+):)?(\d+):(\d{1,2})\s*$`)

// Clock parses a combined countdown string such as "12:05" (M:SS or MM:SS)
// or "1:02:05" (H:MM:SS) into seconds.
func Clock(raw string) (int, error) {
	m := clockRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("unable to parse clock value: %q", raw)
	}

	hours := 0
	if m[1] != "" {
		h, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("invalid hours in %q: %w", raw, err)
		}
		hours = h
	}
	minutes, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in %q: %w", raw, err)
	}
	seconds, err := strconv.Atoi(m[3])
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in %q: %w", raw, err)
	}
	if seconds >= 60 || (hours > 0 && minutes >= 60) {
		return 0, fmt.Errorf("clock value out of range: %q", raw)
	}

	return hours*3600 + minutes*60 + seconds, nil
}

// Phase maps the phase names seen across device firmware revisions onto the
// four engine phases. Locked devices are shown as Aborted since both need
// the owner to clear them. Unknown names report ok=false.
func Phase(raw string) (engine.Phase, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "idle", "ready", "free":
		return engine.PhaseIdle, true
	case "running", "busy", "in_use":
		return engine.PhaseRunning, true
	case "aborted", "abort", "locked", "fault":
		return engine.PhaseAborted, true
	case "complete", "completed", "done", "finished":
		return engine.PhaseComplete, true
	}
	return engine.PhaseIdle, false
}

// naive layouts carry no zone and are interpreted in the caller's location.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp parses a server timestamp. RFC 3339 values keep their own zone,
// naive ISO values are read in loc (UTC when nil) and purely numeric values
// are unix seconds.
func Timestamp(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Unix(secs)
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q", raw)
}

// maxUnixSeconds bounds accepted unix timestamps to roughly year 5138.
const maxUnixSeconds = 1e11

// Unix converts fractional unix seconds to a time. NaN, infinities and
// values beyond maxUnixSeconds in either direction are rejected.
func Unix(secs float64) (time.Time, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > maxUnixSeconds {
		return time.Time{}, fmt.Errorf("unix timestamp %v out of range", secs)
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*float64(time.Second))).UTC(), nil
}
