package transport

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"laundry-display-sync/internal/engine"
	"laundry-display-sync/internal/parse"
)

// Key spellings seen across server revisions, in order of preference.
var (
	phaseKeys     = []string{"phase", "state"}
	remainingKeys = []string{"remaining_seconds", "remaining_s", "remainingSeconds", "remaining"}
	clockKeys     = []string{"time", "remaining_time"}
	overtimeKeys  = []string{"overtime_seconds", "overtimeSeconds", "overtime"}
	expectedKeys  = []string{"expected_minutes", "expectedMinutes", "expected"}
	identityKeys  = []string{"identity_tag", "identityTag", "rfid", "lock_uid"}
	producedKeys  = []string{"produced_at", "producedAt", "last_update", "timestamp", "ts"}
	envelopeKeys  = []string{"machine", "data"}
)

// Decode unmarshals a JSON object and normalizes it. Bodies that are not a
// JSON object are a transport failure rather than a malformed snapshot.
func Decode(data []byte, loc *time.Location) (engine.Snapshot, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot payload: %w", err)
	}
	if raw == nil {
		return engine.Snapshot{}, fmt.Errorf("snapshot payload is not a JSON object")
	}
	return Normalize(raw, loc), nil
}

// Normalize converts a raw server payload into a Snapshot. It never fails:
// a missing phase becomes Idle, missing numbers become 0 and a missing or
// unparseable timestamp becomes the zero time.
func Normalize(raw map[string]any, loc *time.Location) engine.Snapshot {
	raw = unwrap(raw)
	s := engine.Snapshot{Phase: engine.PhaseIdle}

	if v, ok := lookup(raw, phaseKeys); ok {
		if str, ok := v.(string); ok {
			s.Phase, _ = parse.Phase(str)
		}
	}

	if n, ok := seconds(raw, remainingKeys); ok {
		s.RemainingSeconds = n
	} else if n, ok := seconds(raw, clockKeys); ok {
		s.RemainingSeconds = n
	}

	if n, ok := seconds(raw, overtimeKeys); ok {
		s.OvertimeSeconds = n
	}

	if v, ok := lookup(raw, expectedKeys); ok {
		if n, ok := number(v); ok {
			m := clampInt(n)
			s.ExpectedMinutes = &m
		}
	}

	if v, ok := lookup(raw, identityKeys); ok {
		switch tag := v.(type) {
		case string:
			s.IdentityTag = strings.TrimSpace(tag)
		case float64:
			s.IdentityTag = strconv.FormatFloat(tag, 'f', -1, 64)
		}
	}

	if v, ok := lookup(raw, producedKeys); ok {
		switch ts := v.(type) {
		case string:
			if t, err := parse.Timestamp(ts, loc); err == nil {
				s.ProducedAt = t
			}
		case float64:
			if t, err := parse.Unix(ts); err == nil {
				s.ProducedAt = t
			}
		}
	}

	return s
}

// unwrap descends into {"machine": {...}} or {"data": {...}} envelopes.
func unwrap(raw map[string]any) map[string]any {
	for _, key := range envelopeKeys {
		if inner, ok := raw[key].(map[string]any); ok {
			return inner
		}
	}
	return raw
}

// lookup returns the first non-null value among keys.
func lookup(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// clampInt floors n into [0, math.MaxInt32].
func clampInt(n float64) int {
	return int(math.Min(math.MaxInt32, math.Max(0, math.Floor(n))))
}

// seconds reads a duration from the first usable key. Numbers and numeric
// strings are seconds; strings with colons are M:SS or H:MM:SS clocks.
func seconds(raw map[string]any, keys []string) (int, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if str, isStr := v.(string); isStr && strings.Contains(str, ":") {
			if n, err := parse.Clock(str); err == nil {
				return n, true
			}
			continue
		}
		if n, ok := number(v); ok {
			return clampInt(n), true
		}
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case bool:
		return 0, false
	}
	return 0, false
}
