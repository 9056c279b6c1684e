// Package engine reconciles a locally ticking countdown with periodic
// authoritative snapshots from a device server.
//
// The server is trusted unconditionally on phase transitions. Within a phase
// the local countdown keeps running and is only hard-corrected when it drifts
// more than Config.DriftThreshold seconds from the server's age-adjusted
// value, so ordinary poll jitter never makes the display jump.
//
// An Engine is not goroutine-safe. It must have exactly one owner that
// delivers both ticks and snapshots on the same goroutine.
package engine

import (
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultDriftThreshold = 8
	DefaultLogWindow      = 20
)

// Config tunes the reconciliation policy.
type Config struct {
	// DriftThreshold is the largest disagreement, in seconds, absorbed
	// silently while a phase continues.
	DriftThreshold int
	// LogWindow bounds RecentLog in the display state.
	LogWindow int
}

// DefaultConfig returns the recommended settings.
func DefaultConfig() Config {
	return Config{
		DriftThreshold: DefaultDriftThreshold,
		LogWindow:      DefaultLogWindow,
	}
}

// Engine holds the local countdown state of one device.
type Engine struct {
	cfg   Config
	clock clockwork.Clock

	phase              Phase
	displayedRemaining int
	displayedOvertime  int
	last               *Snapshot
	lastLoggedPhase    Phase // empty until the first entry is logged

	log EventLog
}

// New creates an engine in the Idle phase. Non-positive config values fall
// back to the defaults.
func New(cfg Config, clock clockwork.Clock) *Engine {
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = DefaultDriftThreshold
	}
	if cfg.LogWindow <= 0 {
		cfg.LogWindow = DefaultLogWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		cfg:   cfg,
		clock: clock,
		phase: PhaseIdle,
	}
}

// OnTick advances the local countdown by one second. The phase never changes
// here: a Running countdown holds at zero until a snapshot confirms completion.
func (e *Engine) OnTick() DisplayState {
	switch {
	case e.phase == PhaseRunning && e.displayedRemaining > 0:
		e.displayedRemaining--
	case e.phase == PhaseComplete:
		e.displayedOvertime++
	}
	return e.Display()
}

// OnSnapshot merges an authoritative snapshot into the local state. The
// returned entry is non-nil when the snapshot produced a new log line.
func (e *Engine) OnSnapshot(s Snapshot) (DisplayState, *LogEntry) {
	s = sanitize(s)
	now := e.clock.Now()

	adjusted := s.RemainingSeconds - e.age(s, now)
	if adjusted < 0 {
		adjusted = 0
	}

	var logged *LogEntry
	if e.last == nil || e.last.Phase != s.Phase {
		e.phase = s.Phase
		e.displayedOvertime = 0
		if s.Phase == PhaseComplete {
			e.displayedOvertime = s.OvertimeSeconds
		}
		e.displayedRemaining = adjusted

		if s.Phase != e.lastLoggedPhase {
			entry := LogEntry{Timestamp: now, Phase: s.Phase, IdentityTag: identityOf(s.IdentityTag)}
			e.log.Append(entry)
			e.lastLoggedPhase = s.Phase
			logged = &entry
		}
	} else {
		if abs(adjusted-e.displayedRemaining) > e.cfg.DriftThreshold {
			e.displayedRemaining = adjusted
		}
		if e.phase == PhaseComplete {
			e.displayedOvertime = s.OvertimeSeconds
		}
	}

	e.last = &s
	return e.Display(), logged
}

// Display derives the current display state without mutating anything.
func (e *Engine) Display() DisplayState {
	overtime := 0
	if e.phase == PhaseComplete {
		overtime = e.displayedOvertime
	}
	tag := noIdentity
	if e.last != nil {
		tag = identityOf(e.last.IdentityTag)
	}
	return DisplayState{
		Phase:            e.phase,
		Remaining:        FormatRemaining(e.displayedRemaining),
		RemainingSeconds: e.displayedRemaining,
		Overtime:         overtime,
		ExpectedMinutes:  expectedMinutes(e.last),
		Indicator:        IndicatorFor(e.phase),
		IdentityTag:      tag,
		RecentLog:        e.log.Recent(e.cfg.LogWindow),
	}
}

// History returns up to limit entries of the full log, newest first.
// A non-positive limit returns everything.
func (e *Engine) History(limit int) []LogEntry {
	return e.log.Recent(limit)
}

// DriftThreshold reports the configured tolerance in seconds.
func (e *Engine) DriftThreshold() int { return e.cfg.DriftThreshold }

// age is how long ago, in whole seconds, the server produced s. A missing
// timestamp or one in the future counts as fresh.
func (e *Engine) age(s Snapshot, now time.Time) int {
	if s.ProducedAt.IsZero() {
		return 0
	}
	d := now.Sub(s.ProducedAt)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// sanitize applies the conservative defaults for malformed input.
func sanitize(s Snapshot) Snapshot {
	if !s.Phase.Valid() {
		s.Phase = PhaseIdle
	}
	if s.RemainingSeconds < 0 {
		s.RemainingSeconds = 0
	}
	if s.OvertimeSeconds < 0 {
		s.OvertimeSeconds = 0
	}
	if s.ExpectedMinutes != nil && *s.ExpectedMinutes < 0 {
		zero := 0
		s.ExpectedMinutes = &zero
	}
	return s
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
