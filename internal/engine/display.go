package engine

import "fmt"

// Indicator is the LED colour a presentation shows for a phase.
type Indicator string

const (
	IndicatorOff    Indicator = "off"
	IndicatorGreen  Indicator = "green"
	IndicatorRed    Indicator = "red"
	IndicatorYellow Indicator = "yellow"
)

// noIdentity is shown when no tag has claimed the device.
const noIdentity = "None"

// identityOf maps an absent tag to noIdentity for displays and log entries.
func identityOf(tag string) string {
	if tag == "" {
		return noIdentity
	}
	return tag
}

// DisplayState is the renderer-ready view of a device. It is recomputed
// after every tick and snapshot and carries no identity of its own.
type DisplayState struct {
	Phase            Phase      `json:"phase"`
	Remaining        string     `json:"remaining"`
	RemainingSeconds int        `json:"remainingSeconds"`
	Overtime         int        `json:"overtime"`
	ExpectedMinutes  int        `json:"expectedMinutes"`
	Indicator        Indicator  `json:"indicator"`
	IdentityTag      string     `json:"identityTag"`
	RecentLog        []LogEntry `json:"recentLog"`
}

// IndicatorFor maps a phase to its LED colour.
func IndicatorFor(p Phase) Indicator {
	switch p {
	case PhaseRunning:
		return IndicatorGreen
	case PhaseAborted:
		return IndicatorRed
	case PhaseComplete:
		return IndicatorYellow
	default:
		return IndicatorOff
	}
}

// FormatRemaining renders seconds as M:SS with unpadded minutes. Durations of
// an hour or more use H:MM:SS. Negative input formats as 0:00.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// expectedMinutes prefers the server value and otherwise rounds the last
// reported remaining time up to whole minutes.
func expectedMinutes(last *Snapshot) int {
	if last == nil {
		return 0
	}
	if last.ExpectedMinutes != nil {
		return *last.ExpectedMinutes
	}
	return (last.RemainingSeconds + 59) / 60
}
