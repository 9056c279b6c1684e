package engine

import "time"

// Phase is the authoritative lifecycle state of a device.
type Phase string

const (
	PhaseIdle     Phase = "Idle"
	PhaseRunning  Phase = "Running"
	PhaseAborted  Phase = "Aborted"
	PhaseComplete Phase = "Complete"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIdle, PhaseRunning, PhaseAborted, PhaseComplete:
		return true
	}
	return false
}

// Snapshot is an authoritative state record produced by the device server.
// Transports normalize raw payloads into this form before handing it over.
type Snapshot struct {
	Phase            Phase
	RemainingSeconds int
	OvertimeSeconds  int
	ExpectedMinutes  *int      // nil when the server did not send it
	IdentityTag      string    // empty means no identity claimed the device
	ProducedAt       time.Time // zero when missing or unparseable
}
