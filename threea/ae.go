package threea

import "github.com/camstack/camhal/camera3"

// AEState is the host-facing auto-exposure state tag.
type AEState int

const (
	// AEInactive means AE is off or has been reset.
	AEInactive AEState = iota
	// AESearching means AE is adjusting exposure.
	AESearching
	// AEConverged means exposure is good.
	AEConverged
	// AELocked means exposure is frozen by the host lock.
	AELocked
	// AEPrecapture means a precapture metering sequence is running.
	AEPrecapture
	// AEFlashRequired means exposure converged but flash is needed.
	AEFlashRequired
)

// String returns the state name.
func (s AEState) String() string {
	switch s {
	case AEInactive:
		return "INACTIVE"
	case AESearching:
		return "SEARCHING"
	case AEConverged:
		return "CONVERGED"
	case AELocked:
		return "LOCKED"
	case AEPrecapture:
		return "PRECAPTURE"
	case AEFlashRequired:
		return "FLASH_REQUIRED"
	default:
		return "UNKNOWN"
	}
}

// AEMachine tracks auto-exposure state across frames.
type AEMachine struct {
	state     AEState
	lastMode  int
	lastScene int
	lastEV    int
	seeded    bool
}

// State returns the current state without stepping.
func (m *AEMachine) State() AEState {
	return m.state
}

// Reset forces the machine back to INACTIVE.
func (m *AEMachine) Reset() {
	m.state = AEInactive
}

// Update steps the machine with one frame's controls and convergence.
func (m *AEMachine) Update(in Input) AEState {
	c := in.Controls

	if c.ControlMode == camera3.ControlModeOff || c.AEMode == camera3.AEModeOff {
		m.state = AEInactive
		m.remember(c)
		return m.state
	}

	// Mode or scene change resets the search.
	if m.seeded && (c.AEMode != m.lastMode || c.SceneMode != m.lastScene) {
		m.state = AEInactive
	}

	// EV change invalidates a held lock on the next result.
	evChanged := m.seeded && c.EVCompensation != m.lastEV
	if m.state == AELocked && evChanged {
		m.state = AESearching
	}

	switch {
	case c.PrecaptureTrigger == camera3.AEPrecaptureTriggerStart && m.state != AELocked:
		m.state = AEPrecapture

	case c.AELock && !evChanged && in.Convergence.AE:
		m.state = AELocked

	case m.state == AELocked && c.AELock:
		// Hold the lock until released or EV changes.

	case in.Convergence.AE:
		m.state = AEConverged

	default:
		m.state = AESearching
	}

	m.remember(c)
	return m.state
}

func (m *AEMachine) remember(c Controls) {
	m.lastMode = c.AEMode
	m.lastScene = c.SceneMode
	m.lastEV = c.EVCompensation
	m.seeded = true
}
