package threea

import "github.com/camstack/camhal/camera3"

// AWBState is the host-facing auto-white-balance state tag.
type AWBState int

const (
	// AWBInactive means AWB is off or has been reset.
	AWBInactive AWBState = iota
	// AWBSearching means AWB is adjusting white balance.
	AWBSearching
	// AWBConverged means white balance is good.
	AWBConverged
	// AWBLocked means white balance is frozen by the host lock.
	AWBLocked
)

// String returns the state name.
func (s AWBState) String() string {
	switch s {
	case AWBInactive:
		return "INACTIVE"
	case AWBSearching:
		return "SEARCHING"
	case AWBConverged:
		return "CONVERGED"
	case AWBLocked:
		return "LOCKED"
	default:
		return "UNKNOWN"
	}
}

// AWBMachine tracks auto-white-balance state across frames.
type AWBMachine struct {
	state     AWBState
	lastMode  int
	lastScene int
	seeded    bool
}

// State returns the current state without stepping.
func (m *AWBMachine) State() AWBState {
	return m.state
}

// Reset forces the machine back to INACTIVE.
func (m *AWBMachine) Reset() {
	m.state = AWBInactive
}

// Update steps the machine with one frame's controls and convergence.
func (m *AWBMachine) Update(in Input) AWBState {
	c := in.Controls

	if c.ControlMode == camera3.ControlModeOff || c.AWBMode != camera3.AWBModeAuto {
		m.state = AWBInactive
		m.remember(c)
		return m.state
	}

	// Mode or scene change resets the search.
	if m.seeded && (c.AWBMode != m.lastMode || c.SceneMode != m.lastScene) {
		m.state = AWBInactive
	}

	switch {
	case c.AWBLock:
		m.state = AWBLocked

	case in.Convergence.AWB:
		m.state = AWBConverged

	default:
		m.state = AWBSearching
	}

	m.remember(c)
	return m.state
}

func (m *AWBMachine) remember(c Controls) {
	m.lastMode = c.AWBMode
	m.lastScene = c.SceneMode
	m.seeded = true
}
