package threea

import "github.com/camstack/camhal/camera3"

// AFState is the host-facing auto-focus state tag.
type AFState int

const (
	// AFInactive means AF is off or idle.
	AFInactive AFState = iota
	// AFPassiveScan means a continuous-mode scan is running.
	AFPassiveScan
	// AFPassiveFocused means a continuous-mode scan found focus.
	AFPassiveFocused
	// AFPassiveUnfocused means a continuous-mode scan failed.
	AFPassiveUnfocused
	// AFActiveScan means a trigger-driven scan is running.
	AFActiveScan
	// AFFocusedLocked means a triggered scan locked in focus.
	AFFocusedLocked
	// AFNotFocusedLocked means a triggered scan locked without focus.
	AFNotFocusedLocked
)

// Trigger-timeout bounds. An outstanding active scan is forced to
// NOT_FOCUSED_LOCKED after triggerTimeout, or after triggerSoftTimeout once
// triggerFrameBudget frames have passed since the trigger.
const (
	triggerTimeout     = 4_000_000_000 // 4 s in ns
	triggerSoftTimeout = 2_000_000_000 // 2 s in ns
	triggerFrameBudget = 60
)

// String returns the state name.
func (s AFState) String() string {
	switch s {
	case AFInactive:
		return "INACTIVE"
	case AFPassiveScan:
		return "PASSIVE_SCAN"
	case AFPassiveFocused:
		return "PASSIVE_FOCUSED"
	case AFPassiveUnfocused:
		return "PASSIVE_UNFOCUSED"
	case AFActiveScan:
		return "ACTIVE_SCAN"
	case AFFocusedLocked:
		return "FOCUSED_LOCKED"
	case AFNotFocusedLocked:
		return "NOT_FOCUSED_LOCKED"
	default:
		return "UNKNOWN"
	}
}

// AFMachine tracks auto-focus state across frames. Sub-machine behavior is
// selected by af_mode: OFF/EDOF always inactive, AUTO/MACRO trigger-driven,
// CONTINUOUS_* pipeline-driven with trigger overrides.
type AFMachine struct {
	state    AFState
	lastMode int
	seeded   bool

	// Active trigger bookkeeping (deterministic: frame time, not wall time)
	triggerActive bool
	triggerTime   int64
	triggerFrame  uint32
}

// State returns the current state without stepping.
func (m *AFMachine) State() AFState {
	return m.state
}

// Reset forces the machine back to INACTIVE.
func (m *AFMachine) Reset() {
	m.state = AFInactive
	m.triggerActive = false
}

// Update steps the machine with one frame's controls and convergence.
func (m *AFMachine) Update(in Input) AFState {
	c := in.Controls

	// Mode change resets the sub-machine.
	if m.seeded && c.AFMode != m.lastMode {
		m.Reset()
	}
	m.lastMode = c.AFMode
	m.seeded = true

	switch c.AFMode {
	case camera3.AFModeOff, camera3.AFModeEDOF:
		m.state = AFInactive
		m.triggerActive = false

	case camera3.AFModeAuto, camera3.AFModeMacro:
		m.updateAuto(in)

	case camera3.AFModeContinuousPicture, camera3.AFModeContinuousVideo:
		m.updateContinuous(in)

	default:
		m.state = AFInactive
	}

	return m.state
}

// updateAuto handles the trigger-driven sub-machine.
func (m *AFMachine) updateAuto(in Input) {
	c := in.Controls

	switch c.AFTrigger {
	case camera3.AFTriggerStart:
		m.state = AFActiveScan
		m.triggerActive = true
		m.triggerTime = in.Frame.Timestamp
		m.triggerFrame = in.Frame.Number
		return
	case camera3.AFTriggerCancel:
		m.state = AFInactive
		m.triggerActive = false
		return
	}

	if m.state != AFActiveScan {
		return
	}

	if m.triggerExpired(in.Frame) {
		m.state = AFNotFocusedLocked
		m.triggerActive = false
		return
	}

	if in.Convergence.AF {
		m.state = AFFocusedLocked
		m.triggerActive = false
	}
}

// updateContinuous handles the pipeline-driven sub-machine with trigger
// overrides: a trigger locks at the current focus quality immediately.
func (m *AFMachine) updateContinuous(in Input) {
	c := in.Controls

	switch c.AFTrigger {
	case camera3.AFTriggerStart:
		if in.Convergence.AF {
			m.state = AFFocusedLocked
		} else {
			m.state = AFNotFocusedLocked
		}
		m.triggerActive = false
		return
	case camera3.AFTriggerCancel:
		m.state = AFPassiveScan
		m.triggerActive = false
		return
	}

	// Locked states hold until a new trigger or cancel.
	if m.state == AFFocusedLocked || m.state == AFNotFocusedLocked {
		return
	}

	if in.Convergence.AF {
		m.state = AFPassiveFocused
	} else if m.state == AFPassiveFocused {
		m.state = AFPassiveUnfocused
	} else {
		m.state = AFPassiveScan
	}
}

// triggerExpired applies the scan timeout policy.
func (m *AFMachine) triggerExpired(f Frame) bool {
	if !m.triggerActive {
		return false
	}
	elapsed := f.Timestamp - m.triggerTime
	if elapsed > triggerTimeout {
		return true
	}
	frames := f.Number - m.triggerFrame
	return elapsed > triggerSoftTimeout && frames > triggerFrameBudget
}
