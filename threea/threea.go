// Package threea implements the AE, AF, and AWB state machines that map
// host control inputs and pipeline convergence signals to host-facing 3A
// state tags. The machines are deterministic: all time comes from frame
// timestamps carried in the input, never the wall clock, so replaying an
// input sequence reproduces the same state sequence.
package threea

import "github.com/camstack/camhal/camera3"

// Controls is the per-request 3A control snapshot extracted from the
// request settings.
type Controls struct {
	ControlMode int
	SceneMode   int

	AEMode            int
	AELock            bool
	PrecaptureTrigger int
	EVCompensation    int

	AFMode    int
	AFTrigger int

	AWBMode int
	AWBLock bool
}

// ControlsFromMetadata extracts the control snapshot from request settings.
// Missing tags default to full-auto.
func ControlsFromMetadata(md *camera3.Metadata) Controls {
	return Controls{
		ControlMode:       md.IntOr(camera3.TagControlMode, camera3.ControlModeAuto),
		SceneMode:         md.IntOr(camera3.TagSceneMode, 0),
		AEMode:            md.IntOr(camera3.TagAEMode, camera3.AEModeOn),
		AELock:            md.BoolOr(camera3.TagAELock, false),
		PrecaptureTrigger: md.IntOr(camera3.TagAEPrecaptureTrigger, camera3.AEPrecaptureTriggerIdle),
		EVCompensation:    md.IntOr(camera3.TagAECompensation, 0),
		AFMode:            md.IntOr(camera3.TagAFMode, camera3.AFModeOff),
		AFTrigger:         md.IntOr(camera3.TagAFTrigger, camera3.AFTriggerIdle),
		AWBMode:           md.IntOr(camera3.TagAWBMode, camera3.AWBModeAuto),
		AWBLock:           md.BoolOr(camera3.TagAWBLock, false),
	}
}

// Convergence is the pipeline's per-frame 3A convergence report.
type Convergence struct {
	AE  bool
	AF  bool
	AWB bool
}

// Frame carries the deterministic time base for an update.
type Frame struct {
	Number    uint32
	Timestamp int64 // nanoseconds
}

// Input is one step of all three machines.
type Input struct {
	Controls    Controls
	Convergence Convergence
	Frame       Frame
}

// Machines bundles the three state machines for one session.
type Machines struct {
	AE  AEMachine
	AF  AFMachine
	AWB AWBMachine
}

// Update steps all three machines and returns the resulting states.
func (m *Machines) Update(in Input) (AEState, AFState, AWBState) {
	return m.AE.Update(in), m.AF.Update(in), m.AWB.Update(in)
}

// ApplyToMetadata steps the machines and writes the state tags into the
// result metadata snapshot.
func (m *Machines) ApplyToMetadata(in Input, md *camera3.Metadata) {
	ae, af, awb := m.Update(in)
	md.Set(camera3.TagAEState, int(ae))
	md.Set(camera3.TagAFState, int(af))
	md.Set(camera3.TagAWBState, int(awb))
}
