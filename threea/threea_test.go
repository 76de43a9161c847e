package threea

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/camstack/camhal/camera3"
)

func autoControls() Controls {
	return Controls{
		ControlMode:       camera3.ControlModeAuto,
		AEMode:            camera3.AEModeOn,
		PrecaptureTrigger: camera3.AEPrecaptureTriggerIdle,
		AFMode:            camera3.AFModeContinuousPicture,
		AFTrigger:         camera3.AFTriggerIdle,
		AWBMode:           camera3.AWBModeAuto,
	}
}

func step(c Controls, conv Convergence, num uint32, ts int64) Input {
	return Input{Controls: c, Convergence: conv, Frame: Frame{Number: num, Timestamp: ts}}
}

func TestAEMachine_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		inputs []Input
		want   AEState
	}{
		{
			name:   "off forces inactive",
			inputs: []Input{step(Controls{AEMode: camera3.AEModeOff}, Convergence{AE: true}, 0, 0)},
			want:   AEInactive,
		},
		{
			name:   "control mode off forces inactive",
			inputs: []Input{step(Controls{ControlMode: camera3.ControlModeOff, AEMode: camera3.AEModeOn}, Convergence{AE: true}, 0, 0)},
			want:   AEInactive,
		},
		{
			name:   "not converged searches",
			inputs: []Input{step(autoControls(), Convergence{}, 0, 0)},
			want:   AESearching,
		},
		{
			name:   "converged",
			inputs: []Input{step(autoControls(), Convergence{AE: true}, 0, 0)},
			want:   AEConverged,
		},
		{
			name: "precapture trigger",
			inputs: []Input{
				step(autoControls(), Convergence{}, 0, 0),
				step(func() Controls {
					c := autoControls()
					c.PrecaptureTrigger = camera3.AEPrecaptureTriggerStart
					return c
				}(), Convergence{}, 1, 1),
			},
			want: AEPrecapture,
		},
		{
			name: "lock while converged",
			inputs: []Input{
				step(autoControls(), Convergence{AE: true}, 0, 0),
				step(func() Controls {
					c := autoControls()
					c.AELock = true
					return c
				}(), Convergence{AE: true}, 1, 1),
			},
			want: AELocked,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var m AEMachine
			var got AEState
			for _, in := range test.inputs {
				got = m.Update(in)
			}
			assert.Equal(t, test.want, got)
		})
	}
}

func TestAEMachine_EVChangeClearsLock(t *testing.T) {
	var m AEMachine

	locked := autoControls()
	locked.AELock = true
	assert.Equal(t, AELocked, m.Update(step(locked, Convergence{AE: true}, 0, 0)))

	bumped := locked
	bumped.EVCompensation = 2
	assert.Equal(t, AESearching, m.Update(step(bumped, Convergence{AE: true}, 1, 1)))
}

func TestAEMachine_SceneChangeResets(t *testing.T) {
	var m AEMachine

	c := autoControls()
	assert.Equal(t, AEConverged, m.Update(step(c, Convergence{AE: true}, 0, 0)))

	c.SceneMode = 3
	got := m.Update(step(c, Convergence{}, 1, 1))
	assert.Equal(t, AESearching, got)
}

func TestAFMachine_OffAndEDOF(t *testing.T) {
	for _, mode := range []int{camera3.AFModeOff, camera3.AFModeEDOF} {
		var m AFMachine
		c := autoControls()
		c.AFMode = mode
		c.AFTrigger = camera3.AFTriggerStart
		assert.Equal(t, AFInactive, m.Update(step(c, Convergence{AF: true}, 0, 0)))
	}
}

func TestAFMachine_AutoTriggerCycle(t *testing.T) {
	var m AFMachine

	c := autoControls()
	c.AFMode = camera3.AFModeAuto
	assert.Equal(t, AFInactive, m.Update(step(c, Convergence{}, 0, 0)))

	c.AFTrigger = camera3.AFTriggerStart
	assert.Equal(t, AFActiveScan, m.Update(step(c, Convergence{}, 1, 1)))

	c.AFTrigger = camera3.AFTriggerIdle
	assert.Equal(t, AFActiveScan, m.Update(step(c, Convergence{}, 2, 2)))
	assert.Equal(t, AFFocusedLocked, m.Update(step(c, Convergence{AF: true}, 3, 3)))

	// Lock holds after convergence flag drops.
	assert.Equal(t, AFFocusedLocked, m.Update(step(c, Convergence{}, 4, 4)))

	c.AFTrigger = camera3.AFTriggerCancel
	assert.Equal(t, AFInactive, m.Update(step(c, Convergence{}, 5, 5)))
}

func TestAFMachine_TriggerTimeoutHard(t *testing.T) {
	var m AFMachine

	c := autoControls()
	c.AFMode = camera3.AFModeAuto
	c.AFTrigger = camera3.AFTriggerStart
	m.Update(step(c, Convergence{}, 0, 0))

	c.AFTrigger = camera3.AFTriggerIdle
	// Just past 4 s of frame time, few frames: hard timeout fires.
	got := m.Update(step(c, Convergence{}, 5, 4_000_000_001))
	assert.Equal(t, AFNotFocusedLocked, got)
}

func TestAFMachine_TriggerTimeoutSoft(t *testing.T) {
	var m AFMachine

	c := autoControls()
	c.AFMode = camera3.AFModeAuto
	c.AFTrigger = camera3.AFTriggerStart
	m.Update(step(c, Convergence{}, 100, 0))

	c.AFTrigger = camera3.AFTriggerIdle
	// Over 2 s but under 4 s with only 30 frames: no timeout yet.
	assert.Equal(t, AFActiveScan, m.Update(step(c, Convergence{}, 130, 2_500_000_000)))
	// Same window with 61 frames since the trigger: soft timeout fires.
	assert.Equal(t, AFNotFocusedLocked, m.Update(step(c, Convergence{}, 161, 2_600_000_000)))
}

func TestAFMachine_ContinuousPassiveStates(t *testing.T) {
	var m AFMachine
	c := autoControls()

	assert.Equal(t, AFPassiveScan, m.Update(step(c, Convergence{}, 0, 0)))
	assert.Equal(t, AFPassiveFocused, m.Update(step(c, Convergence{AF: true}, 1, 1)))
	assert.Equal(t, AFPassiveUnfocused, m.Update(step(c, Convergence{}, 2, 2)))
	assert.Equal(t, AFPassiveScan, m.Update(step(c, Convergence{}, 3, 3)))
}

func TestAFMachine_ContinuousTriggerLocksImmediately(t *testing.T) {
	var m AFMachine
	c := autoControls()

	m.Update(step(c, Convergence{AF: true}, 0, 0))

	c.AFTrigger = camera3.AFTriggerStart
	assert.Equal(t, AFFocusedLocked, m.Update(step(c, Convergence{AF: true}, 1, 1)))

	// Lock holds through unconverged frames.
	c.AFTrigger = camera3.AFTriggerIdle
	assert.Equal(t, AFFocusedLocked, m.Update(step(c, Convergence{}, 2, 2)))

	c.AFTrigger = camera3.AFTriggerCancel
	assert.Equal(t, AFPassiveScan, m.Update(step(c, Convergence{}, 3, 3)))
}

func TestAFMachine_ContinuousTriggerUnfocused(t *testing.T) {
	var m AFMachine
	c := autoControls()
	c.AFMode = camera3.AFModeContinuousVideo

	m.Update(step(c, Convergence{}, 0, 0))

	c.AFTrigger = camera3.AFTriggerStart
	assert.Equal(t, AFNotFocusedLocked, m.Update(step(c, Convergence{}, 1, 1)))
}

func TestAFMachine_ModeChangeResets(t *testing.T) {
	var m AFMachine
	c := autoControls()

	assert.Equal(t, AFPassiveFocused, m.Update(step(c, Convergence{AF: true}, 0, 0)))

	c.AFMode = camera3.AFModeAuto
	assert.Equal(t, AFInactive, m.Update(step(c, Convergence{AF: true}, 1, 1)))
}

func TestAWBMachine_Transitions(t *testing.T) {
	var m AWBMachine
	c := autoControls()

	assert.Equal(t, AWBSearching, m.Update(step(c, Convergence{}, 0, 0)))
	assert.Equal(t, AWBConverged, m.Update(step(c, Convergence{AWB: true}, 1, 1)))

	c.AWBLock = true
	assert.Equal(t, AWBLocked, m.Update(step(c, Convergence{AWB: true}, 2, 2)))

	c.AWBLock = false
	assert.Equal(t, AWBConverged, m.Update(step(c, Convergence{AWB: true}, 3, 3)))
}

func TestAWBMachine_NonAutoInactive(t *testing.T) {
	var m AWBMachine
	c := autoControls()
	c.AWBMode = camera3.AWBModeDaylight

	assert.Equal(t, AWBInactive, m.Update(step(c, Convergence{AWB: true}, 0, 0)))
}

func TestMachines_ApplyToMetadata(t *testing.T) {
	var m Machines
	md := camera3.NewMetadata()

	m.ApplyToMetadata(step(autoControls(), Convergence{AE: true, AF: true, AWB: true}, 0, 0), md)

	ae, ok := md.GetInt(camera3.TagAEState)
	assert.True(t, ok)
	assert.Equal(t, int(AEConverged), ae)

	af, ok := md.GetInt(camera3.TagAFState)
	assert.True(t, ok)
	assert.Equal(t, int(AFPassiveFocused), af)

	awb, ok := md.GetInt(camera3.TagAWBState)
	assert.True(t, ok)
	assert.Equal(t, int(AWBConverged), awb)
}

// Replaying the same input sequence on fresh machines yields the same
// state sequence.
func TestMachines_ReplayIdempotence(t *testing.T) {
	inputs := make([]Input, 0, 120)
	c := autoControls()
	c.AFMode = camera3.AFModeAuto
	for i := 0; i < 120; i++ {
		in := step(c, Convergence{AE: i > 5, AF: i > 80, AWB: i > 3}, uint32(i), int64(i)*33_000_000)
		if i == 10 {
			in.Controls.AFTrigger = camera3.AFTriggerStart
		}
		if i == 40 {
			in.Controls.AELock = true
		}
		inputs = append(inputs, in)
	}

	run := func() []AFState {
		var m Machines
		out := make([]AFState, 0, len(inputs))
		for _, in := range inputs {
			_, af, _ := m.Update(in)
			out = append(out, af)
		}
		return out
	}

	assert.Equal(t, run(), run())
}
