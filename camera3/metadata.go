package camera3

// Tag identifies a metadata entry. The numeric values are internal; the
// host ABI shim maps them to its own tag space.
type Tag int

// Control and result tags used by the core.
const (
	TagControlMode Tag = iota + 1
	TagSceneMode
	TagCaptureIntent

	TagAEMode
	TagAELock
	TagAEPrecaptureTrigger
	TagAECompensation
	TagAETargetFPSRange
	TagAEState

	TagAFMode
	TagAFTrigger
	TagAFState

	TagAWBMode
	TagAWBLock
	TagAWBState

	TagEdgeMode
	TagNoiseReductionMode
	TagFaceDetectMode

	TagSensorTimestamp
	TagCaptureSequence
	TagRequestPartialResultCount

	TagJPEGQuality
	TagJPEGOrientation
)

// ControlMode values.
const (
	ControlModeOff = iota
	ControlModeAuto
	ControlModeUseSceneMode
)

// AE mode values.
const (
	AEModeOff = iota
	AEModeOn
	AEModeOnAutoFlash
	AEModeOnAlwaysFlash
)

// AE precapture trigger values.
const (
	AEPrecaptureTriggerIdle = iota
	AEPrecaptureTriggerStart
	AEPrecaptureTriggerCancel
)

// AF mode values.
const (
	AFModeOff = iota
	AFModeAuto
	AFModeMacro
	AFModeContinuousVideo
	AFModeContinuousPicture
	AFModeEDOF
)

// AF trigger values.
const (
	AFTriggerIdle = iota
	AFTriggerStart
	AFTriggerCancel
)

// AWB mode values.
const (
	AWBModeOff = iota
	AWBModeAuto
	AWBModeIncandescent
	AWBModeFluorescent
	AWBModeDaylight
	AWBModeCloudyDaylight
)

// Capture intent values.
const (
	IntentCustom = iota
	IntentPreview
	IntentStillCapture
	IntentVideoRecord
	IntentVideoSnapshot
	IntentZeroShutterLag
	IntentManual
)

// Edge and noise reduction mode values.
const (
	EdgeModeOff = iota
	EdgeModeFast
	EdgeModeHighQuality
)

const (
	NoiseReductionModeOff = iota
	NoiseReductionModeFast
	NoiseReductionModeHighQuality
)

// Metadata is an ordered-insensitive tag store carried on requests and
// results. It is not goroutine-safe; callers clone before sharing across
// threads (settings are snapshotted per request).
type Metadata struct {
	entries map[Tag]any
}

// NewMetadata creates an empty metadata store.
func NewMetadata() *Metadata {
	return &Metadata{entries: make(map[Tag]any)}
}

// Clone returns a deep copy. FPS ranges (the only slice-valued tag) are
// copied element-wise.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	clone := NewMetadata()
	for k, v := range m.entries {
		if r, ok := v.([2]int); ok {
			clone.entries[k] = r
			continue
		}
		clone.entries[k] = v
	}
	return clone
}

// Set stores a value for a tag.
func (m *Metadata) Set(tag Tag, value any) *Metadata {
	m.entries[tag] = value
	return m
}

// Has reports whether the tag is present.
func (m *Metadata) Has(tag Tag) bool {
	if m == nil {
		return false
	}
	_, ok := m.entries[tag]
	return ok
}

// Delete removes a tag.
func (m *Metadata) Delete(tag Tag) {
	delete(m.entries, tag)
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// GetInt returns an int-valued tag, with ok=false when absent or mistyped.
func (m *Metadata) GetInt(tag Tag) (int, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m.entries[tag].(int)
	return v, ok
}

// IntOr returns an int-valued tag or the fallback.
func (m *Metadata) IntOr(tag Tag, fallback int) int {
	if v, ok := m.GetInt(tag); ok {
		return v
	}
	return fallback
}

// GetInt64 returns an int64-valued tag (timestamps).
func (m *Metadata) GetInt64(tag Tag) (int64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m.entries[tag].(int64)
	return v, ok
}

// GetBool returns a bool-valued tag (locks).
func (m *Metadata) GetBool(tag Tag) (bool, bool) {
	if m == nil {
		return false, false
	}
	v, ok := m.entries[tag].(bool)
	return v, ok
}

// BoolOr returns a bool-valued tag or the fallback.
func (m *Metadata) BoolOr(tag Tag, fallback bool) bool {
	if v, ok := m.GetBool(tag); ok {
		return v
	}
	return fallback
}

// GetRange returns an [min, max] pair (FPS ranges).
func (m *Metadata) GetRange(tag Tag) ([2]int, bool) {
	if m == nil {
		return [2]int{}, false
	}
	v, ok := m.entries[tag].([2]int)
	return v, ok
}

// Merge copies all entries from other into m, overwriting duplicates.
func (m *Metadata) Merge(other *Metadata) {
	if other == nil {
		return
	}
	for k, v := range other.entries {
		m.entries[k] = v
	}
}
