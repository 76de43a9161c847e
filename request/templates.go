package request

import (
	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/capability"
	"github.com/camstack/camhal/errors"
)

// defaultFPSTarget is the range the template builder aims for before
// snapping to a supported sensor range.
var defaultFPSTarget = [2]int{15, 30}

// buildTemplate constructs the settings for one template: a preview
// baseline plus template-specific overrides, with HW-supported mode
// substitution from the static characteristics.
func buildTemplate(t camera3.RequestTemplate, chars *capability.Characteristics) (*camera3.Metadata, error) {
	if !t.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "request", "buildTemplate", "template id check")
	}

	md := previewBaseline(chars)
	md.Set(camera3.TagCaptureIntent, t.Intent())

	switch t {
	case camera3.TemplatePreview:
		// Baseline is the preview template.

	case camera3.TemplateStillCapture:
		md.Set(camera3.TagAFMode, camera3.AFModeContinuousPicture)
		md.Set(camera3.TagEdgeMode, supportedEdgeMode(chars, camera3.EdgeModeHighQuality))
		md.Set(camera3.TagNoiseReductionMode, supportedNRMode(chars, camera3.NoiseReductionModeHighQuality))

	case camera3.TemplateVideoRecord, camera3.TemplateVideoSnapshot:
		md.Set(camera3.TagAFMode, camera3.AFModeContinuousVideo)
		// Video needs a fixed frame rate: min == max.
		md.Set(camera3.TagAETargetFPSRange, chars.Platform.ClosestFPSRange(defaultFPSTarget, true))

	case camera3.TemplateZeroShutterLag:
		md.Set(camera3.TagAFMode, camera3.AFModeContinuousPicture)
		md.Set(camera3.TagEdgeMode, supportedEdgeMode(chars, camera3.EdgeModeHighQuality))
		md.Set(camera3.TagNoiseReductionMode, supportedNRMode(chars, camera3.NoiseReductionModeHighQuality))

	case camera3.TemplateManual:
		md.Set(camera3.TagControlMode, camera3.ControlModeOff)
		md.Set(camera3.TagAEMode, camera3.AEModeOff)
		md.Set(camera3.TagAFMode, camera3.AFModeOff)
		md.Set(camera3.TagAWBMode, camera3.AWBModeOff)
	}

	return md, nil
}

// previewBaseline is the full-auto starting point every template derives
// from.
func previewBaseline(chars *capability.Characteristics) *camera3.Metadata {
	md := camera3.NewMetadata()
	md.Set(camera3.TagControlMode, camera3.ControlModeAuto)
	md.Set(camera3.TagCaptureIntent, camera3.IntentPreview)
	md.Set(camera3.TagAEMode, camera3.AEModeOn)
	md.Set(camera3.TagAELock, false)
	md.Set(camera3.TagAEPrecaptureTrigger, camera3.AEPrecaptureTriggerIdle)
	md.Set(camera3.TagAECompensation, 0)
	md.Set(camera3.TagAETargetFPSRange, chars.Platform.ClosestFPSRange(defaultFPSTarget, false))
	md.Set(camera3.TagAFMode, camera3.AFModeContinuousPicture)
	md.Set(camera3.TagAFTrigger, camera3.AFTriggerIdle)
	md.Set(camera3.TagAWBMode, camera3.AWBModeAuto)
	md.Set(camera3.TagAWBLock, false)
	md.Set(camera3.TagEdgeMode, supportedEdgeMode(chars, camera3.EdgeModeFast))
	md.Set(camera3.TagNoiseReductionMode, supportedNRMode(chars, camera3.NoiseReductionModeFast))
	return md
}

// supportedEdgeMode substitutes the closest HW-supported edge mode.
func supportedEdgeMode(chars *capability.Characteristics, want int) int {
	for _, m := range []int{want, camera3.EdgeModeFast, camera3.EdgeModeOff} {
		if chars.SupportsEdgeMode(m) {
			return m
		}
	}
	return camera3.EdgeModeOff
}

// supportedNRMode substitutes the closest HW-supported noise reduction mode.
func supportedNRMode(chars *capability.Characteristics, want int) int {
	for _, m := range []int{want, camera3.NoiseReductionModeFast, camera3.NoiseReductionModeOff} {
		if chars.SupportsNoiseReductionMode(m) {
			return m
		}
	}
	return camera3.NoiseReductionModeOff
}
