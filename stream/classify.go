// Package stream implements the per-stream layer of the HAL core: pipeline
// stream selection, listener binding, buffer pools, and the per-stream
// worker engines that dequeue pipeline buffers, run post-processing, and
// hand results to the result processor.
package stream

import (
	"fmt"
	"sort"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/capability"
	"github.com/camstack/camhal/errors"
)

// Binding pairs one pipeline stream with the listener streams it services.
type Binding struct {
	Producer  *camera3.Stream
	Listeners []*camera3.Stream
}

// Classification is the configure-time stream plan.
type Classification struct {
	Pipeline []*Binding
	Inputs   []*camera3.Stream
}

// ProducerFor returns the binding that services a client stream, either as
// producer or as listener, or nil.
func (c *Classification) ProducerFor(s *camera3.Stream) *Binding {
	for _, b := range c.Pipeline {
		if b.Producer == s {
			return b
		}
		for _, l := range b.Listeners {
			if l == s {
				return b
			}
		}
	}
	return nil
}

// Classify validates a host stream configuration and selects the pipeline
// streams. Per-class budgets: at most one opaque RAW, at most one still,
// at most the platform video slot budget.
func Classify(cfg *camera3.StreamConfiguration, platform capability.Platform) (*Classification, error) {
	if cfg == nil || len(cfg.Streams) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "stream", "Classify", "empty configuration")
	}

	var outputs, inputs []*camera3.Stream
	for _, s := range cfg.Streams {
		if s.IsOutput() {
			outputs = append(outputs, s)
		}
		if s.IsInput() {
			inputs = append(inputs, s)
		}
	}

	if len(outputs) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no output streams", errors.ErrInvalidArgument),
			"stream", "Classify", "output check")
	}
	if len(inputs) > 2 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d input streams, at most 2 allowed", errors.ErrInvalidArgument, len(inputs)),
			"stream", "Classify", "input check")
	}
	if err := checkRotation(outputs); err != nil {
		return nil, err
	}

	var raws, stills, videos []*camera3.Stream
	for _, s := range outputs {
		switch {
		case s.IsOpaqueRaw():
			raws = append(raws, s)
		case s.IsStill():
			stills = append(stills, s)
		default:
			videos = append(videos, s)
		}
	}

	// When everything fits the budgets, every output drives the pipeline.
	if len(raws) <= 1 && len(stills) <= 1 && len(videos) <= platform.VideoSlotBudget {
		c := &Classification{Inputs: inputs}
		for _, s := range outputs {
			c.Pipeline = append(c.Pipeline, &Binding{Producer: s})
		}
		return c, nil
	}

	sensorRatio := platform.SensorAspectRatio()

	selected := make([]*camera3.Stream, 0, len(outputs))
	if s := selectStill(stills, sensorRatio); s != nil {
		selected = append(selected, s)
	}
	selected = append(selected, selectVideos(videos, sensorRatio, platform.VideoSlotBudget)...)
	if r := selectRaw(raws); r != nil {
		selected = append(selected, r)
	}

	if len(selected) == 0 {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedFormat, "stream", "Classify", "pipeline selection")
	}

	c := &Classification{Inputs: inputs}
	bindings := make(map[*camera3.Stream]*Binding, len(selected))
	for _, s := range selected {
		b := &Binding{Producer: s}
		bindings[s] = b
		c.Pipeline = append(c.Pipeline, b)
	}

	for _, s := range outputs {
		if _, ok := bindings[s]; ok {
			continue
		}
		producer := bindListener(s, selected)
		if producer == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: no producer for %s", errors.ErrUnsupportedFormat, s),
				"stream", "Classify", "listener binding")
		}
		bindings[producer].Listeners = append(bindings[producer].Listeners, s)
	}

	return c, nil
}

// checkRotation requires a single rotation value across all outputs.
func checkRotation(outputs []*camera3.Stream) error {
	rot := outputs[0].Rotation
	for _, s := range outputs[1:] {
		if s.Rotation != rot {
			return errors.WrapInvalid(
				fmt.Errorf("%w: mixed rotations %d and %d", errors.ErrInvalidArgument, rot, s.Rotation),
				"stream", "checkRotation", "rotation check")
		}
	}
	switch rot {
	case 0, 90, 180, 270:
		return nil
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: %d degrees", errors.ErrInvalidRotation, rot),
			"stream", "checkRotation", "rotation check")
	}
}

func byAreaDesc(streams []*camera3.Stream) []*camera3.Stream {
	out := make([]*camera3.Stream, len(streams))
	copy(out, streams)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PixelArea() > out[j].PixelArea()
	})
	return out
}

// selectStill picks at most one still stream, preferring sensor aspect ratio.
func selectStill(stills []*camera3.Stream, sensorRatio float64) *camera3.Stream {
	if len(stills) == 0 {
		return nil
	}
	sorted := byAreaDesc(stills)
	for _, s := range sorted {
		if ratioMatches(s.AspectRatio(), sensorRatio) {
			return s
		}
	}
	return sorted[0]
}

// selectRaw picks at most one opaque RAW stream, largest first.
func selectRaw(raws []*camera3.Stream) *camera3.Stream {
	if len(raws) == 0 {
		return nil
	}
	return byAreaDesc(raws)[0]
}

// selectVideos fills the video slot budget: the largest video anchors, then
// sensor-ratio streams, then ascending-area fillers. Streams with the same
// pixel dimensions as an already-chosen video rank last since a listener
// binding serves them for free. A host preview stream outside the chosen set
// replaces the smallest same-ratio chosen video.
func selectVideos(videos []*camera3.Stream, sensorRatio float64, budget int) []*camera3.Stream {
	if len(videos) == 0 || budget < 1 {
		return nil
	}

	sorted := byAreaDesc(videos)
	chosen := []*camera3.Stream{sorted[0]}

	sameDims := func(s *camera3.Stream) bool {
		for _, c := range chosen {
			if s.SameSize(c) {
				return true
			}
		}
		return false
	}
	isChosen := func(s *camera3.Stream) bool {
		for _, c := range chosen {
			if c == s {
				return true
			}
		}
		return false
	}

	for _, s := range sorted[1:] {
		if len(chosen) >= budget {
			break
		}
		if !sameDims(s) && ratioMatches(s.AspectRatio(), sensorRatio) {
			chosen = append(chosen, s)
		}
	}
	for i := len(sorted) - 1; i >= 1 && len(chosen) < budget; i-- {
		s := sorted[i]
		if !isChosen(s) && !sameDims(s) {
			chosen = append(chosen, s)
		}
	}
	for i := len(sorted) - 1; i >= 1 && len(chosen) < budget; i-- {
		if s := sorted[i]; !isChosen(s) {
			chosen = append(chosen, s)
		}
	}

	chosen = substitutePreview(chosen, videos)
	return chosen
}

// substitutePreview ensures a host preview stream drives the pipeline when
// one exists: the smallest chosen video sharing its aspect ratio is swapped
// out for it.
func substitutePreview(chosen, videos []*camera3.Stream) []*camera3.Stream {
	for _, c := range chosen {
		if isPreview(c) {
			return chosen
		}
	}

	var preview *camera3.Stream
	for _, s := range videos {
		if isPreview(s) {
			preview = s
			break
		}
	}
	if preview == nil {
		return chosen
	}

	swap := -1
	for i, c := range chosen {
		if !ratioMatches(c.AspectRatio(), preview.AspectRatio()) {
			continue
		}
		if swap < 0 || c.PixelArea() < chosen[swap].PixelArea() {
			swap = i
		}
	}
	if swap >= 0 {
		chosen[swap] = preview
	}
	return chosen
}

// isPreview reports whether a video stream is host-tagged for display
// rather than encoding.
func isPreview(s *camera3.Stream) bool {
	return s.IsVideo() && s.Usage&camera3.UsageVideoEncoder == 0
}

// bindListener picks the producer for a non-selected output: exact
// resolution match first, then aspect ratio, then the largest producer.
// Opaque RAW producers never service listeners.
func bindListener(s *camera3.Stream, selected []*camera3.Stream) *camera3.Stream {
	var candidates []*camera3.Stream
	for _, p := range selected {
		if !p.IsOpaqueRaw() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	for _, p := range candidates {
		if p.SameSize(s) {
			return p
		}
	}
	for _, p := range candidates {
		if p.SameAspectRatio(s) {
			return p
		}
	}
	return byAreaDesc(candidates)[0]
}

func ratioMatches(a, b float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 0.01
}
