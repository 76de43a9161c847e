// Package capability holds per-device static characteristics and the
// platform tuning constants they derive from. Characteristics are built
// lazily, cached process-wide, and never mutated after construction.
package capability

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/camstack/camhal/errors"
)

// Platform is the tuning blob read once at module init. Fields map the
// constants the request lifecycle depends on.
type Platform struct {
	// VideoSlotBudget is the number of video pipeline streams the ISP can
	// drive concurrently.
	VideoSlotBudget int `yaml:"video_slot_budget"`

	// MaxInFlight bounds requests between process() and completion. Also
	// used as the per-stream max_buffers reported to the host.
	MaxInFlight int `yaml:"max_in_flight"`

	// MaxRawBuffers sizes the opaque-RAW ring for ZSL capture. The ZSL
	// sequence cache holds MaxRawBuffers - MaxInFlight entries.
	MaxRawBuffers int `yaml:"max_raw_buffers"`

	// SOFAlignment gates the start-of-frame wait before post-processing.
	SOFAlignment bool `yaml:"sof_alignment"`

	// SOFTimeout bounds the start-of-frame wait.
	SOFTimeout time.Duration `yaml:"sof_timeout"`

	// FaceDetectInterval is the frame stride between face detection runs.
	FaceDetectInterval int `yaml:"face_detect_interval"`

	// SlowlyRunRatio scales debug-build waits (1 for production).
	SlowlyRunRatio int `yaml:"slowly_run_ratio"`

	// Sensor active array, used for aspect-ratio-preferred stream selection.
	SensorWidth  int `yaml:"sensor_width"`
	SensorHeight int `yaml:"sensor_height"`

	// PartialResultCount is the number of metadata partials per request.
	PartialResultCount int `yaml:"partial_result_count"`

	// FPSRanges lists the AE target ranges the sensor supports as
	// [min, max] pairs.
	FPSRanges [][2]int `yaml:"fps_ranges"`
}

// Default returns the platform constants used when no blob is provided.
func Default() Platform {
	return Platform{
		VideoSlotBudget:    2,
		MaxInFlight:        4,
		MaxRawBuffers:      8,
		SOFAlignment:       true,
		SOFTimeout:         2 * time.Second,
		FaceDetectInterval: 10,
		SlowlyRunRatio:     1,
		SensorWidth:        4096,
		SensorHeight:       3072,
		PartialResultCount: 2,
		FPSRanges:          [][2]int{{15, 15}, {15, 30}, {30, 30}},
	}
}

// Load reads a platform blob from a YAML file, applying defaults for
// missing fields.
func Load(path string) (Platform, error) {
	p := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, errors.WrapInvalid(err, "capability", "Load", "read platform blob")
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, errors.WrapInvalid(err, "capability", "Load", "parse platform blob")
	}

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate rejects constant combinations the lifecycle cannot run with.
func (p Platform) Validate() error {
	if p.VideoSlotBudget < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("video_slot_budget %d < 1", p.VideoSlotBudget),
			"Platform", "Validate", "budget check")
	}
	if p.MaxInFlight < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("max_in_flight %d < 1", p.MaxInFlight),
			"Platform", "Validate", "in-flight check")
	}
	if p.MaxRawBuffers <= p.MaxInFlight {
		return errors.WrapInvalid(
			fmt.Errorf("max_raw_buffers %d must exceed max_in_flight %d", p.MaxRawBuffers, p.MaxInFlight),
			"Platform", "Validate", "raw ring check")
	}
	if p.PartialResultCount < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("partial_result_count %d < 1", p.PartialResultCount),
			"Platform", "Validate", "partial count check")
	}
	if p.SlowlyRunRatio < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("slowly_run_ratio %d < 1", p.SlowlyRunRatio),
			"Platform", "Validate", "ratio check")
	}
	return nil
}

// SensorAspectRatio returns the active array aspect ratio.
func (p Platform) SensorAspectRatio() float64 {
	if p.SensorHeight == 0 {
		return 0
	}
	return float64(p.SensorWidth) / float64(p.SensorHeight)
}

// ClosestFPSRange picks the supported range nearest the target pair,
// minimizing summed endpoint distance. When equalOnly is set, only
// min==max ranges are considered (video templates).
func (p Platform) ClosestFPSRange(target [2]int, equalOnly bool) [2]int {
	best := [2]int{target[0], target[1]}
	bestDist := -1
	for _, r := range p.FPSRanges {
		if equalOnly && r[0] != r[1] {
			continue
		}
		dist := abs(r[0]-target[0]) + abs(r[1]-target[1])
		if bestDist < 0 || dist < bestDist {
			best = r
			bestDist = dist
		}
	}
	if bestDist < 0 && equalOnly {
		// No fixed range available; fall back to any range.
		return p.ClosestFPSRange(target, false)
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
