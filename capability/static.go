package capability

import (
	"fmt"
	"sync"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/errors"
)

// Characteristics is the per-device static capability record. Read-only
// after construction.
type Characteristics struct {
	CameraID int
	Platform Platform

	SupportedFormats []camera3.Format

	// HW-supported processing modes, used for template substitution.
	EdgeModes           []int
	NoiseReductionModes []int
}

// SupportsFormat reports whether the device can produce the format.
func (c *Characteristics) SupportsFormat(f camera3.Format) bool {
	for _, s := range c.SupportedFormats {
		if s == f {
			return true
		}
	}
	return false
}

// SupportsEdgeMode reports whether the HW supports the edge mode.
func (c *Characteristics) SupportsEdgeMode(mode int) bool {
	for _, m := range c.EdgeModes {
		if m == mode {
			return true
		}
	}
	return false
}

// SupportsNoiseReductionMode reports whether the HW supports the NR mode.
func (c *Characteristics) SupportsNoiseReductionMode(mode int) bool {
	for _, m := range c.NoiseReductionModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Fetcher builds characteristics for a camera id. Replaceable for tests
// and for platforms with probed capability data.
type Fetcher func(cameraID int, platform Platform) (*Characteristics, error)

// registry is the process-wide capability cache. Entries are built on
// first Get and never mutated afterwards.
type registry struct {
	mu       sync.Mutex
	platform Platform
	fetch    Fetcher
	cache    map[int]*Characteristics
	ready    bool
}

var global registry

// Init registers the platform blob and resets the cache. Call once at
// module init; Teardown on module unload.
func Init(platform Platform, fetch Fetcher) error {
	if err := platform.Validate(); err != nil {
		return err
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if fetch == nil {
		fetch = defaultFetch
	}
	global.platform = platform
	global.fetch = fetch
	global.cache = make(map[int]*Characteristics)
	global.ready = true
	return nil
}

// Teardown drops all cached characteristics. Get fails until the next Init.
func Teardown() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.cache = nil
	global.ready = false
}

// Get returns the characteristics for a camera, building them on first use.
func Get(cameraID int) (*Characteristics, error) {
	global.mu.Lock()
	defer global.mu.Unlock()

	if !global.ready {
		return nil, errors.WrapFatal(errors.ErrNotInitialized, "capability", "Get", "registry lookup")
	}

	if c, ok := global.cache[cameraID]; ok {
		return c, nil
	}

	c, err := global.fetch(cameraID, global.platform)
	if err != nil {
		return nil, errors.WrapFatal(err, "capability", "Get",
			fmt.Sprintf("build characteristics for camera %d", cameraID))
	}

	global.cache[cameraID] = c
	return c, nil
}

// defaultFetch derives characteristics purely from the platform blob.
func defaultFetch(cameraID int, platform Platform) (*Characteristics, error) {
	if cameraID < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("camera id %d", cameraID),
			"capability", "defaultFetch", "camera id check")
	}
	return &Characteristics{
		CameraID: cameraID,
		Platform: platform,
		SupportedFormats: []camera3.Format{
			camera3.FormatImplementationDefined,
			camera3.FormatNV12,
			camera3.FormatYUV420,
			camera3.FormatBlob,
			camera3.FormatRawOpaque,
		},
		EdgeModes:           []int{camera3.EdgeModeOff, camera3.EdgeModeFast},
		NoiseReductionModes: []int{camera3.NoiseReductionModeOff, camera3.NoiseReductionModeFast},
	}, nil
}
