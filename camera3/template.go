package camera3

import "fmt"

// RequestTemplate selects a default-settings template.
type RequestTemplate int

const (
	// TemplatePreview is the viewfinder template.
	TemplatePreview RequestTemplate = iota + 1
	// TemplateStillCapture is the still photo template.
	TemplateStillCapture
	// TemplateVideoRecord is the video recording template.
	TemplateVideoRecord
	// TemplateVideoSnapshot is the snapshot-while-recording template.
	TemplateVideoSnapshot
	// TemplateZeroShutterLag is the ZSL template.
	TemplateZeroShutterLag
	// TemplateManual is the full-manual template.
	TemplateManual

	templateCount = int(TemplateManual)
)

// Valid reports whether the template id is in range.
func (t RequestTemplate) Valid() bool {
	return t >= TemplatePreview && t <= TemplateManual
}

// String returns the template name.
func (t RequestTemplate) String() string {
	switch t {
	case TemplatePreview:
		return "PREVIEW"
	case TemplateStillCapture:
		return "STILL_CAPTURE"
	case TemplateVideoRecord:
		return "VIDEO_RECORD"
	case TemplateVideoSnapshot:
		return "VIDEO_SNAPSHOT"
	case TemplateZeroShutterLag:
		return "ZERO_SHUTTER_LAG"
	case TemplateManual:
		return "MANUAL"
	default:
		return fmt.Sprintf("RequestTemplate(%d)", int(t))
	}
}

// Intent returns the capture intent stamped into the template settings.
func (t RequestTemplate) Intent() int {
	switch t {
	case TemplatePreview:
		return IntentPreview
	case TemplateStillCapture:
		return IntentStillCapture
	case TemplateVideoRecord:
		return IntentVideoRecord
	case TemplateVideoSnapshot:
		return IntentVideoSnapshot
	case TemplateZeroShutterLag:
		return IntentZeroShutterLag
	case TemplateManual:
		return IntentManual
	default:
		return IntentCustom
	}
}
