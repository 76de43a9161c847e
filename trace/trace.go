// Package trace publishes frame lifecycle events to NATS for external
// observation. Publishing is best-effort: a missing or failed connection
// never affects the request path.
package trace

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the root of the trace subject tree. Events publish to
// <prefix>.<camera>.<kind>.
const SubjectPrefix = "camhal.trace"

// Kind labels a trace event.
type Kind string

const (
	// KindSubmitted marks request admission.
	KindSubmitted Kind = "submitted"
	// KindCompleted marks terminal request completion.
	KindCompleted Kind = "completed"
	// KindDeviceError marks a fatal session error.
	KindDeviceError Kind = "device_error"
)

// Event is the wire payload of one trace point.
type Event struct {
	Timestamp   string `json:"timestamp"` // RFC3339Nano
	SessionID   string `json:"session_id"`
	CameraID    int    `json:"camera_id"`
	Kind        Kind   `json:"kind"`
	FrameNumber uint32 `json:"frame_number,omitempty"`
}

// Tracer publishes frame lifecycle trace points for one camera session.
// A nil NATS connection disables publishing; the Tracer is still usable.
type Tracer struct {
	nc        *nats.Conn
	logger    *slog.Logger
	sessionID string
	cameraID  int
	subject   string
	enabled   bool
}

// New creates a tracer with a fresh session id.
func New(nc *nats.Conn, cameraID int, logger *slog.Logger) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracer{
		nc:        nc,
		logger:    logger,
		sessionID: uuid.New().String(),
		cameraID:  cameraID,
		enabled:   nc != nil,
	}
	t.subject = SubjectPrefix
	return t
}

// SessionID returns the session identifier stamped on every event.
func (t *Tracer) SessionID() string {
	return t.sessionID
}

// RequestSubmitted records request admission.
func (t *Tracer) RequestSubmitted(frameNumber uint32) {
	t.publish(KindSubmitted, frameNumber)
}

// RequestCompleted records terminal completion.
func (t *Tracer) RequestCompleted(frameNumber uint32) {
	t.publish(KindCompleted, frameNumber)
}

// DeviceError records a fatal session error.
func (t *Tracer) DeviceError() {
	t.publish(KindDeviceError, 0)
}

func (t *Tracer) publish(kind Kind, frameNumber uint32) {
	if !t.enabled {
		return
	}

	ev := Event{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:   t.sessionID,
		CameraID:    t.cameraID,
		Kind:        kind,
		FrameNumber: frameNumber,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.logger.Error("trace event marshal failed", "kind", kind, "error", err)
		return
	}

	subject := t.subject + "." + strconv.Itoa(t.cameraID) + "." + string(kind)
	if err := t.nc.Publish(subject, data); err != nil {
		// Best-effort: log and move on.
		t.logger.Debug("trace publish failed", "subject", subject, "error", err)
	}
}
