// Package camhal is the hardware-independent core of a camera HAL: it
// manages the capture-request lifecycle between a host camera framework
// and an imaging pipeline.
//
// # Layers
//
// The core is layered top-down:
//
//   - request: the request manager (admission, back-pressure, flush,
//     reprocessing) and the result processor (callback ordering,
//     cross-frame metadata ordering, ZSL cache).
//   - stream: stream classification (producer/listener selection under
//     the platform's slot budget), per-stream engines, and buffer pools.
//   - threea: deterministic AE/AF/AWB state machines driven by pipeline
//     convergence reports.
//   - postproc: the rotate/crop/scale/convert/JPEG chain between the
//     pipeline layout and each client stream.
//   - capability: platform tuning constants and static per-camera
//     characteristics.
//   - pipeline: the imaging pipeline contract plus a deterministic
//     in-process simulator.
//   - camera3: the host-facing vocabulary (streams, requests, results,
//     metadata tags).
//
// Observability lives at the edges: metric (Prometheus registry),
// health (session status aggregation), monitor (HTTP + websocket
// surface), and trace (NATS frame lifecycle events).
//
// cmd/camhal runs a complete session against the simulated pipeline.
package camhal
