// Package ingest composes the inbound processing pipeline for device
// reports, heartbeats and events.
//
// Every inbound unit, whether it arrived over HTTP or MQTT, flows
// through the same Service: device auto-registration, sensor value
// normalization, the implicit heartbeat, the session state machine and
// side-effect dispatch. Transports stay thin adapters so the engine's
// invariants (single active session, event dedup, monotonic heartbeat
// clock) hold regardless of how a message reached us.
//
// Side effects on collaborators (camera capture requests, session
// notifications) are dispatched fire-and-forget: a collaborator
// failure is logged but never changes the result returned to the
// device.
package ingest
