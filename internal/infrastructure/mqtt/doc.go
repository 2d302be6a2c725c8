// Package mqtt wraps paho.mqtt.golang for the Hanibi MQTT transport.
//
// The broker carries two kinds of traffic:
//
//   - Inbound device reports on hanibi/{deviceId}/telemetry, /heartbeat
//     and /event, consumed by the ingest service. Payloads are the same
//     JSON shapes as the HTTP bodies, with deviceId taken from the topic.
//   - Outbound camera capture commands on hanibi/{deviceId}/camera/capture.
//
// The Client handles connection management, automatic reconnection with
// exponential backoff, and re-subscription after reconnect. A Last Will
// and Testament on hanibi/system/status lets collaborators detect an
// unexpected server death.
//
// The transport is optional: when mqtt.enabled is false in the config,
// devices report over HTTP only and this package is never connected.
package mqtt
