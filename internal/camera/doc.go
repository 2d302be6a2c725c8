// Package camera manages appliance camera registration and snapshot
// captures.
//
// Captures are asynchronous: a capture request creates a PENDING
// snapshot record and publishes a capture command over MQTT; the
// appliance later uploads the image, which completes the record with
// the stored image location and the measured capture latency. Records
// for captures the appliance never answered stay PENDING.
package camera
