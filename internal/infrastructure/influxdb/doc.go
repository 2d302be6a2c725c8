// Package influxdb provides InfluxDB connectivity for Hanibi Core.
//
// It wraps the official influxdb-client-go v2 library with Hanibi-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package mirrors the engine's accepted data into time series:
//   - Normalised sensor readings (temperature, humidity, weight, gas)
//   - Completed-session metrics (processed amount, duration, energy)
//
// The SQLite store remains authoritative; the mirror exists for
// dashboards and retention-friendly downsampling, and is optional via
// config (influxdb.enabled).
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "hanibi",
//	    Bucket:  "telemetry",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteReading("HANIBI-001", influxdb.ReadingFields{Temperature: &temp}, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for high-frequency telemetry data.
package influxdb
