package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ReadingFields carries the nullable sensor values of one normalised
// reading. Nil fields are omitted from the written point.
type ReadingFields struct {
	Temperature *float64
	Humidity    *float64
	Weight      *float64
	Gas         *float64
}

// SessionFields carries the derived metrics of one closed session.
type SessionFields struct {
	State           string
	ProcessedAmount *float64
	DurationMinutes *float64
	EnergyConsumed  *float64
	Anomalous       bool
}

// WriteReading mirrors one accepted sensor reading into the readings
// measurement. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Example:
//
//	client.WriteReading("HANIBI-001", influxdb.ReadingFields{Temperature: &t}, reading.ObservedAt)
func (c *Client) WriteReading(deviceID string, fields ReadingFields, observedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	values := make(map[string]interface{}, 4)
	if fields.Temperature != nil {
		values["temperature"] = *fields.Temperature
	}
	if fields.Humidity != nil {
		values["humidity"] = *fields.Humidity
	}
	if fields.Weight != nil {
		values["weight"] = *fields.Weight
	}
	if fields.Gas != nil {
		values["gas"] = *fields.Gas
	}
	if len(values) == 0 {
		return
	}

	point := write.NewPoint(
		"readings",
		map[string]string{
			"device_id": deviceID,
		},
		values,
		observedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionMetrics mirrors a closed session's derived metrics into
// the sessions measurement.
func (c *Client) WriteSessionMetrics(deviceID, sessionID string, fields SessionFields, completedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	values := map[string]interface{}{
		"anomalous": fields.Anomalous,
	}
	if fields.ProcessedAmount != nil {
		values["processed_amount"] = *fields.ProcessedAmount
	}
	if fields.DurationMinutes != nil {
		values["duration_minutes"] = *fields.DurationMinutes
	}
	if fields.EnergyConsumed != nil {
		values["energy_consumed"] = *fields.EnergyConsumed
	}

	point := write.NewPoint(
		"sessions",
		map[string]string{
			"device_id":  deviceID,
			"session_id": sessionID,
			"state":      fields.State,
		},
		values,
		completedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
