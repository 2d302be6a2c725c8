package telemetry

import (
	"fmt"
	"math"
)

// sentinelValue is the device-side marker for "sensor read failed".
// It can appear on any field and always normalises to null.
const sentinelValue = -999

// Declared valid ranges per sensor field. Enforced only on non-null,
// non-sentinel values.
const (
	TemperatureMin = -40
	TemperatureMax = 125
	HumidityMin    = 0
	HumidityMax    = 100
	GasMin         = 0
	GasMax         = 1000
	WeightMin      = 0
)

// Values holds one raw sensor payload as sent by a device.
// Every field is independently optional: absent means the device did not
// sample it, sentinel means it sampled and failed.
type Values struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
	Gas         *float64 `json:"gas,omitempty"`
}

// ValidationError reports a sensor field whose value is outside its
// declared range. The report carrying it is rejected without mutating
// any state.
type ValidationError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *ValidationError) Error() string {
	if e.Max == math.MaxFloat64 {
		return fmt.Sprintf("telemetry: %s value %g must be >= %g", e.Field, e.Value, e.Min)
	}
	return fmt.Sprintf("telemetry: %s value %g out of range [%g, %g]", e.Field, e.Value, e.Min, e.Max)
}

// Normalize sanitises one raw sensor payload.
//
// Rules, applied per field in order:
//  1. Absent (nil) stays null.
//  2. The -999 sentinel maps to null, regardless of field.
//  3. Humidity is rounded to the nearest integer.
//  4. The declared range is enforced; a violation returns a
//     *ValidationError naming the field.
//
// Normalize is a pure function; it never mutates its input.
func Normalize(raw Values) (Values, error) {
	var out Values

	temp, err := normalizeField("temperature", raw.Temperature, TemperatureMin, TemperatureMax, false)
	if err != nil {
		return Values{}, err
	}
	out.Temperature = temp

	hum, err := normalizeField("humidity", raw.Humidity, HumidityMin, HumidityMax, true)
	if err != nil {
		return Values{}, err
	}
	out.Humidity = hum

	weight, err := normalizeField("weight", raw.Weight, WeightMin, math.MaxFloat64, false)
	if err != nil {
		return Values{}, err
	}
	out.Weight = weight

	gas, err := normalizeField("gas", raw.Gas, GasMin, GasMax, false)
	if err != nil {
		return Values{}, err
	}
	out.Gas = gas

	return out, nil
}

// normalizeField applies sentinel mapping, optional rounding, and range
// checking to a single field. The sentinel check runs before the range
// check so a -999 never surfaces as a range violation.
func normalizeField(name string, value *float64, minVal, maxVal float64, round bool) (*float64, error) {
	if value == nil {
		return nil, nil
	}

	v := *value
	if v == sentinelValue {
		return nil, nil
	}

	if round {
		v = math.Round(v)
	}

	if v < minVal || v > maxVal {
		return nil, &ValidationError{Field: name, Value: v, Min: minVal, Max: maxVal}
	}

	return &v, nil
}
