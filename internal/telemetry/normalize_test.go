package telemetry

import (
	"errors"
	"testing"
)

func fp(v float64) *float64 { return &v }

func TestNormalize_SentinelBecomesNull(t *testing.T) {
	raw := Values{
		Temperature: fp(-999),
		Humidity:    fp(-999),
		Weight:      fp(-999),
		Gas:         fp(-999),
	}

	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if got.Temperature != nil {
		t.Errorf("Temperature = %v, want nil", *got.Temperature)
	}
	if got.Humidity != nil {
		t.Errorf("Humidity = %v, want nil", *got.Humidity)
	}
	if got.Weight != nil {
		t.Errorf("Weight = %v, want nil", *got.Weight)
	}
	if got.Gas != nil {
		t.Errorf("Gas = %v, want nil", *got.Gas)
	}
}

func TestNormalize_HumidityRounding(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"rounds up", 64.6, 65},
		{"rounds down", 64.4, 64},
		{"half rounds up", 64.5, 65},
		{"integer unchanged", 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(Values{Humidity: fp(tt.in)})
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got.Humidity == nil || *got.Humidity != tt.want {
				t.Errorf("Humidity = %v, want %g", got.Humidity, tt.want)
			}
		})
	}
}

func TestNormalize_RoundingBeforeRangeCheck(t *testing.T) {
	// 100.4 rounds to 100 which sits inside the range.
	got, err := Normalize(Values{Humidity: fp(100.4)})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.Humidity == nil || *got.Humidity != 100 {
		t.Errorf("Humidity = %v, want 100", got.Humidity)
	}

	// 100.6 rounds to 101 which is out of range.
	if _, err := Normalize(Values{Humidity: fp(100.6)}); err == nil {
		t.Error("Normalize(100.6) expected range error, got nil")
	}
}

func TestNormalize_RangeViolations(t *testing.T) {
	tests := []struct {
		name  string
		raw   Values
		field string
	}{
		{"temperature low", Values{Temperature: fp(-41)}, "temperature"},
		{"temperature high", Values{Temperature: fp(126)}, "temperature"},
		{"humidity high", Values{Humidity: fp(101)}, "humidity"},
		{"humidity low", Values{Humidity: fp(-1)}, "humidity"},
		{"gas high", Values{Gas: fp(1001)}, "gas"},
		{"gas low", Values{Gas: fp(-0.5)}, "gas"},
		{"weight negative", Values{Weight: fp(-1)}, "weight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", vErr.Field, tt.field)
			}
		})
	}
}

func TestNormalize_BoundaryValuesAccepted(t *testing.T) {
	raw := Values{
		Temperature: fp(-40),
		Humidity:    fp(100),
		Weight:      fp(0),
		Gas:         fp(1000),
	}

	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() boundary values rejected: %v", err)
	}
	if *got.Temperature != -40 || *got.Humidity != 100 || *got.Weight != 0 || *got.Gas != 1000 {
		t.Errorf("boundary values altered: %+v", got)
	}
}

func TestNormalize_NilFieldsPassThrough(t *testing.T) {
	got, err := Normalize(Values{Temperature: fp(21.5)})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.Temperature == nil || *got.Temperature != 21.5 {
		t.Errorf("Temperature = %v, want 21.5", got.Temperature)
	}
	if got.Humidity != nil || got.Weight != nil || got.Gas != nil {
		t.Errorf("absent fields should stay nil: %+v", got)
	}
}
