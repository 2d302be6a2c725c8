// Package telemetry handles normalisation and storage of raw sensor input.
//
// Appliances report temperature, humidity, weight and gas readings that are
// noisy in well-known ways: a failed sensor reads as the -999 sentinel, and
// humidity arrives with spurious decimal precision. Normalize maps sentinels
// to null, rounds humidity, and range-checks every non-null field
// independently, so a fault in one field never invalidates its siblings.
//
// The package also provides the persisted reading model, its SQLite
// repository, and the in-process latest-reading cache used to answer
// "current status" queries without touching the store.
package telemetry
