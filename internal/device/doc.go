// Package device tracks the fleet of food-processing appliances known to
// the server: their identity, connectivity status, heartbeat history and
// physical attributes such as door position and camera details.
//
// The package is organised in three layers:
//
//   - Repository: persistence interface with a SQLite implementation.
//     Every write goes through a version check so concurrent writers
//     cannot silently overwrite each other.
//   - Registry: thread-safe in-memory view over the repository. All
//     ingest paths go through the registry, which auto-registers
//     unknown devices on first contact.
//   - Monitor: periodic sweep that demotes devices to OFFLINE when
//     their last heartbeat is older than the configured threshold.
//
// Devices are never deleted by the ingest paths; a device that stops
// reporting stays in the fleet as OFFLINE.
package device
