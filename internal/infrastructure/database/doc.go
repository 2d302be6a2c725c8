// Package database provides SQLite connectivity for Hanibi Core.
//
// The entire appliance state lives in one SQLite file: the device
// registry, processing sessions, the event journal, sensor readings,
// camera snapshots and the request log. This package owns the
// connection, its pragmas and the embedded schema migrations.
//
// WAL mode keeps dashboard queries from blocking the inbound telemetry
// stream, and the busy timeout absorbs contention between a sensor
// burst and an API read. The connection pool is pinned to a single
// connection because SQLite supports only one writer.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: new columns must be nullable or carry
// a default, and columns are never dropped or renamed. Each migration
// ships as an .up.sql / .down.sql pair embedded in the binary.
package database
