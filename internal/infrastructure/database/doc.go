// Package database provides the SQLite persistence layer for the bridge.
//
// The protocol stack delegates storage here: the Matter store keeps
// endpoint attribute snapshots and commissioned fabric records, and the
// device package records state history.
//
// # Features
//
//   - Connection management with WAL mode and busy-timeout pragmas
//   - Embedded SQL migrations applied on startup
//   - Health checks for monitoring
//
// # Usage
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
