// Package database provides the gateway's local SQLite store.
//
// The store holds the node registry: the last reading of every device and
// the last signal strength of every node heard on the radio. It survives
// restarts so the status API can show stale nodes after a reboot.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Forward-only schema migrations embedded in the binary
//   - File permissions (0600) on the database file
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "/var/lib/rfmgw/nodes.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations live in migrations/NNNN_description.sql and are applied in
// version order, each in its own transaction. They are never edited once
// released; a schema change is a new file.
package database
