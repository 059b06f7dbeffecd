// Package stores provides the SQLite persistence layer for ironfleet.
//
// SQLiteStore keeps directory documents (so it can stand in for a remote
// directory), run history with per-phase sub-service outcomes, drift
// records and the event timeline. The schema is applied with embedded
// golang-migrate migrations.
package stores
