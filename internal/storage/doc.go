// Package storage persists drillbot state in SQLite (modernc.org/sqlite, no
// cgo): the scenario, participants, the delivery log and an audit trail of
// operator actions.
//
// Timestamps are stored as Unix nanoseconds so ordering and latency math
// never depend on string formats or zones.
package storage
