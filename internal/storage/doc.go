// Package storage is the recipient store: rentals with reminder schedules,
// maintenance entries, administrators, the broadcast roster and the
// append-only broadcast log, all in one SQLite database.
package storage
