// Package db opens the embedded sqlite database that backs enrollment state.
//
// The store may be shared between a host app and its notification extension
// through a shared container, so the connection is opened with a busy timeout:
// a writer that hits the file lock retries for about a second instead of
// failing immediately.
package db

import (
	"database/sql"

	_ "modernc.org/sqlite" // pure Go sqlite driver
)

// Open opens (creating if needed) the sqlite database at path.
// Caller must call Close when done.
func Open(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(1000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(); err != nil {
		_ = d.Close()
		return nil, err
	}
	// sqlite serializes writers itself; readers run concurrently under WAL.
	d.SetMaxOpenConns(4)
	return d, nil
}
