// Package storage selects the relational backend behind the admin and
// scabbard stores from a single DSN string.
package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	_ "github.com/jackc/pgx/v4/stdlib"
	_ "modernc.org/sqlite"

	"splinter/utils"
)

// Open returns a database handle for dsn. Supported forms:
//
//	"memory"            in-memory SQLite
//	"postgres://..."    Postgres via pgx
//	anything else       a SQLite database path
//
// The postgres flag tells stores to rewrite placeholders.
func Open(dsn string) (db *sql.DB, postgres bool, err error) {
	switch {
	case dsn == "" || dsn == "memory":
		// each open gets its own named in-memory database; the shared cache
		// keeps every pool connection on that same database.
		name := atomic.AddUint64(&memoryDBCounter, 1)
		db, err = sql.Open("sqlite",
			fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", name))
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		postgres = true
		db, err = sql.Open("pgx", dsn)
	default:
		db, err = sql.Open("sqlite", dsn)
	}
	if err != nil {
		return nil, false, utils.WrapError(utils.KindInternal, err, "unable to open storage")
	}
	if !postgres {
		// modernc sqlite serializes writes itself; a single connection
		// avoids SQLITE_BUSY under the store's writer lock.
		db.SetMaxOpenConns(1)
	}
	return db, postgres, nil
}

var memoryDBCounter uint64
