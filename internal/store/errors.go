package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// SQLite reports lock contention as SQLITE_BUSY or "database is
// locked" depending on the code path. Redundant result deliveries can
// hit the same rows within the duplicate window, so writes retry
// briefly instead of failing the routing.

func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

const (
	conflictRetries = 3
	conflictBackoff = 50 * time.Millisecond
)

// execRetry runs a write, retrying a handful of times on lock
// contention.
func (s *SQLiteStore) execRetry(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		res, err = s.db.ExecContext(ctx, query, args...)
		if !isSQLiteConflict(err) {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(conflictBackoff):
		}
	}
	return res, err
}
