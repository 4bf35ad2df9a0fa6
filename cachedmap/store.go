package cachedmap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// busyTimeout is how long each connection waits for a lock to clear before
// reporting the database as busy. Contention shorter than this self-resolves
// without ever reaching the retry loop.
const busyTimeout = 20 * time.Second

const schema = `CREATE TABLE IF NOT EXISTS cache (
	input_id TEXT NOT NULL,
	input_key TEXT NOT NULL,
	output BLOB NOT NULL,
	version TEXT NOT NULL,
	last_used INTEGER NOT NULL,
	PRIMARY KEY (input_id, input_key, version)
)`

// store is the persistence layer under CachedMap: one SQLite table mapping
// (input_id, input_key, version) to an encoded output plus a last-used
// timestamp.
//
// In file-backed mode every pooled connection is independent and configured
// for WAL journaling, so concurrent workers rely on SQLite's own page-level
// locking. In ephemeral mode (:memory:) all workers must share one logical
// connection, since each new in-memory connection would see its own empty
// database; the pool is capped at a single connection for that case.
type store struct {
	db        *sql.DB
	ephemeral bool
	closeOnce sync.Once
	closeErr  error
}

func openStore(ctx context.Context, path string) (*store, error) {
	ephemeral := path == ""
	dsn := ":memory:"
	if !ephemeral {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
			path, busyTimeout.Milliseconds())
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if ephemeral {
		db.SetMaxOpenConns(1)
	}
	s := &store{db: db, ephemeral: ephemeral}
	if err := withRetry(ctx, func() error { return s.ensureSchema(ctx) }); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_cache_version ON cache(version)`)
	return err
}

// get returns the stored output for the exact (id, key, version) triple and
// touches last_used inside the same transaction. A miss is (nil, false, nil).
func (s *store) get(ctx context.Context, id, key, version string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := withRetry(ctx, func() error {
		out, found = nil, false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		var body []byte
		err = tx.QueryRowContext(ctx,
			`SELECT output FROM cache WHERE input_id = ? AND input_key = ? AND version = ?`,
			id, key, version).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			return tx.Commit()
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE cache SET last_used = ? WHERE input_id = ? AND input_key = ? AND version = ?`,
			time.Now().Unix(), id, key, version); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		out, found = body, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

// put upserts on the composite primary key so a recomputed output replaces
// the previous entry for the same (id, content, version).
func (s *store) put(ctx context.Context, id, key string, output []byte, version string) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cache (input_id, input_key, output, version, last_used) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(input_id, input_key, version) DO UPDATE SET output = excluded.output, last_used = excluded.last_used`,
			id, key, output, version, time.Now().Unix()); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// cleanup deletes entries from other versions, then current-version entries
// whose input id is not in currentIDs. Each statement runs in its own
// transaction with the usual contention retry.
func (s *store) cleanup(ctx context.Context, currentIDs []string, version string) error {
	if err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache WHERE version != ?`, version); err != nil {
			return err
		}
		return tx.Commit()
	}); err != nil {
		return err
	}
	if len(currentIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(currentIDs)), ",")
	args := make([]any, 0, len(currentIDs)+1)
	for _, id := range currentIDs {
		args = append(args, id)
	}
	args = append(args, version)
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM cache WHERE input_id NOT IN (%s) AND version = ?`, placeholders),
			args...); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// clear unconditionally empties the table.
func (s *store) clear(ctx context.Context) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache`); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// close releases the connection pool. Safe to call multiple times; the
// ephemeral shared connection is released exactly once.
func (s *store) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
