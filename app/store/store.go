package store

import (
	"context"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

const (
	// DefaultTable is used when no table configured
	DefaultTable = "gearman_queue"
	// MaxTableLen limits table name, in bytes
	MaxTableLen = 255
)

const (
	insertQuery = "INSERT INTO %s (priority,unique_key,function_name,data) VALUES (?,?,?,?)"
	deleteQuery = "DELETE FROM %s WHERE unique_key=?"
	selectQuery = "SELECT COALESCE(unique_key,'') AS unique_key, COALESCE(function_name,'') AS function_name, " +
		"priority, data FROM %s"
	countQuery  = "SELECT priority, COUNT(*) AS cnt FROM %s GROUP BY priority"
)

// Params defines location of the queue store
type Params struct {
	DB    string // path to sqlite file, required
	Table string // table name, DefaultTable if empty
}

// Job is a persisted, not yet completed job
type Job struct {
	Unique   string   `db:"unique_key"`
	Function string   `db:"function_name"`
	Priority Priority `db:"priority"`
	Data     []byte   `db:"data"`
}

// ReplayFunc gets each job found on replay. Returning an error stops the replay.
// Job.Data is owned by the callee.
type ReplayFunc func(job Job) error

// Store keeps not completed jobs in a sqlite table. It owns a single connection
// and is not thread safe, callers serialize access.
type Store struct {
	db    *sqlx.DB
	path  string
	table string
	qbuf  queryBuffer
	tx    txController
}

// Open makes Store for given params, creating the queue table if needed.
// On error nothing is left open.
func Open(ctx context.Context, params Params) (*Store, error) {
	if params.DB == "" {
		log.Printf("[WARN] missing sqlite queue db")
		return nil, fmt.Errorf("%w: db is required", ErrConfig)
	}
	table := params.Table
	if table == "" {
		table = DefaultTable
	}
	if len(table) > MaxTableLen {
		log.Printf("[WARN] sqlite queue table name too long, %d bytes", len(table))
		return nil, fmt.Errorf("%w: table name longer than %d bytes", ErrConfig, MaxTableLen)
	}

	log.Printf("[INFO] initializing sqlite queue, db %s", params.DB)
	db, err := sqlx.Open("sqlite", dsn(params.DB))
	if err != nil {
		log.Printf("[WARN] can't open sqlite queue db %s: %v", params.DB, err)
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	// single connection, transaction state belongs to it
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		log.Printf("[WARN] can't open sqlite queue db %s: %v", params.DB, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, params.DB, err)
	}

	// journal mode is kept in the db file, connection level pragmas are set by dsn
	if _, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		log.Printf("[WARN] can't enable WAL mode for %s: %v", params.DB, err)
		return nil, fmt.Errorf("%w: enable WAL: %w", ErrOpen, err)
	}

	s := &Store{db: db, path: params.DB, table: table, tx: txController{db: db}}
	if err = s.setupTable(ctx); err != nil {
		if closeErr := s.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (also failed to close db: %v)", err, closeErr)
		}
		return nil, err
	}
	return s, nil
}

// dsn adds connection pragmas to the db path. A connection dropped by database/sql, e.g. after
// a canceled transaction, is reopened with the same settings.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
}

// Add persists a job. Duplicate unique keys are rejected by the table constraint
// and reported as *DriverError like any other statement failure.
func (s *Store) Add(ctx context.Context, unique, function string, priority Priority, data []byte) error {
	log.Printf("[DEBUG] sqlite add: %q", unique)
	if !priority.Valid() {
		log.Printf("[WARN] rejected %q, invalid priority %d", unique, int(priority))
		return fmt.Errorf("invalid priority %d for %q", int(priority), unique)
	}

	if err := s.tx.lock(ctx); err != nil {
		return err
	}

	if err := s.qbuf.ensure(querySize(len(unique), len(function), len(data))); err != nil {
		log.Printf("[WARN] add %q: %v", unique, err)
		_ = s.tx.rollback()
		return err
	}

	if data == nil {
		data = []byte{} // empty blob, not NULL
	}
	res, err := s.tx.exec(ctx, s.qbuf.format(insertQuery, quoteIdent(s.table)), priority, unique, function, data)
	if err != nil {
		log.Printf("[WARN] insert error for %q: %v", unique, err)
		_ = s.tx.rollback()
		return driverErr("insert", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		log.Printf("[WARN] insert error for %q: %v", unique, err)
		_ = s.tx.rollback()
		return driverErr("insert", err)
	}
	if n != 1 {
		log.Printf("[WARN] insert error for %q: %d rows affected", unique, n)
		_ = s.tx.rollback()
		return driverErr("insert", fmt.Errorf("%d rows affected, expected 1", n))
	}

	return s.tx.commit()
}

// Done removes completed job. Removing unknown job is not an error.
// The function name is part of the backend contract but not used for lookup.
func (s *Store) Done(ctx context.Context, unique, _ string) error {
	log.Printf("[DEBUG] sqlite done: %q", unique)

	if err := s.tx.lock(ctx); err != nil {
		return err
	}

	if err := s.qbuf.ensure(querySize(len(unique))); err != nil {
		log.Printf("[WARN] done %q: %v", unique, err)
		_ = s.tx.rollback()
		return err
	}

	if _, err := s.tx.exec(ctx, s.qbuf.format(deleteQuery, quoteIdent(s.table)), unique); err != nil {
		log.Printf("[WARN] delete error for %q: %v", unique, err)
		_ = s.tx.rollback()
		return driverErr("delete", err)
	}

	return s.tx.commit()
}

// Flush does nothing, every Add and Done is committed before return
func (s *Store) Flush(_ context.Context) error {
	log.Printf("[DEBUG] sqlite flush")
	return nil
}

// Replay calls fn for each stored job, in storage order. Neither FIFO nor priority
// order is guaranteed. Error from fn stops the replay and returned. Replay doesn't remove
// jobs, fn should not call the store.
func (s *Store) Replay(ctx context.Context, fn ReplayFunc) error {
	log.Printf("[INFO] sqlite replay start")

	if err := s.qbuf.ensure(querySize()); err != nil {
		log.Printf("[WARN] replay: %v", err)
		return err
	}

	rows, err := s.db.QueryxContext(ctx, s.qbuf.format(selectQuery, quoteIdent(s.table)))
	if err != nil {
		log.Printf("[WARN] replay query error: %v", err)
		return driverErr("replay query", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var job Job
		if err := rows.StructScan(&job); err != nil {
			log.Printf("[WARN] replay scan error: %v", err)
			return driverErr("replay scan", err)
		}
		if !job.Priority.Valid() {
			log.Printf("[WARN] invalid priority %d for %q, using %s", int(job.Priority), job.Unique, PriorityNormal)
			job.Priority = PriorityNormal
		}
		if job.Data == nil {
			job.Data = []byte{}
		}

		log.Printf("[DEBUG] sqlite replay: %s", job.Function)
		if err := fn(job); err != nil {
			log.Printf("[WARN] replay stopped on %q: %v", job.Unique, err)
			return fmt.Errorf("replay %q: %w", job.Unique, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		log.Printf("[WARN] replay rows error: %v", err)
		return driverErr("replay rows", err)
	}

	log.Printf("[INFO] sqlite replay completed, %d jobs", count)
	return nil
}

// Count returns number of stored jobs per priority
func (s *Store) Count(ctx context.Context) (map[Priority]int, error) {
	if err := s.qbuf.ensure(querySize()); err != nil {
		return nil, err
	}

	var recs []struct {
		Priority Priority `db:"priority"`
		Count    int      `db:"cnt"`
	}
	if err := s.db.SelectContext(ctx, &recs, s.qbuf.format(countQuery, quoteIdent(s.table))); err != nil {
		log.Printf("[WARN] count error: %v", err)
		return nil, driverErr("count", err)
	}

	res := make(map[Priority]int, len(Priorities()))
	for _, p := range Priorities() {
		res[p] = 0
	}
	for _, r := range recs {
		if !r.Priority.Valid() {
			log.Printf("[WARN] %d jobs with invalid priority %d, counted as %s", r.Count, int(r.Priority), PriorityNormal)
			r.Priority = PriorityNormal
		}
		res[r.Priority] += r.Count
	}
	return res, nil
}

// Reset clears an aborted transaction left by a failed commit, store accepts operations again
func (s *Store) Reset() {
	if s.tx.state != txIdle {
		log.Printf("[INFO] reset %s transaction", s.tx.state)
	}
	s.tx.reset()
}

// Table returns the table name in use, as found in the database
func (s *Store) Table() string { return s.table }

// Path returns the database location
func (s *Store) Path() string { return s.path }

// Close rolls back any held transaction and closes the database
func (s *Store) Close() error {
	log.Printf("[INFO] shutting down sqlite queue")
	s.tx.reset()
	s.qbuf.release()
	return s.db.Close()
}
