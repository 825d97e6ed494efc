package store

import (
	"context"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
)

const createTableQuery = `CREATE TABLE %s (
	unique_key TEXT PRIMARY KEY,
	function_name TEXT,
	priority INTEGER,
	data BLOB
)`

// setupTable looks for the configured table ignoring case and creates it if missing.
// The matched name is used for all later statements.
func (s *Store) setupTable(ctx context.Context) error {
	var tables []string
	if err := s.db.SelectContext(ctx, &tables, "SELECT name FROM sqlite_master WHERE type='table'"); err != nil {
		log.Printf("[WARN] can't list tables in %s: %v", s.path, err)
		return fmt.Errorf("%w: list tables: %w", ErrSchema, err)
	}

	for _, t := range tables {
		if strings.EqualFold(t, s.table) {
			log.Printf("[INFO] sqlite queue using table %q", t)
			s.table = t
			return nil
		}
	}

	log.Printf("[INFO] sqlite queue creating table %q", s.table)
	if err := s.qbuf.ensure(querySize(len(s.table))); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.qbuf.format(createTableQuery, quoteIdent(s.table))); err != nil {
		log.Printf("[WARN] can't create table %q: %v", s.table, err)
		return fmt.Errorf("%w: create table %q: %w", ErrSchema, s.table, err)
	}
	return nil
}

// quoteIdent makes a quoted sqlite identifier, doubling embedded quotes
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
