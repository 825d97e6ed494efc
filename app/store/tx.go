package store

import (
	"context"
	"database/sql"
	"errors"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
)

// txState tracks the transaction of a store
type txState int

const (
	txIdle txState = iota
	txOpen
	txAborted // commit or rollback failed, cleared by reset only
)

func (s txState) String() string {
	switch s {
	case txIdle:
		return "idle"
	case txOpen:
		return "open"
	case txAborted:
		return "aborted"
	}
	return "unknown"
}

// txController wraps begin/commit/rollback boundaries. Not thread safe, the store is used by one caller.
type txController struct {
	db    *sqlx.DB
	tx    *sqlx.Tx
	state txState
}

// lock begins a transaction. Calling it with a transaction already open is a no-op.
func (c *txController) lock(ctx context.Context) error {
	switch c.state {
	case txOpen:
		return nil
	case txAborted:
		log.Printf("[WARN] can't begin transaction, previous one aborted")
		return ErrTxAborted
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Printf("[WARN] failed to begin transaction: %v", err)
		return driverErr("begin transaction", err)
	}
	c.tx, c.state = tx, txOpen
	return nil
}

// commit commits the open transaction. Without a transaction it does nothing.
// A failed commit leaves the controller aborted, unless database/sql already rolled the transaction back.
func (c *txController) commit() error {
	switch c.state {
	case txIdle:
		return nil
	case txAborted:
		return ErrTxAborted
	}

	err := c.tx.Commit()
	c.tx = nil
	if err != nil && rolledBack(err) {
		// database/sql already rolled back, nothing is left behind
		c.state = txIdle
		log.Printf("[WARN] transaction rolled back on commit: %v", err)
		return driverErr("commit", err)
	}
	if err != nil {
		c.state = txAborted
		log.Printf("[WARN] failed to commit transaction: %v", err)
		return driverErr("commit", err)
	}
	c.state = txIdle
	return nil
}

// rollback drops the open transaction, used on any statement failure.
func (c *txController) rollback() error {
	if c.state != txOpen {
		return nil
	}

	err := c.tx.Rollback()
	c.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		c.state = txAborted
		log.Printf("[WARN] failed to rollback transaction: %v", err)
		return driverErr("rollback", err)
	}
	c.state = txIdle
	return nil
}

// reset returns the controller to idle, dropping whatever transaction is still held.
// After a failed commit sqlite may keep the transaction open on the connection, reset rolls it back too.
func (c *txController) reset() {
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Printf("[DEBUG] rollback on reset, %v", err)
		}
	}
	if c.state == txAborted {
		if _, err := c.db.Exec("ROLLBACK"); err != nil {
			log.Printf("[DEBUG] rollback of aborted transaction, %v", err)
		}
	}
	c.tx, c.state = nil, txIdle
}

// rolledBack checks if commit error means the transaction was finished by database/sql,
// either by canceled context or before commit
func rolledBack(err error) bool {
	return errors.Is(err, sql.ErrTxDone) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// exec runs a statement inside the open transaction
func (c *txController) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.state != txOpen {
		return nil, driverErr("exec", errors.New("no open transaction"))
	}
	return c.tx.ExecContext(ctx, query, args...)
}
