// Package store provides sqlite persistence for queued jobs. It keeps jobs which are not
// completed yet in a single table, so they survive restarts, and replays them back into the
// scheduler on startup.
//
// Each Add and Done runs in its own transaction, committed before return. A statement failure
// rolls the transaction back. A failed commit marks the store aborted and all writes fail with
// ErrTxAborted until Reset is called.
package store
