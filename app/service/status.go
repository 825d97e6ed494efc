package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/umputun/gqueue/app/store"
)

// StatusSource is a store able to report its content and location
type StatusSource interface {
	Count(ctx context.Context) (map[store.Priority]int, error)
	Path() string
	Table() string
}

// Status of the queue store
type Status struct {
	DB          string
	Table       string
	Pending     map[store.Priority]int
	DBSize      int64   // main database file only, wal not included
	DiskFree    uint64  // bytes free on db location
	DiskUsedPct float64 // used percent of db location
}

// Total returns number of pending jobs
func (s Status) Total() (res int) {
	for _, n := range s.Pending {
		res += n
	}
	return res
}

func (s Status) String() string {
	pending := make([]string, 0, len(store.Priorities()))
	for _, p := range store.Priorities() {
		pending = append(pending, fmt.Sprintf("%s:%d", p, s.Pending[p]))
	}
	return fmt.Sprintf("db: %s, table: %s, pending: %d (%s), size: %d, disk free: %d (%.1f%% used)",
		s.DB, s.Table, s.Total(), strings.Join(pending, " "), s.DBSize, s.DiskFree, s.DiskUsedPct)
}

// MakeStatus collects pending counts and disk usage for the store location
func MakeStatus(ctx context.Context, src StatusSource) (Status, error) {
	res := Status{DB: src.Path(), Table: src.Table()}

	counts, err := src.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("can't count jobs: %w", err)
	}
	res.Pending = counts

	st, err := os.Stat(src.Path())
	if err != nil {
		return Status{}, fmt.Errorf("can't stat %s: %w", src.Path(), err)
	}
	res.DBSize = st.Size()

	usage, err := disk.UsageWithContext(ctx, filepath.Dir(src.Path()))
	if err != nil {
		return Status{}, fmt.Errorf("failed to get disk usage for %s: %w", src.Path(), err)
	}
	res.DiskFree, res.DiskUsedPct = usage.Free, usage.UsedPercent
	return res, nil
}
