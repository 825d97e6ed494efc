// Package service provides the server side of the queue store: recovery of stored jobs into the
// scheduler on startup and periodic flush afterwards.
package service

import (
	"context"
	"fmt"
	"sync"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/umputun/gqueue/app/store"
)

// DefaultFlushSpec used if FlushSpec not set
const DefaultFlushSpec = "@every 10s"

// Service recovers stored jobs and flushes the store periodically.
// While Do is running nothing else should use the store.
type Service struct {
	Store     Store
	Scheduler Scheduler
	Repeater  Repeater // retries replay, single attempt if nil
	Cron      Cron     // cron.New() if nil
	FlushSpec string

	lock sync.Mutex
}

// Store defines the queue backend contract used by the service
type Store interface {
	Replay(ctx context.Context, fn store.ReplayFunc) error
	Flush(ctx context.Context) error
	Count(ctx context.Context) (map[store.Priority]int, error)
}

// Scheduler accepts recovered jobs
type Scheduler interface {
	AddJob(job store.Job) error
}

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Cron defines basic robfig/cron methods used by service
type Cron interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Start()
	Stop() context.Context
}

// Recover replays all stored jobs into the scheduler and returns number of delivered jobs.
// Failed replay is repeated, jobs delivered by a failed attempt are not sent again.
func (s *Service) Recover(ctx context.Context) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delivered := newDeDup()
	replay := func() error {
		return s.Store.Replay(ctx, func(job store.Job) error {
			if !delivered.Add(job.Unique) {
				return nil // sent by the previous attempt
			}
			if err := s.Scheduler.AddJob(job); err != nil {
				delivered.Remove(job.Unique)
				return fmt.Errorf("can't add job %q: %w", job.Unique, err)
			}
			return nil
		})
	}

	var err error
	if s.Repeater == nil {
		err = replay()
	} else {
		err = s.Repeater.Do(ctx, replay)
	}
	if err != nil {
		log.Printf("[WARN] recovery failed after %d jobs, %v", delivered.Len(), err)
		return delivered.Len(), fmt.Errorf("recovery failed: %w", err)
	}

	log.Printf("[INFO] recovered %d jobs", delivered.Len())
	return delivered.Len(), nil
}

// Do recovers stored jobs and flushes the store on FlushSpec schedule. Blocks until ctx is done.
func (s *Service) Do(ctx context.Context) error {
	if _, err := s.Recover(ctx); err != nil {
		return err
	}

	spec := s.FlushSpec
	if spec == "" {
		spec = DefaultFlushSpec
	}
	if s.Cron == nil {
		s.Cron = cron.New()
	}

	if _, err := s.Cron.AddFunc(spec, func() { s.flush(ctx) }); err != nil {
		return fmt.Errorf("can't schedule flush %q: %w", spec, err)
	}
	log.Printf("[INFO] flush scheduled, %s", spec)

	s.Cron.Start()
	<-ctx.Done()
	log.Print("[DEBUG] terminate")
	<-s.Cron.Stop().Done()
	return nil
}

func (s *Service) flush(ctx context.Context) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.Store.Flush(ctx); err != nil {
		log.Printf("[WARN] flush failed, %v", err)
		return
	}

	counts, err := s.Store.Count(ctx)
	if err != nil {
		log.Printf("[WARN] can't count pending jobs, %v", err)
		return
	}
	log.Printf("[DEBUG] flushed, pending high:%d normal:%d low:%d",
		counts[store.PriorityHigh], counts[store.PriorityNormal], counts[store.PriorityLow])
}
