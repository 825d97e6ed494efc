// Package mocks has testify mocks for service dependencies
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/umputun/gqueue/app/store"
)

// Store is a mock of service.Store
type Store struct {
	mock.Mock
}

// Replay calls the mocked Replay, use Run to feed jobs to fn
func (m *Store) Replay(ctx context.Context, fn store.ReplayFunc) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

// Flush calls the mocked Flush
func (m *Store) Flush(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Count calls the mocked Count
func (m *Store) Count(ctx context.Context) (map[store.Priority]int, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(map[store.Priority]int)
	return res, args.Error(1)
}

// Scheduler is a mock of service.Scheduler
type Scheduler struct {
	mock.Mock
}

// AddJob calls the mocked AddJob
func (m *Scheduler) AddJob(job store.Job) error {
	args := m.Called(job)
	return args.Error(0)
}
