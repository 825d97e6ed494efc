package mocks

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/mock"
)

// Cron is a mock of service.Cron
type Cron struct {
	mock.Mock
}

// AddFunc calls the mocked AddFunc
func (m *Cron) AddFunc(spec string, cmd func()) (cron.EntryID, error) {
	args := m.Called(spec, cmd)
	return args.Get(0).(cron.EntryID), args.Error(1)
}

// Start calls the mocked Start
func (m *Cron) Start() {
	m.Called()
}

// Stop calls the mocked Stop
func (m *Cron) Stop() context.Context {
	args := m.Called()
	return args.Get(0).(context.Context)
}
