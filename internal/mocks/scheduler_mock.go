package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/driftlabs/driftq/internal/models"
	"github.com/driftlabs/driftq/internal/queue"
)

type SchedulerMock struct {
	mock.Mock
}

func (m *SchedulerMock) Upsert(ctx context.Context, spec queue.ScheduleSpec) (*models.Schedule, error) {
	args := m.Called(spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Schedule), args.Error(1)
}

func (m *SchedulerMock) List(ctx context.Context) ([]models.Schedule, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Schedule), args.Error(1)
}

func (m *SchedulerMock) Start() {
	m.Called()
}

func (m *SchedulerMock) Stop() {
	m.Called()
}
