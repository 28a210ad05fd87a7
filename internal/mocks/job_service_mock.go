package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/driftlabs/driftq/internal/dto"
)

type JobServiceMock struct {
	mock.Mock
}

func (m *JobServiceMock) EnqueueJob(ctx context.Context, req *dto.EnqueueRequestDTO) (*dto.EnqueueResponseDTO, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.EnqueueResponseDTO), args.Error(1)
}

func (m *JobServiceMock) CancelJob(ctx context.Context, idOrKey string) (*dto.CancelResponseDTO, error) {
	args := m.Called(idOrKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.CancelResponseDTO), args.Error(1)
}

func (m *JobServiceMock) GetJobByID(ctx context.Context, id string) (*dto.JobResponseDTO, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.JobResponseDTO), args.Error(1)
}

func (m *JobServiceMock) QueueStats(ctx context.Context, queue string) (*dto.StatsResponseDTO, error) {
	args := m.Called(queue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.StatsResponseDTO), args.Error(1)
}

func (m *JobServiceMock) UpsertSchedule(ctx context.Context, req *dto.ScheduleUpsertDTO) (*dto.ScheduleResponseDTO, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.ScheduleResponseDTO), args.Error(1)
}

func (m *JobServiceMock) ListSchedules(ctx context.Context) ([]dto.ScheduleResponseDTO, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dto.ScheduleResponseDTO), args.Error(1)
}
