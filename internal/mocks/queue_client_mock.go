package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/driftlabs/driftq/internal/models"
	"github.com/driftlabs/driftq/internal/queue"
)

type QueueClientMock struct {
	mock.Mock
}

func (m *QueueClientMock) Enqueue(ctx context.Context, queueName string, data json.RawMessage, opts *queue.EnqueueOptions) (string, error) {
	args := m.Called(queueName, data, opts)
	return args.String(0), args.Error(1)
}

func (m *QueueClientMock) Cancel(ctx context.Context, idOrKey string) (bool, error) {
	args := m.Called(idOrKey)
	return args.Bool(0), args.Error(1)
}

func (m *QueueClientMock) GetJob(ctx context.Context, id string) (*models.Job, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *QueueClientMock) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	args := m.Called(queueName)
	return args.Get(0).(queue.Stats), args.Error(1)
}
