package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	outboxDomain "github.com/allisson/offline-sync/internal/outbox/domain"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Domains() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockEngine) Prepare(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEngine) RunCycle(ctx context.Context, domainName string) (*syncDomain.CycleResult, error) {
	args := m.Called(ctx, domainName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncDomain.CycleResult), args.Error(1)
}

func (m *MockEngine) Status(ctx context.Context) ([]*syncDomain.DomainStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*syncDomain.DomainStatus), args.Error(1)
}

func (m *MockEngine) RetryFailed(ctx context.Context, domainName string) (int64, error) {
	args := m.Called(ctx, domainName)
	return args.Get(0).(int64), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSyncOnce(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()

	t.Run("all-domains-text", func(t *testing.T) {
		mockEngine := &MockEngine{}
		mockEngine.On("Domains").Return([]string{"tasks", "notes"})
		mockEngine.On("Prepare", ctx).Return(nil)
		mockEngine.On("RunCycle", ctx, "tasks").
			Return(&syncDomain.CycleResult{Domain: "tasks", Pushed: 3, Accepted: 2, Conflicts: 1, Pulled: 4, Applied: 4}, nil)
		mockEngine.On("RunCycle", ctx, "notes").
			Return(&syncDomain.CycleResult{Domain: "notes"}, nil)

		var out bytes.Buffer
		err := RunSyncOnce(ctx, mockEngine, logger, &out, "", "text")

		require.NoError(t, err)
		assert.Contains(t, out.String(),
			"tasks: pushed 3 (accepted 2, conflicts 1, rejected 0, transient 0), pulled 4, applied 4")
		assert.Contains(t, out.String(), "notes: pushed 0")
		mockEngine.AssertExpectations(t)
	})

	t.Run("single-domain-json", func(t *testing.T) {
		mockEngine := &MockEngine{}
		mockEngine.On("Domains").Return([]string{"tasks", "notes"})
		mockEngine.On("Prepare", ctx).Return(nil)
		mockEngine.On("RunCycle", ctx, "notes").
			Return(&syncDomain.CycleResult{Domain: "notes", Pulled: 2, Applied: 1}, nil)

		var out bytes.Buffer
		err := RunSyncOnce(ctx, mockEngine, logger, &out, "notes", "json")

		require.NoError(t, err)
		assert.Contains(t, out.String(), `"domain": "notes"`)
		assert.Contains(t, out.String(), `"applied": 1`)
		assert.NotContains(t, out.String(), "tasks")
		mockEngine.AssertNotCalled(t, "RunCycle", ctx, "tasks")
	})

	t.Run("failure-does-not-stop-other-domains", func(t *testing.T) {
		cycleErr := errors.New("remote unavailable")
		mockEngine := &MockEngine{}
		mockEngine.On("Domains").Return([]string{"tasks", "notes"})
		mockEngine.On("Prepare", ctx).Return(nil)
		mockEngine.On("RunCycle", ctx, "tasks").Return(nil, cycleErr)
		mockEngine.On("RunCycle", ctx, "notes").Return(&syncDomain.CycleResult{Domain: "notes"}, nil)

		var out bytes.Buffer
		err := RunSyncOnce(ctx, mockEngine, logger, &out, "", "text")

		require.Error(t, err)
		assert.ErrorIs(t, err, cycleErr)
		assert.Contains(t, out.String(), "tasks: sync failed: remote unavailable")
		assert.Contains(t, out.String(), "notes: pushed 0")
		mockEngine.AssertExpectations(t)
	})

	t.Run("prepare-error", func(t *testing.T) {
		mockEngine := &MockEngine{}
		mockEngine.On("Domains").Return([]string{"tasks"})
		mockEngine.On("Prepare", ctx).Return(errors.New("disk full"))

		err := RunSyncOnce(ctx, mockEngine, logger, &bytes.Buffer{}, "", "text")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to prepare sync engine")
		mockEngine.AssertNotCalled(t, "RunCycle", mock.Anything, mock.Anything)
	})

	t.Run("invalid-format", func(t *testing.T) {
		err := RunSyncOnce(ctx, &MockEngine{}, logger, &bytes.Buffer{}, "", "yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid format")
	})
}

func TestRunStatus(t *testing.T) {
	ctx := context.Background()

	statuses := []*syncDomain.DomainStatus{
		{
			Domain:       "tasks",
			Queue:        outboxDomain.QueueStats{Pending: 1, Failed: 2},
			Unsynced:     3,
			LastError:    "remote rejected item",
			ChannelState: "connected",
		},
		{
			Domain:       "notes",
			ChannelState: "disabled",
		},
	}

	t.Run("text-output", func(t *testing.T) {
		mockEngine := &MockEngine{}
		mockEngine.On("Status", ctx).Return(statuses, nil)

		var out bytes.Buffer
		require.NoError(t, RunStatus(ctx, mockEngine, &out, "text"))

		assert.Contains(t, out.String(),
			"tasks: 2 items failed to sync (pending 1, in flight 0, failed 2, unsynced 3, live connected)")
		assert.Contains(t, out.String(), "  last error: remote rejected item")
		assert.Contains(t, out.String(), "notes: up to date")
		mockEngine.AssertExpectations(t)
	})

	t.Run("json-output", func(t *testing.T) {
		mockEngine := &MockEngine{}
		mockEngine.On("Status", ctx).Return(statuses, nil)

		var out bytes.Buffer
		require.NoError(t, RunStatus(ctx, mockEngine, &out, "json"))

		assert.Contains(t, out.String(), `"domain": "tasks"`)
		assert.Contains(t, out.String(), `"summary": "2 items failed to sync"`)
	})

	t.Run("status-error", func(t *testing.T) {
		mockEngine := &MockEngine{}
		mockEngine.On("Status", ctx).Return(nil, errors.New("database locked"))

		err := RunStatus(ctx, mockEngine, &bytes.Buffer{}, "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read sync status")
	})
}

func TestRunRetryFailed(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()

	t.Run("all-domains", func(t *testing.T) {
		mockEngine := &MockEngine{}
		mockEngine.On("Domains").Return([]string{"tasks", "notes"})
		mockEngine.On("RetryFailed", ctx, "tasks").Return(int64(2), nil)
		mockEngine.On("RetryFailed", ctx, "notes").Return(int64(0), nil)

		var out bytes.Buffer
		require.NoError(t, RunRetryFailed(ctx, mockEngine, logger, &out, "", "text"))

		assert.Contains(t, out.String(), "tasks: 2 item(s) scheduled for retry")
		assert.Contains(t, out.String(), "notes: 0 item(s) scheduled for retry")
		mockEngine.AssertExpectations(t)
	})

	t.Run("single-domain-json", func(t *testing.T) {
		mockEngine := &MockEngine{}
		mockEngine.On("Domains").Return([]string{"tasks", "notes"})
		mockEngine.On("RetryFailed", ctx, "tasks").Return(int64(5), nil)

		var out bytes.Buffer
		require.NoError(t, RunRetryFailed(ctx, mockEngine, logger, &out, "tasks", "json"))

		assert.Contains(t, out.String(), `"retried": 5`)
	})

	t.Run("unknown-domain", func(t *testing.T) {
		mockEngine := &MockEngine{}
		mockEngine.On("Domains").Return([]string{"tasks"})
		mockEngine.On("RetryFailed", ctx, "recipes").Return(int64(0), errors.New("unknown sync domain"))

		err := RunRetryFailed(ctx, mockEngine, logger, &bytes.Buffer{}, "recipes", "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to retry recipes items")
	})
}
