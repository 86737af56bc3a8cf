package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/allisson/offline-sync/internal/database"
	apperrors "github.com/allisson/offline-sync/internal/errors"
	"github.com/allisson/offline-sync/internal/outbox/domain"
	"github.com/allisson/offline-sync/internal/outbox/repository"
	"github.com/allisson/offline-sync/internal/testutil"
)

// MockTxManager is a mock implementation of database.TxManager
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Get(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

// MockQueueRepository is a mock implementation of QueueRepository
type MockQueueRepository struct {
	mock.Mock
}

func (m *MockQueueRepository) Create(ctx context.Context, item *domain.QueueItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockQueueRepository) Update(ctx context.Context, item *domain.QueueItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockQueueRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQueueRepository) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueItem), args.Error(1)
}

func (m *MockQueueRepository) ListByEntity(
	ctx context.Context,
	entityType string,
	entityID uuid.UUID,
) ([]*domain.QueueItem, error) {
	args := m.Called(ctx, entityType, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.QueueItem), args.Error(1)
}

func (m *MockQueueRepository) DeleteByEntity(
	ctx context.Context,
	entityType string,
	entityID uuid.UUID,
	statuses ...domain.Status,
) (int64, error) {
	args := m.Called(ctx, entityType, entityID, statuses)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueRepository) ListEligible(
	ctx context.Context,
	entityType string,
	now time.Time,
	limit int,
) ([]*domain.QueueItem, error) {
	args := m.Called(ctx, entityType, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.QueueItem), args.Error(1)
}

func (m *MockQueueRepository) SetStatus(
	ctx context.Context,
	ids []uuid.UUID,
	status domain.Status,
	now time.Time,
) error {
	args := m.Called(ctx, ids, status, now)
	return args.Error(0)
}

func (m *MockQueueRepository) Transition(
	ctx context.Context,
	entityType string,
	from, to domain.Status,
	resetRetries bool,
	now time.Time,
) (int64, error) {
	args := m.Called(ctx, entityType, from, to, resetRetries, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueRepository) CountByStatus(ctx context.Context, entityType string) (domain.QueueStats, error) {
	args := m.Called(ctx, entityType)
	return args.Get(0).(domain.QueueStats), args.Error(1)
}

func (m *MockQueueRepository) ListByStatus(
	ctx context.Context,
	entityType string,
	status domain.Status,
	limit int,
) ([]*domain.QueueItem, error) {
	args := m.Called(ctx, entityType, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.QueueItem), args.Error(1)
}

var testConfig = Config{
	BatchSize:   10,
	BackoffBase: time.Second,
	BackoffCap:  time.Minute,
	MaxRetries:  3,
}

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newMockedUseCase(config Config) (*QueueUseCase, *MockTxManager, *MockQueueRepository) {
	txManager := &MockTxManager{}
	queueRepo := &MockQueueRepository{}
	uc := NewQueueUseCase(config, txManager, queueRepo, nil)
	uc.now = func() time.Time { return fixedNow }
	return uc, txManager, queueRepo
}

func newSQLiteUseCase(t *testing.T, config Config) *QueueUseCase {
	t.Helper()
	db := testutil.SetupSQLiteDB(t)
	t.Cleanup(func() { testutil.TeardownDB(t, db) })

	return NewQueueUseCase(
		config,
		database.NewTxManager(db),
		repository.NewSQLQueueRepository(db, database.DialectSQLite),
		nil,
	)
}

func input(entityID uuid.UUID, action domain.Action, version int64, payload string) domain.EnqueueInput {
	return domain.EnqueueInput{
		EntityType: "task",
		EntityID:   entityID,
		Action:     action,
		Payload:    json.RawMessage(payload),
		Version:    version,
	}
}

func TestNewQueueUseCase(t *testing.T) {
	txManager := &MockTxManager{}
	queueRepo := &MockQueueRepository{}

	uc := NewQueueUseCase(testConfig, txManager, queueRepo, nil)

	assert.NotNil(t, uc)
	assert.Equal(t, testConfig, uc.config)
	assert.NotNil(t, uc.now)
}

func TestQueueUseCase_Enqueue_InvalidAction(t *testing.T) {
	uc, _, _ := newMockedUseCase(testConfig)

	_, err := uc.Enqueue(context.Background(), input(uuid.New(), "archive", 1, `{}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestQueueUseCase_Enqueue_RepositoryError(t *testing.T) {
	uc, txManager, queueRepo := newMockedUseCase(testConfig)
	ctx := context.Background()
	entityID := uuid.New()
	repoErr := errors.New("disk full")

	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	queueRepo.On("ListByEntity", ctx, "task", entityID).Return(nil, repoErr)

	_, err := uc.Enqueue(ctx, input(entityID, domain.ActionCreate, 1, `{}`))
	assert.ErrorIs(t, err, repoErr)
	queueRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestQueueUseCase_Enqueue_CoalescesUpdateIntoPendingCreate(t *testing.T) {
	uc := newSQLiteUseCase(t, testConfig)
	ctx := context.Background()
	entityID := uuid.New()

	created, err := uc.Enqueue(ctx, input(entityID, domain.ActionCreate, 1, `{"title":"a"}`))
	require.NoError(t, err)

	updated, err := uc.Enqueue(ctx, input(entityID, domain.ActionUpdate, 2, `{"title":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	items, err := uc.ClaimBatch(ctx, "task", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.ActionCreate, items[0].Action)
	assert.EqualValues(t, 2, items[0].Version)
	assert.JSONEq(t, `{"title":"b"}`, string(items[0].Payload))
}

func TestQueueUseCase_Enqueue_StacksBehindInFlight(t *testing.T) {
	uc := newSQLiteUseCase(t, testConfig)
	ctx := context.Background()
	entityID := uuid.New()

	_, err := uc.Enqueue(ctx, input(entityID, domain.ActionCreate, 1, `{"title":"a"}`))
	require.NoError(t, err)

	claimed, err := uc.ClaimBatch(ctx, "task", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	second, err := uc.Enqueue(ctx, input(entityID, domain.ActionUpdate, 2, `{"title":"b"}`))
	require.NoError(t, err)
	assert.NotEqual(t, claimed[0].ID, second.ID)

	third, err := uc.Enqueue(ctx, input(entityID, domain.ActionUpdate, 3, `{"title":"c"}`))
	require.NoError(t, err)
	assert.Equal(t, second.ID, third.ID, "later updates coalesce into the stacked item")

	// nothing is eligible while the create is in flight
	blocked, err := uc.ClaimBatch(ctx, "task", 10)
	require.NoError(t, err)
	assert.Empty(t, blocked)

	require.NoError(t, uc.Ack(ctx, claimed[0].ID))

	next, err := uc.ClaimBatch(ctx, "task", 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, domain.ActionUpdate, next[0].Action)
	assert.EqualValues(t, 3, next[0].Version)
}

func TestQueueUseCase_Enqueue_DeleteSupersedesPending(t *testing.T) {
	uc := newSQLiteUseCase(t, testConfig)
	ctx := context.Background()
	entityID := uuid.New()

	_, err := uc.Enqueue(ctx, input(entityID, domain.ActionCreate, 1, `{"title":"a"}`))
	require.NoError(t, err)
	_, err = uc.Enqueue(ctx, input(entityID, domain.ActionUpdate, 2, `{"title":"b"}`))
	require.NoError(t, err)
	deleted, err := uc.Enqueue(ctx, input(entityID, domain.ActionDelete, 3, `{"title":"b"}`))
	require.NoError(t, err)

	stats, err := uc.Stats(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Pending: 1}, stats)

	items, err := uc.ClaimBatch(ctx, "task", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, deleted.ID, items[0].ID)
	assert.Equal(t, domain.ActionDelete, items[0].Action)
}

func TestQueueUseCase_Enqueue_UpdateStacksBehindFailedItem(t *testing.T) {
	uc := newSQLiteUseCase(t, testConfig)
	ctx := context.Background()
	entityID := uuid.New()

	item, err := uc.Enqueue(ctx, input(entityID, domain.ActionCreate, 1, `{"title":""}`))
	require.NoError(t, err)
	_, err = uc.ClaimBatch(ctx, "task", 10)
	require.NoError(t, err)
	require.NoError(t, uc.Fail(ctx, item.ID, errors.New("title required"), false))

	stacked, err := uc.Enqueue(ctx, input(entityID, domain.ActionUpdate, 2, `{"title":"fixed"}`))
	require.NoError(t, err)
	assert.NotEqual(t, item.ID, stacked.ID)
	assert.Equal(t, domain.StatusPending, stacked.Status)

	stats, err := uc.Stats(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Pending: 1, Failed: 1}, stats)

	failed, err := uc.ListFailed(ctx, "task", 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, item.ID, failed[0].ID)
	assert.Equal(t, 1, failed[0].RetryCount)
	require.NotNil(t, failed[0].LastError)

	claimed, err := uc.ClaimBatch(ctx, "task", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, stacked.ID, claimed[0].ID)
}

func TestQueueUseCase_ClaimBatch_DefaultLimitAndMarksInFlight(t *testing.T) {
	uc, txManager, queueRepo := newMockedUseCase(testConfig)
	ctx := context.Background()

	items := []*domain.QueueItem{
		{ID: uuid.New(), EntityType: "task", Status: domain.StatusPending},
		{ID: uuid.New(), EntityType: "task", Status: domain.StatusPending},
	}

	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	queueRepo.On("ListEligible", ctx, "task", fixedNow, testConfig.BatchSize).Return(items, nil)
	queueRepo.On("SetStatus", ctx, []uuid.UUID{items[0].ID, items[1].ID}, domain.StatusInFlight, fixedNow).
		Return(nil)

	claimed, err := uc.ClaimBatch(ctx, "task", 0)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, item := range claimed {
		assert.Equal(t, domain.StatusInFlight, item.Status)
	}
	queueRepo.AssertExpectations(t)
}

func TestQueueUseCase_ClaimBatch_Empty(t *testing.T) {
	uc, txManager, queueRepo := newMockedUseCase(testConfig)
	ctx := context.Background()

	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	queueRepo.On("ListEligible", ctx, "task", fixedNow, 5).Return([]*domain.QueueItem{}, nil)

	claimed, err := uc.ClaimBatch(ctx, "task", 5)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	queueRepo.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueUseCase_Fail(t *testing.T) {
	tests := []struct {
		name           string
		retryCount     int
		transient      bool
		expectedStatus domain.Status
		expectedNext   time.Time
	}{
		{
			name:           "first transient failure waits the base delay",
			retryCount:     0,
			transient:      true,
			expectedStatus: domain.StatusPending,
			expectedNext:   fixedNow.Add(time.Second),
		},
		{
			name:           "second transient failure doubles the delay",
			retryCount:     1,
			transient:      true,
			expectedStatus: domain.StatusPending,
			expectedNext:   fixedNow.Add(2 * time.Second),
		},
		{
			name:           "transient failure past max retries is terminal",
			retryCount:     2,
			transient:      true,
			expectedStatus: domain.StatusFailed,
		},
		{
			name:           "rejection is terminal immediately",
			retryCount:     0,
			transient:      false,
			expectedStatus: domain.StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc, txManager, queueRepo := newMockedUseCase(testConfig)
			ctx := context.Background()

			item := &domain.QueueItem{
				ID:         uuid.New(),
				EntityType: "task",
				Status:     domain.StatusInFlight,
				RetryCount: tt.retryCount,
			}

			txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
			queueRepo.On("Get", ctx, item.ID).Return(item, nil)
			queueRepo.On("Update", ctx, mock.MatchedBy(func(updated *domain.QueueItem) bool {
				return updated.ID == item.ID
			})).Return(nil)

			err := uc.Fail(ctx, item.ID, errors.New("server unavailable"), tt.transient)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedStatus, item.Status)
			assert.Equal(t, tt.retryCount+1, item.RetryCount)
			require.NotNil(t, item.LastError)
			assert.Equal(t, "server unavailable", *item.LastError)
			if tt.expectedStatus == domain.StatusPending {
				assert.Equal(t, tt.expectedNext, item.NextAttemptAt)
			}
		})
	}
}

func TestQueueUseCase_Fail_UnlimitedRetries(t *testing.T) {
	config := testConfig
	config.MaxRetries = 0
	uc, txManager, queueRepo := newMockedUseCase(config)
	ctx := context.Background()

	item := &domain.QueueItem{ID: uuid.New(), Status: domain.StatusInFlight, RetryCount: 50}

	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	queueRepo.On("Get", ctx, item.ID).Return(item, nil)
	queueRepo.On("Update", ctx, item).Return(nil)

	require.NoError(t, uc.Fail(ctx, item.ID, errors.New("timeout"), true))
	assert.Equal(t, domain.StatusPending, item.Status)
	assert.Equal(t, fixedNow.Add(time.Minute), item.NextAttemptAt)
}

func TestQueueUseCase_Fail_NotFound(t *testing.T) {
	uc, txManager, queueRepo := newMockedUseCase(testConfig)
	ctx := context.Background()
	id := uuid.New()

	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	queueRepo.On("Get", ctx, id).Return(nil, domain.ErrQueueItemNotFound)

	err := uc.Fail(ctx, id, errors.New("timeout"), true)
	assert.ErrorIs(t, err, domain.ErrQueueItemNotFound)
}

func TestQueueUseCase_ReleaseInFlightAndRetryFailed(t *testing.T) {
	uc := newSQLiteUseCase(t, testConfig)
	ctx := context.Background()

	first, err := uc.Enqueue(ctx, input(uuid.New(), domain.ActionCreate, 1, `{}`))
	require.NoError(t, err)
	second, err := uc.Enqueue(ctx, input(uuid.New(), domain.ActionCreate, 1, `{}`))
	require.NoError(t, err)

	claimed, err := uc.ClaimBatch(ctx, "task", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	require.NoError(t, uc.Fail(ctx, second.ID, errors.New("rejected"), false))

	released, err := uc.ReleaseInFlight(ctx, "task")
	require.NoError(t, err)
	assert.EqualValues(t, 1, released)

	failed, err := uc.ListFailed(ctx, "task", 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, second.ID, failed[0].ID)

	retried, err := uc.RetryFailed(ctx, "task")
	require.NoError(t, err)
	assert.EqualValues(t, 1, retried)

	stats, err := uc.Stats(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Pending: 2}, stats)

	claimed, err = uc.ClaimBatch(ctx, "task", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, first.ID, claimed[0].ID)
}

func TestQueueUseCase_DropForEntityAndHasOpenItems(t *testing.T) {
	uc := newSQLiteUseCase(t, testConfig)
	ctx := context.Background()
	entityID := uuid.New()

	open, err := uc.HasOpenItems(ctx, "task", entityID)
	require.NoError(t, err)
	assert.False(t, open)

	_, err = uc.Enqueue(ctx, input(entityID, domain.ActionCreate, 1, `{}`))
	require.NoError(t, err)

	open, err = uc.HasOpenItems(ctx, "task", entityID)
	require.NoError(t, err)
	assert.True(t, open)

	dropped, err := uc.DropForEntity(ctx, "task", entityID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dropped)

	open, err = uc.HasOpenItems(ctx, "task", entityID)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		retry    int
		expected time.Duration
	}{
		{"zero base", 0, time.Minute, 3, 0},
		{"first retry", time.Second, time.Minute, 0, time.Second},
		{"exponential", time.Second, time.Minute, 3, 8 * time.Second},
		{"capped", time.Second, time.Minute, 10, time.Minute},
		{"negative retry count", time.Second, time.Minute, -1, time.Second},
		{"huge retry count stays capped", time.Hour, 5 * time.Minute, 1000, 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Backoff(tt.base, tt.max, tt.retry))
		})
	}
}
