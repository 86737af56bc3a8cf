package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/offline-sync/internal/adapter"
	"github.com/allisson/offline-sync/internal/database"
	apperrors "github.com/allisson/offline-sync/internal/errors"
	outboxDomain "github.com/allisson/offline-sync/internal/outbox/domain"
	outboxRepository "github.com/allisson/offline-sync/internal/outbox/repository"
	outboxUsecase "github.com/allisson/offline-sync/internal/outbox/usecase"
	"github.com/allisson/offline-sync/internal/record/domain"
	"github.com/allisson/offline-sync/internal/record/repository"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
	"github.com/allisson/offline-sync/internal/testutil"
)

const taskSchema = `{
	"type": "object",
	"required": ["title"],
	"properties": {"title": {"type": "string", "minLength": 1}}
}`

type harness struct {
	uc    *RecordUseCase
	queue *outboxUsecase.QueueUseCase
	repo  *repository.SQLRecordRepository
}

func newTaskAdapter(t *testing.T) adapter.Adapter {
	t.Helper()
	a, err := adapter.New(adapter.Definition{Name: "tasks", EntityType: "task", Schema: taskSchema})
	require.NoError(t, err)
	return a
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.SetupSQLiteDB(t)
	t.Cleanup(func() { testutil.TeardownDB(t, db) })

	txManager := database.NewTxManager(db)
	queue := outboxUsecase.NewQueueUseCase(
		outboxUsecase.Config{BatchSize: 10, BackoffBase: time.Second, BackoffCap: time.Minute},
		txManager,
		outboxRepository.NewSQLQueueRepository(db, database.DialectSQLite),
		nil,
	)
	repo := repository.NewSQLRecordRepository(db, database.DialectSQLite)
	uc := NewRecordUseCase(newTaskAdapter(t), txManager, repo, queue, "owner-1", nil)
	require.NoError(t, uc.EnsureTable(context.Background()))

	return &harness{uc: uc, queue: queue, repo: repo}
}

func (h *harness) save(t *testing.T, localID uuid.UUID, title string) *domain.Record {
	t.Helper()
	record, err := h.uc.Save(context.Background(), domain.SaveInput{
		LocalID: localID,
		Payload: json.RawMessage(`{"title":"` + title + `"}`),
	})
	require.NoError(t, err)
	return record
}

func (h *harness) claimAll(t *testing.T) []*outboxDomain.QueueItem {
	t.Helper()
	items, err := h.queue.ClaimBatch(context.Background(), "task", 100)
	require.NoError(t, err)
	return items
}

func (h *harness) stats(t *testing.T) outboxDomain.QueueStats {
	t.Helper()
	stats, err := h.queue.Stats(context.Background(), "task")
	require.NoError(t, err)
	return stats
}

func TestRecordUseCase_Save_New(t *testing.T) {
	h := newHarness(t)

	record := h.save(t, uuid.Nil, "write report")

	assert.NotEqual(t, uuid.Nil, record.LocalID)
	assert.EqualValues(t, 1, record.Version)
	assert.False(t, record.IsSynced)
	assert.Equal(t, "owner-1", record.OwnerID)

	items := h.claimAll(t)
	require.Len(t, items, 1)
	assert.Equal(t, outboxDomain.ActionCreate, items[0].Action)
	assert.Equal(t, record.LocalID, items[0].EntityID)
	assert.EqualValues(t, 1, items[0].Version)
}

func TestRecordUseCase_Save_UnknownLocalIDInserts(t *testing.T) {
	h := newHarness(t)
	localID := uuid.New()

	record := h.save(t, localID, "imported")

	assert.Equal(t, localID, record.LocalID)
	assert.EqualValues(t, 1, record.Version)
}

func TestRecordUseCase_Save_UpdateCoalescesWithPendingCreate(t *testing.T) {
	h := newHarness(t)

	record := h.save(t, uuid.Nil, "draft")
	updated := h.save(t, record.LocalID, "final")

	assert.EqualValues(t, 2, updated.Version)
	assert.Equal(t, outboxDomain.QueueStats{Pending: 1}, h.stats(t))

	items := h.claimAll(t)
	require.Len(t, items, 1)
	assert.Equal(t, outboxDomain.ActionCreate, items[0].Action)
	assert.EqualValues(t, 2, items[0].Version)
	assert.JSONEq(t, `{"title":"final"}`, string(items[0].Payload))
}

func TestRecordUseCase_Save_EditDuringInFlightPush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	record := h.save(t, uuid.Nil, "v1")
	inFlight := h.claimAll(t)
	require.Len(t, inFlight, 1)

	h.save(t, record.LocalID, "v2")

	// the server accepts v1 while v2 waits behind it
	applied, err := h.uc.MarkSynced(ctx, domain.MarkSyncedInput{
		LocalID: record.LocalID, RemoteID: "srv-1", Version: 1, SyncedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, applied, "local version 2 is newer than the acknowledged version")
	require.NoError(t, h.queue.Ack(ctx, inFlight[0].ID))

	next := h.claimAll(t)
	require.Len(t, next, 1)
	assert.Equal(t, outboxDomain.ActionUpdate, next[0].Action)
	assert.EqualValues(t, 2, next[0].Version)

	applied, err = h.uc.MarkSynced(ctx, domain.MarkSyncedInput{
		LocalID: record.LocalID, RemoteID: "srv-1", Version: 2, SyncedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := h.uc.Get(ctx, record.LocalID)
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	require.NotNil(t, got.RemoteID)
	assert.Equal(t, "srv-1", *got.RemoteID)
	assert.NotNil(t, got.SyncedAt)
}

func TestRecordUseCase_Save_SyncedRecordEnqueuesUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	record := h.save(t, uuid.Nil, "v1")
	items := h.claimAll(t)
	_, err := h.uc.MarkSynced(ctx, domain.MarkSyncedInput{LocalID: record.LocalID, RemoteID: "srv-1", Version: 1})
	require.NoError(t, err)
	require.NoError(t, h.queue.Ack(ctx, items[0].ID))

	h.save(t, record.LocalID, "v2")

	items = h.claimAll(t)
	require.Len(t, items, 1)
	assert.Equal(t, outboxDomain.ActionUpdate, items[0].Action)
}

func TestRecordUseCase_Save_InvalidPayload(t *testing.T) {
	h := newHarness(t)

	_, err := h.uc.Save(context.Background(), domain.SaveInput{Payload: json.RawMessage(`{"title":""}`)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = h.uc.Save(context.Background(), domain.SaveInput{Payload: json.RawMessage(`[1,2]`)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	assert.Equal(t, outboxDomain.QueueStats{}, h.stats(t))
}

func TestRecordUseCase_Save_Tombstoned(t *testing.T) {
	h := newHarness(t)

	record := h.save(t, uuid.Nil, "gone soon")
	_, err := h.uc.Delete(context.Background(), record.LocalID)
	require.NoError(t, err)

	_, err = h.uc.Save(context.Background(), domain.SaveInput{
		LocalID: record.LocalID,
		Payload: json.RawMessage(`{"title":"revive"}`),
	})
	assert.ErrorIs(t, err, domain.ErrRecordDeleted)
}

// failingQueue fails every enqueue.
type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, outboxDomain.EnqueueInput) (*outboxDomain.QueueItem, error) {
	return nil, errors.New("queue unavailable")
}

func (failingQueue) HasOpenItems(context.Context, string, uuid.UUID) (bool, error) {
	return false, nil
}

func (failingQueue) DropForEntity(context.Context, string, uuid.UUID) (int64, error) {
	return 0, nil
}

func TestRecordUseCase_Save_EnqueueFailureRollsBack(t *testing.T) {
	db := testutil.SetupSQLiteDB(t)
	defer testutil.TeardownDB(t, db)

	repo := repository.NewSQLRecordRepository(db, database.DialectSQLite)
	uc := NewRecordUseCase(newTaskAdapter(t), database.NewTxManager(db), repo, failingQueue{}, "", nil)
	ctx := context.Background()
	require.NoError(t, uc.EnsureTable(ctx))

	localID := uuid.New()
	_, err := uc.Save(ctx, domain.SaveInput{LocalID: localID, Payload: json.RawMessage(`{"title":"x"}`)})
	require.Error(t, err)

	_, err = uc.Get(ctx, localID)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRecordUseCase_Delete_SupersedesQueuedCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	record := h.save(t, uuid.Nil, "temporary")
	deleted, err := h.uc.Delete(ctx, record.LocalID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted())
	assert.EqualValues(t, 2, deleted.Version)

	items := h.claimAll(t)
	require.Len(t, items, 1)
	assert.Equal(t, outboxDomain.ActionDelete, items[0].Action)

	again, err := h.uc.Delete(ctx, record.LocalID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, again.Version, "deleting a tombstone is a no-op")
	assert.Equal(t, outboxDomain.QueueStats{InFlight: 1}, h.stats(t))
}

func TestRecordUseCase_Delete_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.uc.Delete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRecordUseCase_ListAndUnsynced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.save(t, uuid.Nil, "one")
	h.save(t, uuid.Nil, "two")
	_, err := h.uc.Delete(ctx, first.LocalID)
	require.NoError(t, err)

	records, err := h.uc.List(ctx, domain.ListFilter{OwnerID: "owner-1"})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = h.uc.List(ctx, domain.ListFilter{IncludeDeleted: true, Offset: -5})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	unsynced, err := h.uc.ListUnsynced(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, unsynced, 2)

	count, err := h.uc.CountUnsynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func remoteRecord(remoteID string, version int64, updatedAt time.Time, title string) *syncDomain.RemoteRecord {
	return &syncDomain.RemoteRecord{
		RemoteID:  remoteID,
		Version:   version,
		Payload:   json.RawMessage(`{"title":"` + title + `"}`),
		UpdatedAt: updatedAt,
	}
}

func TestRecordUseCase_ApplyRemote_InsertIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	remote := remoteRecord("srv-9", 4, time.Now().UTC(), "from another device")

	result, err := h.uc.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyInserted, result)

	result, err = h.uc.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyUnchanged, result)

	records, err := h.uc.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsSynced)
	assert.EqualValues(t, 4, records[0].Version)
	assert.Equal(t, "owner-1", records[0].OwnerID)
	assert.Equal(t, outboxDomain.QueueStats{}, h.stats(t))
}

func TestRecordUseCase_ApplyRemote_UnknownTombstoneSkipped(t *testing.T) {
	h := newHarness(t)
	remote := remoteRecord("srv-dead", 2, time.Now().UTC(), "x")
	remote.Deleted = true

	result, err := h.uc.ApplyRemote(context.Background(), remote)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplySkipped, result)
}

func TestRecordUseCase_ApplyRemote_RemoteWinsOverDirtyLocal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	record := h.save(t, uuid.Nil, "v1")
	items := h.claimAll(t)
	_, err := h.uc.MarkSynced(ctx, domain.MarkSyncedInput{LocalID: record.LocalID, RemoteID: "srv-1", Version: 1})
	require.NoError(t, err)
	require.NoError(t, h.queue.Ack(ctx, items[0].ID))

	local := h.save(t, record.LocalID, "local edit")
	require.EqualValues(t, 2, local.Version)

	// same version, later timestamp on the server
	remote := remoteRecord("srv-1", 2, local.UpdatedAt.Add(time.Minute), "server edit")
	result, err := h.uc.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyUpdated, result)

	got, err := h.uc.Get(ctx, record.LocalID)
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	assert.JSONEq(t, `{"title":"server edit"}`, string(got.Payload))
	assert.Equal(t, outboxDomain.QueueStats{}, h.stats(t), "superseded local changes are dropped")

	result, err = h.uc.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyUnchanged, result)
}

func TestRecordUseCase_ApplyRemote_TieWithoutServerTimestamp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	record := h.save(t, uuid.Nil, "v1")
	items := h.claimAll(t)
	_, err := h.uc.MarkSynced(ctx, domain.MarkSyncedInput{LocalID: record.LocalID, RemoteID: "srv-1", Version: 1})
	require.NoError(t, err)
	require.NoError(t, h.queue.Ack(ctx, items[0].ID))
	h.save(t, record.LocalID, "local edit")

	remote := remoteRecord("srv-1", 2, time.Time{}, "server edit")
	result, err := h.uc.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyUpdated, result)

	got, err := h.uc.Get(ctx, record.LocalID)
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	assert.EqualValues(t, 2, got.Version)
	assert.JSONEq(t, `{"title":"server edit"}`, string(got.Payload))
	assert.False(t, got.UpdatedAt.IsZero())
	assert.Equal(t, outboxDomain.QueueStats{}, h.stats(t))

	result, err = h.uc.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyUnchanged, result)
}

func TestRecordUseCase_ApplyRemote_LocalWinsIsRebased(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	record := h.save(t, uuid.Nil, "v1")
	items := h.claimAll(t)
	_, err := h.uc.MarkSynced(ctx, domain.MarkSyncedInput{LocalID: record.LocalID, RemoteID: "srv-1", Version: 1})
	require.NoError(t, err)
	require.NoError(t, h.queue.Ack(ctx, items[0].ID))

	h.save(t, record.LocalID, "v2")
	local := h.save(t, record.LocalID, "v3")
	require.EqualValues(t, 3, local.Version)

	remote := remoteRecord("srv-1", 2, local.UpdatedAt.Add(time.Hour), "stale server")
	result, err := h.uc.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyKeptLocal, result)

	got, err := h.uc.Get(ctx, record.LocalID)
	require.NoError(t, err)
	assert.False(t, got.IsSynced)
	assert.EqualValues(t, 3, got.Version)
	assert.JSONEq(t, `{"title":"v3"}`, string(got.Payload))

	items = h.claimAll(t)
	require.Len(t, items, 1)
	assert.Equal(t, outboxDomain.ActionUpdate, items[0].Action)
	assert.EqualValues(t, 3, items[0].Version)
}

func TestRecordUseCase_ApplyRemote_LocalWinsBumpsPastServerVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	local := h.save(t, uuid.Nil, "offline edit")
	remote := remoteRecord("srv-7", 1, local.UpdatedAt.Add(-time.Minute), "older server")
	localID := local.LocalID
	remote.LocalID = &localID

	result, err := h.uc.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyKeptLocal, result)

	got, err := h.uc.Get(ctx, local.LocalID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version, "equal versions rebase to server+1")
	require.NotNil(t, got.RemoteID)
	assert.Equal(t, "srv-7", *got.RemoteID)
}

func TestRecordUseCase_ApplyRemote_FallsBackToEchoedLocalID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	local := h.save(t, uuid.Nil, "created offline")
	localID := local.LocalID

	// the ack was lost but the server echoes our id on pull
	remote := remoteRecord("srv-3", 1, local.UpdatedAt.Add(time.Second), "created offline")
	remote.LocalID = &localID

	result, err := h.uc.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyUpdated, result)

	records, err := h.uc.List(ctx, domain.ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, records, 1, "no duplicate row")
	require.NotNil(t, records[0].RemoteID)
	assert.Equal(t, "srv-3", *records[0].RemoteID)
}

func TestRecordUseCase_ApplyRemote_RemoteTombstone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	remote := remoteRecord("srv-5", 1, time.Now().UTC(), "to delete")
	_, err := h.uc.ApplyRemote(ctx, remote)
	require.NoError(t, err)

	tombstone := remoteRecord("srv-5", 2, remote.UpdatedAt.Add(time.Second), "to delete")
	tombstone.Deleted = true
	result, err := h.uc.ApplyRemote(ctx, tombstone)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyUpdated, result)

	records, err := h.uc.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)

	result, err = h.uc.ApplyRemote(ctx, tombstone)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyUnchanged, result)
}

func TestRecordUseCase_MarkSynced(t *testing.T) {
	ctx := context.Background()

	t.Run("adopts server version and remote id", func(t *testing.T) {
		h := newHarness(t)
		record := h.save(t, uuid.Nil, "one")

		applied, err := h.uc.MarkSynced(ctx, domain.MarkSyncedInput{
			LocalID: record.LocalID, RemoteID: "srv-7", Version: 4,
		})
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := h.uc.Get(ctx, record.LocalID)
		require.NoError(t, err)
		assert.EqualValues(t, 4, got.Version)
		assert.True(t, got.IsSynced)
		require.NotNil(t, got.RemoteID)
		assert.Equal(t, "srv-7", *got.RemoteID)
		require.NotNil(t, got.SyncedAt, "zero SyncedAt falls back to now")
	})

	t.Run("unknown record", func(t *testing.T) {
		h := newHarness(t)

		applied, err := h.uc.MarkSynced(ctx, domain.MarkSyncedInput{LocalID: uuid.New(), Version: 1})
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
		assert.False(t, applied)
	})
}
