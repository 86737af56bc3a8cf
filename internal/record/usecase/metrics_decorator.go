package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/offline-sync/internal/metrics"
	"github.com/allisson/offline-sync/internal/record/domain"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
)

// recordUseCaseWithMetrics decorates UseCase with metrics instrumentation.
type recordUseCaseWithMetrics struct {
	next    UseCase
	domain  string
	metrics metrics.BusinessMetrics
}

// NewRecordUseCaseWithMetrics wraps a UseCase with metrics recording under the given domain label.
func NewRecordUseCaseWithMetrics(useCase UseCase, domainName string, m metrics.BusinessMetrics) UseCase {
	return &recordUseCaseWithMetrics{
		next:    useCase,
		domain:  domainName,
		metrics: m,
	}
}

func (r *recordUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.metrics.RecordOperation(ctx, r.domain, operation, status)
	r.metrics.RecordDuration(ctx, r.domain, operation, time.Since(start), status)
}

// EnsureTable records metrics for table creation.
func (r *recordUseCaseWithMetrics) EnsureTable(ctx context.Context) error {
	start := time.Now()
	err := r.next.EnsureTable(ctx)
	r.record(ctx, "record_ensure_table", start, err)
	return err
}

// Save records metrics for local mutations.
func (r *recordUseCaseWithMetrics) Save(ctx context.Context, input domain.SaveInput) (*domain.Record, error) {
	start := time.Now()
	record, err := r.next.Save(ctx, input)
	r.record(ctx, "record_save", start, err)
	return record, err
}

// Delete records metrics for soft deletes.
func (r *recordUseCaseWithMetrics) Delete(ctx context.Context, localID uuid.UUID) (*domain.Record, error) {
	start := time.Now()
	record, err := r.next.Delete(ctx, localID)
	r.record(ctx, "record_delete", start, err)
	return record, err
}

// Get records metrics for lookups.
func (r *recordUseCaseWithMetrics) Get(ctx context.Context, localID uuid.UUID) (*domain.Record, error) {
	start := time.Now()
	record, err := r.next.Get(ctx, localID)
	r.record(ctx, "record_get", start, err)
	return record, err
}

// List records metrics for listings.
func (r *recordUseCaseWithMetrics) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Record, error) {
	start := time.Now()
	records, err := r.next.List(ctx, filter)
	r.record(ctx, "record_list", start, err)
	return records, err
}

// ListUnsynced records metrics for safety-net scans.
func (r *recordUseCaseWithMetrics) ListUnsynced(ctx context.Context, limit int) ([]*domain.Record, error) {
	start := time.Now()
	records, err := r.next.ListUnsynced(ctx, limit)
	r.record(ctx, "record_list_unsynced", start, err)
	return records, err
}

// CountUnsynced is not instrumented; status polling would drown the signal.
func (r *recordUseCaseWithMetrics) CountUnsynced(ctx context.Context) (int, error) {
	return r.next.CountUnsynced(ctx)
}

// MarkSynced records metrics for acknowledgments.
func (r *recordUseCaseWithMetrics) MarkSynced(ctx context.Context, input domain.MarkSyncedInput) (bool, error) {
	start := time.Now()
	applied, err := r.next.MarkSynced(ctx, input)
	r.record(ctx, "record_mark_synced", start, err)
	return applied, err
}

// ApplyRemote records metrics for merges of server state.
func (r *recordUseCaseWithMetrics) ApplyRemote(
	ctx context.Context,
	remote *syncDomain.RemoteRecord,
) (domain.ApplyResult, error) {
	start := time.Now()
	result, err := r.next.ApplyRemote(ctx, remote)
	r.record(ctx, "record_apply_remote", start, err)
	return result, err
}
