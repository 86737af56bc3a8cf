package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	recordUsecase "github.com/allisson/offline-sync/internal/record/usecase"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
	"github.com/allisson/offline-sync/internal/sync/http/dto"
)

// CycleRunner runs sync cycles on demand.
type CycleRunner interface {
	Domains() []string
	Prepare(ctx context.Context) error
	RunCycle(ctx context.Context, domainName string) (*syncDomain.CycleResult, error)
}

// StatusReader reports per-domain sync health.
type StatusReader interface {
	Status(ctx context.Context) ([]*syncDomain.DomainStatus, error)
}

// FailedRetrier revives terminal queue items.
type FailedRetrier interface {
	Domains() []string
	RetryFailed(ctx context.Context, domainName string) (int64, error)
}

type cycleOutput struct {
	Domain     string `json:"domain"`
	Reconciled int    `json:"reconciled"`
	Pushed     int    `json:"pushed"`
	Accepted   int    `json:"accepted"`
	Conflicts  int    `json:"conflicts"`
	Rejected   int    `json:"rejected"`
	Transient  int    `json:"transient"`
	Pulled     int    `json:"pulled"`
	Applied    int    `json:"applied"`
	Error      string `json:"error,omitempty"`
}

type retryOutput struct {
	Domain  string `json:"domain"`
	Retried int64  `json:"retried"`
}

// EnsureTables creates any missing domain table without touching the queue, so
// read-only commands work against a fresh store.
func EnsureTables(ctx context.Context, stores recordUsecase.Stores) error {
	for _, name := range stores.Names() {
		store, err := stores.Get(name)
		if err != nil {
			return err
		}
		if err := store.EnsureTable(ctx); err != nil {
			return fmt.Errorf("failed to ensure %s table: %w", name, err)
		}
	}
	return nil
}

// RunSyncOnce runs a single cycle for domainName, or for every domain when it is empty.
// A failing domain does not stop the others; the failures are joined into the result.
func RunSyncOnce(
	ctx context.Context,
	runner CycleRunner,
	logger *slog.Logger,
	writer io.Writer,
	domainName string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	domains := runner.Domains()
	if domainName != "" {
		domains = []string{domainName}
	}

	if err := runner.Prepare(ctx); err != nil {
		return fmt.Errorf("failed to prepare sync engine: %w", err)
	}

	var (
		outputs  []cycleOutput
		failures []error
	)
	for _, name := range domains {
		logger.Info("running sync cycle", slog.String("domain", name))

		output := cycleOutput{Domain: name}
		result, err := runner.RunCycle(ctx, name)
		if result != nil {
			output = cycleOutput{
				Domain:     name,
				Reconciled: result.Reconciled,
				Pushed:     result.Pushed,
				Accepted:   result.Accepted,
				Conflicts:  result.Conflicts,
				Rejected:   result.Rejected,
				Transient:  result.Transient,
				Pulled:     result.Pulled,
				Applied:    result.Applied,
			}
		}
		if err != nil {
			output.Error = err.Error()
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		}
		outputs = append(outputs, output)
	}

	if format == "json" {
		if err := writeJSON(writer, outputs); err != nil {
			return err
		}
	} else {
		for _, o := range outputs {
			if o.Error != "" {
				_, _ = fmt.Fprintf(writer, "%s: sync failed: %s\n", o.Domain, o.Error)
				continue
			}
			_, _ = fmt.Fprintf(
				writer,
				"%s: pushed %d (accepted %d, conflicts %d, rejected %d, transient %d), pulled %d, applied %d\n",
				o.Domain, o.Pushed, o.Accepted, o.Conflicts, o.Rejected, o.Transient, o.Pulled, o.Applied,
			)
		}
	}

	return errors.Join(failures...)
}

// RunStatus prints the health of every domain.
func RunStatus(ctx context.Context, reader StatusReader, writer io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	statuses, err := reader.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync status: %w", err)
	}

	if format == "json" {
		return writeJSON(writer, dto.MapStatusesToResponse(statuses))
	}

	for _, status := range statuses {
		_, _ = fmt.Fprintf(
			writer,
			"%s: %s (pending %d, in flight %d, failed %d, unsynced %d, live %s)\n",
			status.Domain,
			dto.Summarize(status),
			status.Queue.Pending,
			status.Queue.InFlight,
			status.Queue.Failed,
			status.Unsynced,
			status.ChannelState,
		)
		if status.LastError != "" {
			_, _ = fmt.Fprintf(writer, "  last error: %s\n", status.LastError)
		}
	}
	return nil
}

// RunRetryFailed resets terminal items of domainName, or of every domain when it is
// empty, back to pending.
func RunRetryFailed(
	ctx context.Context,
	retrier FailedRetrier,
	logger *slog.Logger,
	writer io.Writer,
	domainName string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	domains := retrier.Domains()
	if domainName != "" {
		domains = []string{domainName}
	}

	outputs := make([]retryOutput, 0, len(domains))
	for _, name := range domains {
		retried, err := retrier.RetryFailed(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to retry %s items: %w", name, err)
		}
		logger.Info("failed items retried", slog.String("domain", name), slog.Int64("retried", retried))
		outputs = append(outputs, retryOutput{Domain: name, Retried: retried})
	}

	if format == "json" {
		return writeJSON(writer, outputs)
	}
	for _, o := range outputs {
		_, _ = fmt.Fprintf(writer, "%s: %d item(s) scheduled for retry\n", o.Domain, o.Retried)
	}
	return nil
}
