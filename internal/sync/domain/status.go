package domain

import (
	"time"

	"github.com/allisson/offline-sync/internal/errors"
	outboxDomain "github.com/allisson/offline-sync/internal/outbox/domain"
)

// ErrCycleInProgress is returned when a cycle is requested while one is running.
var ErrCycleInProgress = errors.Wrap(errors.ErrConflict, "sync cycle already in progress")

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	Domain      string
	Reconciled  int
	Pushed      int
	Accepted    int
	Conflicts   int
	Rejected    int
	Transient   int
	Pulled      int
	Applied     int
	StartedAt   time.Time
	CompletedAt time.Time
}

// DomainStatus is the user-facing health of one domain.
type DomainStatus struct {
	Domain       string
	Queue        outboxDomain.QueueStats
	Unsynced     int
	LastCycleAt  *time.Time
	LastError    string
	ChannelState string
	// ReauthRequired is set when the remote refused our credentials.
	ReauthRequired bool
}
