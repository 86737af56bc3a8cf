package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	outboxDomain "github.com/allisson/offline-sync/internal/outbox/domain"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
)

type serverRecord struct {
	remoteID  string
	localID   uuid.UUID
	version   int64
	payload   json.RawMessage
	deleted   bool
	updatedAt time.Time
}

// fakeServer is an in-memory sync backend. Push applies items with version checks;
// pull serves feed entries by position, using the position as the cursor.
type fakeServer struct {
	mu      sync.Mutex
	records map[string]*serverRecord
	byLocal map[uuid.UUID]string
	seq     int
	feed    []*syncDomain.RemoteRecord
	pushed  [][]*outboxDomain.QueueItem
	pulls   []string

	pushFn func(items []*outboxDomain.QueueItem) ([]syncDomain.Outcome, error)
	pullFn func(since string, limit int) (*syncDomain.PullResult, error)
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		records: make(map[string]*serverRecord),
		byLocal: make(map[uuid.UUID]string),
	}
}

func (s *fakeServer) Push(
	ctx context.Context,
	domainName string,
	items []*outboxDomain.QueueItem,
) ([]syncDomain.Outcome, error) {
	s.mu.Lock()
	s.pushed = append(s.pushed, items)
	pushFn := s.pushFn
	s.mu.Unlock()

	if pushFn != nil {
		return pushFn(items)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := make([]syncDomain.Outcome, 0, len(items))
	for _, item := range items {
		outcomes = append(outcomes, s.apply(item))
	}
	return outcomes, nil
}

func (s *fakeServer) apply(item *outboxDomain.QueueItem) syncDomain.Outcome {
	outcome := syncDomain.Outcome{ItemID: item.ID, LocalID: item.EntityID}

	remoteID, known := s.byLocal[item.EntityID]
	if !known {
		if item.Action == outboxDomain.ActionDelete {
			outcome.Status = syncDomain.OutcomeAccepted
			outcome.Version = item.Version
			return outcome
		}
		s.seq++
		remoteID = fmt.Sprintf("srv-%d", s.seq)
		s.byLocal[item.EntityID] = remoteID
		s.records[remoteID] = &serverRecord{remoteID: remoteID, localID: item.EntityID}
	}

	stored := s.records[remoteID]
	if stored.version > item.Version {
		outcome.Status = syncDomain.OutcomeConflict
		outcome.RemoteID = remoteID
		outcome.Version = stored.version
		outcome.ServerPayload = stored.payload
		outcome.ServerUpdatedAt = stored.updatedAt
		outcome.ServerDeleted = stored.deleted
		return outcome
	}

	stored.version = item.Version
	stored.payload = item.Payload
	stored.deleted = item.Action == outboxDomain.ActionDelete
	stored.updatedAt = time.Now().UTC()

	outcome.Status = syncDomain.OutcomeAccepted
	outcome.RemoteID = remoteID
	outcome.Version = item.Version
	return outcome
}

func (s *fakeServer) Pull(
	ctx context.Context,
	domainName string,
	since string,
	limit int,
) (*syncDomain.PullResult, error) {
	s.mu.Lock()
	s.pulls = append(s.pulls, since)
	pullFn := s.pullFn
	s.mu.Unlock()

	if pullFn != nil {
		return pullFn(since, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if since != "" {
		parsed, err := strconv.Atoi(since)
		if err != nil {
			return nil, err
		}
		start = parsed
	}
	end := min(start+limit, len(s.feed))
	if start >= end {
		return &syncDomain.PullResult{NextCursor: since}, nil
	}
	return &syncDomain.PullResult{
		Records:    append([]*syncDomain.RemoteRecord(nil), s.feed[start:end]...),
		NextCursor: strconv.Itoa(end),
	}, nil
}

// store puts a record on the server as if another device wrote it.
func (s *fakeServer) store(localID uuid.UUID, remoteID string, version int64, payload string, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byLocal[localID] = remoteID
	s.records[remoteID] = &serverRecord{
		remoteID:  remoteID,
		localID:   localID,
		version:   version,
		payload:   json.RawMessage(payload),
		updatedAt: updatedAt,
	}
}

// publish appends a change to the pull feed.
func (s *fakeServer) publish(records ...*syncDomain.RemoteRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = append(s.feed, records...)
}

func (s *fakeServer) pushCalls() [][]*outboxDomain.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]*outboxDomain.QueueItem(nil), s.pushed...)
}
