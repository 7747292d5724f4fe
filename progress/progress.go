// Package progress holds the latest progress snapshot of every item in a batch, and of the batch as a whole.
package progress

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher/internal/pubsub"
	"github.com/alanbriolat/video-fetcher/internal/sync_"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusFinished    Status = "finished"
	StatusFailed      Status = "failed"
)

// IsTerminal is true for finished and failed.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// AggregateID is the item id under which the batch-level snapshot is stored.
const AggregateID = "overall"

// A Snapshot is the latest known progress of one item. The Current*/Total* fields are only used by the aggregate
// snapshot.
type Snapshot struct {
	ItemID  string
	Status  Status
	Percent float64
	// TotalBytes is 0 if unknown.
	TotalBytes int64

	CurrentItem  int
	TotalItems   int
	CurrentTitle string
}

func (s Snapshot) String() string {
	if s.ItemID == AggregateID {
		return fmt.Sprintf("%s: %d/%d (%.1f%%) %s", s.ItemID, s.CurrentItem, s.TotalItems, s.Percent, s.CurrentTitle)
	}
	return fmt.Sprintf("%s: %s %.1f%%", s.ItemID, s.Status, s.Percent)
}

// Store is a concurrency-safe map from item id to its latest Snapshot. Every accepted update is also published to
// subscribers.
type Store struct {
	snapshots *sync_.Mutexed[map[string]Snapshot]
	publisher *pubsub.Publisher[Snapshot]
	log       *zap.SugaredLogger
}

func NewStore() *Store {
	return &Store{
		snapshots: sync_.NewMutexed(make(map[string]Snapshot)),
		publisher: pubsub.NewPublisher[Snapshot](),
		log:       zap.S().Named("progress"),
	}
}

// Update records the snapshot, unless it would lower the percent of an existing non-terminal update. A finished or
// failed snapshot is always accepted. Returns true if the snapshot was accepted.
func (s *Store) Update(snapshot Snapshot) bool {
	snapshot.Percent = clampPercent(snapshot.Percent)
	accepted := false
	_ = s.snapshots.Locked(func(snapshots *map[string]Snapshot) error {
		if prev, ok := (*snapshots)[snapshot.ItemID]; ok && snapshot.Percent < prev.Percent && !snapshot.Status.IsTerminal() {
			return nil
		}
		(*snapshots)[snapshot.ItemID] = snapshot
		accepted = true
		return nil
	})
	if accepted {
		s.publisher.Send(snapshot)
	} else {
		s.log.Debugw("Rejected regressing progress update", "item_id", snapshot.ItemID, "percent", snapshot.Percent)
	}
	return accepted
}

// Get returns the latest snapshot for id, if there is one.
func (s *Store) Get(id string) (Snapshot, bool) {
	var snapshot Snapshot
	var ok bool
	_ = s.snapshots.RLocked(func(snapshots map[string]Snapshot) error {
		snapshot, ok = snapshots[id]
		return nil
	})
	return snapshot, ok
}

// GetAll returns a copy of every snapshot, safe to use after further updates.
func (s *Store) GetAll() map[string]Snapshot {
	var result map[string]Snapshot
	_ = s.snapshots.RLocked(func(snapshots map[string]Snapshot) error {
		result = make(map[string]Snapshot, len(snapshots))
		for k, v := range snapshots {
			result[k] = v
		}
		return nil
	})
	return result
}

// Clear forgets all snapshots.
func (s *Store) Clear() {
	s.snapshots.Set(make(map[string]Snapshot))
}

// Reset forgets every snapshot and starts each of ids over as pending at 0%, so nothing from a previous batch
// survives. This is the only way the percent of an id can go down.
func (s *Store) Reset(ids ...string) {
	fresh := make(map[string]Snapshot, len(ids))
	reset := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snapshot := Snapshot{ItemID: id, Status: StatusPending}
		fresh[id] = snapshot
		reset = append(reset, snapshot)
	}
	s.snapshots.Set(fresh)
	for _, snapshot := range reset {
		s.publisher.Send(snapshot)
	}
}

// Completion is the percentage of total items that are finished or failed, ignoring the aggregate snapshot.
func (s *Store) Completion(total int) float64 {
	if total <= 0 {
		return 0
	}
	done := 0
	_ = s.snapshots.RLocked(func(snapshots map[string]Snapshot) error {
		for id, snapshot := range snapshots {
			if id != AggregateID && snapshot.Status.IsTerminal() {
				done++
			}
		}
		return nil
	})
	return clampPercent(100 * float64(done) / float64(total))
}

// Subscribe returns a receiver for every snapshot accepted from now on. The receiver is closed when the Store is.
func (s *Store) Subscribe() (pubsub.Subscription[Snapshot], error) {
	return s.publisher.Subscribe()
}

// Close stops publishing and closes all subscribers. Further updates are still recorded.
func (s *Store) Close() {
	s.publisher.Close()
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	} else if p > 100 {
		return 100
	}
	return p
}

type storeKey struct{}

// WithStore attaches a Store to the context, for retrieval with FromContext.
func WithStore(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, storeKey{}, store)
}

// FromContext returns the Store attached with WithStore, or nil.
func FromContext(ctx context.Context) *Store {
	if store, ok := ctx.Value(storeKey{}).(*Store); ok {
		return store
	}
	return nil
}
