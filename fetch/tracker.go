package fetch

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	vf "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/sync_"
	"github.com/alanbriolat/video-fetcher/progress"
)

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// ParsePercent parses an engine percentage such as " 42.0%", ignoring colour sequences. Anything unparseable is 0.
func ParsePercent(s string) float64 {
	cleaned := strings.TrimSpace(ansiSequence.ReplaceAllString(s, ""))
	cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, "%"))
	percent, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(percent) || math.IsInf(percent, 0) {
		return 0
	}
	return percent
}

// tracker turns the raw events of one item into progress snapshots, dropping any that would go backwards.
type tracker struct {
	itemID      string
	store       *progress.Store
	lastPercent *sync_.Mutexed[float64]
	completed   *sync_.Event
	log         *zap.SugaredLogger
}

func newTracker(itemID string, store *progress.Store, log *zap.SugaredLogger) *tracker {
	return &tracker{
		itemID:      itemID,
		store:       store,
		lastPercent: sync_.NewMutexed(0.0),
		completed:   sync_.NewEvent(),
		log:         log,
	}
}

func (t *tracker) update(snapshot progress.Snapshot) {
	if t.store != nil {
		t.store.Update(snapshot)
	}
}

func (t *tracker) start() {
	t.update(progress.Snapshot{ItemID: t.itemID, Status: progress.StatusDownloading})
}

func (t *tracker) onEvent(e vf.Event) {
	percent := ParsePercent(e.PercentString)
	status := snapshotStatus(e.Status)
	_ = t.lastPercent.Locked(func(last *float64) error {
		if percent < *last && e.Status != vf.EventFinished {
			return nil
		}
		*last = math.Max(*last, percent)
		snapshot := progress.Snapshot{
			ItemID:     t.itemID,
			Status:     status,
			Percent:    math.Round(percent*10) / 10,
			TotalBytes: e.TotalBytes,
		}
		if e.Status == vf.EventFinished || percent >= 100 {
			snapshot.Percent = 100
			if t.completed.Set() {
				t.log.Info("Download completed")
			}
		}
		// Inside the lock, so snapshots reach the store in the order they were accepted here
		t.update(snapshot)
		return nil
	})
}

// finish marks the item finished, which the engine may not have done (or may have done for an intermediate stream).
func (t *tracker) finish() {
	if t.completed.Set() {
		t.log.Info("Download completed")
	}
	t.update(progress.Snapshot{ItemID: t.itemID, Status: progress.StatusFinished, Percent: 100})
}

func snapshotStatus(status string) progress.Status {
	switch status {
	case vf.EventFinished:
		return progress.StatusFinished
	case vf.EventError:
		return progress.StatusFailed
	default:
		return progress.StatusDownloading
	}
}
