package main

import (
	"os"
	"sync"

	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher/progress"
)

// showProgress draws a progress bar from the store's snapshots that match filter, until the store is closed. Wait
// on the returned WaitGroup after closing the store.
func showProgress(store *progress.Store, description string, filter func(progress.Snapshot) bool) (*sync.WaitGroup, error) {
	snapshots, err := store.Subscribe()
	if err != nil {
		return nil, err
	}
	logger := zap.S().Named("cli")
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var previous progress.Snapshot
		for snapshot := range snapshots.Receive() {
			if !filter(snapshot) {
				continue
			}
			if snapshot.ItemID == previous.ItemID {
				changes, err := diff.Diff(previous, snapshot)
				if err != nil {
					logger.Errorf("failed to diff progress snapshots: %v", err)
				} else {
					for _, change := range changes {
						logger.Debugf("%v: %#v -> %#v", change.Path, change.From, change.To)
					}
				}
			}
			previous = snapshot
			if snapshot.CurrentTitle != "" {
				bar.Describe(snapshot.CurrentTitle)
			}
			_ = bar.Set(int(snapshot.Percent))
		}
		_ = bar.Finish()
	}()
	return &wg, nil
}
