// Package batch fetches many items concurrently, and packages whatever succeeded.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	vf "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/archive"
	"github.com/alanbriolat/video-fetcher/download"
	"github.com/alanbriolat/video-fetcher/fetch"
	"github.com/alanbriolat/video-fetcher/generic"
	"github.com/alanbriolat/video-fetcher/internal/history"
	"github.com/alanbriolat/video-fetcher/internal/sync_"
	"github.com/alanbriolat/video-fetcher/progress"
)

// ItemFetcher fetches one item into dir, returning the path of the file it produced. *fetch.Fetcher is the usual
// implementation.
type ItemFetcher interface {
	Fetch(ctx context.Context, item vf.FetchItem, format vf.FormatOptions, dir *download.WorkDir) (string, error)
}

// Packager bundles files into one archive at destination. *archive.Packager is the usual implementation.
type Packager interface {
	Bundle(paths []string, destination string) error
}

type Options struct {
	Format vf.FormatOptions
	// MaxWorkers bounds concurrent fetches; if None (or < 1) the number of CPUs is used.
	MaxWorkers generic.Option[int]
	// OutputDir receives the final file or archive; download.OutputDir decides when empty.
	OutputDir string
	// Progress receives item and aggregate snapshots; if nil the run uses a private Store.
	Progress *progress.Store
}

type Failure struct {
	ItemTitle string
	// Error is the message of the underlying cause.
	Error string
	Err   error
}

type Result struct {
	ID string
	// SucceededPaths are where items were fetched to, in input order. They are inside the batch work directory, so
	// only OutputPath remains once Run returns.
	SucceededPaths []string
	// Failures are in input order.
	Failures       []Failure
	TotalRequested int
	OutputPath     string
	Archived       bool
}

type Orchestrator struct {
	fetcher  ItemFetcher
	packager Packager
	temp     *download.Manager
	history  history.Store
	now      func() time.Time
	numCPU   func() int
	log      *zap.SugaredLogger
}

type Option func(*Orchestrator)

func WithPackager(p Packager) Option {
	return func(o *Orchestrator) {
		o.packager = p
	}
}

func WithTempManager(m *download.Manager) Option {
	return func(o *Orchestrator) {
		o.temp = m
	}
}

// WithHistory records every batch in store.
func WithHistory(store history.Store) Option {
	return func(o *Orchestrator) {
		o.history = store
	}
}

// WithClock replaces time.Now, which names archives and timestamps history.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func New(fetcher ItemFetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:  fetcher,
		packager: archive.NewPackager(),
		temp:     download.NewManager(),
		history:  history.NilStore{},
		now:      time.Now,
		numCPU:   runtime.NumCPU,
		log:      zap.S().Named("batch"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run fetches every item, at most Options.MaxWorkers at a time, and delivers the result to the output directory: the
// file itself for a single item, otherwise a zip of every file that was fetched. Individual failures are reported in
// Result.Failures; an error is returned only if the batch as a whole failed.
func (o *Orchestrator) Run(ctx context.Context, items []vf.FetchItem, opts Options) (*Result, error) {
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	format := opts.Format.WithDefaults()
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	record := &history.Batch{
		ID:             uuid.NewString(),
		StartedAt:      o.now(),
		Format:         format.String(),
		TotalRequested: len(items),
	}
	result, err := o.run(ctx, record.ID, items, format, opts)
	record.FinishedAt = o.now()
	if result != nil {
		record.SucceededPaths = result.SucceededPaths
		record.Failures = historyFailures(result.Failures)
		record.OutputPath = result.OutputPath
		record.Archived = result.Archived
	}
	if err != nil {
		record.Error = err.Error()
		var failed *BatchFailedError
		if errors.As(err, &failed) {
			record.Failures = historyFailures(failed.Failures)
		}
	}
	if historyErr := o.history.WriteBatch(record); historyErr != nil {
		o.log.With("batch_id", record.ID).Warnf("Failed to record batch history: %v", historyErr)
	}
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, id string, items []vf.FetchItem, format vf.FormatOptions, opts Options) (*Result, error) {
	log := o.log.With("batch_id", id)
	total := len(items)
	workers := o.workerCount(opts.MaxWorkers, total)
	log.Infof("Fetching %d items as %v with %d workers", total, format, workers)
	started := time.Now()

	outputDir, err := download.OutputDir(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	workDir, err := o.temp.Acquire()
	if err != nil {
		return nil, err
	}
	defer o.temp.Release(workDir)

	store := opts.Progress
	if store == nil {
		store = progress.NewStore()
		defer store.Close()
	}
	ids := make([]string, 0, total+1)
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	store.Reset(append(ids, progress.AggregateID)...)
	store.Update(progress.Snapshot{
		ItemID:     progress.AggregateID,
		Status:     progress.StatusDownloading,
		TotalItems: total,
	})

	outcomes := o.dispatch(progress.WithStore(ctx, store), items, format, workDir, workers, store)

	result := &Result{ID: id, TotalRequested: total}
	for i, outcome := range outcomes {
		if path, err := outcome.Parts(); err == nil {
			result.SucceededPaths = append(result.SucceededPaths, path)
		} else {
			log.Warnf("Failed to fetch %v: %v", items[i].Title, err)
			result.Failures = append(result.Failures, Failure{
				ItemTitle: items[i].Title,
				Error:     causeMessage(err),
				Err:       err,
			})
		}
	}
	succeeded := len(result.SucceededPaths)
	log.Infof("Fetched %d/%d items (%.1f%% success rate) in %.2fs",
		succeeded, total, 100*float64(succeeded)/float64(total), time.Since(started).Seconds())
	if succeeded == 0 {
		return nil, &BatchFailedError{Total: total, Failures: result.Failures}
	}

	if total == 1 {
		result.OutputPath, err = download.Relocate(result.SucceededPaths[0], outputDir)
		if err != nil {
			return nil, err
		}
	} else {
		if len(result.Failures) > 0 {
			log.Warnf("%d of %d items failed, packaging the rest", len(result.Failures), total)
		}
		archivePath := filepath.Join(workDir.Path(), archive.Name(o.now()))
		if err := o.packager.Bundle(result.SucceededPaths, archivePath); err != nil {
			return nil, err
		}
		result.OutputPath, err = download.Relocate(archivePath, outputDir)
		if err != nil {
			return nil, err
		}
		result.Archived = true
	}
	log.Infof("Saved %v", result.OutputPath)
	return result, nil
}

// dispatch fetches every item with at most workers in flight, returning outcomes in input order.
func (o *Orchestrator) dispatch(ctx context.Context, items []vf.FetchItem, format vf.FormatOptions, workDir *download.WorkDir, workers int, store *progress.Store) []generic.Result[string] {
	total := len(items)
	outcomes := make([]generic.Result[string], total)
	completed := sync_.NewMutexed(0)

	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			outcomes[i] = o.fetchItem(ctx, i, item, format, workDir)
			if outcomes[i].IsErr() {
				snapshot, _ := store.Get(item.ID)
				snapshot.ItemID = item.ID
				snapshot.Status = progress.StatusFailed
				store.Update(snapshot)
			}
			_ = completed.Locked(func(count *int) error {
				*count++
				store.Update(progress.Snapshot{
					ItemID:       progress.AggregateID,
					Status:       progress.StatusDownloading,
					Percent:      math.Round(1000*float64(*count)/float64(total)) / 10,
					CurrentItem:  *count,
					TotalItems:   total,
					CurrentTitle: item.Title,
				})
				return nil
			})
			// Failures are recorded in outcomes, never returned, so one item can't cancel the others
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) fetchItem(ctx context.Context, index int, item vf.FetchItem, format vf.FormatOptions, workDir *download.WorkDir) (result generic.Result[string]) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorw("Panic while fetching item", "item_id", item.ID, "panic", r)
			result = generic.Err[string](fmt.Errorf("panic while fetching: %v", r))
		}
	}()
	dir, err := workDir.Sub(fmt.Sprintf("item-%04d", index))
	if err != nil {
		return generic.Err[string](err)
	}
	return generic.NewResult(o.fetcher.Fetch(ctx, item, format, dir))
}

func (o *Orchestrator) workerCount(maxWorkers generic.Option[int], items int) int {
	workers := maxWorkers.UnwrapOr(0)
	if workers < 1 {
		workers = o.numCPU()
		o.log.Debugf("Detected %d CPUs", workers)
	}
	if workers < 1 {
		workers = 1
	}
	if workers > items {
		workers = items
	}
	return workers
}

func validateItems(items []vf.FetchItem) error {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.ID == "" {
			return &vf.ValidationError{Field: "item", Value: item.Title, Reason: "missing ID"}
		}
		if item.ID == progress.AggregateID {
			return &vf.ValidationError{Field: "item", Value: item.ID, Reason: "reserved ID"}
		}
		if seen[item.ID] {
			return &vf.ValidationError{Field: "item", Value: item.ID, Reason: "duplicate ID"}
		}
		seen[item.ID] = true
		if item.SourceRef == "" {
			return &vf.ValidationError{Field: "item", Value: item.ID, Reason: "missing source reference"}
		}
		if item.DurationSeconds < 0 {
			return &vf.ValidationError{Field: "item", Value: item.ID, Reason: "negative duration"}
		}
	}
	return nil
}

// causeMessage is the message of the underlying cause, without the item context FetchError adds.
func causeMessage(err error) string {
	var fetchErr *fetch.FetchError
	if errors.As(err, &fetchErr) && fetchErr.Err != nil {
		return fetchErr.Err.Error()
	}
	return err.Error()
}

func historyFailures(failures []Failure) []history.Failure {
	if failures == nil {
		return nil
	}
	converted := make([]history.Failure, len(failures))
	for i, f := range failures {
		converted[i] = history.Failure{ItemTitle: f.ItemTitle, Error: f.Error}
	}
	return converted
}
