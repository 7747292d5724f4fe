// Package fetch fetches a single item through an engine, tracking its progress and finding the file it produced.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kennygrant/sanitize"
	"go.uber.org/zap"

	vf "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/download"
	"github.com/alanbriolat/video-fetcher/progress"
	"github.com/alanbriolat/video-fetcher/util"
)

const (
	// DefaultName is used for items whose title sanitizes to nothing.
	DefaultName   = "video"
	maxNameLength = 200
)

var (
	ErrOutputNotFound = errors.New("no file was downloaded")
	ErrCollection     = errors.New("expected a single item, got a collection")
)

// Suffixes of files an engine is still writing, or has abandoned.
var partialSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

// FetchError is the error for any failure to fetch a specific item.
type FetchError struct {
	Item vf.FetchItem
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error fetching %v: %v", e.Item.Title, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	engine    vf.Engine
	toolchain vf.Toolchain
	progress  *progress.Store
	log       *zap.SugaredLogger
}

type Option func(*Fetcher)

// WithProgress sets the store progress is reported to when the context doesn't carry one.
func WithProgress(store *progress.Store) Option {
	return func(f *Fetcher) {
		f.progress = store
	}
}

func New(engine vf.Engine, toolchain vf.Toolchain, opts ...Option) *Fetcher {
	f := &Fetcher{
		engine:    engine,
		toolchain: toolchain,
		log:       zap.S().Named("fetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch fetches item into dir, returning the path of the produced file. Progress is reported to the Store from
// progress.FromContext, or the one from WithProgress.
func (f *Fetcher) Fetch(ctx context.Context, item vf.FetchItem, format vf.FormatOptions, dir *download.WorkDir) (string, error) {
	toolchainDir, err := f.checkToolchain()
	if err != nil {
		return "", &FetchError{Item: item, Err: err}
	}
	return f.fetch(ctx, item, format, dir, toolchainDir)
}

// FetchReference resolves a bare reference, which must be a single item, and fetches it into dir.
func (f *Fetcher) FetchReference(ctx context.Context, reference string, format vf.FormatOptions, dir *download.WorkDir) (string, error) {
	item := vf.FetchItem{ID: reference, Title: reference, SourceRef: reference}
	if _, err := util.ValidateReference(reference); err != nil {
		return "", &FetchError{Item: item, Err: err}
	}
	toolchainDir, err := f.checkToolchain()
	if err != nil {
		return "", &FetchError{Item: item, Err: err}
	}
	ref, err := f.engine.Resolve(ctx, reference)
	if err != nil {
		return "", &FetchError{Item: item, Err: err}
	}
	if ref.Kind == vf.ReferenceCollection {
		return "", &FetchError{Item: item, Err: ErrCollection}
	}
	if len(ref.Items) == 0 {
		return "", &FetchError{Item: item, Err: vf.ErrEmptyCollection}
	}
	resolved := ref.Items[0].FetchItem
	if resolved.SourceRef == "" {
		resolved.SourceRef = reference
	}
	if resolved.ID == "" {
		resolved.ID = reference
	}
	return f.fetch(ctx, resolved, format, dir, toolchainDir)
}

func (f *Fetcher) checkToolchain() (string, error) {
	if f.toolchain == nil || !f.toolchain.IsAvailable() {
		return "", vf.ErrToolchainMissing
	}
	dir, err := f.toolchain.Locate()
	if err != nil {
		return "", fmt.Errorf("%w: %w", vf.ErrToolchainMissing, err)
	}
	return dir, nil
}

func (f *Fetcher) fetch(ctx context.Context, item vf.FetchItem, format vf.FormatOptions, dir *download.WorkDir, toolchainDir string) (string, error) {
	log := f.log.With("item_id", item.ID)
	store := progress.FromContext(ctx)
	if store == nil {
		store = f.progress
	}

	opts := format.EngineOptions()
	opts.ToolchainDir = toolchainDir
	name := SafeName(item.Title)
	outputTemplate := filepath.Join(dir.Path(), name)
	log.Debugf("Fetching %v as %v into %v", item.SourceRef, format, outputTemplate)

	t := newTracker(item.ID, store, log)
	t.start()
	started := time.Now()
	if err := f.engine.FetchMedia(ctx, item.SourceRef, opts, outputTemplate, t.onEvent); err != nil {
		return "", &FetchError{Item: item, Err: err}
	}
	path, err := findOutput(dir.Path(), name, expectedExtension(opts))
	if err != nil {
		return "", &FetchError{Item: item, Err: err}
	}
	t.finish()

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	log.Infof("Fetched %v in %.2fs (%d bytes)", filepath.Base(path), time.Since(started).Seconds(), size)
	return path, nil
}

// SafeName turns a title into something usable as a file name prefix.
func SafeName(title string) string {
	name := strings.Trim(sanitize.BaseName(title), " .-")
	if len(name) > maxNameLength {
		name = strings.TrimRight(name[:maxNameLength], " .-")
	}
	if name == "" {
		return DefaultName
	}
	return name
}

func expectedExtension(opts vf.EngineOptions) string {
	if opts.ExtractAudio {
		return "." + opts.AudioCodec
	}
	if opts.MergeFormat != "" {
		return "." + opts.MergeFormat
	}
	return ""
}

func isPartial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return strings.Contains(name, ".part-Frag")
}

// findOutput finds the file an engine wrote for the name prefix, preferring one with the expected extension.
func findOutput(dir string, prefix string, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || isPartial(name) {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", ErrOutputNotFound
	}
	sort.Strings(candidates)
	if ext != "" {
		for _, name := range candidates {
			if strings.EqualFold(filepath.Ext(name), ext) {
				return filepath.Join(dir, name), nil
			}
		}
	}
	return filepath.Join(dir, candidates[0]), nil
}
