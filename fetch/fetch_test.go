package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	vf "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/download"
	"github.com/alanbriolat/video-fetcher/progress"
)

type fakeToolchain struct {
	available bool
	calls     int
}

func (t *fakeToolchain) IsAvailable() bool {
	t.calls++
	return t.available
}

func (t *fakeToolchain) Locate() (string, error) {
	if !t.available {
		return "", vf.ErrToolchainMissing
	}
	return "/opt/ffmpeg/bin", nil
}

// fakeEngine writes the files named by outputs (relative to the output template) and replays events.
type fakeEngine struct {
	mu         sync.Mutex
	reference  *vf.Reference
	resolveErr error
	events     []vf.Event
	outputs    []string
	err        error
	fetched    []string
	opts       []vf.EngineOptions
}

func (e *fakeEngine) Resolve(ctx context.Context, reference string) (*vf.Reference, error) {
	if e.resolveErr != nil {
		return nil, e.resolveErr
	}
	return e.reference, nil
}

func (e *fakeEngine) FetchMedia(ctx context.Context, sourceRef string, opts vf.EngineOptions, outputTemplate string, onProgress vf.ProgressFunc) error {
	e.mu.Lock()
	e.fetched = append(e.fetched, sourceRef)
	e.opts = append(e.opts, opts)
	e.mu.Unlock()
	for _, event := range e.events {
		onProgress(event)
	}
	for _, suffix := range e.outputs {
		if err := os.WriteFile(outputTemplate+suffix, []byte(sourceRef), 0644); err != nil {
			return err
		}
	}
	return e.err
}

func newWorkDir(t *testing.T) *download.WorkDir {
	m := download.NewManager(download.WithTempDir(t.TempDir()))
	dir, err := m.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { m.Release(dir) })
	return dir
}

var testItem = vf.FetchItem{ID: "abc", Title: "My Video", SourceRef: "https://example.com/watch?v=abc"}

func TestParsePercent(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(42.0, ParsePercent("\x1b[0;94m 42.0%\x1b[0m"))
	assert.Equal(100.0, ParsePercent("100%"))
	assert.Equal(7.5, ParsePercent(" 7.5 % "))
	assert.Equal(0.0, ParsePercent("N/A"))
	assert.Equal(0.0, ParsePercent(""))
	assert.Equal(0.0, ParsePercent("NaN%"))
}

func TestSafeName(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(DefaultName, SafeName(""))
	assert.Equal(DefaultName, SafeName("///"))
	assert.NotContains(SafeName("a/b\\c"), "/")
	assert.False(strings.HasPrefix(SafeName("../../etc/passwd"), "."))
	assert.LessOrEqual(len(SafeName(strings.Repeat("x", 500))), maxNameLength)
}

func TestFetchToolchainMissing(t *testing.T) {
	assert := assert_.New(t)
	engine := &fakeEngine{outputs: []string{".mkv"}}
	toolchain := &fakeToolchain{available: false}

	_, err := New(engine, toolchain).Fetch(context.Background(), testItem, vf.FormatOptions{}, newWorkDir(t))
	var fetchErr *FetchError
	assert.ErrorAs(err, &fetchErr)
	assert.Equal(testItem, fetchErr.Item)
	assert.ErrorIs(err, vf.ErrToolchainMissing)
	assert.Empty(engine.fetched, "fails before any engine work")
	assert.Equal(1, toolchain.calls)
}

func TestFetchSuccess(t *testing.T) {
	assert := assert_.New(t)
	store := progress.NewStore()
	defer store.Close()
	engine := &fakeEngine{
		events: []vf.Event{
			{Status: vf.EventDownloading, PercentString: "\x1b[0;94m 10.0%\x1b[0m"},
			{Status: vf.EventDownloading, PercentString: "  5.0%"},
			{Status: vf.EventDownloading, PercentString: " 50.0%", TotalBytes: 2048},
		},
		outputs: []string{".f137.mp4.part", ".mkv", ".webm.ytdl"},
	}
	dir := newWorkDir(t)

	ctx := progress.WithStore(context.Background(), store)
	path, err := New(engine, &fakeToolchain{available: true}).Fetch(ctx, testItem, vf.FormatOptions{VideoQuality: "720p"}, dir)
	require.NoError(t, err)
	assert.Equal(dir.Path(), filepath.Dir(path))
	assert.Equal(".mkv", filepath.Ext(path))
	assert.True(strings.HasPrefix(filepath.Base(path), SafeName(testItem.Title)))

	require.Len(t, engine.opts, 1)
	assert.Equal("bestvideo[height<=720]+bestaudio", engine.opts[0].Format)
	assert.Equal("/opt/ffmpeg/bin", engine.opts[0].ToolchainDir)

	snapshot, ok := store.Get(testItem.ID)
	assert.True(ok)
	assert.Equal(progress.StatusFinished, snapshot.Status, "marked finished after the engine returns")
	assert.Equal(100.0, snapshot.Percent)
}

func TestFetchAudio(t *testing.T) {
	assert := assert_.New(t)
	engine := &fakeEngine{outputs: []string{".webm", ".mp3"}}

	path, err := New(engine, &fakeToolchain{available: true}).Fetch(context.Background(), testItem, vf.FormatOptions{Mode: vf.ModeAudio, AudioFormat: "mp3"}, newWorkDir(t))
	require.NoError(t, err)
	assert.Equal(".mp3", filepath.Ext(path), "expected extension preferred")
	assert.True(engine.opts[0].ExtractAudio)
	assert.Equal("mp3", engine.opts[0].AudioCodec)
}

func TestFetchOutputNotFound(t *testing.T) {
	assert := assert_.New(t)
	store := progress.NewStore()
	defer store.Close()
	engine := &fakeEngine{outputs: []string{".mkv.part", ".tmp"}}

	_, err := New(engine, &fakeToolchain{available: true}, WithProgress(store)).Fetch(context.Background(), testItem, vf.FormatOptions{}, newWorkDir(t))
	var fetchErr *FetchError
	assert.ErrorAs(err, &fetchErr)
	assert.ErrorIs(err, ErrOutputNotFound)

	snapshot, _ := store.Get(testItem.ID)
	assert.NotEqual(progress.StatusFinished, snapshot.Status)
}

func TestFetchEngineError(t *testing.T) {
	assert := assert_.New(t)
	cause := vf.NewResolveError(testItem.SourceRef, vf.ErrAccess, errors.New("HTTP Error 403"))
	engine := &fakeEngine{err: cause}

	_, err := New(engine, &fakeToolchain{available: true}).Fetch(context.Background(), testItem, vf.FormatOptions{}, newWorkDir(t))
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(err, vf.ErrAccess)
	assert.Equal(cause.Error(), fetchErr.Err.Error(), "original message kept")
	assert.Contains(err.Error(), testItem.Title)
}

func TestFetchReference(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()
	reference := "https://www.youtube.com/watch?v=abc"

	engine := &fakeEngine{
		reference: &vf.Reference{
			Kind:  vf.ReferenceSingle,
			Title: "My Video",
			Items: []vf.ItemInfo{{FetchItem: vf.FetchItem{ID: "abc", Title: "My Video"}}},
		},
		outputs: []string{".mkv"},
	}
	path, err := New(engine, &fakeToolchain{available: true}).FetchReference(ctx, reference, vf.FormatOptions{}, newWorkDir(t))
	assert.NoError(err)
	assert.FileExists(path)
	assert.Equal([]string{reference}, engine.fetched, "source ref defaults to the reference")

	collection := &fakeEngine{
		reference: &vf.Reference{Kind: vf.ReferenceCollection, Items: []vf.ItemInfo{{}, {}}},
	}
	_, err = New(collection, &fakeToolchain{available: true}).FetchReference(ctx, reference, vf.FormatOptions{}, newWorkDir(t))
	assert.ErrorIs(err, ErrCollection)
	assert.Empty(collection.fetched)

	notFound := &fakeEngine{resolveErr: vf.NewResolveError(reference, vf.ErrNotFound, nil)}
	_, err = New(notFound, &fakeToolchain{available: true}).FetchReference(ctx, reference, vf.FormatOptions{}, newWorkDir(t))
	assert.ErrorIs(err, vf.ErrNotFound)

	toolchain := &fakeToolchain{available: false}
	_, err = New(engine, toolchain).FetchReference(ctx, reference, vf.FormatOptions{}, newWorkDir(t))
	assert.ErrorIs(err, vf.ErrToolchainMissing)
	assert.Equal(1, toolchain.calls)

	_, err = New(engine, &fakeToolchain{available: true}).FetchReference(ctx, "not a url", vf.FormatOptions{}, newWorkDir(t))
	var fetchErr *FetchError
	assert.ErrorAs(err, &fetchErr)
}

func TestFindOutput(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	for _, name := range []string{"clip.webm", "clip.mkv", "clip.mkv.part", "other.mkv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "clip.dir"), 0755))

	path, err := findOutput(dir, "clip", ".mkv")
	assert.NoError(err)
	assert.Equal(filepath.Join(dir, "clip.mkv"), path)

	path, err = findOutput(dir, "clip", ".mp3")
	assert.NoError(err)
	assert.Equal(filepath.Join(dir, "clip.mkv"), path, "falls back to the first by name")

	_, err = findOutput(dir, "missing", "")
	assert.ErrorIs(err, ErrOutputNotFound)
}

func TestTracker(t *testing.T) {
	assert := assert_.New(t)
	store := progress.NewStore()
	defer store.Close()
	tr := newTracker("x", store, zap.S())

	current := func() progress.Snapshot {
		snapshot, _ := store.Get("x")
		return snapshot
	}

	tr.start()
	assert.Equal(progress.StatusDownloading, current().Status)

	tr.onEvent(vf.Event{Status: vf.EventDownloading, PercentString: " 33.33%"})
	assert.Equal(33.3, current().Percent)
	tr.onEvent(vf.Event{Status: vf.EventDownloading, PercentString: " 20.0%"})
	assert.Equal(33.3, current().Percent, "regression dropped")
	assert.False(tr.completed.IsSet())

	tr.onEvent(vf.Event{Status: vf.EventDownloading, PercentString: "100.0%"})
	assert.Equal(100.0, current().Percent)
	assert.True(tr.completed.IsSet())

	// A second stream starting again at 0 is dropped
	tr.onEvent(vf.Event{Status: vf.EventDownloading, PercentString: "  0.0%"})
	assert.Equal(100.0, current().Percent)

	tr.onEvent(vf.Event{Status: vf.EventFinished, PercentString: "N/A"})
	assert.Equal(progress.Snapshot{ItemID: "x", Status: progress.StatusFinished, Percent: 100}, current())

	tr.finish()
	assert.Equal(progress.StatusFinished, current().Status)
}

func TestTrackerNoStore(t *testing.T) {
	tr := newTracker("x", nil, zap.S())
	tr.start()
	tr.onEvent(vf.Event{Status: vf.EventFinished})
	tr.finish()
	assert_.True(t, tr.completed.IsSet())
}
