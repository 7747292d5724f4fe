package youtube

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vf "github.com/alanbriolat/video-fetcher"
)

type fakeClient struct {
	video    *youtube.Video
	playlist *youtube.Playlist
	err      error
	streams  map[int]string
	fetched  []int
}

func (c *fakeClient) GetVideoContext(ctx context.Context, url string) (*youtube.Video, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.video, nil
}

func (c *fakeClient) GetPlaylistContext(ctx context.Context, url string) (*youtube.Playlist, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.playlist, nil
}

func (c *fakeClient) GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
	c.fetched = append(c.fetched, format.ItagNo)
	data := c.streams[format.ItagNo]
	return io.NopCloser(strings.NewReader(data)), int64(len(data)), nil
}

type fakeRun struct {
	binary string
	args   []string
}

// run records the invocation and creates the output file, which is always the last argument.
func (r *fakeRun) run(ctx context.Context, binary string, args []string) error {
	r.binary = binary
	r.args = args
	return os.WriteFile(args[len(args)-1], []byte("output"), 0o644)
}

var testFormats = youtube.FormatList{
	{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Height: 360, Bitrate: 500, AudioChannels: 2, ContentLength: 6},
	{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Height: 1080, Bitrate: 4000, ContentLength: 4},
	{ItagNo: 136, MimeType: `video/mp4; codecs="avc1.4d401f"`, Height: 720, Bitrate: 2000, ContentLength: 4},
	{ItagNo: 247, MimeType: `video/webm; codecs="vp9"`, Height: 720, Bitrate: 2500, ContentLength: 4},
	{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 128, AudioChannels: 2, ContentLength: 4},
	{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160, AudioChannels: 2, ContentLength: 4},
}

func testVideo() *youtube.Video {
	return &youtube.Video{
		ID:         "dQw4w9WgXcQ",
		Title:      "Test Video",
		Author:     "Someone",
		Views:      42,
		Duration:   212 * time.Second,
		Formats:    testFormats,
		Thumbnails: youtube.Thumbnails{{URL: "https://i.ytimg.com/vi/dQw4w9WgXcQ/default.jpg"}},
	}
}

func TestMatch(t *testing.T) {
	assert := assert_.New(t)
	assert.NoError(Match("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.NoError(Match("https://youtu.be/dQw4w9WgXcQ"))
	assert.NoError(Match("https://www.youtube.com/playlist?list=PL123"))
	assert.Error(Match("https://www.youtube.com/"))
	assert.Error(Match("https://example.com/watch?v=dQw4w9WgXcQ"))
	assert.Error(Match("not a url"))
}

func TestResolveVideo(t *testing.T) {
	assert := assert_.New(t)
	e := New(WithClient(&fakeClient{video: testVideo()}))

	ref, err := e.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(vf.ReferenceSingle, ref.Kind)
	require.Len(t, ref.Items, 1)
	info := ref.Items[0]
	assert.Equal("dQw4w9WgXcQ", info.ID)
	assert.Equal("Test Video", info.Title)
	assert.Equal("https://youtu.be/dQw4w9WgXcQ", info.SourceRef)
	assert.Equal(212, info.DurationSeconds)
	assert.Equal("Someone", info.Uploader)
	assert.Equal(42, info.ViewCount)
	assert.Equal("https://i.ytimg.com/vi/dQw4w9WgXcQ/default.jpg", info.ThumbnailURL)
}

func TestResolvePlaylist(t *testing.T) {
	assert := assert_.New(t)
	playlist := &youtube.Playlist{
		Title: "Mix",
		Videos: []*youtube.PlaylistEntry{
			{ID: "aaaaaaaaaaa", Title: "First", Author: "A", Duration: 61 * time.Second},
			{ID: ""},
			{ID: "bbbbbbbbbbb"},
		},
	}
	e := New(WithClient(&fakeClient{playlist: playlist}))

	ref, err := e.Resolve(context.Background(), "https://www.youtube.com/playlist?list=PL123")
	require.NoError(t, err)
	assert.Equal(vf.ReferenceCollection, ref.Kind)
	assert.Equal("Mix", ref.Title)
	require.Len(t, ref.Items, 2)
	assert.Equal("https://www.youtube.com/watch?v=aaaaaaaaaaa", ref.Items[0].SourceRef)
	assert.Equal(61, ref.Items[0].DurationSeconds)
	assert.Equal("Untitled", ref.Items[1].Title)
	assert.Equal("Unknown", ref.Items[1].Uploader)
}

func TestResolveEmptyPlaylist(t *testing.T) {
	e := New(WithClient(&fakeClient{playlist: &youtube.Playlist{Title: "Empty"}}))
	_, err := e.Resolve(context.Background(), "https://www.youtube.com/playlist?list=PL123")
	assert_.ErrorIs(t, err, vf.ErrNotFound)
	assert_.ErrorIs(t, err, vf.ErrEmptyCollection)
}

func TestResolveErrors(t *testing.T) {
	assert := assert_.New(t)
	cases := []struct {
		err  error
		kind error
	}{
		{youtube.ErrVideoPrivate, vf.ErrNotFound},
		{youtube.ErrLoginRequired, vf.ErrNotFound},
		{errors.New("this video is unavailable"), vf.ErrNotFound},
		{errors.New("connection reset by peer"), vf.ErrAccess},
	}
	for _, c := range cases {
		e := New(WithClient(&fakeClient{err: c.err}))
		_, err := e.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
		var resolveErr *vf.ResolveError
		if assert.ErrorAs(err, &resolveErr) {
			assert.Equal("https://youtu.be/dQw4w9WgXcQ", resolveErr.Reference)
		}
		assert.ErrorIs(err, c.kind, c.err.Error())
		assert.ErrorIs(err, c.err)
	}
}

func TestSelectVideoFormat(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(137, selectVideoFormat(testFormats, 0).ItagNo)
	assert.Equal(137, selectVideoFormat(testFormats, 1080).ItagNo)
	// Same height, higher bitrate
	assert.Equal(247, selectVideoFormat(testFormats, 720).ItagNo)
	assert.Equal(18, selectVideoFormat(testFormats, 480).ItagNo)
	// Nothing under the ceiling, use the smallest
	assert.Equal(18, selectVideoFormat(testFormats, 240).ItagNo)
	assert.Nil(selectVideoFormat(nil, 0))
}

func TestSelectAudioFormat(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(251, selectAudioFormat(testFormats).ItagNo)
	assert.Nil(selectAudioFormat(testFormats[:4]))
	assert.Equal(18, selectMuxedFormat(testFormats).ItagNo)
}

func TestExtension(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal("mp4", extension(`video/mp4; codecs="avc1"`))
	assert.Equal("webm", extension("audio/webm"))
	assert.Equal("m4a", extension(`audio/mp4; codecs="mp4a.40.2"`))
	assert.Equal("bin", extension(""))
}

func TestFetchMediaVideo(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	client := &fakeClient{video: testVideo(), streams: map[int]string{137: "vvvv", 251: "aaaa"}}
	run := &fakeRun{}
	e := New(WithClient(client), WithRunFunc(run.run))
	opts := vf.FormatOptions{Mode: vf.ModeVideo, VideoQuality: "1080p"}.EngineOptions()
	opts.ToolchainDir = "/opt/ffmpeg"
	template := filepath.Join(dir, "Test-Video")

	var events []vf.Event
	err := e.FetchMedia(context.Background(), "https://youtu.be/dQw4w9WgXcQ", opts, template, func(e vf.Event) {
		events = append(events, e)
	})
	require.NoError(t, err)

	assert.Equal([]int{137, 251}, client.fetched)
	assert.Equal(filepath.Join("/opt/ffmpeg", "ffmpeg"), run.binary)
	assert.Contains(run.args, template+".f137.mp4")
	assert.Contains(run.args, template+".f251.webm")
	assert.Equal(template+".mkv", run.args[len(run.args)-1])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal("Test-Video.mkv", entries[0].Name())

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(vf.EventFinished, last.Status)
	assert.Equal("100.0%", last.PercentString)
	for _, event := range events[:len(events)-1] {
		assert.Equal(vf.EventDownloading, event.Status)
		assert.Equal(int64(8), event.TotalBytes)
	}
}

func TestFetchMediaAudio(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	client := &fakeClient{video: testVideo(), streams: map[int]string{251: "aaaa"}}
	run := &fakeRun{}
	e := New(WithClient(client), WithRunFunc(run.run))
	opts := vf.FormatOptions{Mode: vf.ModeAudio, AudioFormat: "mp3"}.EngineOptions()
	template := filepath.Join(dir, "Test-Video")

	err := e.FetchMedia(context.Background(), "https://youtu.be/dQw4w9WgXcQ", opts, template, nil)
	require.NoError(t, err)

	assert.Equal([]int{251}, client.fetched)
	assert.Equal("ffmpeg", run.binary)
	assert.Contains(run.args, "libmp3lame")
	assert.Equal(template+".mp3", run.args[len(run.args)-1])
	assert.NoFileExists(template + ".f251.webm")
	assert.FileExists(template + ".mp3")
}

func TestFetchMediaPostProcessFailure(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{video: testVideo(), streams: map[int]string{251: "aaaa"}}
	failed := errors.New("ffmpeg failed")
	e := New(WithClient(client), WithRunFunc(func(context.Context, string, []string) error { return failed }))
	opts := vf.FormatOptions{Mode: vf.ModeAudio}.EngineOptions()

	err := e.FetchMedia(context.Background(), "https://youtu.be/dQw4w9WgXcQ", opts, filepath.Join(dir, "x"), nil)
	assert_.ErrorIs(t, err, failed)
	entries, _ := os.ReadDir(dir)
	assert_.Empty(t, entries)
}

func TestFetchMediaNoFormats(t *testing.T) {
	video := testVideo()
	video.Formats = nil
	e := New(WithClient(&fakeClient{video: video}))
	err := e.FetchMedia(context.Background(), "https://youtu.be/dQw4w9WgXcQ", vf.DefaultFormatOptions.EngineOptions(), "x", nil)
	assert_.ErrorContains(t, err, "no suitable format")
}
