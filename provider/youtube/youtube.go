// Package youtube is an engine for YouTube videos and playlists using the native kkdai/youtube client, with ffmpeg
// for merging streams and extracting audio.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"

	vf "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/toolchain"
	"github.com/alanbriolat/video-fetcher/util"
)

const (
	Name = "youtube"

	videoURL = "https://www.youtube.com/watch?v=%s"
)

// Client is the subset of *youtube.Client the engine uses.
type Client interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetPlaylistContext(ctx context.Context, url string) (*youtube.Playlist, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
}

type Engine struct {
	client Client
	run    toolchain.RunFunc
	log    *zap.SugaredLogger
}

type Option func(*Engine)

func WithClient(client Client) Option {
	return func(e *Engine) {
		e.client = client
	}
}

func WithRunFunc(run toolchain.RunFunc) Option {
	return func(e *Engine) {
		e.run = run
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		client: &youtube.Client{},
		run:    toolchain.Run,
		log:    zap.S().Named(Name),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match accepts YouTube video and playlist URLs.
func Match(s string) error {
	u, err := util.ValidateReference(s)
	if err != nil {
		return err
	}
	if !util.IsYouTube(u) {
		return fmt.Errorf("unrecognised hostname")
	}
	if util.PlaylistID(u) != "" {
		return nil
	}
	_, err = util.VideoID(u)
	return err
}

func (e *Engine) Provider() vf.Provider {
	return vf.Provider{Name: Name, Match: Match, Engine: e}
}

func (e *Engine) Resolve(ctx context.Context, reference string) (*vf.Reference, error) {
	u, err := util.ValidateReference(reference)
	if err != nil {
		return nil, &vf.ResolveError{Reference: reference, Err: err}
	}
	if util.PlaylistID(u) != "" {
		return e.resolvePlaylist(ctx, reference)
	}
	video, err := e.client.GetVideoContext(ctx, reference)
	if err != nil {
		return nil, classify(reference, err)
	}
	info := videoInfo(video)
	info.SourceRef = reference
	return &vf.Reference{Kind: vf.ReferenceSingle, Title: info.Title, Items: []vf.ItemInfo{info}}, nil
}

func (e *Engine) resolvePlaylist(ctx context.Context, reference string) (*vf.Reference, error) {
	playlist, err := e.client.GetPlaylistContext(ctx, reference)
	if err != nil {
		return nil, classify(reference, err)
	}
	ref := &vf.Reference{Kind: vf.ReferenceCollection, Title: playlist.Title}
	if ref.Title == "" {
		ref.Title = "Untitled Playlist"
	}
	for i, entry := range playlist.Videos {
		if entry == nil || entry.ID == "" {
			e.log.Warnf("Skipping playlist entry %d without video ID", i+1)
			continue
		}
		info := vf.ItemInfo{
			FetchItem: vf.FetchItem{
				ID:              entry.ID,
				Title:           entry.Title,
				SourceRef:       fmt.Sprintf(videoURL, entry.ID),
				DurationSeconds: int(entry.Duration.Seconds()),
			},
			Uploader: entry.Author,
		}
		if len(entry.Thumbnails) > 0 {
			info.ThumbnailURL = entry.Thumbnails[0].URL
		}
		ref.Items = append(ref.Items, withDefaults(info))
	}
	if len(ref.Items) == 0 {
		return nil, vf.NewResolveError(reference, vf.ErrNotFound, vf.ErrEmptyCollection)
	}
	return ref, nil
}

func videoInfo(video *youtube.Video) vf.ItemInfo {
	info := vf.ItemInfo{
		FetchItem: vf.FetchItem{
			ID:              video.ID,
			Title:           video.Title,
			SourceRef:       fmt.Sprintf(videoURL, video.ID),
			DurationSeconds: int(video.Duration.Seconds()),
		},
		Uploader:  video.Author,
		ViewCount: video.Views,
	}
	if len(video.Thumbnails) > 0 {
		info.ThumbnailURL = video.Thumbnails[0].URL
	}
	return withDefaults(info)
}

func withDefaults(info vf.ItemInfo) vf.ItemInfo {
	if info.Title == "" {
		info.Title = "Untitled"
	}
	if info.Uploader == "" {
		info.Uploader = "Unknown"
	}
	return info
}

func classify(reference string, err error) error {
	if errors.Is(err, youtube.ErrVideoPrivate) || errors.Is(err, youtube.ErrLoginRequired) {
		return vf.NewResolveError(reference, vf.ErrNotFound, err)
	}
	return vf.NewResolveError(reference, vf.ClassifyMessage(err.Error()), err)
}

func (e *Engine) FetchMedia(ctx context.Context, sourceRef string, opts vf.EngineOptions, outputTemplate string, onProgress vf.ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(vf.Event) {}
	}
	video, err := e.client.GetVideoContext(ctx, sourceRef)
	if err != nil {
		return classify(sourceRef, err)
	}
	var streams []*youtube.Format
	if opts.ExtractAudio {
		if audio := selectAudioFormat(video.Formats); audio != nil {
			streams = []*youtube.Format{audio}
		} else if muxed := selectMuxedFormat(video.Formats); muxed != nil {
			streams = []*youtube.Format{muxed}
		}
	} else if v := selectVideoFormat(video.Formats, opts.MaxHeight); v != nil {
		streams = []*youtube.Format{v}
		if v.AudioChannels == 0 {
			if audio := selectAudioFormat(video.Formats); audio != nil {
				streams = append(streams, audio)
			}
		}
	}
	if len(streams) == 0 {
		return fmt.Errorf("no suitable format for %v", opts.Format)
	}

	// Intermediate files share the output prefix, so they must be gone before output discovery
	var sources []string
	defer func() {
		for _, path := range sources {
			_ = os.Remove(path)
		}
	}()
	progress := newCombinedProgress(streams, onProgress)
	for i, format := range streams {
		path := fmt.Sprintf("%s.f%d.%s", outputTemplate, format.ItagNo, extension(format.MimeType))
		e.log.Debugf("Downloading itag %d (%v) to %v", format.ItagNo, format.MimeType, path)
		sources = append(sources, path)
		if err := e.saveStream(ctx, video, format, path, progress.forStream(i)); err != nil {
			return err
		}
	}

	output, err := toolchain.PostProcess(ctx, e.run, opts, sources, outputTemplate)
	if err != nil {
		return err
	}
	e.log.Debugf("Post-processed %d stream(s) into %v", len(sources), output)
	progress.finish()
	return nil
}

func (e *Engine) saveStream(ctx context.Context, video *youtube.Video, format *youtube.Format, path string, onProgress vf.ProgressFunc) error {
	stream, size, err := e.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()
	return vf.SaveStream(ctx, path, stream, size, onProgress)
}

func mimeType(format *youtube.Format) string {
	return strings.TrimSpace(strings.SplitN(format.MimeType, ";", 2)[0])
}

// selectVideoFormat picks the tallest video at or under maxHeight (0 for no limit), preferring video-only streams
// and then higher bitrate. If nothing fits the ceiling, the shortest video is used.
func selectVideoFormat(formats youtube.FormatList, maxHeight int) *youtube.Format {
	var best, smallest *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !strings.HasPrefix(mimeType(f), "video/") || f.Height == 0 {
			continue
		}
		if smallest == nil || f.Height < smallest.Height {
			smallest = f
		}
		if maxHeight > 0 && f.Height > maxHeight {
			continue
		}
		if best == nil || betterVideo(f, best) {
			best = f
		}
	}
	if best == nil {
		return smallest
	}
	return best
}

func betterVideo(a, b *youtube.Format) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	if (a.AudioChannels == 0) != (b.AudioChannels == 0) {
		return a.AudioChannels == 0
	}
	return a.Bitrate > b.Bitrate
}

// selectAudioFormat picks the audio-only stream with the highest bitrate.
func selectAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !strings.HasPrefix(mimeType(f), "audio/") {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}

// selectMuxedFormat picks the highest bitrate stream carrying both video and audio.
func selectMuxedFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !strings.HasPrefix(mimeType(f), "video/") || f.AudioChannels == 0 {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}

// extension maps a stream MIME type to a file extension, e.g. "audio/mp4; codecs=..." to "m4a".
func extension(mime string) string {
	mime = strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])
	switch mime {
	case "audio/mp4":
		return "m4a"
	case "":
		return "bin"
	}
	if _, subtype, found := strings.Cut(mime, "/"); found && subtype != "" {
		return subtype
	}
	return "bin"
}

// combinedProgress reports several sequential stream downloads as one download.
type combinedProgress struct {
	offsets    []int64
	total      int64
	onProgress vf.ProgressFunc
}

func newCombinedProgress(streams []*youtube.Format, onProgress vf.ProgressFunc) *combinedProgress {
	p := &combinedProgress{onProgress: onProgress}
	for _, f := range streams {
		p.offsets = append(p.offsets, p.total)
		p.total += f.ContentLength
	}
	return p
}

func (p *combinedProgress) forStream(i int) vf.ProgressFunc {
	return func(e vf.Event) {
		downloaded := p.offsets[i] + e.DownloadedBytes
		event := vf.Event{Status: vf.EventDownloading, DownloadedBytes: downloaded, TotalBytes: p.total}
		if p.total > 0 {
			percent := float64(downloaded) / float64(p.total) * 100
			// 100% is reserved for after post-processing
			if percent > 99.9 {
				percent = 99.9
			}
			event.PercentString = fmt.Sprintf("%5.1f%%", percent)
		} else {
			event.PercentString = e.PercentString
			event.TotalBytes = e.TotalBytes
			if e.Status == vf.EventFinished {
				event.PercentString = ""
			}
		}
		p.onProgress(event)
	}
}

func (p *combinedProgress) finish() {
	p.onProgress(vf.Event{Status: vf.EventFinished, PercentString: "100.0%", DownloadedBytes: p.total, TotalBytes: p.total})
}
