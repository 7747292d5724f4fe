// Package ytdlp is an engine that drives yt-dlp, for metadata and for fetching.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ytdlp_ "github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	vf "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/util"
)

const (
	Name          = "ytdlp"
	DefaultBinary = "yt-dlp"

	youtubePlaylistURL = "https://www.youtube.com/playlist?list=%s"
	progressInterval   = 250 * time.Millisecond
	maxErrorLines      = 5
)

// Runner runs a configured yt-dlp command against a single URL.
type Runner interface {
	// Extract runs a metadata command and returns the info it dumped.
	Extract(ctx context.Context, cmd *ytdlp_.Command, url string) ([]*ytdlp_.ExtractedInfo, error)
	// Download runs a download command, passing every progress update to f.
	Download(ctx context.Context, cmd *ytdlp_.Command, url string, f func(ytdlp_.ProgressUpdate)) error
}

// Error is a failed yt-dlp run, with the tail of its error output.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("yt-dlp failed: %v", e.Err)
	}
	return fmt.Sprintf("yt-dlp failed: %v: %s", e.Err, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type commandRunner struct{}

func (commandRunner) Extract(ctx context.Context, cmd *ytdlp_.Command, url string) ([]*ytdlp_.ExtractedInfo, error) {
	result, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, runError(result, err)
	}
	return result.GetExtractedInfo()
}

func (commandRunner) Download(ctx context.Context, cmd *ytdlp_.Command, url string, f func(ytdlp_.ProgressUpdate)) error {
	cmd.ProgressFunc(progressInterval, f)
	result, err := cmd.Run(ctx, url)
	if err != nil {
		return runError(result, err)
	}
	return nil
}

func runError(result *ytdlp_.Result, err error) error {
	e := &Error{Err: err}
	if result != nil {
		e.Message = lastLines(result.Stderr)
	}
	return e
}

type Engine struct {
	binary string
	runner Runner
	log    *zap.SugaredLogger
}

type Option func(*Engine)

// WithBinary sets the yt-dlp binary to run, instead of "yt-dlp" on $PATH.
func WithBinary(binary string) Option {
	return func(e *Engine) {
		if binary != "" {
			e.binary = binary
		}
	}
}

func WithRunner(runner Runner) Option {
	return func(e *Engine) {
		e.runner = runner
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		binary: DefaultBinary,
		runner: commandRunner{},
		log:    zap.S().Named(Name),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match accepts any http(s) URL, leaving it to yt-dlp to decide if it can be fetched.
func Match(s string) error {
	_, err := util.ValidateReference(s)
	return err
}

func (e *Engine) Provider() vf.Provider {
	return vf.Provider{
		Name:     Name,
		Match:    Match,
		Engine:   e,
		Priority: vf.PriorityLowest,
	}
}

// MetadataCommand dumps the metadata of a video or playlist as a single JSON document, without the per-entry detail
// of playlists.
func (e *Engine) MetadataCommand() *ytdlp_.Command {
	return ytdlp_.New().
		SetExecutable(e.binary).
		DumpSingleJSON().
		FlatPlaylist().
		NoWarnings()
}

// DownloadCommand translates EngineOptions into a yt-dlp download of a single video to outputTemplate.
func (e *Engine) DownloadCommand(opts vf.EngineOptions, outputTemplate string) *ytdlp_.Command {
	cmd := ytdlp_.New().
		SetExecutable(e.binary).
		NoPlaylist().
		NoWarnings().
		Format(opts.Format).
		Output(outputTemplate + ".%(ext)s")
	if opts.NoOverwrites {
		cmd.NoOverwrites()
	}
	if opts.EmbedThumbnail {
		cmd.EmbedThumbnail()
	}
	if opts.MergeFormat != "" {
		cmd.MergeOutputFormat(opts.MergeFormat)
	}
	if opts.ExtractAudio {
		cmd.ExtractAudio().AudioFormat(opts.AudioCodec)
		if opts.AudioQuality != "" {
			cmd.AudioQuality(opts.AudioQuality)
		}
	}
	if opts.ToolchainDir != "" {
		cmd.FFmpegLocation(opts.ToolchainDir)
	}
	return cmd
}

func (e *Engine) Resolve(ctx context.Context, reference string) (*vf.Reference, error) {
	u, err := util.ValidateReference(reference)
	if err != nil {
		return nil, &vf.ResolveError{Reference: reference, Err: err}
	}
	target := reference
	if id := util.PlaylistID(u); id != "" && util.IsYouTube(u) {
		target = fmt.Sprintf(youtubePlaylistURL, id)
	}
	e.log.Debugf("Resolving %v", target)

	infos, err := e.runner.Extract(ctx, e.MetadataCommand(), target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, vf.NewResolveError(reference, vf.ErrAccess, ctx.Err())
		}
		return nil, vf.NewResolveError(reference, Classify(errorMessage(err)), err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, vf.NewResolveError(reference, vf.ErrAccess, errors.New("yt-dlp returned no metadata"))
	}
	return NewReference(infos[0], reference)
}

func (e *Engine) FetchMedia(ctx context.Context, sourceRef string, opts vf.EngineOptions, outputTemplate string, onProgress vf.ProgressFunc) error {
	e.log.Debugf("Downloading %v to %v", sourceRef, outputTemplate)
	err := e.runner.Download(ctx, e.DownloadCommand(opts, outputTemplate), sourceRef, func(update ytdlp_.ProgressUpdate) {
		if onProgress != nil {
			onProgress(ProgressEvent(update))
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// ProgressEvent converts a yt-dlp progress update. Without a known total the percent is left empty.
func ProgressEvent(update ytdlp_.ProgressUpdate) vf.Event {
	event := vf.Event{
		Status:          vf.EventDownloading,
		DownloadedBytes: int64(update.DownloadedBytes),
		TotalBytes:      int64(update.TotalBytes),
	}
	switch string(update.Status) {
	case vf.EventFinished:
		event.Status = vf.EventFinished
	case vf.EventError:
		event.Status = vf.EventError
	}
	if event.TotalBytes > 0 {
		event.PercentString = fmt.Sprintf("%.1f%%", 100*float64(event.DownloadedBytes)/float64(event.TotalBytes))
	}
	return event
}

func value[T any](p *T) T {
	var v T
	if p != nil {
		v = *p
	}
	return v
}

func itemInfo(info *ytdlp_.ExtractedInfo, sourceRef string) vf.ItemInfo {
	item := vf.ItemInfo{
		FetchItem: vf.FetchItem{
			ID:              info.ID,
			Title:           value(info.Title),
			SourceRef:       sourceRef,
			DurationSeconds: int(value(info.Duration)),
		},
		ThumbnailURL: value(info.Thumbnail),
		Uploader:     value(info.Uploader),
		ViewCount:    int(value(info.ViewCount)),
	}
	if item.Title == "" {
		item.Title = "Untitled"
	}
	if item.ID == "" {
		item.ID = sourceRef
	}
	if item.Uploader == "" {
		item.Uploader = value(info.Channel)
	}
	if item.Uploader == "" {
		item.Uploader = "Unknown"
	}
	return item
}

// NewReference converts extracted metadata into a Reference. Playlist entries without a URL are skipped; a playlist
// without any usable entries is ErrNotFound.
func NewReference(info *ytdlp_.ExtractedInfo, reference string) (*vf.Reference, error) {
	if string(info.Type) != "playlist" && info.Entries == nil {
		item := itemInfo(info, reference)
		return &vf.Reference{
			Kind:  vf.ReferenceSingle,
			Title: item.Title,
			Items: []vf.ItemInfo{item},
		}, nil
	}

	ref := &vf.Reference{Kind: vf.ReferenceCollection, Title: value(info.Title)}
	if ref.Title == "" {
		ref.Title = "Untitled Playlist"
	}
	log := zap.S().Named(Name)
	for i, entry := range info.Entries {
		if entry == nil {
			continue
		}
		url := value(entry.URL)
		if url == "" {
			url = value(entry.WebpageURL)
		}
		if url == "" {
			log.Warnf("Skipping playlist entry %d without URL: %v", i+1, value(entry.Title))
			continue
		}
		ref.Items = append(ref.Items, itemInfo(entry, url))
	}
	if len(ref.Items) == 0 {
		return nil, vf.NewResolveError(reference, vf.ErrNotFound, vf.ErrEmptyCollection)
	}
	return ref, nil
}

// Classify decides from yt-dlp's error output whether the media is gone or just couldn't be reached.
func Classify(message string) error {
	return vf.ClassifyMessage(message)
}

func errorMessage(err error) string {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.Message
	}
	return err.Error()
}

// lastLines keeps the tail of a command's error output, which is where yt-dlp puts the actual error.
func lastLines(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > maxErrorLines {
		lines = lines[len(lines)-maxErrorLines:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
