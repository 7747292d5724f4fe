package video_fetcher

import (
	"context"
)

// Engine event statuses.
const (
	EventDownloading = "downloading"
	EventFinished    = "finished"
	EventError       = "error"
)

// An Event is a raw progress report from a fetch engine. PercentString is as the engine formats it, and may contain
// terminal colour sequences, e.g. "\x1b[0;94m 42.0%\x1b[0m".
type Event struct {
	Status          string
	PercentString   string
	DownloadedBytes int64
	// TotalBytes is 0 if unknown.
	TotalBytes int64
}

type ProgressFunc = func(Event)

// EngineOptions is the engine-specific option set derived from FormatOptions.
type EngineOptions struct {
	Mode Mode
	// Format is a yt-dlp style format selector, e.g. "bestvideo[height<=720]+bestaudio".
	Format string
	// MaxHeight is the video height ceiling, 0 for none.
	MaxHeight int
	// MergeFormat is the container separate video/audio streams are merged into (video mode only).
	MergeFormat string
	// ExtractAudio, AudioCodec and AudioQuality are set in audio mode only.
	ExtractAudio bool
	AudioCodec   string
	AudioQuality string
	// ToolchainDir is the directory containing ffmpeg/ffprobe, if known.
	ToolchainDir   string
	NoOverwrites   bool
	EmbedThumbnail bool
}

// A Resolver fetches metadata for a reference, distinguishing ErrNotFound from ErrAccess on failure.
type Resolver interface {
	Resolve(ctx context.Context, reference string) (*Reference, error)
}

// A Fetcher fetches media for an already-resolved item. outputTemplate is a path without extension; the engine
// writes its output file(s) next to it, named with the template as prefix, and reports raw progress to onProgress.
type Fetcher interface {
	FetchMedia(ctx context.Context, sourceRef string, opts EngineOptions, outputTemplate string, onProgress ProgressFunc) error
}

type Engine interface {
	Resolver
	Fetcher
}

// Toolchain is the availability check for the external media-processing toolchain.
type Toolchain interface {
	IsAvailable() bool
	// Locate returns the directory containing the toolchain binaries.
	Locate() (string, error)
}
