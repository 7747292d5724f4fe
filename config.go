package video_fetcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alanbriolat/video-fetcher/generic"
)

type Mode string

const (
	ModeVideo Mode = "video"
	ModeAudio Mode = "audio"
)

const (
	DefaultMode         = ModeVideo
	DefaultVideoQuality = "1080p"
	DefaultAudioFormat  = "mp3"
	QualityBest         = "best"
	// Container that video mode merges separate video and audio streams into.
	VideoContainer = "mkv"
	// Audio quality passed to the extractor; 0 is the best VBR quality.
	BestAudioQuality = "0"
)

var (
	SupportedModes        = generic.NewSet(ModeVideo, ModeAudio)
	SupportedAudioFormats = generic.NewSet("mp3", "m4a", "wav", "flac", "aac")
	SupportedQualities    = generic.NewSet("240p", "360p", "480p", "720p", "1080p", "1440p", "2160p", QualityBest)
)

// FormatOptions is the user-facing selection of what to produce. Exactly one of the two modes is active; the
// parameter of the inactive mode is ignored.
type FormatOptions struct {
	Mode         Mode
	VideoQuality string
	AudioFormat  string
}

// DefaultFormatOptions is best-effort 1080p video.
var DefaultFormatOptions = FormatOptions{
	Mode:         DefaultMode,
	VideoQuality: DefaultVideoQuality,
	AudioFormat:  DefaultAudioFormat,
}

// WithDefaults fills in any empty fields from DefaultFormatOptions.
func (o FormatOptions) WithDefaults() FormatOptions {
	if o.Mode == "" {
		o.Mode = DefaultFormatOptions.Mode
	}
	if o.VideoQuality == "" {
		o.VideoQuality = DefaultFormatOptions.VideoQuality
	}
	if o.AudioFormat == "" {
		o.AudioFormat = DefaultFormatOptions.AudioFormat
	}
	return o
}

// Validate checks the active mode and its parameter; the inactive mode's parameter is not checked.
func (o FormatOptions) Validate() error {
	o = o.WithDefaults()
	if !SupportedModes.Contains(o.Mode) {
		return &ValidationError{Field: "format", Value: string(o.Mode), Reason: oneOf(SupportedModes)}
	}
	switch o.Mode {
	case ModeVideo:
		if !SupportedQualities.Contains(o.VideoQuality) {
			return &ValidationError{Field: "video quality", Value: o.VideoQuality, Reason: oneOf(SupportedQualities)}
		}
	case ModeAudio:
		if !SupportedAudioFormats.Contains(o.AudioFormat) {
			return &ValidationError{Field: "audio format", Value: o.AudioFormat, Reason: oneOf(SupportedAudioFormats)}
		}
	}
	return nil
}

func oneOf[T ~string](supported *generic.Set[T]) string {
	values := make([]string, 0, supported.Count())
	for _, v := range supported.Values() {
		values = append(values, string(v))
	}
	return "must be one of " + strings.Join(values, ", ")
}

// MaxHeight returns the video height ceiling, or 0 for no ceiling.
func (o FormatOptions) MaxHeight() int {
	o = o.WithDefaults()
	if o.VideoQuality == QualityBest {
		return 0
	}
	height, err := strconv.Atoi(strings.TrimSuffix(o.VideoQuality, "p"))
	if err != nil {
		return 0
	}
	return height
}

// EngineOptions translates the format selection into the engine-level option set.
func (o FormatOptions) EngineOptions() EngineOptions {
	o = o.WithDefaults()
	opts := EngineOptions{
		Mode:           o.Mode,
		NoOverwrites:   true,
		EmbedThumbnail: true,
	}
	switch o.Mode {
	case ModeVideo:
		opts.MaxHeight = o.MaxHeight()
		if opts.MaxHeight > 0 {
			opts.Format = fmt.Sprintf("bestvideo[height<=%d]+bestaudio", opts.MaxHeight)
		} else {
			opts.Format = "bestvideo+bestaudio"
		}
		opts.MergeFormat = VideoContainer
	case ModeAudio:
		opts.Format = "bestaudio/best"
		opts.ExtractAudio = true
		opts.AudioCodec = o.AudioFormat
		opts.AudioQuality = BestAudioQuality
	}
	return opts
}

func (o FormatOptions) String() string {
	o = o.WithDefaults()
	if o.Mode == ModeAudio {
		return fmt.Sprintf("audio (%s)", o.AudioFormat)
	}
	return fmt.Sprintf("video (%s)", o.VideoQuality)
}
