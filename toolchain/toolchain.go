// Package toolchain finds the ffmpeg binaries that media post-processing depends on, and builds ffmpeg command lines.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	vf "github.com/alanbriolat/video-fetcher"
)

const (
	FFmpeg  = "ffmpeg"
	FFprobe = "ffprobe"

	EnvFFmpegBinary  = "FFMPEG_BINARY"
	EnvFFprobeBinary = "FFPROBE_BINARY"

	probeTimeout = 5 * time.Second
)

// Locator finds the toolchain directory by checking, in order, $FFMPEG_BINARY, $FFPROBE_BINARY, then ffmpeg and
// ffprobe on $PATH (which must run "-version" successfully). The hooks are replaceable for testing.
type Locator struct {
	Getenv   func(string) string
	Stat     func(string) (os.FileInfo, error)
	LookPath func(string) (string, error)
	Probe    func(ctx context.Context, path string) error

	log *zap.SugaredLogger
}

func NewLocator() *Locator {
	return &Locator{
		Getenv:   os.Getenv,
		Stat:     os.Stat,
		LookPath: exec.LookPath,
		Probe:    probeVersion,
		log:      zap.S().Named("toolchain"),
	}
}

// Locate returns the directory containing the toolchain, or an error wrapping vf.ErrToolchainMissing that lists why
// each candidate was rejected.
func (l *Locator) Locate() (string, error) {
	var result error
	for _, env := range []string{EnvFFmpegBinary, EnvFFprobeBinary} {
		path := l.Getenv(env)
		if path == "" {
			continue
		}
		if _, err := l.Stat(path); err != nil {
			result = multierror.Append(result, fmt.Errorf("$%s: %w", env, err))
			continue
		}
		l.log.Debugf("Found %v from $%v", path, env)
		return filepath.Dir(path), nil
	}
	for _, name := range []string{FFmpeg, FFprobe} {
		path, err := l.LookPath(name)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		err = l.Probe(ctx, path)
		cancel()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%v -version: %w", path, err))
			continue
		}
		l.log.Debugf("Found %v on $PATH", path)
		return filepath.Dir(path), nil
	}
	if result == nil {
		return "", vf.ErrToolchainMissing
	}
	return "", fmt.Errorf("%w: %w", vf.ErrToolchainMissing, result)
}

func (l *Locator) IsAvailable() bool {
	if _, err := l.Locate(); err != nil {
		l.log.Warn(err.Error())
		return false
	}
	return true
}

// Binary returns the path of the named binary (FFmpeg or FFprobe) within the located toolchain directory.
func (l *Locator) Binary(name string) (string, error) {
	dir, err := l.Locate()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func probeVersion(ctx context.Context, path string) error {
	return exec.CommandContext(ctx, path, "-version").Run()
}

type fixed struct {
	dir string
}

// Fixed is a Toolchain that is always available in dir, without checking.
func Fixed(dir string) vf.Toolchain {
	return fixed{dir: dir}
}

func (f fixed) IsAvailable() bool {
	return true
}

func (f fixed) Locate() (string, error) {
	return f.dir, nil
}

// BinaryPath is the path of the named binary within the toolchain, or just the name (resolved on $PATH) if the
// toolchain directory is unknown.
func BinaryPath(t vf.Toolchain, name string) string {
	if t == nil {
		return name
	}
	if dir, err := t.Locate(); err == nil && dir != "" {
		return filepath.Join(dir, name)
	}
	return name
}

var audioCodecArgs = map[string][]string{
	"mp3":  {"-c:a", "libmp3lame", "-q:a", "0"},
	"m4a":  {"-c:a", "aac", "-b:a", "256k"},
	"aac":  {"-c:a", "aac", "-b:a", "256k"},
	"flac": {"-c:a", "flac"},
	"wav":  {"-c:a", "pcm_s16le"},
}

func baseArgs() []string {
	return []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-n"}
}

// TranscodeAudioArgs builds the arguments to extract the audio of input into output using codec, at the best
// quality the codec offers.
func TranscodeAudioArgs(input string, output string, codec string) ([]string, error) {
	codecArgs, ok := audioCodecArgs[codec]
	if !ok {
		return nil, &vf.ValidationError{Field: "audio format", Value: codec}
	}
	args := append(baseArgs(), "-i", input, "-vn")
	args = append(args, codecArgs...)
	return append(args, output), nil
}

// RemuxArgs builds the arguments to copy the streams of inputs, without re-encoding, into output. With two inputs
// the first provides the video and the second the audio.
func RemuxArgs(inputs []string, output string) ([]string, error) {
	if len(inputs) == 0 || len(inputs) > 2 {
		return nil, fmt.Errorf("expected 1 or 2 inputs, got %d", len(inputs))
	}
	args := baseArgs()
	for _, input := range inputs {
		args = append(args, "-i", input)
	}
	if len(inputs) == 2 {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0")
	}
	return append(args, "-c", "copy", output), nil
}

// Run runs a toolchain binary, including its stderr in any error.
func Run(ctx context.Context, binary string, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%v failed: %w: %s", filepath.Base(binary), err, msg)
		}
		return fmt.Errorf("%v failed: %w", filepath.Base(binary), err)
	}
	return nil
}

// RunFunc runs a toolchain binary; Run is the usual implementation.
type RunFunc = func(ctx context.Context, binary string, args []string) error

// PostProcess turns downloaded streams into the final output at outputTemplate plus extension: transcoding the
// audio in audio mode, remuxing into opts.MergeFormat otherwise. It returns the output path.
func PostProcess(ctx context.Context, run RunFunc, opts vf.EngineOptions, inputs []string, outputTemplate string) (string, error) {
	binary := FFmpeg
	if opts.ToolchainDir != "" {
		binary = BinaryPath(Fixed(opts.ToolchainDir), FFmpeg)
	}
	var output string
	var args []string
	var err error
	if opts.ExtractAudio {
		if len(inputs) != 1 {
			return "", fmt.Errorf("expected 1 input, got %d", len(inputs))
		}
		output = outputTemplate + "." + opts.AudioCodec
		args, err = TranscodeAudioArgs(inputs[0], output, opts.AudioCodec)
	} else {
		container := opts.MergeFormat
		if container == "" {
			container = vf.VideoContainer
		}
		output = outputTemplate + "." + container
		args, err = RemuxArgs(inputs, output)
	}
	if err != nil {
		return "", err
	}
	if err := run(ctx, binary, args); err != nil {
		return "", err
	}
	return output, nil
}
