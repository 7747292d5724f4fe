package config

import (
	"os"
	"path/filepath"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vf "github.com/alanbriolat/video-fetcher"
)

func TestLoadDefaults(t *testing.T) {
	assert := assert_.New(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal("info", cfg.LogLevel)
	assert.Equal("downloads", cfg.Fetch.OutputDir)
	assert.Equal(0, cfg.Fetch.MaxWorkers)
	assert.Equal("auto", cfg.Engine.Name)
	assert.Equal(vf.DefaultFormatOptions, cfg.FormatOptions())
}

func TestLoadFile(t *testing.T) {
	assert := assert_.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
history: /var/lib/video-fetcher/history.db
fetch:
  mode: audio
  audio_format: flac
  max_workers: 3
engine:
  name: ytdlp
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal("debug", cfg.LogLevel)
	assert.Equal("/var/lib/video-fetcher/history.db", cfg.HistoryPath)
	assert.Equal(vf.FormatOptions{Mode: vf.ModeAudio, VideoQuality: "1080p", AudioFormat: "flac"}, cfg.FormatOptions())
	assert.Equal(3, cfg.Fetch.MaxWorkers)
	assert.Equal("ytdlp", cfg.Engine.Name)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	assert := assert_.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch:\n  video_quality: 480p\n  max_workers: 2\n"), 0o644))
	t.Setenv("VF_VIDEO_QUALITY", "720p")
	t.Setenv("YTDLP_BINARY", "/opt/bin/yt-dlp")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal("720p", cfg.Fetch.VideoQuality)
	assert.Equal(2, cfg.Fetch.MaxWorkers)
	assert.Equal("/opt/bin/yt-dlp", cfg.Engine.YtDlpBinary)
}

func TestLoadInvalid(t *testing.T) {
	for env, value := range map[string]string{
		"VF_VIDEO_QUALITY": "999p",
		"VF_MODE":          "hologram",
		"VF_MAX_WORKERS":   "-1",
		"VF_LOG_LEVEL":     "loud",
	} {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, value)
			_, err := Load("")
			var validationErr *vf.ValidationError
			assert_.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert_.Error(t, err)
}

func TestUsage(t *testing.T) {
	usage, err := Usage()
	require.NoError(t, err)
	assert_.Contains(t, usage, "VF_MODE")
}
