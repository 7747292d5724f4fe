// Package providers registers the built-in engines with a ProviderRegistry.
package providers

import (
	"github.com/hashicorp/go-multierror"

	vf "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/provider/raw"
	"github.com/alanbriolat/video-fetcher/provider/youtube"
	"github.com/alanbriolat/video-fetcher/provider/ytdlp"
)

// EngineAuto picks the provider for each reference by matching, rather than always using one.
const EngineAuto = "auto"

type Config struct {
	// YtDlpBinary is the yt-dlp binary to run, "" for "yt-dlp" on $PATH.
	YtDlpBinary string
}

// Register adds the built-in providers to registry. The native YouTube engine and direct file links are tried
// first, with yt-dlp as the catch-all for everything else.
func Register(registry *vf.ProviderRegistry, config Config) error {
	var result error
	for _, p := range []vf.Provider{
		youtube.New().Provider(),
		raw.NewConfig().New().Provider(),
		ytdlp.New(ytdlp.WithBinary(config.YtDlpBinary)).Provider(),
	} {
		if err := registry.Add(p); err != nil {
			result = multierror.Append(result, multierror.Prefix(err, p.Name+":"))
		}
	}
	return result
}

// Engine returns the registry itself for EngineAuto (or ""), otherwise an engine that only uses the named provider.
func Engine(registry *vf.ProviderRegistry, name string) (vf.Engine, error) {
	if name == "" || name == EngineAuto {
		return registry, nil
	}
	return registry.Only(name)
}
