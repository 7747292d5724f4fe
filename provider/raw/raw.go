// Package raw fetches media files linked directly by URL, e.g. https://example.com/clip.mp4.
package raw

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"

	vf "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/generic"
	"github.com/alanbriolat/video-fetcher/toolchain"
	"github.com/alanbriolat/video-fetcher/util"
)

const Name = "raw"

type Config struct {
	Protocols  *generic.Set[string]
	Extensions *generic.Set[string]
}

func NewConfig() Config {
	return Config{
		Protocols: generic.NewSet(
			"http",
			"https",
		),
		Extensions: generic.NewSet(
			"flv",
			"m4a",
			"m4v",
			"mkv",
			"mp3",
			"mp4",
			"webm",
		),
	}
}

// Match accepts URLs whose path ends in a filename with a known media extension.
func (c *Config) Match(s string) error {
	_, _, err := c.parse(s)
	return err
}

func (c *Config) parse(s string) (filename string, extension string, err error) {
	parsedURL, err := util.ValidateReference(s)
	if err != nil {
		return "", "", err
	}
	if !c.Protocols.Contains(parsedURL.Scheme) {
		return "", "", fmt.Errorf("unknown URL scheme %v", parsedURL.Scheme)
	}
	filename, err = util.FilenameFromURL(parsedURL)
	if err != nil {
		return "", "", err
	}
	extension = strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if extension == "" {
		return "", "", fmt.Errorf("no file extension found")
	}
	if !c.Extensions.Contains(extension) {
		return "", "", fmt.Errorf("unknown file extension %v", extension)
	}
	return filename, extension, nil
}

type Engine struct {
	config Config
	client *http.Client
	run    toolchain.RunFunc
	log    *zap.SugaredLogger
}

type Option func(*Engine)

func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.client = client
	}
}

func WithRunFunc(run toolchain.RunFunc) Option {
	return func(e *Engine) {
		e.run = run
	}
}

func (c Config) New(opts ...Option) *Engine {
	e := &Engine{
		config: c,
		client: http.DefaultClient,
		run:    toolchain.Run,
		log:    zap.S().Named(Name),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Provider() vf.Provider {
	return vf.Provider{Name: Name, Match: e.config.Match, Engine: e}
}

// Resolve describes the file without fetching it: the title is the filename without extension.
func (e *Engine) Resolve(ctx context.Context, reference string) (*vf.Reference, error) {
	filename, extension, err := e.config.parse(reference)
	if err != nil {
		return nil, &vf.ResolveError{Reference: reference, Err: err}
	}
	title := strings.TrimSuffix(filename, "."+extension)
	if title == "" {
		title = filename
	}
	info := vf.ItemInfo{
		FetchItem: vf.FetchItem{ID: reference, Title: title, SourceRef: reference},
		Uploader:  "Unknown",
	}
	return &vf.Reference{Kind: vf.ReferenceSingle, Title: title, Items: []vf.ItemInfo{info}}, nil
}

func (e *Engine) FetchMedia(ctx context.Context, sourceRef string, opts vf.EngineOptions, outputTemplate string, onProgress vf.ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(vf.Event) {}
	}
	_, extension, err := e.config.parse(sourceRef)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceRef, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("HTTP error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		return fmt.Errorf("%w: %v", vf.ClassifyMessage(message), message)
	}

	source := fmt.Sprintf("%s.source.%s", outputTemplate, extension)
	defer os.Remove(source)
	// Post-processing is reported as part of the download, so hold back the engine's own "finished"
	err = vf.SaveStream(ctx, source, resp.Body, max(resp.ContentLength, 0), func(event vf.Event) {
		if event.Status == vf.EventFinished {
			return
		}
		onProgress(event)
	})
	if err != nil {
		return err
	}
	output, err := toolchain.PostProcess(ctx, e.run, opts, []string{source}, outputTemplate)
	if err != nil {
		return err
	}
	e.log.Debugf("Post-processed %v into %v", source, output)
	onProgress(vf.Event{Status: vf.EventFinished, PercentString: "100.0%"})
	return nil
}
