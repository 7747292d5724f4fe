package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	vf "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/async"
	"github.com/alanbriolat/video-fetcher/batch"
	"github.com/alanbriolat/video-fetcher/download"
	"github.com/alanbriolat/video-fetcher/fetch"
	"github.com/alanbriolat/video-fetcher/generic"
	"github.com/alanbriolat/video-fetcher/internal/config"
	"github.com/alanbriolat/video-fetcher/internal/history"
	"github.com/alanbriolat/video-fetcher/progress"
	"github.com/alanbriolat/video-fetcher/providers"
	"github.com/alanbriolat/video-fetcher/toolchain"
)

var engineFlag = &cli.StringFlag{
	Name:  "engine",
	Usage: "use provider `NAME` for everything, instead of picking by reference",
}

var formatFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "mode",
		Usage: "fetch as `MODE` (video, audio)",
	},
	&cli.StringFlag{
		Name:  "quality",
		Usage: "maximum video `QUALITY` (240p ... 2160p, best)",
	},
	&cli.StringFlag{
		Name:  "audio-format",
		Usage: "extract audio as `CODEC` (mp3, m4a, wav, flac, aac)",
	},
	&cli.PathFlag{
		Name:  "output",
		Usage: "save results to `DIR`",
	},
}

func engine(c *cli.Context, cfg *config.Config) (vf.Engine, error) {
	name := cfg.Engine.Name
	if c.IsSet("engine") {
		name = c.String("engine")
	}
	return providers.Engine(&vf.DefaultProviderRegistry, name)
}

func formatOptions(c *cli.Context, cfg *config.Config) (vf.FormatOptions, error) {
	format := cfg.FormatOptions()
	if c.IsSet("mode") {
		format.Mode = vf.Mode(c.String("mode"))
	}
	if c.IsSet("quality") {
		format.VideoQuality = c.String("quality")
	}
	if c.IsSet("audio-format") {
		format.AudioFormat = c.String("audio-format")
	}
	format = format.WithDefaults()
	return format, format.Validate()
}

func outputDir(c *cli.Context, cfg *config.Config) string {
	if c.IsSet("output") {
		return c.Path("output")
	}
	return cfg.Fetch.OutputDir
}

func reference(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one REFERENCE")
	}
	return c.Args().First(), nil
}

func previewCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "show what a reference contains",
		ArgsUsage: "REFERENCE",
		Flags:     []cli.Flag{engineFlag},
		Action: func(c *cli.Context) error {
			cfg := getConfig(c)
			ref, err := reference(c)
			if err != nil {
				return err
			}
			e, err := engine(c, cfg)
			if err != nil {
				return err
			}
			resolved, err := async.Await(ctx, func() (*vf.Reference, error) { return e.Resolve(ctx, ref) })
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (%d items)\n", resolved.Kind, resolved.Title, len(resolved.Items))
			for i, info := range resolved.Items {
				fmt.Printf("%4d. %s [%v] by %s, %d views\n",
					i+1, info.Title, time.Duration(info.DurationSeconds)*time.Second, info.Uploader, info.ViewCount)
			}
			return nil
		},
	}
}

func fetchCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "fetch a video, or some or all of a playlist",
		ArgsUsage: "REFERENCE",
		Flags: append([]cli.Flag{
			engineFlag,
			&cli.StringFlag{
				Name:  "select",
				Usage: "fetch only playlist items `N,M,X-Y` (1-based)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "fetch at most `N` items at once (default: one per CPU)",
			},
		}, formatFlags...),
		Action: func(c *cli.Context) error {
			cfg := getConfig(c)
			log := zap.S()
			ref, err := reference(c)
			if err != nil {
				return err
			}
			format, err := formatOptions(c, cfg)
			if err != nil {
				return err
			}
			e, err := engine(c, cfg)
			if err != nil {
				return err
			}

			resolved, err := async.Await(ctx, func() (*vf.Reference, error) { return e.Resolve(ctx, ref) })
			if err != nil {
				return err
			}
			indices, err := vf.ParseSelection(c.String("select"), len(resolved.Items))
			if err != nil {
				return err
			}
			items, err := vf.SelectItems(resolved.FetchItems(), indices)
			if err != nil {
				return err
			}
			log.Infof("Fetching %d of %d item(s) from %q as %v", len(items), len(resolved.Items), resolved.Title, format)

			historyStore, closeHistory, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer closeHistory()

			maxWorkers := generic.None[int]()
			if c.IsSet("workers") {
				maxWorkers = generic.Some(c.Int("workers"))
			} else if cfg.Fetch.MaxWorkers > 0 {
				maxWorkers = generic.Some(cfg.Fetch.MaxWorkers)
			}

			store := progress.NewStore()
			display, err := showProgress(store, "fetching", func(s progress.Snapshot) bool {
				return s.ItemID == progress.AggregateID
			})
			if err != nil {
				return err
			}
			orchestrator := batch.New(
				fetch.New(e, toolchain.NewLocator()),
				batch.WithHistory(historyStore),
				batch.WithTempManager(download.NewManager(download.WithTempDir(cfg.TempDir))),
			)
			result, err := orchestrator.Run(ctx, items, batch.Options{
				Format:     format,
				MaxWorkers: maxWorkers,
				OutputDir:  outputDir(c, cfg),
				Progress:   store,
			})
			store.Close()
			display.Wait()
			if err != nil {
				var failed *batch.BatchFailedError
				if errors.As(err, &failed) {
					printFailures(failed.Failures, failed.Total)
				}
				return err
			}

			fmt.Printf("Saved %s\n", result.OutputPath)
			fmt.Printf("%d of %d item(s) fetched\n", len(result.SucceededPaths), result.TotalRequested)
			printFailures(result.Failures, result.TotalRequested)
			return nil
		},
	}
}

func printFailures(failures []batch.Failure, total int) {
	if len(failures) == 0 {
		return
	}
	fmt.Printf("%d of %d failed:\n", len(failures), total)
	for _, f := range failures {
		fmt.Printf("  %s: %s\n", f.ItemTitle, f.Error)
	}
}

func getCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "fetch a single video",
		ArgsUsage: "REFERENCE",
		Flags:     append([]cli.Flag{engineFlag}, formatFlags...),
		Action: func(c *cli.Context) error {
			cfg := getConfig(c)
			ref, err := reference(c)
			if err != nil {
				return err
			}
			format, err := formatOptions(c, cfg)
			if err != nil {
				return err
			}
			e, err := engine(c, cfg)
			if err != nil {
				return err
			}
			dst, err := download.OutputDir(outputDir(c, cfg))
			if err != nil {
				return err
			}

			store := progress.NewStore()
			display, err := showProgress(store, "downloading", func(s progress.Snapshot) bool {
				return s.ItemID != progress.AggregateID
			})
			if err != nil {
				return err
			}
			fetcher := fetch.New(e, toolchain.NewLocator(), fetch.WithProgress(store))
			manager := download.NewManager(download.WithTempDir(cfg.TempDir))
			var saved string
			err = manager.With(func(dir *download.WorkDir) error {
				path, err := fetcher.FetchReference(ctx, ref, format, dir)
				if err != nil {
					return err
				}
				saved, err = download.Relocate(path, dst)
				return err
			})
			store.Close()
			display.Wait()
			if err != nil {
				return err
			}
			fmt.Printf("Saved %s\n", saved)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list recorded batches",
		Action: func(c *cli.Context) error {
			cfg := getConfig(c)
			if cfg.HistoryPath == "" {
				return fmt.Errorf("no history database configured, use --history")
			}
			store, closeHistory, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer closeHistory()
			batches, err := store.ListBatches()
			if err != nil {
				return err
			}
			for _, b := range batches {
				fmt.Printf("%s  %s  %s  %d/%d fetched", b.StartedAt.Format(time.DateTime), b.ID, b.Format,
					len(b.SucceededPaths), b.TotalRequested)
				if b.Succeeded() {
					fmt.Printf("  -> %s\n", b.OutputPath)
				} else {
					fmt.Printf("  failed: %s\n", b.Error)
				}
			}
			return nil
		},
	}
}

func openHistory(cfg *config.Config) (history.Store, func(), error) {
	if cfg.HistoryPath == "" {
		return history.NilStore{}, func() {}, nil
	}
	db, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			zap.S().Warnf("Failed to close history database: %v", err)
		}
	}, nil
}
