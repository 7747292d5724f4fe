package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	vf "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/async"
	"github.com/alanbriolat/video-fetcher/internal/config"
	"github.com/alanbriolat/video-fetcher/providers"
)

func main() {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.Level.SetLevel(zapcore.InfoLevel)
	logger, err := logConfig.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = vf.WithLogger(ctx, logger)

	app := &cli.App{
		Name:        "video-fetcher",
		Usage:       "fetch videos and playlists, as video or audio",
		Description: envDescription(),
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:  "config",
				Usage: "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log at `LEVEL` (debug, info, warn, error)",
			},
			&cli.PathFlag{
				Name:  "history",
				Usage: "record batches in the database at `FILE`",
			},
			&cli.PathFlag{
				Name:  "temp-dir",
				Usage: "create work directories under `DIR`",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.Path("config"))
			if err != nil {
				return err
			}
			if c.IsSet("log-level") {
				cfg.LogLevel = c.String("log-level")
			}
			if c.IsSet("history") {
				cfg.HistoryPath = c.Path("history")
			}
			if c.IsSet("temp-dir") {
				cfg.TempDir = c.Path("temp-dir")
			}
			level, err := zapcore.ParseLevel(cfg.LogLevel)
			if err != nil {
				return &vf.ValidationError{Field: "log level", Value: cfg.LogLevel}
			}
			logConfig.Level.SetLevel(level)
			if err := providers.Register(&vf.DefaultProviderRegistry, providers.Config{YtDlpBinary: cfg.Engine.YtDlpBinary}); err != nil {
				return err
			}
			c.App.Metadata["config"] = cfg
			return nil
		},
		Commands: []*cli.Command{
			previewCommand(ctx),
			fetchCommand(ctx),
			getCommand(ctx),
			historyCommand(),
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		stop()
		logger.Info("Interrupted, waiting for running fetches to stop...")
		err = <-result
		if err != nil {
			logger.Fatal(err.Error())
		}
	}
}

func getConfig(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

func envDescription() string {
	usage, err := config.Usage()
	if err != nil {
		return ""
	}
	return usage
}
