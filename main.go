package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"ytaudio/internal/caption"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ytaudio",
		Usage: "Extracts audio from video URLs and turns captions into plain text",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "optional .env file loaded before the environment",
				Value: ".env",
			},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "json or console"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			flattenCommand(),
			transcriptCommand(),
		},
	}
}

// loadConfig applies the global flags on top of the file and environment.
func loadConfig(c *cli.Context) (Config, error) {
	cfg, err := LoadConfig(c.String("env-file"))
	if err != nil {
		return Config{}, err
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
	return cfg, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "listen address"},
			&cli.StringFlag{Name: "public-url", Usage: "base URL used in download and status links"},
			&cli.StringFlag{Name: "output-dir", Aliases: []string{"od"}, Usage: "directory for converted audio"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "number of concurrent conversions"},
			&cli.StringFlag{Name: "redis", Usage: "Redis address; empty disables mirroring"},
			&cli.StringFlag{Name: "proxy", Usage: "proxy for yt-dlp and ffmpeg"},
			&cli.StringFlag{Name: "s3-bucket", Usage: "publish finished files to this bucket"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if c.IsSet("addr") {
				cfg.Addr = c.String("addr")
			}
			if c.IsSet("public-url") {
				cfg.PublicBaseURL = c.String("public-url")
			}
			if c.IsSet("output-dir") {
				cfg.OutputDir = c.String("output-dir")
			}
			if c.IsSet("workers") {
				cfg.Workers = c.Int("workers")
			}
			if c.IsSet("redis") {
				cfg.RedisAddr = c.String("redis")
			}
			if c.IsSet("proxy") {
				cfg.ProxyURL = c.String("proxy")
			}
			if c.IsSet("s3-bucket") {
				cfg.S3Bucket = c.String("s3-bucket")
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
			}
			return serve(c.Context, cfg)
		},
	}
}

func serve(parent context.Context, cfg Config) error {
	logger := NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("error creating downloads directory: %w", err)
	}

	media := NewToolchain(cfg, logger)
	for name, err := range media.Check() {
		if err != nil {
			logger.Warn().Err(err).Str("tool", name).Msg("tool missing; dependent endpoints will fail")
		}
	}

	store := NewJobStore(ConnectRedis(ctx, cfg, logger), cfg.JobTTL, logger)
	defer store.Close()

	var publisher Publisher
	if cfg.S3Bucket != "" {
		p, err := NewS3Publisher(ctx, cfg)
		if err != nil {
			return err
		}
		publisher = p
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("publishing finished files to S3")
	}

	return NewServer(cfg, logger, media, store, publisher).Run(ctx)
}

func flattenCommand() *cli.Command {
	return &cli.Command{
		Name:      "flatten",
		Usage:     "Flatten a WebVTT caption file to plain text",
		ArgsUsage: "[file]",
		Action: func(c *cli.Context) error {
			var in io.Reader = os.Stdin
			if c.NArg() > 0 && c.Args().First() != "-" {
				f, err := os.Open(c.Args().First())
				if err != nil {
					return cli.Exit(fmt.Sprintf("Failed to open %s: %v", c.Args().First(), err), 1)
				}
				defer f.Close()
				in = f
			}
			text, err := caption.Flattener{}.FlattenReader(in)
			if err != nil {
				return cli.Exit(fmt.Sprintf("Failed to read captions: %v", err), 1)
			}
			if text != "" {
				text += "\n"
			}
			_, err = io.WriteString(c.App.Writer, text)
			return err
		},
	}
}

func transcriptCommand() *cli.Command {
	return &cli.Command{
		Name:      "transcript",
		Usage:     "Download captions for a video and print them as plain text",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "langs", Aliases: []string{"l"}, Usage: "caption languages in preference order"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the transcript to this file"},
			&cli.StringFlag{Name: "proxy", Usage: "proxy for yt-dlp"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("Please provide a video URL", 1)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if langs := c.StringSlice("langs"); len(langs) > 0 {
				cfg.SubtitleLangs = langs
			}
			if c.IsSet("proxy") {
				cfg.ProxyURL = c.String("proxy")
			}
			logger := NewLogger(os.Stderr, cfg.LogLevel, "console")
			return runTranscript(c.Context, cfg, NewToolchain(cfg, logger), c.Args().First(), c.String("output"), c.App.Writer, logger)
		},
	}
}

func runTranscript(ctx context.Context, cfg Config, media MediaToolchain, videoURL, output string, stdout io.Writer, logger zerolog.Logger) error {
	tr, err := FetchTranscript(ctx, media, cfg.TempDir, cfg.SubtitleLangs, videoURL, logger)
	if err != nil {
		return cli.Exit(transcriptError(err, cfg.SubtitleLangs), 1)
	}
	text := tr.Text + "\n"
	if output == "" {
		_, err = io.WriteString(stdout, text)
		return err
	}
	if err := os.WriteFile(output, []byte(text), 0o644); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to write output: %v", err), 1)
	}
	logger.Info().Str("file", output).Str("lang", tr.Language).Str("title", tr.Title).Msg("transcript written")
	return nil
}
