// Package cli wires configuration, logging, progress output and the batch
// runner behind the m3u8-dl command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/lvcoi/m3u8-dl/internal/app"
	"github.com/lvcoi/m3u8-dl/internal/config"
	"github.com/lvcoi/m3u8-dl/internal/db"
	"github.com/lvcoi/m3u8-dl/internal/downloader"
)

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the command with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	if !downloader.IsReported(err) {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return downloader.ExitCode(err)
}

// NewRootCommand builds the m3u8-dl command.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "m3u8-dl [flags] <url> [name]",
		Short: "Download HLS streams into a single media file",
		Long: `m3u8-dl fetches an HLS playlist, follows the highest-bandwidth variant,
downloads every segment concurrently (decrypting AES-128 when required) and
remuxes the result into one file with ffmpeg, falling back to a raw MPEG-TS
concatenation when ffmpeg is unavailable.

Several streams can be listed in a YAML job file passed with --jobs-file.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(2)(cmd, args); err != nil {
				return usageError(err.Error())
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, args, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err.Error())
	})

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&configPath, "config", "", "config file (default: $HOME/.config/m3u8-dl/m3u8-dl.yaml or ./m3u8-dl.yaml)")
	persistent.String("history", "", "SQLite file recording every download (disabled when empty)")
	persistent.String("log-level", "info", "log level: debug, info, warn, error")

	flags := cmd.Flags()
	flags.Int("workers", 16, "concurrent segment downloads per stream")
	flags.Int("retries", 5, "attempts per segment")
	flags.Duration("retry-backoff", 300*time.Millisecond, "delay multiplied by the attempt number between segment attempts")
	flags.Bool("keep-segments", true, "keep the working directory after a successful download")
	flags.String("workdir", "", "working directory for segments (a parent directory with --jobs-file)")
	flags.StringP("output", "o", "", "output file (default: <name>.mp4)")
	flags.String("on-exists", "overwrite", "when the output exists: overwrite, skip, rename")
	flags.String("ffmpeg", "ffmpeg", "ffmpeg binary used for remuxing")
	flags.String("user-agent", "m3u8-downloader/1.0", "User-Agent header")
	flags.String("progress", config.ProgressAuto, "progress display: auto, tui, log, none")
	flags.Int("jobs", 1, "streams downloaded at the same time")
	flags.String("jobs-file", "", "YAML file listing streams to download")

	cmd.AddCommand(newHistoryCommand(&configPath, stdout))
	return cmd
}

func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	v := config.New()
	if err := config.ReadFile(v, configPath); err != nil {
		return nil, err
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func run(parent context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	jobs, err := buildJobs(cfg, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mode := progressMode(cfg.Progress, stderr)
	var manager *downloader.ProgressManager
	logOut := stderr
	if mode == config.ProgressTUI {
		manager = downloader.NewProgressManager(stderr, cancel)
		manager.Start(ctx)
		defer manager.Stop()
		logOut = manager
	}
	logger := newLogger(logOut, cfg.Level())

	remuxer := downloader.NewFFmpegRemuxer(cfg.FFmpegPath)
	if !remuxer.Available() {
		logger.Warn("ffmpeg not found, output will be concatenated MPEG-TS", "path", cfg.FFmpegPath)
	}
	dl := downloader.New(cfg.DownloaderOptions(), remuxer, logger)

	policy, err := downloader.ParseDuplicatePolicy(cfg.OnExists)
	if err != nil {
		return err
	}
	opts := app.Options{
		Acquirer:     dl,
		Logger:       logger,
		Jobs:         cfg.Jobs,
		KeepSegments: cfg.KeepSegments,
		OnExists:     policy,
	}
	if cfg.JobsFile != "" {
		opts.WorkRoot = cfg.WorkDir
	}
	if cfg.History != "" {
		history, err := db.Open(cfg.History)
		if err != nil {
			logger.Warn("history disabled", "path", cfg.History, "err", err)
		} else {
			defer history.Close()
			opts.History = history
		}
	}
	switch mode {
	case config.ProgressTUI:
		opts.Reporter = func(string) downloader.Reporter { return manager.Reporter() }
	case config.ProgressLog:
		opts.Reporter = func(string) downloader.Reporter { return downloader.NewLogReporter(logger) }
	}
	if mode != config.ProgressTUI {
		opts.Printer = downloader.NewPrinter(stdout, terminalColumns())
	}

	results, code := app.Run(ctx, jobs, opts)
	if manager != nil {
		manager.Stop()
		app.PrintResults(downloader.NewPrinter(stdout, terminalColumns()), results, len(jobs))
	}
	for _, res := range results {
		if res.Err != nil && !downloader.IsReported(res.Err) {
			fmt.Fprintf(stderr, "error: %s: %v\n", res.URL, res.Err)
		}
	}
	if code != 0 {
		return exitError{code: code}
	}
	return nil
}

// buildJobs turns the job file or the positional url and name into jobs.
func buildJobs(cfg *config.Config, args []string) ([]config.Job, error) {
	if cfg.JobsFile != "" {
		if len(args) > 0 {
			return nil, usageError("positional arguments cannot be combined with --jobs-file")
		}
		if cfg.Output != "" {
			return nil, usageError("--output cannot be combined with --jobs-file")
		}
		return config.LoadJobs(cfg.JobsFile)
	}
	if len(args) == 0 {
		return nil, usageError("no url provided")
	}
	job := config.Job{URL: args[0], Output: cfg.Output, WorkDir: cfg.WorkDir}
	if len(args) > 1 {
		job.Name = args[1]
	}
	return []config.Job{job}, nil
}

func usageError(msg string) error {
	return downloader.CategorizedError{Category: downloader.CategoryInvalidURL, Err: errors.New(msg)}
}

func newLogger(out io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
}
