// Package downloader fetches HLS media segments and assembles them into a
// single output file.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lvcoi/m3u8-dl/internal/hls"
)

// Options configures a Downloader.
type Options struct {
	HTTP    HTTPConfig
	Workers int
	Retries int
	// RetryBackoff is multiplied by the attempt number between segment
	// attempts. Zero retries immediately.
	RetryBackoff time.Duration
}

// Request describes one acquisition.
type Request struct {
	URL     string
	Output  string
	WorkDir string
	// KeepSegments leaves the working directory in place after success.
	KeepSegments bool
	// Label is shown in progress output; defaults to the output path.
	Label    string
	Reporter Reporter
	// Logger replaces the downloader's logger for this request.
	Logger *log.Logger
}

// Result summarizes a finished acquisition.
type Result struct {
	Output   string
	Strategy string
	Bytes    int64
	Segments int
	Skipped  int
	Variant  *hls.Variant
	Duration float64
	Elapsed  time.Duration
}

// PlaylistSource fetches playlist text and the URL it was served from.
type PlaylistSource interface {
	FetchText(ctx context.Context, url string) (string, string, error)
}

// Transport is everything the pipeline needs from the network.
type Transport interface {
	PlaylistSource
	SegmentSource
	hls.KeyFetcher
}

// Downloader runs the acquisition pipeline: playlist, variant, keys, segment
// fetch, assembly.
type Downloader struct {
	transport Transport
	remuxer   Remuxer
	logger    *log.Logger
	opts      Options
}

// New builds a Downloader around its own HTTP client.
func New(opts Options, remuxer Remuxer, logger *log.Logger) *Downloader {
	if opts.HTTP.MaxConnsPerHost < opts.Workers {
		opts.HTTP.MaxConnsPerHost = opts.Workers
	}
	return NewWithTransport(NewClient(opts.HTTP), opts, remuxer, logger)
}

// NewWithTransport builds a Downloader over an existing transport.
func NewWithTransport(transport Transport, opts Options, remuxer Remuxer, logger *log.Logger) *Downloader {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.Retries < 1 {
		opts.Retries = defaultSegmentRetries
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	return &Downloader{transport: transport, remuxer: remuxer, logger: orDiscard(logger), opts: opts}
}

// Acquire downloads the stream behind req.URL into req.Output. Either every
// segment is fetched and assembled, or an error describes what failed; no
// partial output is assembled.
func (d *Downloader) Acquire(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	playlistURL, err := validateInputURL(req.URL)
	if err != nil {
		return Result{}, err
	}
	if req.Output == "" {
		return Result{}, wrapCategory(CategoryInvalidURL, errors.New("output path is required"))
	}
	if req.WorkDir == "" {
		req.WorkDir = req.Output + "_temp"
	}
	if req.Label == "" {
		req.Label = req.Output
	}
	logger := d.logger
	if req.Logger != nil {
		logger = req.Logger
	}
	logger = logger.With("name", req.Label)

	media, variant, err := d.resolveMedia(ctx, playlistURL, logger)
	if err != nil {
		return Result{}, err
	}
	for _, key := range media.Keys() {
		if err := key.Supported(); err != nil {
			return Result{}, wrapCategory(CategoryDecryption, err)
		}
		if key.IV == nil {
			logger.Warn("key has no IV, using zero IV", "key", key.URI)
		}
	}
	if !media.EndList {
		logger.Warn("playlist has no ENDLIST tag; only the segments listed now are fetched")
	}

	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return Result{}, wrapCategory(CategoryFilesystem, fmt.Errorf("creating working directory: %w", err))
	}
	segments := PlanSegments(media.Segments, req.WorkDir)
	logger.Info("fetching segments", "count", len(segments), "workers", d.opts.Workers, "workdir", req.WorkDir)

	fetcher := &SegmentFetcher{
		Source:  d.transport,
		Keys:    hls.NewKeyResolver(d.transport),
		Retries: d.opts.Retries,
		Backoff: d.opts.RetryBackoff,
	}
	coordinator := &Coordinator{Fetcher: fetcher, Workers: d.opts.Workers, Reporter: req.Reporter}
	outcomes, err := coordinator.Run(ctx, req.Label, segments)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, wrapCategory(CategoryInterrupted, ctx.Err())
		}
		return Result{}, err
	}

	assembler := &Assembler{Remuxer: d.remuxer, Logger: logger}
	assembled, err := assembler.Assemble(ctx, segments, req.WorkDir, req.Output)
	if err != nil {
		return Result{}, err
	}

	if !req.KeepSegments {
		if err := os.RemoveAll(req.WorkDir); err != nil {
			logger.Warn("removing working directory", "path", req.WorkDir, "err", err)
		}
	}

	result := Result{
		Output:   assembled.Path,
		Strategy: assembled.Strategy,
		Bytes:    assembled.Bytes,
		Segments: len(segments),
		Variant:  variant,
		Duration: media.TotalDuration(),
		Elapsed:  time.Since(started),
	}
	for _, outcome := range outcomes {
		if outcome.Skipped {
			result.Skipped++
		}
	}
	logger.Info("complete", "output", result.Output, "strategy", result.Strategy, "size", humanBytes(result.Bytes))
	return result, nil
}

// resolveMedia fetches the playlist and, for a master playlist, follows the
// highest-bandwidth variant to its media playlist.
func (d *Downloader) resolveMedia(ctx context.Context, playlistURL string, logger *log.Logger) (*hls.Playlist, *hls.Variant, error) {
	playlist, base, err := d.fetchPlaylist(ctx, playlistURL)
	if err != nil {
		return nil, nil, err
	}
	if !playlist.IsMaster() {
		return playlist, nil, nil
	}

	variant, _ := hls.SelectVariant(playlist.Variants)
	logger.Info("selected variant",
		"bandwidth", variant.Bandwidth,
		"resolution", variant.Resolution,
		"variants", len(playlist.Variants),
	)
	logger.Debug("variant url", "url", variant.URI, "master", base)

	media, _, err := d.fetchPlaylist(ctx, variant.URI)
	if err != nil {
		return nil, nil, err
	}
	if media.IsMaster() || len(media.Segments) == 0 {
		return nil, nil, wrapCategory(CategoryPlaylist, fmt.Errorf("variant %s has no segments", variant.URI))
	}
	return media, &variant, nil
}

func (d *Downloader) fetchPlaylist(ctx context.Context, rawURL string) (*hls.Playlist, string, error) {
	text, base, err := d.transport.FetchText(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", wrapCategory(CategoryInterrupted, ctx.Err())
		}
		return nil, "", wrapCategory(CategoryNetwork, fmt.Errorf("fetching playlist %s: %w", rawURL, err))
	}
	playlist, err := hls.Parse(text, base)
	if err != nil {
		return nil, "", wrapCategory(CategoryPlaylist, fmt.Errorf("parsing playlist %s: %w", rawURL, err))
	}
	return playlist, base, nil
}

func orDiscard(logger *log.Logger) *log.Logger {
	if logger != nil {
		return logger
	}
	return log.New(io.Discard)
}
