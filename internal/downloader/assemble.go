package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Assembly strategies.
const (
	StrategyRemux    = "remux"
	StrategyFallback = "fallback"
)

// Remuxer joins segment files listed in a concat manifest into output
// without re-encoding.
type Remuxer interface {
	Available() bool
	Remux(ctx context.Context, manifest, output string) error
}

// FFmpegRemuxer remuxes with the ffmpeg concat demuxer and stream copy.
type FFmpegRemuxer struct {
	Path string
}

func NewFFmpegRemuxer(path string) *FFmpegRemuxer {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegRemuxer{Path: path}
}

// Available reports whether the ffmpeg binary can be found.
func (r *FFmpegRemuxer) Available() bool {
	_, err := exec.LookPath(r.Path)
	return err == nil
}

func (r *FFmpegRemuxer) args(manifest, output string) []string {
	return ffmpeg.Input(manifest, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
		Output(output, ffmpeg.KwArgs{"c": "copy"}).
		GlobalArgs("-hide_banner", "-loglevel", "error").
		OverWriteOutput().
		GetArgs()
}

func (r *FFmpegRemuxer) Remux(ctx context.Context, manifest, output string) error {
	binary, err := exec.LookPath(r.Path)
	if err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, r.args(manifest, output)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// AssembleResult describes the produced file.
type AssembleResult struct {
	Path     string
	Strategy string
	Bytes    int64
}

// Assembler merges fetched segments into the final output.
type Assembler struct {
	Remuxer Remuxer
	Logger  *log.Logger
}

// Assemble merges segments, which must be complete and in index order. The
// remuxer is tried first; raw concatenation is the fallback.
func (a *Assembler) Assemble(ctx context.Context, segments []Segment, workDir, output string) (AssembleResult, error) {
	if len(segments) == 0 {
		return AssembleResult{}, wrapCategory(CategoryAssembly, errors.New("no segments to assemble"))
	}
	if dir := filepath.Dir(output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return AssembleResult{}, wrapCategory(CategoryFilesystem, fmt.Errorf("creating output directory: %w", err))
		}
	}

	var remuxErr error
	if a.Remuxer != nil && a.Remuxer.Available() {
		remuxErr = a.remux(ctx, segments, workDir, output)
		if remuxErr == nil {
			return finished(output, StrategyRemux)
		}
		if ctx.Err() != nil {
			return AssembleResult{}, ctx.Err()
		}
		_ = os.Remove(output)
		orDiscard(a.Logger).Warn("remux failed, concatenating segments", "err", remuxErr)
	} else {
		orDiscard(a.Logger).Warn("ffmpeg not available, concatenating segments")
	}

	target := fallbackOutputPath(output)
	if err := concatenate(segments, target); err != nil {
		if remuxErr != nil {
			err = fmt.Errorf("%w (remux: %v)", err, remuxErr)
		}
		return AssembleResult{}, wrapCategory(CategoryAssembly, err)
	}
	if err := validateMPEGTS(target); err != nil {
		orDiscard(a.Logger).Warn("output does not look like MPEG-TS", "path", target, "err", err)
	}
	return finished(target, StrategyFallback)
}

func (a *Assembler) remux(ctx context.Context, segments []Segment, workDir, output string) error {
	manifest, err := writeConcatManifest(segments, workDir)
	if err != nil {
		return err
	}
	defer os.Remove(manifest)
	return a.Remuxer.Remux(ctx, manifest, output)
}

func finished(path, strategy string) (AssembleResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return AssembleResult{}, wrapCategory(CategoryAssembly, fmt.Errorf("output missing after %s: %w", strategy, err))
	}
	return AssembleResult{Path: path, Strategy: strategy, Bytes: info.Size()}, nil
}

// writeConcatManifest writes an ffmpeg concat list into workDir and returns
// its path.
func writeConcatManifest(segments []Segment, workDir string) (string, error) {
	file, err := os.CreateTemp(workDir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating concat manifest: %w", err)
	}
	defer file.Close()

	for _, seg := range segments {
		abs, err := filepath.Abs(seg.Path)
		if err != nil {
			_ = os.Remove(file.Name())
			return "", err
		}
		if _, err := fmt.Fprintf(file, "file '%s'\n", quoteConcatPath(abs)); err != nil {
			_ = os.Remove(file.Name())
			return "", fmt.Errorf("writing concat manifest: %w", err)
		}
	}
	return file.Name(), nil
}

// quoteConcatPath escapes a path for a single-quoted concat directive.
func quoteConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// concatenate appends segment bytes in index order to a staged file and
// renames it to target.
func concatenate(segments []Segment, target string) error {
	tmp := target + partSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	for _, seg := range segments {
		if err := appendFile(out, seg.Path); err != nil {
			out.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming output: %w", err)
	}
	return nil
}

func appendFile(dst io.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer in.Close()
	if _, err := io.Copy(dst, in); err != nil {
		return fmt.Errorf("copying %s: %w", filepath.Base(path), err)
	}
	return nil
}
