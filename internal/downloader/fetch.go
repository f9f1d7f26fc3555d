package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lvcoi/m3u8-dl/internal/hls"
)

const (
	defaultSegmentRetries = 5
	partSuffix            = ".part"
)

// Segment is one unit of fetch work.
type Segment struct {
	Index int
	URL   string
	Path  string
	Key   *hls.EncryptionKey
}

// FetchOutcome is the result of fetching one segment.
type FetchOutcome struct {
	Index int
	URL   string
	OK    bool
	Path  string
	Err   error
	// Skipped is set when the destination already existed.
	Skipped bool
	Bytes   int64
}

// SegmentName is the working-directory file name for a segment index.
func SegmentName(index int) string {
	return fmt.Sprintf("%06d.ts", index)
}

// PlanSegments maps parsed segment references onto files in workDir.
func PlanSegments(refs []hls.SegmentRef, workDir string) []Segment {
	segments := make([]Segment, len(refs))
	for i, ref := range refs {
		segments[i] = Segment{
			Index: i,
			URL:   ref.URI,
			Path:  filepath.Join(workDir, SegmentName(i)),
			Key:   ref.Key,
		}
	}
	return segments
}

// SegmentSource performs one segment GET.
type SegmentSource interface {
	FetchSegment(ctx context.Context, url string) ([]byte, error)
}

// SegmentFetcher downloads, decrypts and stores a single segment.
type SegmentFetcher struct {
	Source  SegmentSource
	Keys    *hls.KeyResolver
	Retries int
	// Backoff is multiplied by the attempt number between attempts.
	Backoff time.Duration
}

// NewSegmentFetcher returns a fetcher with the default retry budget.
func NewSegmentFetcher(source SegmentSource, keys *hls.KeyResolver) *SegmentFetcher {
	return &SegmentFetcher{
		Source:  source,
		Keys:    keys,
		Retries: defaultSegmentRetries,
		Backoff: 300 * time.Millisecond,
	}
}

// Fetch never returns an error; every failure is carried by the outcome.
func (f *SegmentFetcher) Fetch(ctx context.Context, seg Segment) FetchOutcome {
	outcome := FetchOutcome{Index: seg.Index, URL: seg.URL, Path: seg.Path}

	if info, err := os.Stat(seg.Path); err == nil && info.Mode().IsRegular() {
		outcome.OK = true
		outcome.Skipped = true
		outcome.Bytes = info.Size()
		return outcome
	}

	retries := f.Retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			if err := sleepWithContext(ctx, time.Duration(attempt-1)*f.Backoff); err != nil {
				lastErr = err
				break
			}
		}
		n, err := f.attempt(ctx, seg)
		if err == nil {
			outcome.OK = true
			outcome.Bytes = n
			return outcome
		}
		lastErr = err

		var keyErr *hls.KeyError
		if errors.As(err, &keyErr) || errors.Is(err, hls.ErrDecryptionUnavailable) || ctx.Err() != nil {
			break
		}
	}
	outcome.Err = lastErr
	return outcome
}

func (f *SegmentFetcher) attempt(ctx context.Context, seg Segment) (int64, error) {
	var material []byte
	if seg.Key != nil {
		var err error
		material, err = f.Keys.Resolve(ctx, seg.Key)
		if err != nil {
			return 0, err
		}
	}

	data, err := f.Source.FetchSegment(ctx, seg.URL)
	if err != nil {
		return 0, err
	}
	if seg.Key != nil {
		data, err = seg.Key.Decrypt(material, data)
		if err != nil {
			return 0, fmt.Errorf("decrypting segment: %w", err)
		}
	}
	if err := writeAtomic(seg.Path, data); err != nil {
		return 0, wrapCategory(CategoryFilesystem, err)
	}
	return int64(len(data)), nil
}

// writeAtomic stages data next to path and renames it into place, so a
// present destination is always complete.
func writeAtomic(path string, data []byte) error {
	tmp := path + partSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
