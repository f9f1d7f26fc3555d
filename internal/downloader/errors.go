package downloader

import (
	"context"
	"errors"

	"github.com/lvcoi/m3u8-dl/internal/hls"
)

// ErrorCategory groups failures for exit codes and reporting.
type ErrorCategory string

const (
	CategoryInvalidURL   ErrorCategory = "invalid_url"
	CategoryPlaylist     ErrorCategory = "playlist"
	CategoryKeyFetch     ErrorCategory = "key_fetch"
	CategorySegmentFetch ErrorCategory = "segment_fetch"
	CategoryNetwork      ErrorCategory = "network"
	CategoryDecryption   ErrorCategory = "decryption"
	CategoryAssembly     ErrorCategory = "assembly"
	CategoryFilesystem   ErrorCategory = "filesystem"
	CategoryInterrupted  ErrorCategory = "interrupted"
	CategoryUnknown      ErrorCategory = "unknown"
)

// CategorizedError attaches a category to an underlying error.
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

func (e CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e CategorizedError) Unwrap() error {
	return e.Err
}

func wrapCategory(category ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	var existing CategorizedError
	if errors.As(err, &existing) {
		return err
	}
	return CategorizedError{Category: category, Err: err}
}

// CategoryOf classifies err. Explicit categories win; otherwise the error is
// matched against the sentinel and typed errors of the pipeline.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return CategoryInterrupted
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.KeyOnly() {
			return CategoryKeyFetch
		}
		return CategorySegmentFetch
	}
	var categorized CategorizedError
	if errors.As(err, &categorized) {
		return categorized.Category
	}
	var keyErr *hls.KeyError
	switch {
	case errors.As(err, &keyErr):
		return CategoryKeyFetch
	case errors.Is(err, hls.ErrDecryptionUnavailable):
		return CategoryDecryption
	case errors.Is(err, hls.ErrEmptyPlaylist):
		return CategoryPlaylist
	}
	return CategoryUnknown
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CategoryOf(err) {
	case CategoryInvalidURL:
		return 2
	case CategoryPlaylist:
		return 3
	case CategoryKeyFetch, CategorySegmentFetch, CategoryNetwork:
		return 4
	case CategoryDecryption:
		return 5
	case CategoryAssembly:
		return 6
	case CategoryFilesystem:
		return 7
	case CategoryInterrupted:
		return 130
	default:
		return 1
	}
}

type reportedError struct {
	err error
}

func (e reportedError) Error() string {
	return e.err.Error()
}

func (e reportedError) Unwrap() error {
	return e.err
}

// MarkReported wraps err to record that it has already been logged.
func MarkReported(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err: err}
}

// IsReported returns true if the error has already been logged.
func IsReported(err error) bool {
	var re reportedError
	return errors.As(err, &re)
}
