package downloader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DuplicatePolicy decides what happens when an output file already exists.
type DuplicatePolicy string

const (
	DuplicatePolicyOverwrite DuplicatePolicy = "overwrite"
	DuplicatePolicySkip      DuplicatePolicy = "skip"
	DuplicatePolicyRename    DuplicatePolicy = "rename"
)

const maxRenameAttempts = 1000

func normalizeDuplicateToken(v string) string {
	s := strings.TrimSpace(strings.ToLower(v))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// ParseDuplicatePolicy accepts overwrite, skip or rename. Empty means
// overwrite, which is what the remuxer does on its own.
func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch normalizeDuplicateToken(raw) {
	case "", string(DuplicatePolicyOverwrite):
		return DuplicatePolicyOverwrite, nil
	case string(DuplicatePolicySkip):
		return DuplicatePolicySkip, nil
	case string(DuplicatePolicyRename):
		return DuplicatePolicyRename, nil
	default:
		return "", fmt.Errorf("invalid on-exists policy: %q", raw)
	}
}

// OutputSet tracks the output paths handed out during one run so that two
// jobs never write the same file.
type OutputSet struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewOutputSet() *OutputSet {
	return &OutputSet{claimed: make(map[string]struct{})}
}

// Resolve applies policy to output and claims the resulting path. skip is
// true when the job should not run at all.
func (s *OutputSet) Resolve(output string, policy DuplicatePolicy) (path string, skip bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := filepath.Clean(output)
	_, taken := s.claimed[key]
	switch {
	case taken && policy != DuplicatePolicyRename:
		return "", false, wrapCategory(CategoryFilesystem, fmt.Errorf("output %s is already used by another job", output))
	case !taken && !outputExists(output):
		s.claimed[key] = struct{}{}
		return output, false, nil
	}

	switch policy {
	case DuplicatePolicySkip:
		return output, true, nil
	case DuplicatePolicyRename:
		ext := filepath.Ext(output)
		stem := strings.TrimSuffix(output, ext)
		for n := 1; n <= maxRenameAttempts; n++ {
			candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
			if _, used := s.claimed[filepath.Clean(candidate)]; used || outputExists(candidate) {
				continue
			}
			s.claimed[filepath.Clean(candidate)] = struct{}{}
			return candidate, false, nil
		}
		return "", false, wrapCategory(CategoryFilesystem, fmt.Errorf("no free name for %s", output))
	default:
		s.claimed[key] = struct{}{}
		return output, false, nil
	}
}

// outputExists reports whether output or its raw-concatenation fallback is
// already on disk.
func outputExists(output string) bool {
	for _, path := range []string{output, fallbackOutputPath(output)} {
		if _, err := os.Stat(path); err == nil || !errors.Is(err, os.ErrNotExist) {
			return true
		}
	}
	return false
}
