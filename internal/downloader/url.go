package downloader

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

var genericPlaylistNames = map[string]bool{
	"":           true,
	"index":      true,
	"playlist":   true,
	"master":     true,
	"prog_index": true,
	"chunklist":  true,
}

func validateInputURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("invalid URL: %w", err))
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("invalid URL: missing scheme or host"))
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("unsupported URL scheme: %s", parsed.Scheme))
	}
	return parsed.String(), nil
}

// DeriveName picks an output base name for a playlist URL when none was
// given: the playlist file name without extension, or its directory name when
// the file name is generic such as "index".
func DeriveName(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "output"
	}
	dir, file := path.Split(parsed.Path)
	name := strings.TrimSuffix(file, path.Ext(file))
	if genericPlaylistNames[strings.ToLower(name)] {
		name = path.Base(strings.TrimSuffix(dir, "/"))
	}
	name = strings.Trim(unsafeNameChars.ReplaceAllString(name, "_"), "._")
	if name == "" || name == "/" {
		return "output"
	}
	return name
}
