// Package hls parses HLS playlists and resolves their encryption keys.
package hls

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	tagStreamInf     = "#EXT-X-STREAM-INF:"
	tagKey           = "#EXT-X-KEY:"
	tagInf           = "#EXTINF:"
	tagMediaSequence = "#EXT-X-MEDIA-SEQUENCE:"
	tagEndList       = "#EXT-X-ENDLIST"
)

// ErrEmptyPlaylist is returned when a playlist yields neither variants nor
// segments.
var ErrEmptyPlaylist = errors.New("playlist contains no variants and no segments")

// Variant is one entry of a master playlist.
type Variant struct {
	Bandwidth  int
	URI        string
	Resolution string
	Codecs     string
}

// SegmentRef is one media segment reference in playlist order.
type SegmentRef struct {
	URI      string
	Duration float64
	Key      *EncryptionKey
}

// Playlist is the parsed form of either a master or a media playlist.
type Playlist struct {
	Variants      []Variant
	Segments      []SegmentRef
	MediaSequence int64
	EndList       bool
}

// IsMaster reports whether the playlist only references other playlists.
func (p *Playlist) IsMaster() bool {
	return len(p.Variants) > 0 && len(p.Segments) == 0
}

// Keys returns the distinct keys referenced by the segments, in order of
// first use.
func (p *Playlist) Keys() []*EncryptionKey {
	var keys []*EncryptionKey
	seen := map[*EncryptionKey]bool{}
	for _, seg := range p.Segments {
		if seg.Key == nil || seen[seg.Key] {
			continue
		}
		seen[seg.Key] = true
		keys = append(keys, seg.Key)
	}
	return keys
}

// TotalDuration sums the #EXTINF durations of all segments.
func (p *Playlist) TotalDuration() float64 {
	var total float64
	for _, seg := range p.Segments {
		total += seg.Duration
	}
	return total
}

// Parse reads playlist text fetched from baseURL. Relative references are
// resolved against baseURL.
func Parse(text string, baseURL string) (*Playlist, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}

	playlist := &Playlist{}
	keys := map[string]*EncryptionKey{}
	var currentKey *EncryptionKey
	var pendingVariant *Variant
	var lastDuration float64

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, tagStreamInf):
			attrs := parseAttributes(strings.TrimPrefix(line, tagStreamInf))
			pendingVariant = &Variant{
				Bandwidth:  parseInt(attrs["BANDWIDTH"]),
				Resolution: attrs["RESOLUTION"],
				Codecs:     attrs["CODECS"],
			}
			continue
		case strings.HasPrefix(line, tagKey):
			attrs := parseAttributes(strings.TrimPrefix(line, tagKey))
			currentKey = internKey(keys, newKey(attrs, base))
			continue
		case strings.HasPrefix(line, tagInf):
			durationText := strings.TrimPrefix(line, tagInf)
			if i := strings.IndexByte(durationText, ','); i >= 0 {
				durationText = durationText[:i]
			}
			if duration, err := strconv.ParseFloat(strings.TrimSpace(durationText), 64); err == nil {
				lastDuration = duration
			}
			continue
		case strings.HasPrefix(line, tagMediaSequence):
			if seq, err := strconv.ParseInt(strings.TrimPrefix(line, tagMediaSequence), 10, 64); err == nil {
				playlist.MediaSequence = seq
			}
			continue
		case line == tagEndList:
			playlist.EndList = true
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		if pendingVariant != nil {
			pendingVariant.URI = resolve(base, line)
			playlist.Variants = append(playlist.Variants, *pendingVariant)
			pendingVariant = nil
			continue
		}

		playlist.Segments = append(playlist.Segments, SegmentRef{
			URI:      resolve(base, line),
			Duration: lastDuration,
			Key:      currentKey,
		})
		lastDuration = 0
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}

	if len(playlist.Variants) == 0 && len(playlist.Segments) == 0 {
		return nil, ErrEmptyPlaylist
	}
	return playlist, nil
}

// internKey returns the previously seen key with the same descriptor, so
// repeated identical key tags share one material cell. A nil key (METHOD=NONE)
// is passed through.
func internKey(keys map[string]*EncryptionKey, key *EncryptionKey) *EncryptionKey {
	if key == nil {
		return nil
	}
	id := key.descriptor()
	if existing, ok := keys[id]; ok {
		return existing
	}
	keys[id] = key
	return key
}

func resolve(base *url.URL, ref string) string {
	rel, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(rel).String()
}

func parseInt(value string) int {
	if value == "" {
		return 0
	}
	num, _ := strconv.Atoi(value)
	return num
}
