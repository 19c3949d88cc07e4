// Package playlist implements the M3U8 master/media playlist parser and
// stream selector.
package playlist

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/brightwavehq/streamfetch/internal/classify"
	"github.com/brightwavehq/streamfetch/internal/model"
)

// Fetcher retrieves a URL's body as text. The engine satisfies it with a
// playlistFetcher adapter over its ConnectionPool; tests supply a
// map-backed fake.
type Fetcher interface {
	FetchText(url string) (string, error)
}

var (
	attrRegex = regexp.MustCompile(`([A-Z0-9-]+)=("([^"]*)"|[^,]*)`)
	m3u8URLRegex = regexp.MustCompile(`https?://[^\s"'<>]+\.m3u8[^\s"'<>]*`)
)

func parseAttrs(line string) map[string]string {
	out := make(map[string]string)
	for _, m := range attrRegex.FindAllStringSubmatch(line, -1) {
		key := m[1]
		val := m[3]
		if val == "" && m[2] != "" && m[2][0] != '"' {
			val = m[2]
		}
		out[key] = val
	}
	return out
}

func resolveURL(base, ref string) string {
	if ref == "" {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// DecompressBody returns body as text, transparently decompressing it first
// if its leading bytes match a known compressed-file signature. Some CDNs
// serve pre-compressed playlist objects directly (no Content-Encoding
// header), so this runs over the raw response bytes rather than relying on
// the HTTP client's transport-level decompression.
func DecompressBody(body []byte) (string, error) {
	var header [6]byte
	n := copy(header[:], body)

	var reader io.Reader = bytes.NewReader(body)
	switch {
	case n >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(reader)
		if err != nil {
			return "", fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case n >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		reader = bzip2.NewReader(reader)

	case n >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(reader)
		if err != nil {
			return "", fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("decompressing playlist body: %w", err)
	}
	return string(decoded), nil
}

// Parse parses playlist body (fetched from sourceURL) into an ordered,
// non-empty list of Streams.
func Parse(sourceURL, body string) ([]model.Stream, error) {
	lines := splitLines(body)
	if len(lines) == 0 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "#EXTM3U") {
		return nil, classify.Validation(classify.VariantPlaylistParse, "missing #EXTM3U header", nil)
	}

	hasStreamInf := containsTag(lines, "#EXT-X-STREAM-INF")
	hasExtinf := containsTag(lines, "#EXTINF")

	switch {
	case hasStreamInf:
		return parseMaster(sourceURL, lines)
	case hasExtinf:
		stream, err := parseMedia(sourceURL, lines, nil)
		if err != nil {
			return nil, err
		}
		return []model.Stream{stream}, nil
	default:
		return nil, classify.Validation(classify.VariantPlaylistParse, "no streams or segments found", nil)
	}
}

func splitLines(body string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func containsTag(lines []string, tag string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, tag) {
			return true
		}
	}
	return false
}

func parseMaster(sourceURL string, lines []string) ([]model.Stream, error) {
	var streams []model.Stream
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		attrs := parseAttrs(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))

		if i+1 >= len(lines) || strings.HasPrefix(lines[i+1], "#") {
			return nil, classify.Validation(classify.VariantPlaylistParse, "EXT-X-STREAM-INF not followed by a URI", nil)
		}
		uriLine := lines[i+1]
		i++

		bandwidth, _ := strconv.Atoi(attrs["BANDWIDTH"])
		streams = append(streams, model.Stream{
			Bandwidth:  bandwidth,
			Resolution: attrs["RESOLUTION"],
			Codecs:     attrs["CODECS"],
			Name:       attrs["NAME"],
			BaseURL:    resolveURL(sourceURL, uriLine),
		})
	}
	if len(streams) == 0 {
		return nil, classify.Validation(classify.VariantPlaylistParse, "master playlist declared no variants", nil)
	}
	return streams, nil
}

// parseMedia parses a media playlist into a single Stream. defaultEnc, if
// non-nil, seeds the encryption state (used when a master-then-media
// fetch is chained by the caller).
func parseMedia(sourceURL string, lines []string, defaultEnc *model.EncryptionDescriptor) (model.Stream, error) {
	stream := model.Stream{BaseURL: sourceURL}
	var currentEnc *model.EncryptionDescriptor = defaultEnc
	var pendingDuration float64
	discontinuityNext := false
	index := 0

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			attrs := parseAttrs(strings.TrimPrefix(line, "#EXT-X-KEY:"))
			method := attrs["METHOD"]
			if method == "NONE" || method == "" {
				currentEnc = nil
				continue
			}
			desc := &model.EncryptionDescriptor{Method: model.EncryptionMethod(method), KeyURL: resolveURL(sourceURL, attrs["URI"])}
			if ivHex, ok := attrs["IV"]; ok && ivHex != "" {
				if iv, err := parseIV(ivHex); err == nil {
					desc.IV = iv
					desc.HasIV = true
				}
			}
			currentEnc = desc
			if stream.DefaultEncryption == nil {
				stream.DefaultEncryption = desc
			}

		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY"):
			discontinuityNext = true

		case strings.HasPrefix(line, "#EXTINF:"):
			rest := strings.TrimPrefix(line, "#EXTINF:")
			durStr := rest
			if comma := strings.IndexByte(rest, ','); comma >= 0 {
				durStr = rest[:comma]
			}
			pendingDuration, _ = strconv.ParseFloat(strings.TrimSpace(durStr), 64)

		case strings.HasPrefix(line, "#"):
			// ignore unrecognized tags

		default:
			seg := model.Segment{
				Index:         index,
				URL:           resolveURL(sourceURL, line),
				Duration:      pendingDuration,
				Encryption:    currentEnc,
				Discontinuity: discontinuityNext,
				State:         model.SegmentPending,
			}
			stream.Segments = append(stream.Segments, seg)
			stream.Duration += pendingDuration
			index++
			discontinuityNext = false
			pendingDuration = 0
		}
	}

	if len(stream.Segments) == 0 {
		return model.Stream{}, classify.Validation(classify.VariantPlaylistParse, "media playlist declared no segments", nil)
	}
	return stream, nil
}

func parseIV(hexStr string) ([16]byte, error) {
	var iv [16]byte
	s := strings.TrimPrefix(strings.TrimPrefix(hexStr, "0x"), "0X")
	if len(s) != 32 {
		return iv, fmt.Errorf("invalid IV length %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return iv, err
	}
	copy(iv[:], raw)
	return iv, nil
}

// ParseWithFallback parses sourceURL's body; if it is not a playlist, it
// attempts one page-scrape fallback: scan the body for an .m3u8 URL and
// recurse once.
func ParseWithFallback(sourceURL string, fetch Fetcher) ([]model.Stream, error) {
	body, err := fetch.FetchText(sourceURL)
	if err != nil {
		return nil, classify.Network(classify.VariantHTTP5xx, "fetching playlist", err)
	}

	streams, err := Parse(sourceURL, body)
	if err == nil {
		return streams, nil
	}

	match := m3u8URLRegex.FindString(body)
	if match == "" {
		return nil, err
	}

	secondBody, ferr := fetch.FetchText(match)
	if ferr != nil {
		return nil, classify.Network(classify.VariantHTTP5xx, "fetching scraped playlist", ferr)
	}
	return Parse(match, secondBody)
}

// BestQuality returns the highest-bandwidth stream, breaking ties on order
// of appearance.
func BestQuality(streams []model.Stream) (model.Stream, bool) {
	return extremum(streams, func(a, b model.Stream) bool { return a.Bandwidth > b.Bandwidth })
}

// LowestQuality returns the lowest-bandwidth stream, breaking ties on
// order of appearance.
func LowestQuality(streams []model.Stream) (model.Stream, bool) {
	return extremum(streams, func(a, b model.Stream) bool { return a.Bandwidth < b.Bandwidth })
}

func extremum(streams []model.Stream, better func(a, b model.Stream) bool) (model.Stream, bool) {
	if len(streams) == 0 {
		return model.Stream{}, false
	}
	best := streams[0]
	for _, s := range streams[1:] {
		if better(s, best) {
			best = s
		}
	}
	return best, true
}

// SegmentURLPattern is the (prefix, suffix, width, index) decomposition of
// a URL containing a decimal run, used for segment-range guessing.
type SegmentURLPattern struct {
	Prefix string
	Suffix string
	Width  int
	Index  int
}

var decimalRunRegex = regexp.MustCompile(`\d+`)

// ExtractURLPattern finds the last decimal run in segURL and returns the
// pattern needed to guess subsequent segment URLs. It returns false if no
// decimal run is found.
func ExtractURLPattern(segURL string) (SegmentURLPattern, bool) {
	matches := decimalRunRegex.FindAllStringIndex(segURL, -1)
	if len(matches) == 0 {
		return SegmentURLPattern{}, false
	}
	last := matches[len(matches)-1]
	digits := segURL[last[0]:last[1]]
	index, err := strconv.Atoi(digits)
	if err != nil {
		return SegmentURLPattern{}, false
	}
	return SegmentURLPattern{
		Prefix: segURL[:last[0]],
		Suffix: segURL[last[1]:],
		Width:  len(digits),
		Index:  index,
	}, true
}

// URLFor substitutes pattern.Index+k into the pattern, zero-padded to Width.
func (p SegmentURLPattern) URLFor(k int) string {
	idx := p.Index + k
	digits := strconv.Itoa(idx)
	if len(digits) < p.Width {
		digits = strings.Repeat("0", p.Width-len(digits)) + digits
	}
	return p.Prefix + digits + p.Suffix
}
