package playlist

import (
	"bytes"
	"compress/gzip"
	"testing"

	dsnetbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2"
high/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=640000,RESOLUTION=1280x720
low/index.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:9.009,
s0.ts
#EXTINF:9.009,
s1.ts
#EXTINF:9.009,
s2.ts
#EXT-X-ENDLIST
`

const encryptedPlaylist = `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="k.bin",IV=0x00000000000000000000000000000001
#EXTINF:9.009,
s0.ts
#EXTINF:9.009,
s1.ts
`

func TestParseMasterPlaylist(t *testing.T) {
	streams, err := Parse("https://h/master.m3u8", masterPlaylist)
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, 1280000, streams[0].Bandwidth)
	assert.Equal(t, "https://h/high/index.m3u8", streams[0].BaseURL)
	assert.Equal(t, "avc1.640028,mp4a.40.2", streams[0].Codecs)
}

func TestParseMediaPlaylist(t *testing.T) {
	streams, err := Parse("https://h/media/playlist.m3u8", mediaPlaylist)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Segments, 3)
	assert.Equal(t, "https://h/media/s0.ts", streams[0].Segments[0].URL)
	assert.InDelta(t, 9.009, streams[0].Segments[0].Duration, 1e-6)
}

func TestParseEmptyPlaylistFails(t *testing.T) {
	_, err := Parse("https://h/empty.m3u8", "#EXTM3U\n")
	require.Error(t, err)
}

func TestEncryptionKeyAppliesToSubsequentSegments(t *testing.T) {
	streams, err := Parse("https://h/playlist.m3u8", encryptedPlaylist)
	require.NoError(t, err)
	seg0 := streams[0].Segments[0]
	require.NotNil(t, seg0.Encryption)
	assert.Equal(t, "https://h/k.bin", seg0.Encryption.KeyURL)
	assert.True(t, seg0.Encryption.HasIV)
	assert.Equal(t, byte(1), seg0.Encryption.IV[15])
}

func TestBestAndLowestQuality(t *testing.T) {
	streams, err := Parse("https://h/master.m3u8", masterPlaylist)
	require.NoError(t, err)

	best, ok := BestQuality(streams)
	require.True(t, ok)
	assert.Equal(t, 1280000, best.Bandwidth)

	lowest, ok := LowestQuality(streams)
	require.True(t, ok)
	assert.Equal(t, 640000, lowest.Bandwidth)
}

func TestExtractURLPattern(t *testing.T) {
	pattern, ok := ExtractURLPattern("https://h/seg-0023.ts?t=1")
	require.True(t, ok)
	assert.Equal(t, 23, pattern.Index)
	assert.Equal(t, 4, pattern.Width)
	assert.Equal(t, "https://h/seg-0024.ts?t=1", pattern.URLFor(1))
}

func TestExtractURLPatternNoDigitsFails(t *testing.T) {
	_, ok := ExtractURLPattern("https://h/seg.ts")
	assert.False(t, ok)
}

func TestDecompressBodyPassesThroughPlainText(t *testing.T) {
	text, err := DecompressBody([]byte(mediaPlaylist))
	require.NoError(t, err)
	assert.Equal(t, mediaPlaylist, text)
}

func TestDecompressBodyGzip(t *testing.T) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	_, err := gzw.Write([]byte(mediaPlaylist))
	require.NoError(t, err)
	require.NoError(t, gzw.Close())

	text, err := DecompressBody(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, mediaPlaylist, text)
}

func TestDecompressBodyBzip2(t *testing.T) {
	var buf bytes.Buffer
	bzw, err := dsnetbzip2.NewWriter(&buf, nil)
	require.NoError(t, err)
	_, err = bzw.Write([]byte(mediaPlaylist))
	require.NoError(t, err)
	require.NoError(t, bzw.Close())

	text, err := DecompressBody(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, mediaPlaylist, text)
}
