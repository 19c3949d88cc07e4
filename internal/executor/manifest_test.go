package executor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRoundTripsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	m := loadManifest(dir)
	assert.False(t, m.isComplete(0))

	require.NoError(t, m.markComplete(0, 100, 12345))
	require.NoError(t, m.markComplete(1, 200, 54321))

	reloaded := loadManifest(dir)
	assert.True(t, reloaded.isComplete(0))
	assert.True(t, reloaded.isComplete(1))
	assert.False(t, reloaded.isComplete(2))
}

func TestManifestMissingFileIsEmpty(t *testing.T) {
	m := loadManifest(t.TempDir())
	assert.Empty(t, m.Entries)
}

func TestWriteSegmentPartIsAtomic(t *testing.T) {
	dir := t.TempDir()
	crc, err := writeSegmentPart(dir, 0, []byte("segment data"))
	require.NoError(t, err)
	assert.NotZero(t, crc)

	_, err = os.Stat(partPath(dir, 0))
	require.NoError(t, err)
	_, err = os.Stat(dir + "/.000000.part.tmp")
	assert.True(t, os.IsNotExist(err), "temp file should not survive a successful write")
}
