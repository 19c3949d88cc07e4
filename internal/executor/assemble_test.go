package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleOutputConcatenatesInIndexOrder(t *testing.T) {
	dir := t.TempDir()
	_, err := writeSegmentPart(dir, 0, []byte("AAA"))
	require.NoError(t, err)
	_, err = writeSegmentPart(dir, 1, []byte("BBB"))
	require.NoError(t, err)
	_, err = writeSegmentPart(dir, 2, []byte("CCC"))
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "out.ts")
	require.NoError(t, assembleOutput(dir, outPath, 3))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "AAABBBCCC", string(data))
}

func TestAssembleOutputFailsOnMissingSegment(t *testing.T) {
	dir := t.TempDir()
	_, err := writeSegmentPart(dir, 0, []byte("AAA"))
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "out.ts")
	err = assembleOutput(dir, outPath, 2)
	assert.Error(t, err)

	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr), "partial assembly output should not be left in place")
}
