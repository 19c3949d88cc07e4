package executor

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef")

func encryptWithPadding(t *testing.T, plaintext []byte, iv [16]byte, pad bool) []byte {
	t.Helper()
	block, err := aes.NewCipher(testKey)
	require.NoError(t, err)

	data := plaintext
	if pad {
		padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
		data = append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, data)
	return out
}

func TestDecryptSegmentTerminalUnpads(t *testing.T) {
	iv := deriveIV(3)
	plaintext := []byte("hello hls segment")
	ciphertext := encryptWithPadding(t, plaintext, iv, true)

	out, err := decryptSegment(ciphertext, testKey, iv, true)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestDecryptSegmentIntermediateNotUnpadded(t *testing.T) {
	iv := deriveIV(0)
	plaintext := bytes.Repeat([]byte{0xAB}, aes.BlockSize*2) // already block-aligned
	ciphertext := encryptWithPadding(t, plaintext, iv, false)

	out, err := decryptSegment(ciphertext, testKey, iv, false)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestDecryptSegmentRejectsShortKey(t *testing.T) {
	_, err := decryptSegment(make([]byte, 16), []byte("short"), [16]byte{}, true)
	assert.Error(t, err)
}

func TestDecryptSegmentRejectsUnalignedCiphertext(t *testing.T) {
	_, err := decryptSegment(make([]byte, 5), testKey, [16]byte{}, true)
	assert.Error(t, err)
}

func TestDeriveIVIsBigEndianSequence(t *testing.T) {
	iv := deriveIV(1)
	assert.Equal(t, byte(1), iv[15])
	assert.Equal(t, byte(0), iv[0])
}
