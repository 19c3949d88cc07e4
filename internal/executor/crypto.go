package executor

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/brightwavehq/streamfetch/internal/classify"
)

// deriveIV builds the big-endian, 16-byte sequence-number IV used when a
// key tag declares no explicit IV.
func deriveIV(segmentIndex int) [16]byte {
	var iv [16]byte
	binary.BigEndian.PutUint64(iv[8:], uint64(segmentIndex))
	return iv
}

// decryptSegment decrypts ciphertext with AES-128-CBC under key/iv. Only
// the terminal segment of the stream is PKCS#7-unpadded; intermediate
// segments are returned as full cipher blocks, unpadded.
func decryptSegment(ciphertext, key []byte, iv [16]byte, terminal bool) ([]byte, error) {
	if len(key) != 16 {
		return nil, classify.Encryption(classify.VariantKeyInvalid, "AES-128 key must be 16 bytes", nil)
	}
	if len(ciphertext) == 0 {
		return nil, nil
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, classify.Encryption(classify.VariantDecryptionFailure, "ciphertext is not a multiple of the AES block size", nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, classify.Encryption(classify.VariantDecryptionFailure, "constructing AES cipher", err)
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv[:])
	mode.CryptBlocks(plaintext, ciphertext)

	if !terminal {
		return plaintext, nil
	}
	return pkcs7Unpad(plaintext)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return data, nil
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > n {
		return nil, classify.Encryption(classify.VariantDecryptionFailure, "invalid PKCS#7 padding", nil)
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, classify.Encryption(classify.VariantDecryptionFailure, "invalid PKCS#7 padding bytes", nil)
		}
	}
	return data[:n-padLen], nil
}
