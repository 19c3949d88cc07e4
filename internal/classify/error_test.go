package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Network(VariantConnectionTimeout, "connect timed out", cause)

	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "network/connection_timeout")
}

func TestAsExtractsClassifiedError(t *testing.T) {
	wrapped := errors.New("boom")
	ce := Filesystem(VariantNotFound, "scratch dir missing", wrapped)

	got, ok := As(ce)
	require.True(t, ok)
	assert.Equal(t, CategoryFilesystem, got.Category)
	assert.False(t, got.Retryable)
}

func TestHTTP4xxIsNotRetryable(t *testing.T) {
	err := Network(VariantHTTP4xx, "forbidden", nil)
	assert.False(t, err.Retryable)
	assert.Equal(t, SeverityHigh, err.Severity)
}

func TestEncryptionIntegrityMismatchIsCritical(t *testing.T) {
	err := Encryption(VariantIntegrityMismatch, "checksum mismatch", nil)
	assert.Equal(t, SeverityCritical, err.Severity)
	assert.False(t, err.Retryable)
}

func TestWithContextAndActionsChain(t *testing.T) {
	err := Resource(VariantExhaustion, "too many open files", nil).
		WithContext(Context{TaskID: "t1", SegmentIdx: 3}).
		WithActions(Action{Description: "reduce parallelism", IsAutomatic: true, Priority: 1})

	assert.Equal(t, "t1", err.Ctx.TaskID)
	require.Len(t, err.Actions, 1)
	assert.Equal(t, 1, err.Actions[0].Priority)
}
