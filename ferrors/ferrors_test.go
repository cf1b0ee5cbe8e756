package ferrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	io := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"ConfigError", NewConfigError("missing primary key", nil), false},
		{"CancellationError", NewCancellationError("context cancelled"), false},
		{"SourceError", NewSourceError("read failed", io), true},
		{"SinkError", NewSinkError("write failed", io), true},
		{"TimeoutError", NewTimeoutError("write", "30s"), true},
		{"RetriesExhaustedError", NewRetriesExhaustedError(3, io), false},
		{"PlainError", io, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestRetryable_WrappedSourceError(t *testing.T) {
	wrapped := NewRetriesExhaustedError(3, NewSourceError("dial tcp", errors.New("i/o timeout")))
	// The outer kind (RetriesExhaustedError) is terminal; it is the kind
	// seen by callers deciding whether to retry again, not its cause.
	assert.False(t, Retryable(wrapped))
}

func TestUnwrap_ChainsToCause(t *testing.T) {
	root := errors.New("dial tcp 10.0.0.1:5432: i/o timeout")
	err := NewSourceError("opening connection", root)

	assert.ErrorIs(t, err, root)
	assert.Equal(t, root, errors.Unwrap(err))
}

func TestRetriesExhaustedError_UnwrapsToLastErr(t *testing.T) {
	root := errors.New("deadline exceeded")
	err := NewRetriesExhaustedError(5, root)

	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "5 attempt(s)")
}

func TestConfigError_MessageOnly(t *testing.T) {
	err := NewConfigError("unknown write strategy: merge", nil)
	assert.Equal(t, "config error: unknown write strategy: merge", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestCause_WalksFullChain(t *testing.T) {
	root := errors.New("connection refused")
	mid := NewSourceError("reading batch", root)
	outer := NewRetriesExhaustedError(3, mid)

	assert.Equal(t, root, Cause(outer))
}
