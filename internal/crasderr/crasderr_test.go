package crasderr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		want string
	}{
		{"invalid argument", InvalidArgument, "invalid-argument"},
		{"not found", NotFound, "not-found"},
		{"busy", Busy, "busy"},
		{"transient io", TransientIO, "transient-i/o"},
		{"fatal device", FatalDevice, "fatal-device"},
		{"capability missing", CapabilityMissing, "capability-missing"},
		{"unknown", Kind(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	withCause := New("SetVolume", InvalidArgument, fmt.Errorf("out of range"))
	assert.Equal(t, "SetVolume: invalid-argument: out of range", withCause.Error())

	withoutCause := New("SetVolume", NotFound, nil)
	assert.Equal(t, "SetVolume: not-found", withoutCause.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := New("Op", Busy, cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	base := New("Op", FatalDevice, nil)
	wrapped := fmt.Errorf("context: %w", base)

	assert.True(t, Is(wrapped, FatalDevice))
	assert.False(t, Is(wrapped, Busy))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), NotFound))
	assert.False(t, Is(nil, NotFound))
}
