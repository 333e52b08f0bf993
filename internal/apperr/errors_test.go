package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"direct", ErrRoomNotFound, CodeNotFound},
		{"wrapped", fmt.Errorf("join: %w", ErrRoomAccessDenied), CodeNotAuthorized},
		{"with cause", Unavailable("cache down", errors.New("dial tcp")), CodeUnavailable},
		{"plain error", errors.New("boom"), CodeUnknown},
		{"nil", nil, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("send: %w", ErrRoomNotFound)

	assert.True(t, errors.Is(err, ErrRoomNotFound))
	assert.True(t, errors.Is(err, &Error{Code: CodeNotFound}))
	assert.False(t, errors.Is(err, ErrMessageNotFound))
	assert.False(t, errors.Is(err, &Error{Code: CodeConflict}))
}

func TestMessage_HidesInternalCause(t *testing.T) {
	err := Internal("send failed", errors.New("pq: connection refused"))
	assert.Equal(t, "send failed", Message(err))
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, "internal error", Message(errors.New("raw")))
}
