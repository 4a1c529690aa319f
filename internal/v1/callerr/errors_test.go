package callerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found", New(ErrNotFound, "Call not found"), "Call not found"},
		{"wrapped forbidden", fmt.Errorf("initiate: %w", New(ErrForbidden, "Too many calls")), "Too many calls"},
		{"plain error", errors.New("dial tcp: refused"), InternalMessage},
		{"internal kind", New(ErrInternal, "db exploded"), InternalMessage},
		{"internal wrap", Internal(errors.New("boom")), InternalMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicMessage(tt.err))
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "not_found", Kind(New(ErrNotFound, "x")))
	assert.Equal(t, "unauthorized", Kind(New(ErrUnauthorized, "x")))
	assert.Equal(t, "forbidden", Kind(New(ErrForbidden, "x")))
	assert.Equal(t, "invalid_signal", Kind(Newf(ErrInvalidSignal, "missing %s", "sdp")))
	assert.Equal(t, "bad_request", Kind(New(ErrBadRequest, "x")))
	assert.Equal(t, "conflict", Kind(New(ErrConflict, "x")))
	assert.Equal(t, "internal", Kind(errors.New("x")))
	assert.Equal(t, "none", Kind(nil))
	assert.True(t, IsInternal(Internal(errors.New("x"))))
	assert.False(t, IsInternal(New(ErrNotFound, "x")))
}

func TestErrorsIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrInvalidSignal, "Invalid signal - possible replay attack"))
	assert.ErrorIs(t, err, ErrInvalidSignal)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "outer: invalid signal: Invalid signal - possible replay attack", err.Error())
}
