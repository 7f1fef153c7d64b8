package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("event", 3), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("loading: %w", NotFound("event", 3)), http.StatusNotFound},
		{"sentinel not found", ErrNotFound, http.StatusNotFound},
		{"validation", Invalidf("bad status %q", "maybe"), http.StatusBadRequest},
		{"conflict", Conflict("username taken"), http.StatusConflict},
		{"closed", Closed(4), http.StatusConflict},
		{"forbidden", Forbidden("no"), http.StatusForbidden},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	assert.ErrorIs(t, NotFound("node", 1), ErrNotFound)
	assert.ErrorIs(t, Closed(1), ErrConflict)
	assert.ErrorIs(t, Closed(1), ErrEventClosed)
	assert.ErrorIs(t, PasswordChangeRequired(), ErrForbidden)
	assert.ErrorIs(t, PasswordChangeRequired(), ErrPasswordChange)

	inner := errors.New("name is required")
	err := Invalid(inner)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "name is required", err.Error())
	assert.Equal(t, "event 9 not found", NotFound("event", 9).Error())
}
