package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorString(t *testing.T) {
	withInner := &AppError{Code: "INTERNAL_ERROR", Message: "broke", Err: fmt.Errorf("pool closed")}
	assert.Equal(t, "INTERNAL_ERROR: broke: pool closed", withInner.Error())

	bare := &AppError{Code: "NOT_FOUND", Message: "checkpoint shop-1 not found"}
	assert.Equal(t, "NOT_FOUND: checkpoint shop-1 not found", bare.Error())
	assert.Nil(t, bare.Unwrap())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		sentinel error
		status   int
	}{
		{"not found", NotFound("checkpoint", "shop-1"), ErrNotFound, http.StatusNotFound},
		{"invalid input", InvalidInput("catalog key is required"), ErrInvalidInput, http.StatusBadRequest},
		{"unauthorized", Unauthorized("bad token"), ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", Forbidden("missing scope"), ErrForbidden, http.StatusForbidden},
		{"conflict", Conflict("bulk operation running"), ErrConflict, http.StatusConflict},
		{"rate limited", RateLimited("throttled"), ErrRateLimited, http.StatusTooManyRequests},
		{"unavailable", Unavailable("shopify down"), ErrServiceUnavail, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.status, HTTPStatus(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestInternal_KeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Internal(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}

func TestHTTPStatus_Sentinels(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(Wrap(ErrNotFound, "load")))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("other")))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(RateLimited("slow down")))
	assert.True(t, IsTransient(fmt.Errorf("poll: %w", Unavailable("503"))))
	assert.False(t, IsTransient(Unauthorized("nope")))
	assert.False(t, IsTransient(errors.New("plain")))
}
