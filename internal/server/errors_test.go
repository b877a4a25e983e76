package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/research-orchestrator/internal/orchestrator"
	"github.com/jonathan/research-orchestrator/internal/tracker"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "idea", Message: "is required"}
	assert.Equal(t, "validation error: idea - is required", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestErrJobNotFound(t *testing.T) {
	id := uuid.NewString()
	err := &ErrJobNotFound{ID: id}
	assert.Equal(t, "job not found: "+id, err.Error())
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "invalid idea", err: orchestrator.ErrInvalidIdea, want: http.StatusBadRequest},
		{name: "wrapped tracker not found", err: fmt.Errorf("failed to request cancellation: %w", &tracker.NotFoundError{Kind: "job", ID: uuid.New()}), want: http.StatusNotFound},
		{name: "already finished", err: orchestrator.ErrAlreadyFinished, want: http.StatusConflict},
		{name: "scheduler closed", err: fmt.Errorf("failed to schedule job: %w", orchestrator.ErrSchedulerClosed), want: http.StatusServiceUnavailable},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestValidationError(t *testing.T) {
	v := validator.New()

	err := validationError(v.Struct(SubmitRequest{Idea: "abc"}))

	var ve *ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Idea", ve.Field)
	assert.Equal(t, "must be at least 5 characters", ve.Message)

	err = validationError(errors.New("not a validator error"))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "request", ve.Field)
}
