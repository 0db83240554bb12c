package apierror

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("click", "clk_123")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "NOT_FOUND: click clk_123 not found", err.Error())
}

func TestIsNotFoundOnWrappedError(t *testing.T) {
	err := errors.Wrap(NewNotFound("conversion", "cvn_1"), "transition failed")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(errors.New("boom")))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, MapErrorToHTTPStatus(NewNotFound("offer", "off_1")))
	assert.Equal(t, http.StatusConflict, MapErrorToHTTPStatus(NewAPIError(ErrConflict, "duplicate", nil)))
	assert.Equal(t, http.StatusBadRequest, MapErrorToHTTPStatus(NewAPIError(ErrInvalidInput, "bad", nil)))
	assert.Equal(t, http.StatusInternalServerError, MapErrorToHTTPStatus(errors.New("boom")))
}
