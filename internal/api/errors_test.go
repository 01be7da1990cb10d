package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/Ascinocco/device-management/internal/device"
	"github.com/Ascinocco/device-management/internal/domain"
)

func runWriteError(err error) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	writeError(c, err)
	return rec
}

func TestWriteError_MapsValidation(t *testing.T) {
	rec := runWriteError(domain.ErrValidation)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteError_MapsNotFound(t *testing.T) {
	rec := runWriteError(device.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteError_MapsConflict(t *testing.T) {
	rec := runWriteError(device.ErrConflict)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWriteError_DefaultsToInternalError(t *testing.T) {
	rec := runWriteError(assertUnknownErr{})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type assertUnknownErr struct{}

func (assertUnknownErr) Error() string { return "boom" }
