package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ascinocco/device-management/internal/device"
	"github.com/Ascinocco/device-management/internal/domain"
)

// writeError maps a domain/device-layer error to the HTTP status and
// error code string the API contract in §7 names.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, device.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Device not found"})
	case errors.Is(err, device.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "Device was updated by another request"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "an unexpected error occurred"})
	}
}
