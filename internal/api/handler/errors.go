package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/tile-allocator/internal/api/domain"
	"github.com/cuongbtq/tile-allocator/internal/api/dto"
)

// writeError translates a domain error into a status code and error body
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
	}
	c.JSON(status, dto.ErrorResponse{Error: message})
}

func classify(err error) (int, string) {
	var parseErr *domain.ParseError

	switch {
	case errors.Is(err, domain.ErrDuplicateSheetName):
		return http.StatusBadRequest, "Sheet name must be unique"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, domain.ErrTileUnavailable):
		return http.StatusNotFound, "This tile is already assigned or not found"
	case errors.As(err, &parseErr):
		return http.StatusInternalServerError, parseErr.Error()
	case errors.Is(err, domain.ErrIngestTimeout):
		return http.StatusInternalServerError, "Server timeout during file processing"
	case errors.Is(err, domain.ErrPersist):
		return http.StatusInternalServerError, "Failed to persist jobs"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
