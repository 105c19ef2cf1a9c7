package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/tile-allocator/internal/api/dto"
)

// SearchUsers handles GET /search-users?q=
// Matches full names case-insensitively; a blank query returns no users
func (h *UserHandler) SearchUsers(c *gin.Context) {
	var req dto.SearchUsersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	q := strings.TrimSpace(req.Query)
	if q == "" {
		c.JSON(http.StatusOK, []dto.UserDTO{})
		return
	}

	users, err := h.reader.SearchUsers(c.Request.Context(), q, SearchLimit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	response := make([]dto.UserDTO, len(users))
	for i, user := range users {
		response[i] = dto.UserDTO{ID: user.ID, FullName: user.FullName}
	}

	c.JSON(http.StatusOK, response)
}
