package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/tile-allocator/internal/api/domain"
	"github.com/cuongbtq/tile-allocator/internal/api/dto"
	"github.com/cuongbtq/tile-allocator/internal/ingest"
)

// multipartSlack is the room left for form fields and part headers on top
// of the file size limit
const multipartSlack = 1 << 20

// UploadCSV handles POST /upload-csv
// Stores the uploaded CSV as a new job sheet
func (h *JobHandler) UploadCSV(c *gin.Context) {
	if h.maxFileBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileBytes+multipartSlack)
	}

	if _, err := c.MultipartForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectTooLarge(c)
			return
		}
		h.logger.Debug("Invalid multipart form", slog.String("error", err.Error()))
	}

	sheetName := strings.TrimSpace(c.PostForm("sheetName"))
	if sheetName == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Sheet name is required"})
		return
	}

	fileHeader, err := c.FormFile("csvFile")
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "CSV file is required"})
		return
	}

	if h.maxFileBytes > 0 && fileHeader.Size > h.maxFileBytes {
		h.rejectTooLarge(c)
		return
	}

	path := ingest.NewUploadPath(h.uploadDir)
	if err := c.SaveUploadedFile(fileHeader, path); err != nil {
		h.logger.Error("Failed to save upload",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to store upload"})
		return
	}

	h.logger.Info("UploadCSV called",
		slog.String("sheet_name", sheetName),
		slog.String("file_name", fileHeader.Filename),
		slog.Int64("file_size", fileHeader.Size),
	)

	result, err := h.ingester.Ingest(c.Request.Context(), sheetName, ingest.NewTempFile(path))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.UploadCSVResponse{
		Message: fmt.Sprintf("Uploaded %d rows to sheet \"%s\"", result.RowsStored, sheetName),
		SheetID: result.SheetID,
	})
}

func (h *JobHandler) rejectTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
		Error: fmt.Sprintf("CSV file exceeds %d bytes", h.maxFileBytes),
	})
}

// ListJobSheets handles GET /job-sheets
// Lists every job sheet, newest first
func (h *JobHandler) ListJobSheets(c *gin.Context) {
	sheets, err := h.reader.ListJobSheets(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	response := make([]dto.JobSheetDTO, len(sheets))
	for i, sheet := range sheets {
		response[i] = dto.JobSheetDTO{
			ID:         sheet.ID,
			Name:       sheet.Name,
			TotalJobs:  sheet.TotalJobs,
			UploadedAt: sheet.UploadedAt.UTC().Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, response)
}

// AvailableTiles handles GET /available-tiles/:sheetId
// Returns unassigned job counts keyed by tile id
func (h *JobHandler) AvailableTiles(c *gin.Context) {
	sheetID, err := strconv.ParseInt(c.Param("sheetId"), 10, 64)
	if err != nil || sheetID <= 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "sheetId must be a positive integer"})
		return
	}

	tiles, err := h.reader.AvailableTiles(c.Request.Context(), sheetID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	response := make(map[string]int, len(tiles))
	for _, tile := range tiles {
		response[tile.TileID] = tile.Count
	}

	c.JSON(http.StatusOK, response)
}

// AllocateJob handles POST /allocate-job
// Assigns every unassigned job of a tile to the named user
func (h *JobHandler) AllocateJob(c *gin.Context) {
	var req dto.AllocateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid allocate request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "userName, sheetId, and tileId are required"})
		return
	}

	sheetID, err := req.SheetID.Int64()
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "sheetId must be an integer"})
		return
	}

	assigned, err := h.allocator.Assign(c.Request.Context(), req.UserName, sheetID, req.TileID)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "userName, sheetId, and tileId are required"})
			return
		}
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.AllocateJobResponse{
		Message:       fmt.Sprintf("Assigned Tile ID: %s (%d rows) to %s", req.TileID, assigned, req.UserName),
		AssignedCount: assigned,
	})
}
