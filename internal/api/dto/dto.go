package dto

import "encoding/json"

type UploadCSVResponse struct {
	Message string `json:"message"`
	SheetID int64  `json:"sheet_id"`
}

type JobSheetDTO struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	TotalJobs  int    `json:"total_jobs"`
	UploadedAt string `json:"uploaded_at"`
}

type SearchUsersRequest struct {
	Query string `form:"q"`
}

type UserDTO struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// AllocateJobRequest accepts sheetId as a JSON number or a numeric string
type AllocateJobRequest struct {
	UserName string      `json:"userName" binding:"required"`
	SheetID  json.Number `json:"sheetId" binding:"required"`
	TileID   string      `json:"tileId" binding:"required"`
}

type AllocateJobResponse struct {
	Message       string `json:"message"`
	AssignedCount int64  `json:"assigned_count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
