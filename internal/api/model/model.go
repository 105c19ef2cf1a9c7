package model

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

type JobSheet struct {
	ID         int64     `db:"id"`
	Name       string    `db:"name"`
	TotalJobs  int       `db:"total_jobs"`
	UploadedAt time.Time `db:"uploaded_at"`
}

type Job struct {
	ID             int64          `db:"id"`
	JobSheetID     int64          `db:"job_sheet_id"`
	TileID         string         `db:"tile_id"`
	RowData        types.JSONText `db:"row_data"`
	AssignedUserID sql.NullInt64  `db:"assigned_user_id"`
	Status         string         `db:"status"`
	AssignedAt     sql.NullTime   `db:"assigned_at"`
}

// NewJob is one normalized CSV row waiting to be stored
type NewJob struct {
	TileID  string
	RowData map[string]string
}

type User struct {
	ID       int64  `db:"id"`
	FullName string `db:"full_name"`
}

type TileCount struct {
	TileID string `db:"tile_id"`
	Count  int    `db:"count"`
}
