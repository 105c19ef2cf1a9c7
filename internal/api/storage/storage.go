package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/tile-allocator/internal/api/domain"
	"github.com/cuongbtq/tile-allocator/internal/api/model"
	"github.com/cuongbtq/tile-allocator/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Storage handles all database operations for the API
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Database schema applied")
	return nil
}

// CreateJobSheet registers a job sheet with total_jobs = 0 and returns its id
func (s *Storage) CreateJobSheet(ctx context.Context, name string) (int64, error) {
	query := `
		INSERT INTO job_sheets (name, total_jobs)
		VALUES ($1, 0)
		RETURNING id
	`

	var id int64
	if err := s.db.QueryRowxContext(ctx, query, name).Scan(&id); err != nil {
		if postgresql.IsUniqueViolation(err) {
			return 0, domain.ErrDuplicateSheetName
		}
		return 0, fmt.Errorf("failed to create job sheet: %w", err)
	}

	return id, nil
}

// SaveJobs bulk-loads jobs for a sheet and sets the sheet's total_jobs to the
// number stored. Both happen in one transaction, so on error no job of this
// call remains and total_jobs is untouched.
func (s *Storage) SaveJobs(ctx context.Context, sheetID int64, jobs []model.NewJob) (int, error) {
	err := postgresql.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if len(jobs) > 0 {
			if err := copyJobs(ctx, tx, sheetID, jobs); err != nil {
				return err
			}
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE job_sheets SET total_jobs = $1 WHERE id = $2`,
			len(jobs), sheetID,
		)
		if err != nil {
			return fmt.Errorf("failed to update job sheet total: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("job sheet %d not found", sheetID)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("Jobs stored",
		slog.Int64("sheet_id", sheetID),
		slog.Int("rows", len(jobs)),
	)

	return len(jobs), nil
}

// copyJobs streams rows through COPY in arrival order
func copyJobs(ctx context.Context, tx *sqlx.Tx, sheetID int64, jobs []model.NewJob) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("jobs", "job_sheet_id", "tile_id", "row_data"))
	if err != nil {
		return fmt.Errorf("failed to prepare job copy: %w", err)
	}
	defer stmt.Close()

	for i, job := range jobs {
		rowData, err := json.Marshal(job.RowData)
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i+1, err)
		}
		if _, err := stmt.ExecContext(ctx, sheetID, job.TileID, string(rowData)); err != nil {
			return fmt.Errorf("failed to copy row %d: %w", i+1, err)
		}
	}

	// Flush buffered rows
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to copy jobs: %w", err)
	}

	return nil
}

// ListJobSheets returns every job sheet, newest upload first
func (s *Storage) ListJobSheets(ctx context.Context) ([]model.JobSheet, error) {
	query := `
		SELECT id, name, total_jobs, uploaded_at
		FROM job_sheets
		ORDER BY uploaded_at DESC, id DESC
	`

	sheets := []model.JobSheet{}
	if err := s.db.SelectContext(ctx, &sheets, query); err != nil {
		return nil, fmt.Errorf("failed to list job sheets: %w", err)
	}

	return sheets, nil
}

// SearchUsers does a case-insensitive substring match on full_name
func (s *Storage) SearchUsers(ctx context.Context, q string, limit int) ([]model.User, error) {
	query := `
		SELECT id, full_name
		FROM users
		WHERE full_name ILIKE $1
		ORDER BY full_name, id
		LIMIT $2
	`

	users := []model.User{}
	if err := s.db.SelectContext(ctx, &users, query, "%"+escapeLike(q)+"%", limit); err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}

	return users, nil
}

// AvailableTiles counts unassigned jobs per tile for a sheet
func (s *Storage) AvailableTiles(ctx context.Context, sheetID int64) ([]model.TileCount, error) {
	query := `
		SELECT tile_id, COUNT(*) AS count
		FROM jobs
		WHERE job_sheet_id = $1 AND status = $2
		GROUP BY tile_id
		ORDER BY tile_id
	`

	tiles := []model.TileCount{}
	if err := s.db.SelectContext(ctx, &tiles, query, sheetID, domain.JobStatusUnassigned); err != nil {
		return nil, fmt.Errorf("failed to list available tiles: %w", err)
	}

	return tiles, nil
}

// FindUserIDByName resolves an exact full_name to a user id
func (s *Storage) FindUserIDByName(ctx context.Context, fullName string) (int64, error) {
	query := `
		SELECT id
		FROM users
		WHERE full_name = $1
		ORDER BY id
		LIMIT 1
	`

	var id int64
	if err := s.db.GetContext(ctx, &id, query, fullName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to find user: %w", err)
	}

	return id, nil
}

// AssignTile moves every unassigned job of (sheetID, tileID) to the user in a
// single conditional UPDATE and returns how many rows it claimed. NOW() is
// fixed for the statement, so all claimed rows share assigned_at.
func (s *Storage) AssignTile(ctx context.Context, userID, sheetID int64, tileID string) (int64, error) {
	query := `
		UPDATE jobs
		SET assigned_user_id = $1,
		    status = $2,
		    assigned_at = NOW()
		WHERE job_sheet_id = $3
		  AND tile_id = $4
		  AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		userID, domain.JobStatusAssigned, sheetID, tileID, domain.JobStatusUnassigned,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to assign tile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// CreateUser inserts a user; users are managed only through the admin CLI
func (s *Storage) CreateUser(ctx context.Context, fullName string) (*model.User, error) {
	user := model.User{FullName: fullName}
	query := `INSERT INTO users (full_name) VALUES ($1) RETURNING id`

	if err := s.db.QueryRowxContext(ctx, query, fullName).Scan(&user.ID); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &user, nil
}

// ListUsers returns all users ordered by id
func (s *Storage) ListUsers(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := s.db.SelectContext(ctx, &users, `SELECT id, full_name FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// escapeLike escapes LIKE wildcards so q matches literally
func escapeLike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(q)
}
