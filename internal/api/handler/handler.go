package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/tile-allocator/internal/api/model"
	"github.com/cuongbtq/tile-allocator/internal/ingest"
)

// SearchLimit caps the number of users returned by a search
const SearchLimit = 10

// Ingester turns an upload into a stored job sheet
type Ingester interface {
	Ingest(ctx context.Context, sheetName string, upload ingest.Upload) (ingest.Result, error)
}

// Allocator assigns a tile to a user
type Allocator interface {
	Assign(ctx context.Context, userName string, sheetID int64, tileID string) (int64, error)
}

// Reader serves the read-only queries
type Reader interface {
	ListJobSheets(ctx context.Context) ([]model.JobSheet, error)
	SearchUsers(ctx context.Context, q string, limit int) ([]model.User, error)
	AvailableTiles(ctx context.Context, sheetID int64) ([]model.TileCount, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Ingester  Ingester
	Allocator Allocator
	Reader    Reader

	// UploadDir receives uploaded files until the ingest call releases them
	UploadDir string
	// MaxFileBytes rejects larger uploads with 413; zero disables the check
	MaxFileBytes int64
}

// JobHandler handles job sheet and allocation requests
type JobHandler struct {
	logger       *slog.Logger
	ingester     Ingester
	allocator    Allocator
	reader       Reader
	uploadDir    string
	maxFileBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		ingester:     deps.Ingester,
		allocator:    deps.Allocator,
		reader:       deps.Reader,
		uploadDir:    deps.UploadDir,
		maxFileBytes: deps.MaxFileBytes,
	}
}

// UserHandler handles user lookups
type UserHandler struct {
	logger *slog.Logger
	reader Reader
}

// NewUserHandler creates a new UserHandler instance
func NewUserHandler(deps *Dependencies) *UserHandler {
	return &UserHandler{
		logger: deps.Logger,
		reader: deps.Reader,
	}
}
