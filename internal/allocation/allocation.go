// Package allocation assigns every unassigned job of a tile to a user.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/tile-allocator/internal/api/domain"
	"github.com/cuongbtq/tile-allocator/internal/events"
)

// Result labels reported to the Recorder
const (
	ResultAssigned        = "assigned"
	ResultUserNotFound    = "user_not_found"
	ResultTileUnavailable = "tile_unavailable"
	ResultInvalid         = "invalid"
	ResultError           = "error"
)

// Store is the persistence the service needs
type Store interface {
	FindUserIDByName(ctx context.Context, fullName string) (int64, error)
	// AssignTile claims the tile's unassigned jobs and returns how many it claimed
	AssignTile(ctx context.Context, userID, sheetID int64, tileID string) (int64, error)
}

type Recorder interface {
	AllocationFinished(result string, assigned int64)
}

type Config struct {
	Store     Store
	Publisher events.Publisher
	Recorder  Recorder
	Logger    *slog.Logger
}

type Service struct {
	store     Store
	publisher events.Publisher
	recorder  Recorder
	logger    *slog.Logger
}

func NewService(cfg *Config) *Service {
	s := &Service{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Assign gives userName every unassigned job of tileID in sheetID and returns
// the number of jobs claimed. Concurrent calls for the same tile have exactly
// one winner; the others get domain.ErrTileUnavailable.
func (s *Service) Assign(ctx context.Context, userName string, sheetID int64, tileID string) (int64, error) {
	logger := s.logger.With(
		slog.String("user_name", userName),
		slog.Int64("sheet_id", sheetID),
		slog.String("tile_id", tileID),
	)

	if strings.TrimSpace(userName) == "" || strings.TrimSpace(tileID) == "" || sheetID <= 0 {
		s.recorder.AllocationFinished(ResultInvalid, 0)
		return 0, fmt.Errorf("%w: userName, sheetId and tileId are required", domain.ErrValidation)
	}

	userID, err := s.store.FindUserIDByName(ctx, userName)
	if err != nil {
		s.recorder.AllocationFinished(resultLabel(err), 0)
		if !errors.Is(err, domain.ErrUserNotFound) {
			logger.Error("Failed to resolve user", slog.Any("error", err))
		}
		return 0, err
	}

	assigned, err := s.store.AssignTile(ctx, userID, sheetID, tileID)
	if err != nil {
		s.recorder.AllocationFinished(ResultError, 0)
		logger.Error("Failed to assign tile", slog.Any("error", err))
		return 0, err
	}

	if assigned == 0 {
		s.recorder.AllocationFinished(ResultTileUnavailable, 0)
		logger.Info("Tile unavailable")
		return 0, domain.ErrTileUnavailable
	}

	s.recorder.AllocationFinished(ResultAssigned, assigned)
	logger.Info("Tile assigned",
		slog.Int64("user_id", userID),
		slog.Int64("assigned_count", assigned),
	)

	events.PublishBestEffort(ctx, s.publisher, logger, events.NewTileAllocated(events.TileAllocated{
		SheetID:       sheetID,
		TileID:        tileID,
		UserID:        userID,
		UserName:      userName,
		AssignedCount: assigned,
	}))

	return assigned, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return ResultUserNotFound
	case errors.Is(err, domain.ErrTileUnavailable):
		return ResultTileUnavailable
	default:
		return ResultError
	}
}

type nopRecorder struct{}

func (nopRecorder) AllocationFinished(string, int64) {}
