// Package ingest turns an uploaded CSV file into a job sheet and its jobs.
//
// Every Ingest call ends with exactly one outcome. The worker goroutine, the
// timeout timer and the caller's context all race to settle the call; the
// first one wins and the others are discarded. The upload is released on
// every path, at most once.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/tile-allocator/internal/api/domain"
	"github.com/cuongbtq/tile-allocator/internal/api/model"
	"github.com/cuongbtq/tile-allocator/internal/events"
)

// DefaultTimeout is the ceiling for one Ingest call
const DefaultTimeout = 60 * time.Second

// Outcome labels reported to the Recorder
const (
	OutcomeSuccess       = "success"
	OutcomeDuplicateName = "duplicate_name"
	OutcomeParseError    = "parse_error"
	OutcomePersistError  = "persist_error"
	OutcomeTimeout       = "timeout"
	OutcomeCanceled      = "canceled"
	OutcomeInvalid       = "invalid"
)

// Store is the persistence the pipeline needs
type Store interface {
	CreateJobSheet(ctx context.Context, name string) (int64, error)
	SaveJobs(ctx context.Context, sheetID int64, jobs []model.NewJob) (int, error)
}

// Recorder receives one call per settled Ingest
type Recorder interface {
	IngestFinished(outcome string, elapsed time.Duration, stored, skipped int)
}

// Result describes a successful upload
type Result struct {
	SheetID     int64
	RowsStored  int
	RowsSkipped int
}

// Config holds pipeline dependencies
type Config struct {
	Store     Store
	Publisher events.Publisher
	Recorder  Recorder
	Logger    *slog.Logger
	Timeout   time.Duration
}

// Pipeline ingests CSV uploads
type Pipeline struct {
	store     Store
	publisher events.Publisher
	recorder  Recorder
	logger    *slog.Logger
	timeout   time.Duration
}

// NewPipeline creates a Pipeline; zero-valued optional fields get defaults
func NewPipeline(cfg *Config) *Pipeline {
	p := &Pipeline{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
		timeout:   cfg.Timeout,
	}
	if p.publisher == nil {
		p.publisher = events.NopPublisher{}
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	return p
}

// Ingest registers a job sheet named sheetName, parses upload as CSV with a
// header row, stores every row that carries a tile id and finalizes the
// sheet's total_jobs. The upload is always released before Ingest returns.
func (p *Pipeline) Ingest(ctx context.Context, sheetName string, upload Upload) (Result, error) {
	start := time.Now()
	logger := p.logger.With(slog.String("sheet_name", sheetName))
	upload = releaseOnce(upload)

	if strings.TrimSpace(sheetName) == "" {
		p.release(upload, logger)
		p.recorder.IngestFinished(OutcomeInvalid, time.Since(start), 0, 0)
		return Result{}, fmt.Errorf("%w: sheet name is required", domain.ErrValidation)
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	gate := newSettlement()

	timer := time.AfterFunc(p.timeout, func() {
		if gate.settle(outcome{err: domain.ErrIngestTimeout, source: "timeout"}) {
			logger.Warn("Upload timed out",
				slog.Duration("timeout", p.timeout),
			)
		}
	})
	defer timer.Stop()

	go p.work(workCtx, gate, sheetName, upload, logger)

	select {
	case <-gate.Done():
	case <-ctx.Done():
		gate.settle(outcome{err: fmt.Errorf("upload canceled: %w", ctx.Err()), source: "context"})
		// Whoever won may still be publishing its outcome
		<-gate.Done()
	}

	won := gate.winner()

	// A losing worker must stop writing; its transaction rolls back.
	cancel()
	p.release(upload, logger)

	label := outcomeLabel(won.err)
	p.recorder.IngestFinished(label, time.Since(start), won.result.RowsStored, won.result.RowsSkipped)

	if won.err != nil {
		logger.Error("Upload failed",
			slog.String("outcome", label),
			slog.String("settled_by", won.source),
			slog.Any("error", won.err),
		)
		return Result{}, won.err
	}

	logger.Info("Upload completed",
		slog.Int64("sheet_id", won.result.SheetID),
		slog.Int("rows_stored", won.result.RowsStored),
		slog.Int("rows_skipped", won.result.RowsSkipped),
		slog.Duration("elapsed", time.Since(start)),
	)

	events.PublishBestEffort(ctx, p.publisher, logger, events.NewJobSheetUploaded(events.JobSheetUploaded{
		SheetID:     won.result.SheetID,
		SheetName:   sheetName,
		RowsStored:  won.result.RowsStored,
		RowsSkipped: won.result.RowsSkipped,
	}))

	return won.result, nil
}

// work runs the upload and offers its outcome to the gate
func (p *Pipeline) work(ctx context.Context, gate *settlement, sheetName string, upload Upload, logger *slog.Logger) {
	defer p.release(upload, logger)
	defer func() {
		if r := recover(); r != nil {
			gate.settle(outcome{err: domain.NewPersistError(fmt.Errorf("panic: %v", r)), source: "worker"})
		}
	}()

	result, err := p.process(ctx, sheetName, upload, logger)
	if !gate.settle(outcome{result: result, err: err, source: "worker"}) {
		logger.Debug("Discarding late upload outcome",
			slog.Int64("sheet_id", result.SheetID),
			slog.Any("error", err),
		)
	}
}

func (p *Pipeline) process(ctx context.Context, sheetName string, upload Upload, logger *slog.Logger) (Result, error) {
	sheetID, err := p.store.CreateJobSheet(ctx, sheetName)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateSheetName) {
			return Result{}, err
		}
		return Result{}, domain.NewPersistError(err)
	}

	logger.Debug("Job sheet registered", slog.Int64("sheet_id", sheetID))

	f, err := upload.Open()
	if err != nil {
		return Result{}, domain.NewParseError(err)
	}
	defer f.Close()

	jobs, rowsRead, err := readJobs(ctx, f)
	if err != nil {
		return Result{}, err
	}

	stored, err := p.store.SaveJobs(ctx, sheetID, jobs)
	if err != nil {
		return Result{}, domain.NewPersistError(err)
	}

	return Result{
		SheetID:     sheetID,
		RowsStored:  stored,
		RowsSkipped: rowsRead - len(jobs),
	}, nil
}

// readJobs parses the whole CSV stream before anything is stored. Rows
// without a tile id are dropped; rowsRead counts every data row.
func readJobs(ctx context.Context, r io.Reader) (jobs []model.NewJob, rowsRead int, err error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, domain.NewParseError(err)
	}

	columns := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if _, dup := seen[name]; dup {
			return nil, 0, domain.NewParseError(fmt.Errorf("duplicate header %q", name))
		}
		seen[name] = struct{}{}
		columns[i] = name
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, rowsRead, domain.NewParseError(err)
		}
		rowsRead++

		if rowsRead%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, rowsRead, err
			}
		}

		row := make(map[string]string, len(columns))
		for i, name := range columns {
			row[name] = record[i]
		}

		tileID, payload, ok := ExtractTileID(row)
		if !ok {
			continue
		}
		jobs = append(jobs, model.NewJob{TileID: tileID, RowData: payload})
	}

	return jobs, rowsRead, nil
}

func (p *Pipeline) release(upload Upload, logger *slog.Logger) {
	if err := upload.Release(); err != nil {
		logger.Error("Failed to release upload",
			slog.Any("error", err),
		)
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, domain.ErrDuplicateSheetName):
		return OutcomeDuplicateName
	case errors.Is(err, domain.ErrParse):
		return OutcomeParseError
	case errors.Is(err, domain.ErrIngestTimeout):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case errors.Is(err, domain.ErrValidation):
		return OutcomeInvalid
	default:
		return OutcomePersistError
	}
}

type nopRecorder struct{}

func (nopRecorder) IngestFinished(string, time.Duration, int, int) {}
