package domain

import "errors"

var (
	// ErrValidation is returned when required request input is missing or malformed
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateSheetName is returned when a job sheet with the same name already exists
	ErrDuplicateSheetName = errors.New("sheet name must be unique")

	// ErrParse is returned when an uploaded CSV stream is structurally malformed
	ErrParse = errors.New("csv parse error")

	// ErrPersist is returned when storing a job sheet or its jobs fails
	ErrPersist = errors.New("failed to persist jobs")

	// ErrIngestTimeout is returned when an upload does not settle within the ingest timeout
	ErrIngestTimeout = errors.New("server timeout during file processing")

	// ErrUserNotFound is returned when no user matches the requested full name
	ErrUserNotFound = errors.New("user not found")

	// ErrTileUnavailable is returned when a tile has no unassigned jobs left
	ErrTileUnavailable = errors.New("this tile is already assigned or not found")
)

// ParseError carries the CSV reader's message
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "CSV parse error: " + e.Err.Error()
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// NewParseError wraps a CSV reader error
func NewParseError(err error) error {
	return &ParseError{Err: err}
}

// PersistError carries the storage failure that aborted an upload
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return "failed to persist jobs: " + e.Err.Error()
}

func (e *PersistError) Unwrap() []error {
	return []error{ErrPersist, e.Err}
}

// NewPersistError wraps a storage error raised during an upload
func NewPersistError(err error) error {
	return &PersistError{Err: err}
}
