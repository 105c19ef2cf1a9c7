package ingest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// uploadExt is the extension of every file created by NewUploadPath
const uploadExt = ".csv"

// NewUploadPath returns a fresh file location for an upload in dir
func NewUploadPath(dir string) string {
	return filepath.Join(dir, uuid.NewString()+uploadExt)
}

// IsUploadFile reports whether name looks like a file from NewUploadPath
func IsUploadFile(name string) bool {
	base, ok := strings.CutSuffix(name, uploadExt)
	if !ok {
		return false
	}
	_, err := uuid.Parse(base)
	return err == nil && len(base) == 36
}

// Upload is an uploaded file owned by exactly one Ingest call
type Upload interface {
	Open() (io.ReadCloser, error)
	// Release deletes the underlying resource. Calls after the first are no-ops.
	Release() error
}

// TempFile is an Upload stored on local disk
type TempFile struct {
	path string
	once sync.Once
	err  error
}

// NewTempFile wraps an already written file
func NewTempFile(path string) *TempFile {
	return &TempFile{path: path}
}

// Path returns the file location
func (f *TempFile) Path() string {
	return f.path
}

func (f *TempFile) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	return file, nil
}

// Release removes the file once. A file that is already gone counts as released.
func (f *TempFile) Release() error {
	f.once.Do(func() {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.err = fmt.Errorf("failed to remove upload %s: %w", f.path, err)
		}
	})
	return f.err
}

// onceUpload forwards Release to the wrapped Upload a single time
type onceUpload struct {
	Upload
	once sync.Once
	err  error
}

func releaseOnce(u Upload) Upload {
	return &onceUpload{Upload: u}
}

func (u *onceUpload) Release() error {
	u.once.Do(func() {
		u.err = u.Upload.Release()
	})
	return u.err
}
