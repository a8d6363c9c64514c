package file

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrEmptyName = errors.New("empty file name")

// Stager allocates unique on-disk locations for uploads and conversion outputs.
type Stager struct {
	UploadDir string
	OutputDir string
}

func NewStager(dataDir string) *Stager {
	return &Stager{
		UploadDir: filepath.Join(dataDir, "uploads"),
		OutputDir: filepath.Join(dataDir, "outputs"),
	}
}

// Prepare creates the staging directories.
func (s *Stager) Prepare() error {
	if err := EnsureDir(s.UploadDir); err != nil {
		return err
	}
	return EnsureDir(s.OutputDir)
}

// Stage copies the upload body into UploadDir under a uuid-prefixed name,
// so concurrently staged files never collide. The original extension is
// kept because classification relies on it.
func (s *Stager) Stage(r io.Reader, originalName string) (string, int64, error) {
	if strings.TrimSpace(originalName) == "" {
		return "", 0, ErrEmptyName
	}
	path := filepath.Join(s.UploadDir, uuid.NewString()+"_"+SanitizeName(originalName))
	written, err := CopyAtomic(path, r)
	if err != nil {
		return "", 0, fmt.Errorf("stage upload: %w", err)
	}
	return path, written, nil
}

// OutputPath returns a fresh output location for originalName converted to
// outputFormat (".ext"). Nothing is created on disk.
func (s *Stager) OutputPath(originalName, outputFormat string) string {
	return filepath.Join(s.OutputDir, uuid.NewString()+"_"+Stem(originalName)+outputFormat)
}

// Stem is the sanitized base name without its extension.
func Stem(name string) string {
	base := SanitizeName(name)
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" {
		return stem
	}
	return base
}

// DownloadName is the name a converted file is offered under.
func DownloadName(originalName, outputFormat string) string {
	return Stem(originalName) + outputFormat
}
