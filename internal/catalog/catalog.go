// Package catalog resolves local video file paths into immutable records
// carrying the absolute path, base name and byte size of each file.
package catalog

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/jmylchreest/pandactl/internal/apperr"
)

// errIsDirectory is reported when a path resolves to a directory.
var errIsDirectory = errors.New("path is a directory")

// VideoFile is a local video file whose size was determined at construction.
type VideoFile struct {
	path string
	name string
	size int64
}

// NewVideoFile resolves relPath against baseDir and stats the result.
// An absolute relPath ignores baseDir; an empty baseDir resolves relative to
// the working directory.
func NewVideoFile(fs afero.Fs, baseDir, relPath string) (*VideoFile, error) {
	joined := relPath
	if !filepath.IsAbs(relPath) {
		joined = filepath.Join(baseDir, relPath)
	}
	abs, err := filepath.Abs(joined)
	if err != nil {
		return nil, &apperr.FileLoadError{Path: relPath, Err: err}
	}

	info, err := fs.Stat(abs)
	if err != nil {
		return nil, &apperr.FileLoadError{Path: abs, Err: err}
	}
	if info.IsDir() {
		return nil, &apperr.FileLoadError{Path: abs, Err: errIsDirectory}
	}

	return &VideoFile{
		path: abs,
		name: filepath.Base(abs),
		size: info.Size(),
	}, nil
}

// Path returns the absolute path of the file.
func (f *VideoFile) Path() string { return f.path }

// Name returns the base name of the file.
func (f *VideoFile) Name() string { return f.name }

// Size returns the file size in bytes as observed at construction.
func (f *VideoFile) Size() int64 { return f.size }

func (f *VideoFile) String() string {
	return fmt.Sprintf("%s (%d bytes)", f.path, f.size)
}

// Load builds a record for every path, preserving input order.
// The first file that cannot be loaded aborts the whole list.
func Load(fs afero.Fs, baseDir string, paths []string) ([]*VideoFile, error) {
	files := make([]*VideoFile, 0, len(paths))
	for _, p := range paths {
		f, err := NewVideoFile(fs, baseDir, p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// TotalSize sums the sizes of files.
func TotalSize(files []*VideoFile) int64 {
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total
}
