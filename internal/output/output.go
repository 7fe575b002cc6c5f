// Package output persists calendar aggregates under the output directory.
//
// File names are a contract with calendar subscribers; they come from the
// configured partitions and are never derived from event data.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Calendar is anything that can serialize itself as an iCalendar document.
type Calendar interface {
	WriteTo(w io.Writer) (int64, error)
}

// Writer writes calendars into Dir.
type Writer struct {
	Dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Write stores cal as Dir/name. The file is replaced atomically: the data is
// written to a temp file in the same directory and renamed over the target.
// It returns the final path.
func (w *Writer) Write(name string, cal Calendar) (string, error) {
	if w.Dir == "" {
		return "", errors.New("output directory is empty")
	}
	if err := validName(name); err != nil {
		return "", err
	}
	if cal == nil {
		return "", errors.New("calendar is nil")
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(w.Dir, name)

	tmp, err := os.CreateTemp(w.Dir, ".nsocal-*.ics.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := cal.WriteTo(tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	// Subscribers and web servers read these files; make them world-readable.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", err
	}
	return path, nil
}

// validName rejects names that would escape Dir.
func validName(name string) error {
	if name == "" {
		return errors.New("output file name is empty")
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("output file name %q must be a bare file name", name)
	}
	return nil
}
