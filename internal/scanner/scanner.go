package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mkv-converter/pkg/models"
)

// ScanError reports that the scan root is missing or unreadable. It is fatal
// for the whole run.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Scanner finds eligible source files below a root directory.
type Scanner struct {
	extension string
	logger    *slog.Logger
}

// New returns a scanner matching files whose extension equals ext exactly
// (case-sensitive, including the leading dot).
func New(ext string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scanner{extension: ext, logger: logger}
}

// Scan walks root and returns the matching files ordered by relative path.
// Hidden files and directories (leading ".") are excluded at every depth.
// An existing root without matches yields an empty slice.
func (s *Scanner) Scan(root string) ([]models.InputDescriptor, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &ScanError{Root: root, Err: errors.New("not a directory")}
	}
	if _, err := os.ReadDir(absRoot); err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	var found []models.InputDescriptor
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == absRoot {
				return err
			}
			s.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == absRoot {
			return nil
		}

		if isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(d.Name()) != s.extension {
			return nil
		}

		fi, err := s.fileInfo(path, d)
		if err != nil {
			s.logger.Warn("skipping file without stat info", "path", path, "error", err)
			return nil
		}
		if !fi.Mode().IsRegular() {
			s.logger.Debug("skipping non-regular file", "path", path, "mode", fi.Mode().String())
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		found = append(found, models.InputDescriptor{
			Path:    path,
			RelPath: filepath.ToSlash(rel),
			Size:    fi.Size(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, &ScanError{Root: root, Err: walkErr}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].RelPath < found[j].RelPath
	})

	s.logger.Debug("scan complete", "root", absRoot, "files", len(found))
	return found, nil
}

// fileInfo stats d, following a symlink to its target. Symlinked
// directories are not descended into.
func (s *Scanner) fileInfo(path string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		return os.Stat(path)
	}
	return d.Info()
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
