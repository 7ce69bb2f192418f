package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/PentesterFlow/apimap/internal/errors"
)

// DefaultExtensions are the source extensions scanned when none are configured.
var DefaultExtensions = []string{".py"}

// DefaultSkipDirs are directory names never traversed.
var DefaultSkipDirs = []string{".git", "node_modules", "vendor", "__pycache__", ".venv", "build", "dist"}

// walkResult lists the source files under a root, repo-relative with
// forward slashes, plus the directories that could not be read.
type walkResult struct {
	files      []string
	unreadable []SkippedFile
}

// walk collects source files under root. A missing or unreadable root is
// fatal; failures below it are recorded and the walk continues.
func (s *Scanner) walk(root string) (*walkResult, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, apperrors.NewIOError(root, "walk", err, true)
	}
	if !info.IsDir() {
		return nil, apperrors.NewIOError(root, "walk", errNotDir, true)
	}

	res := &walkResult{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			where := s.relative(root, path)
			if path == root {
				where = root
			}
			werr := apperrors.NewIOError(where, "walk", err, path == root)
			if apperrors.IsFatal(werr) {
				return werr
			}
			res.unreadable = append(res.unreadable, SkippedFile{
				Path:   werr.Path,
				Reason: SkipRead,
				Err:    werr,
			})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && s.skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !s.hasExtension(d.Name()) {
			return nil
		}
		res.files = append(res.files, s.relative(root, path))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(res.files)
	return res, nil
}

func (s *Scanner) relative(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (s *Scanner) hasExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range s.config.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// normalizeExtensions lowercases extensions and adds the leading dot.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
