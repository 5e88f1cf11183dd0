// Package inbox ingests gradesheet text files dropped into a directory tree
// laid out as <root>/<program>/<regulation>/<name>.txt.
package inbox

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/gpahub/internal/checksum"
)

const gradesheetExt = ".txt"

// File is one gradesheet found in the inbox.
type File struct {
	Path       string    `json:"path"`
	Program    string    `json:"program"`
	Regulation string    `json:"regulation"`
	Checksum   string    `json:"checksum"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FS is the inbox directory on the local file system.
type FS struct {
	root string // absolute path to the inbox directory
}

// NewFS creates the inbox provider, creating root when missing.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("inbox: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("inbox: create root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("inbox: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute inbox path.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the inbox root and rejects
// any result that escapes it.
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("inbox: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("inbox: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("inbox: path escapes root: %s", rel)
	}
	return abs, nil
}

// Classify splits a relative path into program and regulation. ok is false
// for anything that is not a gradesheet at depth three or that lives under
// a hidden or underscore-prefixed directory.
func Classify(rel string) (program, regulation string, ok bool) {
	if !strings.HasSuffix(strings.ToLower(rel), gradesheetExt) {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/")
	if len(parts) != 3 {
		return "", "", false
	}
	for _, p := range parts[:2] {
		if skipDir(p) {
			return "", "", false
		}
	}
	if strings.HasPrefix(parts[2], ".") {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// List walks the inbox and returns every gradesheet with its checksum.
func (f *FS) List() ([]File, error) {
	var out []File
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != f.root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(f.root, p)
		program, regulation, ok := Classify(rel)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := checksum.File(p)
		if err != nil {
			return err
		}
		out = append(out, File{
			Path:       rel,
			Program:    program,
			Regulation: regulation,
			Checksum:   sum,
			UpdatedAt:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inbox: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of an inbox file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("inbox: read %s: %w", path, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file, fsync, rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("inbox: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".gpahub-tmp-*")
	if err != nil {
		return fmt.Errorf("inbox: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("inbox: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("inbox: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("inbox: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("inbox: rename: %w", err)
	}
	success = true
	return nil
}

// Move renames a file within the inbox.
func (f *FS) Move(oldPath, newPath string) error {
	absOld, err := f.safePath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("inbox: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("inbox: move: %w", err)
	}
	return nil
}
