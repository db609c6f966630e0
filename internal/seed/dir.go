package seed

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/compendium/internal/checksum"
)

// File describes one fixture on disk.
type File struct {
	Path     string
	Checksum string
}

// Dir reads fixtures under a root directory.
type Dir struct {
	root string
}

// NewDir opens root, which must be an existing directory.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("seed: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("seed: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("seed: root is not a directory: %s", abs)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute root path.
func (d *Dir) Root() string { return d.root }

// safePath resolves rel under the root and rejects paths that escape it.
func (d *Dir) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("seed: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(d.root, cleaned)
	if !strings.HasPrefix(abs, d.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("seed: path escapes root: %s", rel)
	}
	return abs, nil
}

// List returns every .md file under the root with its checksum. Paths are
// slash-separated and relative to the root.
func (d *Dir) List() ([]File, error) {
	var out []File
	err := filepath.WalkDir(d.root, func(p string, e fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if e.IsDir() {
			if p != d.root && strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isFixture(p) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(d.root, p)
		out = append(out, File{Path: filepath.ToSlash(rel), Checksum: checksum.Sum(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seed: list: %w", err)
	}
	return out, nil
}

// Read returns the bytes of the fixture at rel.
func (d *Dir) Read(rel string) ([]byte, error) {
	abs, err := d.safePath(filepath.FromSlash(rel))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", rel, err)
	}
	return data, nil
}

func isFixture(path string) bool {
	return strings.HasSuffix(path, ".md") && !strings.HasPrefix(filepath.Base(path), ".")
}
