package configsvc

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source fills a directory with the config tree
// (global_config.json, metrics.json, profiles/*.json).
type Source interface {
	// Fetch replaces the contents of dest and returns the relative paths
	// it wrote, sorted.
	Fetch(ctx context.Context, dest string) ([]string, error)
}

// stage runs fill against a fresh sibling of dest and swaps it in only when
// fill succeeded, so a failed download never leaves a half-empty tree.
func stage(dest string, fill func(dir string) ([]string, error)) ([]string, error) {
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dest)+".staging-")
	if err != nil {
		return nil, err
	}
	files, err := fill(tmp)
	if err != nil {
		_ = os.RemoveAll(tmp)
		return nil, err
	}
	if err := os.RemoveAll(dest); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, fmt.Errorf("clear %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, fmt.Errorf("swap %s: %w", dest, err)
	}
	sort.Strings(files)
	return files, nil
}

// localPath maps an object key (or relative path) below root, rejecting
// anything that would escape it.
func localPath(root, rel string) (string, error) {
	rel = strings.TrimLeft(filepath.FromSlash(rel), string(filepath.Separator))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("refusing path %q outside the download dir", rel)
	}
	return filepath.Join(root, rel), nil
}

func writeStream(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// DirSource copies a local tree (dev mode).
type DirSource struct {
	Dir string
}

func (s DirSource) Fetch(ctx context.Context, dest string) ([]string, error) {
	st, err := os.Stat(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("config dir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("config dir %s is not a directory", s.Dir)
	}
	return stage(dest, func(tmp string) ([]string, error) {
		var files []string
		err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(s.Dir, path)
			if err != nil {
				return err
			}
			target, err := localPath(tmp, rel)
			if err != nil {
				return err
			}
			src, err := os.Open(path)
			if err != nil {
				return err
			}
			defer src.Close()
			if err := writeStream(target, src); err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
			return nil
		})
		return files, err
	})
}
