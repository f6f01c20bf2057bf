package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/born-ml/mnist-estimator/internal/tfrecord"
)

// ResolveFiles expands a path or glob pattern into a sorted file list.
func ResolveFiles(pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[") {
		if err := RequireFile(pattern); err != nil {
			return nil, err
		}
		return []string{pattern}, nil
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no files match %q", ErrFileNotFound, pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// GlobDir returns the sorted regular files in dir whose base name matches
// pattern. dir is taken literally, so glob metacharacters in it are safe.
func GlobDir(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); ok {
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no files match %q in %s", ErrFileNotFound, pattern, dir)
	}
	sort.Strings(matches)
	return matches, nil
}

// RequireFile reports ErrFileNotFound unless path is an existing regular
// file. path is never expanded as a pattern.
func RequireFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}
	return nil
}

// WriteFile writes examples to a TFRecord file at path.
func WriteFile(path string, examples []Example) (err error) {
	f, err := os.Create(path) //nolint:gosec // caller-chosen output path
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	w := tfrecord.NewWriter(f)
	for _, ex := range examples {
		if err := w.Write(EncodeExample(ex)); err != nil {
			return err
		}
	}
	return w.Flush()
}
