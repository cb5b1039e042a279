package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// errShortWrite is returned when a copied file ends up smaller than its source.
var errShortWrite = errors.New("short write while copying file")

// skipFunc reports whether a source-relative path is left out of a copy.
type skipFunc func(rel string, info os.FileInfo) bool

// copyTree copies src into dst, recreating directories, regular files and symlinks.
// Modes are preserved. Existing files in dst are overwritten.
func copyTree(src, dst string, skip skipFunc) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}

		if rel == "." {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if skip != nil && skip(rel, info) {
			if entry.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		case info.Mode()&os.ModeSymlink != 0:
			return copySymlink(path, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info)
		}

		return nil
	})
}

func copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("failed to read symlink %s: %w", src, err)
	}

	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to replace %s: %w", dst, err)
	}

	if err := os.Symlink(link, dst); err != nil {
		return fmt.Errorf("failed to create symlink %s: %w", dst, err)
	}

	return nil
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	written, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}

	if written != info.Size() {
		return fmt.Errorf("%w: %s", errShortWrite, src)
	}

	// OpenFile only applies the mode to new files.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to set mode of %s: %w", dst, err)
	}

	return nil
}
