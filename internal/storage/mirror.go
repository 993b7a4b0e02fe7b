package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MirrorStamp marks a directory as a disposable mirror that Mirror may clear.
const MirrorStamp = ".railguard-mirror"

// Mirror copies the tree at src into dst so a run can rewrite the copy
// instead of the original. dst must not exist, be empty, or carry the
// MirrorStamp left by a previous Mirror; in the last case it is cleared first.
func Mirror(src, dst string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("storage: resolve mirror source: %w", err)
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("storage: resolve mirror target: %w", err)
	}
	if absDst == absSrc || strings.HasPrefix(absDst, absSrc+string(os.PathSeparator)) ||
		strings.HasPrefix(absSrc, absDst+string(os.PathSeparator)) {
		return fmt.Errorf("storage: mirror target %s overlaps source %s", absDst, absSrc)
	}
	if err := prepareMirror(absDst); err != nil {
		return err
	}

	err = filepath.WalkDir(absSrc, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, _ := filepath.Rel(absSrc, p)
		target := filepath.Join(absDst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type().IsRegular():
			return copyFile(p, target, info.Mode().Perm())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: mirror %s: %w", absSrc, err)
	}
	return os.WriteFile(filepath.Join(absDst, MirrorStamp), []byte(absSrc+"\n"), 0o644)
}

func prepareMirror(dst string) error {
	entries, err := os.ReadDir(dst)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return os.MkdirAll(dst, 0o755)
	case err != nil:
		return fmt.Errorf("storage: read mirror target: %w", err)
	case len(entries) == 0:
		return nil
	}
	if _, err := os.Stat(filepath.Join(dst, MirrorStamp)); err != nil {
		return fmt.Errorf("storage: refusing to overwrite %s: not empty and not a previous mirror", dst)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dst, e.Name())); err != nil {
			return fmt.Errorf("storage: clear mirror: %w", err)
		}
	}
	return nil
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
