// Package staging prepares raw microscope images for a batch: it gathers
// nested image files into one directory and sets aside incomplete channel sets.
package staging

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultImageExts are matched case-insensitively.
var DefaultImageExts = []string{".tif", ".tiff"}

// Flatten copies every file under src whose extension is in exts into dst,
// dropping the directory structure. Mode and modification time are kept.
// Files with the same base name overwrite each other in walk order.
func Flatten(src, dst string, exts []string) (int, error) {
	if len(exts) == 0 {
		exts = DefaultImageExts
	}
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return 0, err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return 0, err
	}
	if info, err := os.Stat(srcAbs); err != nil {
		return 0, err
	} else if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", src)
	}
	if err := os.MkdirAll(dstAbs, 0o755); err != nil {
		return 0, err
	}

	copied := 0
	err = filepath.WalkDir(srcAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == dstAbs {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !hasExt(d.Name(), exts) {
			return nil
		}
		if err := copyFile(path, filepath.Join(dstAbs, d.Name())); err != nil {
			return err
		}
		copied++
		return nil
	})
	return copied, err
}

func hasExt(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile honours umask; set the mode explicitly.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
