// Package fsx has the small filesystem helpers the builder needs: existence
// checks, directory bookkeeping and the move/copy plumbing used by the
// cleaner and artifact steps.
package fsx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

func statPath(path string) (os.FileInfo, error) {
	if info, err := os.Stat(path); err == nil {
		return info, nil
	} else if os.IsNotExist(err) {
		return nil, nil
	} else {
		return nil, err
	}
}

func FileExists(file string) bool {
	info, err := statPath(file)
	if err != nil {
		return false
	}
	return info != nil && !info.IsDir()
}

func DirExists(dir string) bool {
	info, err := statPath(dir)
	if err != nil {
		return false
	}
	return info != nil && info.IsDir()
}

func Mkdirp(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// ListFilesSorted returns the regular files directly inside dir, sorted by
// name. A missing dir yields an empty list.
func ListFilesSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Move renames src to dst. Used for the cleaner's move-aside dance; both
// paths live on the same filesystem so a plain rename is enough.
func Move(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move %s -> %s: %w", src, dst, err)
	}
	return nil
}

// CopyFile copies one regular file, preserving its mode.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := Mkdirp(filepath.Dir(dst)); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
