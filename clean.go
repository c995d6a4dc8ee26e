package ort

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ortkit/ort-builder/fsx"
)

// Entries directly under the work dir that a selective clean keeps. The
// checkout and the emsdk tree are expensive to refetch; *.stamp files are
// the build tool's already-fetched markers.
var preservedCleanEntries = []string{"onnxruntime", "emsdk"}

// CleanAll removes the whole work dir, source checkout included. The next
// build starts from a fresh clone.
func CleanAll(workDir string) error {
	if err := os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("clean-all: %w", err)
	}
	return nil
}

// CleanSelective removes generated build output while keeping the source
// checkout and fetch stamps: preserved entries move to a temp dir next to
// the work dir, the work dir is removed and recreated, and the entries move
// back. Without a checkout this degrades to a plain removal.
func CleanSelective(workDir string) error {
	if !fsx.DirExists(SrcDir(workDir)) {
		return CleanAll(workDir)
	}

	keep, err := preservedEntries(workDir)
	if err != nil {
		return fmt.Errorf("clean: %w", err)
	}

	tmp, err := os.MkdirTemp(filepath.Dir(workDir), ".ortb-clean-")
	if err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	for _, name := range keep {
		if err := fsx.Move(filepath.Join(workDir, name), filepath.Join(tmp, name)); err != nil {
			return fmt.Errorf("clean: %w", err)
		}
	}
	if err := os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	if err := fsx.Mkdirp(workDir); err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	for _, name := range keep {
		if err := fsx.Move(filepath.Join(tmp, name), filepath.Join(workDir, name)); err != nil {
			return fmt.Errorf("clean: %w", err)
		}
	}
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	return nil
}

func preservedEntries(workDir string) ([]string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, err
	}
	var keep []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			for _, p := range preservedCleanEntries {
				if name == p {
					keep = append(keep, name)
				}
			}
		} else if strings.HasSuffix(name, ".stamp") {
			keep = append(keep, name)
		}
	}
	return keep, nil
}
