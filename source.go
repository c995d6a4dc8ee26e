package ort

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ortkit/ort-builder/fsx"
)

// SourceCommands assembles the commands that bring the checkout at srcDir to
// a pristine copy of ref with all patches applied.
//
// Fresh dir: one shallow recursive clone restricted to ref. Existing dir:
// hard reset plus untracked-file removal, which makes repeated runs
// idempotent but destroys manual edits to the checkout. Patches from
// patchDir follow in lexicographic filename order (the 0001-, 0002-, ...
// prefix convention); a failed patch aborts the run and the tree stays
// partially patched. The next run's reset restores it.
func SourceCommands(ref, srcDir, patchDir string) ([]*Command, error) {
	var cmds []*Command

	if fsx.DirExists(filepath.Join(srcDir, ".git")) {
		cmds = append(cmds,
			&Command{
				Step: "fetch",
				Name: "git",
				Args: []string{"-C", srcDir, "reset", "--hard", "HEAD"},
			},
			&Command{
				Step: "fetch",
				Name: "git",
				Args: []string{"-C", srcDir, "clean", "-fdx"},
			},
		)
	} else {
		cmds = append(cmds, &Command{
			Step: "fetch",
			Name: "git",
			Args: []string{"clone", "--recursive", "--depth", "1", "--branch", ref, UpstreamRepoURL, srcDir},
		})
	}

	patches, err := ListPatches(patchDir)
	if err != nil {
		return nil, fmt.Errorf("step \"patch\" failed: %w", err)
	}
	for _, name := range patches {
		cmds = append(cmds, &Command{
			Step: "patch",
			Name: "git",
			Args: []string{"-C", srcDir, "apply", "--ignore-whitespace", "--recount", filepath.Join(patchDir, name)},
		})
	}
	return cmds, nil
}

// ListPatches returns the patch filenames in application order. Only
// *.patch and *.diff files count; anything else in the directory (notes,
// editor droppings) is ignored.
func ListPatches(patchDir string) ([]string, error) {
	files, err := fsx.ListFilesSorted(patchDir)
	if err != nil {
		return nil, err
	}
	var patches []string
	for _, name := range files {
		if strings.HasSuffix(name, ".patch") || strings.HasSuffix(name, ".diff") {
			patches = append(patches, name)
		}
	}
	return patches, nil
}

// PrepareSource runs the fetch and patch steps, stopping at the first
// failure.
func PrepareSource(r Runner, ref, srcDir, patchDir string) error {
	cmds, err := SourceCommands(ref, srcDir, patchDir)
	if err != nil {
		return err
	}
	for _, c := range cmds {
		if err := r.Run(c); err != nil {
			return err
		}
	}
	return nil
}
