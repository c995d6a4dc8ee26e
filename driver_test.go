package ort

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ortkit/ort-builder/fsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records every command and can fail at a chosen step.
type fakeRunner struct {
	cmds     []*Command
	failStep string
}

func (f *fakeRunner) Run(c *Command) error {
	f.cmds = append(f.cmds, c)
	if f.failStep != "" && c.Step == f.failStep {
		return fmt.Errorf("step %q failed: exit status 1", c.Step)
	}
	return nil
}

func (f *fakeRunner) steps() []string {
	var s []string
	for _, c := range f.cmds {
		s = append(s, c.Step)
	}
	return s
}

// usePatchDir points the package patch dir at a temp dir for one test.
func usePatchDir(t *testing.T, dir string) {
	t.Helper()
	old := PatchDir
	PatchDir = dir
	t.Cleanup(func() { PatchDir = old })
}

func TestBuildStepOrder(t *testing.T) {
	usePatchDir(t, t.TempDir())
	work := filepath.Join(t.TempDir(), "build")
	out := filepath.Join(t.TempDir(), "output")

	r := &fakeRunner{}
	cfg := &Config{Ref: "v1.20.0", Arch: ArchX86_64, Target: TargetHost}
	host := Host{OS: "linux", Arch: ArchX86_64}

	require.NoError(t, Build(r, cfg, host, work, out))
	assert.Equal(t, []string{"fetch", "configure", "build", "install"}, r.steps())

	configure := r.cmds[1]
	assert.Equal(t, "cmake", configure.Name)
	assert.Contains(t, configure.Args, "-S")
	assert.Contains(t, configure.Args, filepath.Join(SrcDir(work), "cmake"))

	install := r.cmds[3]
	assert.Equal(t, []string{"--install", BinDir(work, TargetHost, ArchX86_64)}, install.Args)
}

func TestBuildHaltsOnFirstFailure(t *testing.T) {
	usePatchDir(t, t.TempDir())
	work := filepath.Join(t.TempDir(), "build")

	r := &fakeRunner{failStep: "build"}
	cfg := &Config{Ref: "main", Arch: ArchX86_64, Target: TargetHost}
	err := Build(r, cfg, Host{OS: "linux", Arch: ArchX86_64}, work, t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "build" failed`)
	assert.Equal(t, []string{"fetch", "configure", "build"}, r.steps(),
		"install must not run after a build failure")
}

func TestBuildFailedFetchSkipsEverything(t *testing.T) {
	usePatchDir(t, t.TempDir())
	r := &fakeRunner{failStep: "fetch"}
	cfg := &Config{Ref: "main", Arch: ArchX86_64, Target: TargetHost}
	err := Build(r, cfg, Host{OS: "linux", Arch: ArchX86_64}, filepath.Join(t.TempDir(), "build"), t.TempDir())

	require.Error(t, err)
	assert.Equal(t, []string{"fetch"}, r.steps())
}

func TestDryRunPrintsWithoutTouchingAnything(t *testing.T) {
	usePatchDir(t, t.TempDir())
	work := filepath.Join(t.TempDir(), "build")
	out := filepath.Join(t.TempDir(), "output")

	var buf bytes.Buffer
	r := &DryRunner{Out: &buf}
	cfg := &Config{Ref: "main", Arch: ArchX86_64, Target: TargetHost, DryRun: true, Static: true}

	require.NoError(t, Build(r, cfg, Host{OS: "linux", Arch: ArchX86_64}, work, out))

	printed := buf.String()
	assert.Contains(t, printed, "[fetch] git clone")
	assert.Contains(t, printed, "[configure] cmake")
	assert.Contains(t, printed, "[build] cmake --build")
	assert.Contains(t, printed, "[install] cmake --install")
	assert.Contains(t, printed, "-Donnxruntime_BUILD_SHARED_LIB=OFF")

	assert.False(t, fsx.DirExists(work), "dry run must not create the work dir")
	assert.False(t, fsx.DirExists(out), "dry run must not create the output dir")
}

func TestDryRunMatchesRealCommandLines(t *testing.T) {
	usePatchDir(t, t.TempDir())
	work := filepath.Join(t.TempDir(), "build")
	out := filepath.Join(t.TempDir(), "output")
	cfg := &Config{Ref: "main", Arch: ArchX86_64, Target: TargetHost}
	host := Host{OS: "linux", Arch: ArchX86_64}

	real := &fakeRunner{}
	require.NoError(t, Build(real, cfg, host, work, out))

	// A second run with identical flags plus dry-run must print exactly the
	// commands the real run executed. The work dir now exists, so drop it
	// to keep the fetch plan identical.
	require.NoError(t, os.RemoveAll(work))
	var buf bytes.Buffer
	dryCfg := *cfg
	dryCfg.DryRun = true
	require.NoError(t, Build(&DryRunner{Out: &buf}, &dryCfg, host, work, out))

	for _, c := range real.cmds {
		assert.Contains(t, buf.String(), c.String())
	}
}

func TestDispatchRunsExactlyOneMode(t *testing.T) {
	t.Run("clean-all wins over build", func(t *testing.T) {
		work := t.TempDir()
		require.NoError(t, fsx.Mkdirp(filepath.Join(work, "junk")))
		oldWork := WorkDir
		WorkDir = work
		t.Cleanup(func() { WorkDir = oldWork })

		require.NoError(t, Dispatch(&Config{CleanAll: true, Arch: ArchX86_64, Target: TargetHost}))
		assert.False(t, fsx.DirExists(work))
	})
}
