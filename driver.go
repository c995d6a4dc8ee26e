package ort

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ortkit/ort-builder/fsx"
)

// Dispatch runs exactly one of the clean, wasm or build paths for a parsed
// configuration. Clean invocations never proceed to a build.
func Dispatch(cfg *Config) error {
	switch {
	case cfg.CleanAll:
		return CleanAll(WorkDir)
	case cfg.Clean:
		return CleanSelective(WorkDir)
	}

	var r Runner
	if cfg.DryRun {
		r = &DryRunner{Out: os.Stdout}
	} else {
		r = NewTunnelRunner()
	}

	if cfg.Target == TargetWasm {
		return BuildWasm(r, cfg, WorkDir, OutRootDir)
	}
	return Build(r, cfg, DetectHost(), WorkDir, OutRootDir)
}

// Build runs the main path: fetch, patch, configure, build, install. Each
// step is a blocking external invocation; the first failure aborts the
// chain and its error names the step. Nothing retries.
func Build(r Runner, cfg *Config, host Host, workDir, outRoot string) error {
	srcDir := SrcDir(workDir)
	binDir := BinDir(workDir, cfg.Target, cfg.Arch)
	outDir := OutDir(outRoot, cfg.Target, cfg.Arch, cfg.Static)

	if err := PrepareSource(r, cfg.Ref, srcDir, PatchDir); err != nil {
		return err
	}

	in := &TranslateInput{
		Config:       cfg,
		Host:         host,
		SrcDir:       srcDir,
		BinDir:       binDir,
		OutDir:       outDir,
		NDKHome:      os.Getenv(AndroidNDKEnv),
		SDKHome:      os.Getenv(AndroidSDKEnv),
		ToolchainDir: ToolchainDir,
	}
	configureArgs, skipped := ConfigureArgs(in)
	for _, ep := range skipped {
		Warnf("execution provider %q is not supported on target %q (host %s); skipping", ep, cfg.Target, host.OS)
	}

	if !cfg.DryRun {
		if err := fsx.Mkdirp(binDir); err != nil {
			return fmt.Errorf("step \"configure\" failed: %w", err)
		}
	}

	steps := []*Command{
		{Step: "configure", Name: "cmake", Args: configureArgs},
		{Step: "build", Name: "cmake", Args: []string{
			"--build", binDir,
			"--config", "Release",
			"-j", fmt.Sprintf("%d", runtime.NumCPU()),
		}},
		{Step: "install", Name: "cmake", Args: []string{"--install", binDir}},
	}
	for _, c := range steps {
		if err := r.Run(c); err != nil {
			return err
		}
	}
	return nil
}
