package ort

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ortkit/ort-builder/fsx"
)

// The wasm path never touches the CMake translator: the upstream tree's own
// build script drives emscripten with a fixed flag set, and we only bootstrap
// emsdk around it and collect the single resulting archive.

const wasmLibName = "libonnxruntime_webassembly.a"
const wasmInstalledName = "libonnxruntime.a"

// WasmCommands assembles the emsdk bootstrap and the build-script
// invocation for the wasm target.
func WasmCommands(cfg *Config, srcDir, emsdkDir string) []*Command {
	var cmds []*Command

	if !fsx.DirExists(emsdkDir) {
		cmds = append(cmds, &Command{
			Step: "emsdk",
			Name: "git",
			Args: []string{"clone", "--depth", "1", EmsdkRepoURL, emsdkDir},
		})
	}
	emsdkBin := filepath.Join(emsdkDir, "emsdk")
	cmds = append(cmds,
		&Command{Step: "emsdk", Name: emsdkBin, Args: []string{"install", cfg.EmsdkVersion}},
		&Command{Step: "emsdk", Name: emsdkBin, Args: []string{"activate", cfg.EmsdkVersion}},
	)

	scriptArgs := []string{
		"--build_wasm_static_lib",
		"--config", "Release",
		"--skip_tests",
		"--disable_wasm_exception_catching",
		"--disable_rtti",
		"--enable_wasm_simd",
		"--enable_wasm_threads",
		"--parallel",
	}
	if cfg.HasEP(EPWebGPU) {
		scriptArgs = append(scriptArgs, "--use_webgpu")
	}
	// The build script needs the activated emscripten env; source it in the
	// same shell, the way the upstream docs run it.
	script := fmt.Sprintf("source %s && %s %s",
		filepath.Join(emsdkDir, "emsdk_env.sh"),
		filepath.Join(srcDir, "build.sh"),
		strings.Join(scriptArgs, " "))
	cmds = append(cmds, &Command{
		Step: "wasm-build",
		Name: "bash",
		Args: []string{"-c", script},
		Dir:  srcDir,
	})
	return cmds
}

// WasmArtifact returns the archive the build script leaves behind and the
// renamed path it is installed to.
func WasmArtifact(cfg *Config, srcDir, outRoot string) (src, dst string) {
	src = filepath.Join(srcDir, "build", "Wasm", "Release", wasmLibName)
	dst = filepath.Join(OutDir(outRoot, TargetWasm, cfg.Arch, true), "lib", wasmInstalledName)
	return src, dst
}

// BuildWasm runs the alternate wasm path: source prep, emsdk bootstrap, the
// upstream build script, then exactly one library copy into the artifact
// tree.
func BuildWasm(r Runner, cfg *Config, workDir, outRoot string) error {
	for _, ep := range cfg.EPs {
		if !EPSupported(ep, TargetWasm, runtime.GOOS) {
			Warnf("execution provider %q is not supported on target %q; skipping", ep, TargetWasm)
		}
	}

	srcDir := SrcDir(workDir)
	if err := PrepareSource(r, cfg.Ref, srcDir, PatchDir); err != nil {
		return err
	}
	for _, c := range WasmCommands(cfg, srcDir, EmsdkDir(workDir)) {
		if err := r.Run(c); err != nil {
			return err
		}
	}

	src, dst := WasmArtifact(cfg, srcDir, outRoot)
	if cfg.DryRun {
		return r.Run(&Command{Step: "install", Name: "cp", Args: []string{src, dst}})
	}
	if err := fsx.CopyFile(src, dst); err != nil {
		return fmt.Errorf("step \"install\" failed: %w", err)
	}
	return nil
}
