package ort

import (
	"path/filepath"
	"runtime"
)

const UpstreamRepoURL = "https://github.com/microsoft/onnxruntime.git"
const EmsdkRepoURL = "https://github.com/emscripten-core/emsdk.git"

const MinMacosVersion = "11.0"
const MinIosVersion = "14.0"

const DefaultRef = "main"
const DefaultAndroidAPI = 29
const DefaultAndroidABI = "arm64-v8a"
const DefaultEmsdkVersion = "4.0.3"

// Env vars consumed when targeting Android. Read lazily, never validated
// up front; a bad value surfaces as a CMake diagnostic.
const AndroidNDKEnv = "ANDROID_NDK_HOME"
const AndroidSDKEnv = "ANDROID_HOME"

var WorkDir string
var OutRootDir string
var PatchDir string
var ToolchainDir string

type TargetEnum string

const (
	TargetHost            TargetEnum = "host"
	TargetIphoneOS        TargetEnum = "iphoneos"
	TargetIphoneSimulator TargetEnum = "iphonesimulator"
	TargetAndroid         TargetEnum = "android"
	TargetWasm            TargetEnum = "wasm"
)

type ArchEnum string

const (
	ArchX86_64  ArchEnum = "x86_64"
	ArchAarch64 ArchEnum = "aarch64"
)

var SupportedArchs = map[ArchEnum]bool{
	ArchX86_64:  true,
	ArchAarch64: true,
}

type GeneratorEnum string

const (
	GeneratorDefault GeneratorEnum = "default"
	GeneratorNinja   GeneratorEnum = "ninja"
)

var SupportedAndroidABIs = map[string]bool{
	"armeabi-v7a": true,
	"arm64-v8a":   true,
	"x86_64":      true,
	"x86":         true,
}

type ExecutionProvider string

const (
	EPDirectML ExecutionProvider = "directml"
	EPCoreML   ExecutionProvider = "coreml"
	EPXnnpack  ExecutionProvider = "xnnpack"
	EPWebGPU   ExecutionProvider = "webgpu"
	EPOpenVINO ExecutionProvider = "openvino"
	EPNnapi    ExecutionProvider = "nnapi"
)

// AllExecutionProviders fixes the order providers appear in assembled
// argument lists.
var AllExecutionProviders = []ExecutionProvider{
	EPDirectML,
	EPCoreML,
	EPXnnpack,
	EPWebGPU,
	EPOpenVINO,
	EPNnapi,
}

// EPTargets lists which platform targets each execution provider supports.
// A provider requested for an unsupported target is skipped with a warning,
// never an error.
var EPTargets = map[ExecutionProvider]map[TargetEnum]bool{
	EPDirectML: {TargetHost: true},
	EPCoreML:   {TargetHost: true, TargetIphoneOS: true, TargetIphoneSimulator: true},
	EPXnnpack:  {TargetHost: true, TargetIphoneOS: true, TargetIphoneSimulator: true, TargetAndroid: true},
	EPWebGPU:   {TargetHost: true, TargetWasm: true},
	EPOpenVINO: {TargetHost: true},
	EPNnapi:    {TargetAndroid: true},
}

// EPHostOS further restricts host-target providers to specific host
// operating systems. Providers absent from this map run on any host OS.
var EPHostOS = map[ExecutionProvider][]string{
	EPDirectML: {"windows"},
	EPCoreML:   {"darwin"},
	EPOpenVINO: {"linux", "windows"},
}

// EPSupported reports whether a provider is valid for the given platform
// target on the given host OS.
func EPSupported(ep ExecutionProvider, target TargetEnum, hostOS string) bool {
	targets := EPTargets[ep]
	if targets == nil || !targets[target] {
		return false
	}
	if target != TargetHost {
		return true
	}
	allowed, ok := EPHostOS[ep]
	if !ok {
		return true
	}
	for _, os := range allowed {
		if os == hostOS {
			return true
		}
	}
	return false
}

// Host describes the machine the build runs on. It is passed around
// explicitly so argument translation stays a pure function.
type Host struct {
	OS   string
	Arch ArchEnum
}

func DetectHost() Host {
	arch := ArchX86_64
	if runtime.GOARCH == "arm64" {
		arch = ArchAarch64
	}
	return Host{OS: runtime.GOOS, Arch: arch}
}

// AppleArch maps our arch names to the ones Xcode/CMake expect.
func AppleArch(arch ArchEnum) string {
	if arch == ArchAarch64 {
		return "arm64"
	}
	return string(arch)
}

// MSVCArch maps our arch names to Visual Studio generator platforms.
func MSVCArch(arch ArchEnum) string {
	if arch == ArchAarch64 {
		return "ARM64"
	}
	return "x64"
}

// LinuxTriple maps target arches to the cross toolchain files shipped under
// toolchains/.
func LinuxTriple(arch ArchEnum) string {
	if arch == ArchAarch64 {
		return "aarch64-linux-gnu"
	}
	return "x86_64-linux-gnu"
}

// SrcDir is the ONNX Runtime checkout nested inside the work dir. A
// selective clean preserves it.
func SrcDir(workDir string) string {
	return filepath.Join(workDir, "onnxruntime")
}

// EmsdkDir holds the emsdk checkout used by the wasm target.
func EmsdkDir(workDir string) string {
	return filepath.Join(workDir, "emsdk")
}

// BinDir is the CMake binary directory for one target/arch pair.
func BinDir(workDir string, target TargetEnum, arch ArchEnum) string {
	return filepath.Join(workDir, string(target), string(arch))
}

// OutDir is the install prefix. Static and shared artifacts never share a
// directory.
func OutDir(outRoot string, target TargetEnum, arch ArchEnum, static bool) string {
	linkage := "shared"
	if static {
		linkage = "static"
	}
	return filepath.Join(outRoot, string(target), string(arch), linkage)
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		panic(err)
	}
	return abs
}

func init() {
	WorkDir = mustAbs("./build")
	OutRootDir = mustAbs("./output")
	PatchDir = mustAbs("./patches")
	ToolchainDir = mustAbs("./toolchains")
}
