package ort

import (
	"fmt"
	"path/filepath"
)

// TranslateInput carries everything argument translation depends on.
// Host details and the Android env paths come in explicitly so the
// translation itself stays a pure function.
type TranslateInput struct {
	Config *Config
	Host   Host

	SrcDir string
	BinDir string
	OutDir string

	// From ANDROID_NDK_HOME / ANDROID_HOME. Passed through unvalidated;
	// CMake reports the failure when they are wrong or missing.
	NDKHome string
	SDKHome string

	ToolchainDir string
}

// ConfigureArgs maps a build configuration onto the CMake configure argument
// list. It also returns the requested execution providers that the
// compatibility table rejects for this target/host, so the caller can warn
// about them.
//
// The wasm target never reaches this function; it has its own script path.
func ConfigureArgs(in *TranslateInput) ([]string, []ExecutionProvider) {
	cfg := in.Config

	args := []string{
		"-S", filepath.Join(in.SrcDir, "cmake"),
		"-B", in.BinDir,
	}

	if cfg.Generator == GeneratorNinja {
		args = append(args, "-G", "Ninja")
	}

	args = append(args, crossArgs(cfg, in.Host, in.ToolchainDir)...)

	args = append(args,
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_INSTALL_PREFIX="+in.OutDir,
		"-Donnxruntime_BUILD_UNIT_TESTS=OFF",
	)

	if cfg.Static {
		args = append(args, "-Donnxruntime_BUILD_SHARED_LIB=OFF")
	} else {
		args = append(args, "-Donnxruntime_BUILD_SHARED_LIB=ON")
	}

	switch cfg.Target {
	case TargetIphoneOS:
		args = append(args, appleTargetArgs(cfg, "iOS", "iphoneos")...)
	case TargetIphoneSimulator:
		args = append(args, appleTargetArgs(cfg, "iOS", "iphonesimulator")...)
	case TargetAndroid:
		args = append(args, androidArgs(cfg, in.NDKHome, in.SDKHome)...)
	case TargetHost:
		if in.Host.OS == "darwin" {
			args = append(args, "-DCMAKE_OSX_DEPLOYMENT_TARGET="+MinMacosVersion)
		}
	}

	// Runtime linkage is a Windows concern only. The four defines travel as
	// a unit; setting any of them alone produces link-time mismatches in
	// the vendored dependencies.
	if cfg.MTRuntime && in.Host.OS == "windows" && cfg.Target == TargetHost {
		args = append(args,
			"-Donnxruntime_USE_MSVC_STATIC_RUNTIME=ON",
			"-Dprotobuf_MSVC_STATIC_RUNTIME=ON",
			"-Dgtest_force_shared_crt=OFF",
			"-DCMAKE_MSVC_RUNTIME_LIBRARY=MultiThreaded",
		)
	}

	epArgs, skipped := executionProviderArgs(cfg, in.Host)
	args = append(args, epArgs...)

	return args, skipped
}

// crossArgs handles targetArch != hostArch for host-platform builds. Each
// host OS has its own mechanism: Visual Studio takes a generator platform,
// Linux needs an external toolchain file, and Xcode's clang accepts an
// architecture list directly.
func crossArgs(cfg *Config, host Host, toolchainDir string) []string {
	if cfg.Target != TargetHost || cfg.Arch == host.Arch {
		return nil
	}
	switch host.OS {
	case "windows":
		if cfg.Generator == GeneratorNinja {
			// Ninja has no platform switch; tell CMake directly.
			return []string{
				"-DCMAKE_SYSTEM_PROCESSOR=" + MSVCArch(cfg.Arch),
				"-DCMAKE_CROSSCOMPILING=ON",
			}
		}
		return []string{"-A", MSVCArch(cfg.Arch), "-DCMAKE_CROSSCOMPILING=ON"}
	case "linux":
		return []string{
			"-DCMAKE_TOOLCHAIN_FILE=" + filepath.Join(toolchainDir, LinuxTriple(cfg.Arch)+".cmake"),
		}
	case "darwin":
		return []string{"-DCMAKE_OSX_ARCHITECTURES=" + AppleArch(cfg.Arch)}
	}
	return nil
}

func appleTargetArgs(cfg *Config, systemName, sysroot string) []string {
	return []string{
		"-DCMAKE_SYSTEM_NAME=" + systemName,
		"-DCMAKE_OSX_SYSROOT=" + sysroot,
		"-DCMAKE_OSX_DEPLOYMENT_TARGET=" + MinIosVersion,
		"-DCMAKE_OSX_ARCHITECTURES=" + AppleArch(cfg.Arch),
	}
}

func androidArgs(cfg *Config, ndkHome, sdkHome string) []string {
	api := fmt.Sprintf("%d", cfg.AndroidAPI)
	return []string{
		"-DCMAKE_TOOLCHAIN_FILE=" + filepath.Join(ndkHome, "build", "cmake", "android.toolchain.cmake"),
		"-DANDROID_NDK=" + ndkHome,
		"-DANDROID_SDK_ROOT=" + sdkHome,
		"-DANDROID_ABI=" + cfg.AndroidABI,
		"-DANDROID_PLATFORM=android-" + api,
		"-DCMAKE_ANDROID_ARCH_ABI=" + cfg.AndroidABI,
		"-DCMAKE_SYSTEM_VERSION=" + api,
	}
}

// executionProviderArgs turns the requested provider set into defines.
// Providers are additive and independent; enabling one never disables
// another. Unsupported combinations are dropped, not rejected.
func executionProviderArgs(cfg *Config, host Host) (args []string, skipped []ExecutionProvider) {
	for _, ep := range AllExecutionProviders {
		if !cfg.HasEP(ep) {
			continue
		}
		if !EPSupported(ep, cfg.Target, host.OS) {
			skipped = append(skipped, ep)
			continue
		}
		switch ep {
		case EPDirectML:
			args = append(args, "-Donnxruntime_USE_DML=ON")
		case EPCoreML:
			args = append(args, "-Donnxruntime_USE_COREML=ON")
		case EPXnnpack:
			args = append(args, "-Donnxruntime_USE_XNNPACK=ON")
		case EPWebGPU:
			// Delay loading breaks the WebGPU DLL bootstrap on Windows;
			// keep the two flags tied together.
			args = append(args,
				"-Donnxruntime_USE_WEBGPU=ON",
				"-Donnxruntime_ENABLE_DELAY_LOADING_WIN_DLLS=OFF",
			)
		case EPOpenVINO:
			args = append(args, "-Donnxruntime_USE_OPENVINO=ON")
		case EPNnapi:
			args = append(args, "-Donnxruntime_USE_NNAPI_BUILTIN=ON")
		}
	}
	return args, skipped
}
