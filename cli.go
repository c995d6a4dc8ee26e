package ort

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Config is the full build request. It is immutable once parsing returns.
type Config struct {
	Ref          string
	Static       bool
	Generator    GeneratorEnum
	Arch         ArchEnum
	Target       TargetEnum
	AndroidAPI   int
	AndroidABI   string
	EmsdkVersion string
	MTRuntime    bool
	EPs          []ExecutionProvider
	DryRun       bool
	Clean        bool
	CleanAll     bool
}

func (c *Config) HasEP(ep ExecutionProvider) bool {
	for _, e := range c.EPs {
		if e == ep {
			return true
		}
	}
	return false
}

// Indirection over Dispatch so command tests can capture the parsed
// configuration without running anything.
var dispatch = Dispatch

// BuildInfo is injected by the linker in cmd/ortb.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type cliFlags struct {
	ref             string
	static          bool
	ninja           bool
	arch            string
	iphoneOS        bool
	iphoneSimulator bool
	android         bool
	wasm            bool
	androidAPI      int
	androidABI      string
	emsdk           string
	mt              bool
	eps             map[ExecutionProvider]*bool
	dryRun          bool
	clean           bool
	cleanAll        bool
	preset          string
}

// NewRootCommand builds the ortb command tree. The root command itself runs
// a build (or a clean); fetch and version are subcommands.
func NewRootCommand(info BuildInfo) *cobra.Command {
	f := &cliFlags{eps: map[ExecutionProvider]*bool{}}

	root := &cobra.Command{
		Use:           "ortb",
		Short:         "Build ONNX Runtime from source for desktop, mobile and wasm targets",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       info.Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.preset != "" {
				if err := ApplyPreset(cmd.Flags(), PresetFile, f.preset); err != nil {
					return err
				}
			}
			cfg, err := f.config()
			if err != nil {
				return err
			}
			return dispatch(cfg)
		},
	}
	root.SetVersionTemplate(fmt.Sprintf(
		"{{.Name}} version {{.Version}} (commit: %s, date: %s)\n", info.Commit, info.Date))

	flags := root.Flags()
	flags.StringVarP(&f.ref, "reference", "r", DefaultRef, "Branch or tag of the upstream repository to build")
	flags.BoolVarP(&f.static, "static", "s", false, "Produce a statically linked library")
	flags.BoolVarP(&f.ninja, "ninja", "N", false, "Use the Ninja generator")
	flags.StringVarP(&f.arch, "arch", "A", string(ArchX86_64), "Target CPU architecture (x86_64 or aarch64)")
	flags.BoolVar(&f.iphoneOS, "iphoneos", false, "Target iOS devices")
	flags.BoolVar(&f.iphoneSimulator, "iphonesimulator", false, "Target the iOS simulator")
	flags.BoolVar(&f.android, "android", false, "Target Android")
	flags.IntVar(&f.androidAPI, "android_api", DefaultAndroidAPI, "Android API level")
	flags.StringVar(&f.androidABI, "android_abi", DefaultAndroidABI, "Android ABI")
	flags.BoolVarP(&f.wasm, "wasm", "W", false, "Target WebAssembly via emsdk")
	flags.StringVar(&f.emsdk, "emsdk", DefaultEmsdkVersion, "emsdk toolchain version for the wasm target")
	flags.BoolVar(&f.mt, "mt", false, "Link the static MSVC runtime (Windows only)")
	for _, ep := range AllExecutionProviders {
		v := new(bool)
		f.eps[ep] = v
		flags.BoolVar(v, string(ep), false, "Enable the "+string(ep)+" execution provider")
	}
	flags.BoolVar(&f.dryRun, "dry-run", false, "Print the planned commands without executing anything")
	flags.BoolVar(&f.clean, "clean", false, "Remove build output, keeping the source checkout")
	flags.BoolVar(&f.cleanAll, "clean-all", false, "Remove build output including the source checkout")
	flags.StringVar(&f.preset, "preset", "", "Apply a named flag bundle from "+presetFileName)

	for _, group := range exclusiveFlagGroups {
		root.MarkFlagsMutuallyExclusive(group...)
	}

	root.AddCommand(newVersionCmd(info))
	root.AddCommand(newFetchCmd())

	return root
}

func (f *cliFlags) config() (*Config, error) {
	arch := ArchEnum(f.arch)
	if !SupportedArchs[arch] {
		return nil, fmt.Errorf("unsupported arch: %s", f.arch)
	}
	if !SupportedAndroidABIs[f.androidABI] {
		return nil, fmt.Errorf("unsupported android ABI: %s", f.androidABI)
	}

	target := TargetHost
	switch {
	case f.iphoneOS:
		target = TargetIphoneOS
	case f.iphoneSimulator:
		target = TargetIphoneSimulator
	case f.android:
		target = TargetAndroid
	case f.wasm:
		target = TargetWasm
	}

	generator := GeneratorDefault
	if f.ninja {
		generator = GeneratorNinja
	}

	var eps []ExecutionProvider
	for _, ep := range AllExecutionProviders {
		if *f.eps[ep] {
			eps = append(eps, ep)
		}
	}

	return &Config{
		Ref:          f.ref,
		Static:       f.static,
		Generator:    generator,
		Arch:         arch,
		Target:       target,
		AndroidAPI:   f.androidAPI,
		AndroidABI:   f.androidABI,
		EmsdkVersion: f.emsdk,
		MTRuntime:    f.mt,
		EPs:          eps,
		DryRun:       f.dryRun,
		Clean:        f.clean,
		CleanAll:     f.cleanAll,
	}, nil
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ortb version %s (commit: %s, date: %s)\n",
				info.Version, info.Commit, info.Date)
		},
	}
}

// exclusiveFlagGroups backs MarkFlagsMutuallyExclusive on the root command.
// Cobra validates the groups before RunE runs, which is before any preset is
// overlaid, so preset application enforces them a second time.
var exclusiveFlagGroups = [][]string{
	{"iphoneos", "iphonesimulator", "android", "wasm"},
	{"clean", "clean-all"},
}

// flagChanged reports whether the user set a flag explicitly on the command
// line, as opposed to it holding a default or preset value.
func flagChanged(flags *pflag.FlagSet, name string) bool {
	fl := flags.Lookup(name)
	return fl != nil && fl.Changed
}
