package ort

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const presetFileName = "presets.yaml"

var PresetFile string

func init() {
	PresetFile = mustAbs("./" + presetFileName)
}

// presetsDoc mirrors presets.yaml: named bundles of flag values. The file
// replaces the family of near-identical wrapper scripts the tool grew out
// of; one implementation, many presets.
type presetsDoc struct {
	Presets map[string]map[string]any `yaml:"presets"`
}

// ApplyPreset overlays the named bundle onto the flag set. Flags the user
// set explicitly on the command line win over preset values, including the
// whole mutually-exclusive group the flag belongs to: a command-line target
// flag suppresses any different target flag the preset names. Cobra's own
// group validation ran before the overlay exists, so the groups are checked
// again afterwards; a preset that itself names two group members fails here.
func ApplyPreset(flags *pflag.FlagSet, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("preset %q: %w", name, err)
	}
	var doc presetsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("preset file %s: %w", path, err)
	}
	bundle, ok := doc.Presets[name]
	if !ok {
		return fmt.Errorf("preset %q not found in %s", name, path)
	}

	userSet := map[string]bool{}
	flags.Visit(func(f *pflag.Flag) { userSet[f.Name] = true })

	// Deterministic application order; pflag reports the first bad flag.
	keys := make([]string, 0, len(bundle))
	for k := range bundle {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if userSet[k] || overriddenByGroup(k, userSet) {
			continue
		}
		if flags.Lookup(k) == nil {
			return fmt.Errorf("preset %q sets unknown flag %q", name, k)
		}
		if err := flags.Set(k, fmt.Sprint(bundle[k])); err != nil {
			return fmt.Errorf("preset %q: flag %q: %w", name, k, err)
		}
	}

	for _, group := range exclusiveFlagGroups {
		var set []string
		for _, fname := range group {
			if flagChanged(flags, fname) {
				set = append(set, fname)
			}
		}
		if len(set) > 1 {
			return fmt.Errorf("preset %q: flags [%s] are mutually exclusive", name, strings.Join(set, " "))
		}
	}
	return nil
}

// overriddenByGroup reports whether a preset key belongs to an exclusive
// group another member of which the user already set.
func overriddenByGroup(key string, userSet map[string]bool) bool {
	for _, group := range exclusiveFlagGroups {
		inGroup := false
		for _, fname := range group {
			if fname == key {
				inGroup = true
				break
			}
		}
		if !inGroup {
			continue
		}
		for _, fname := range group {
			if fname != key && userSet[fname] {
				return true
			}
		}
	}
	return false
}
