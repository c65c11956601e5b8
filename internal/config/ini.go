package config

import (
	"strings"

	"gopkg.in/ini.v1"
)

// readINI parses a configparser-style file into nested maps keyed by
// lower-cased section and key names. Keys in the DEFAULT section, whether
// written before the first header or under an explicit [DEFAULT] header,
// are inherited by every other section and are also kept at the top level,
// where settings such as bypass live. Values are kept verbatim, quotes and
// inline comments included.
func readINI(path string) (map[string]any, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		PreserveSurroundedQuote: true,
	}, path)
	if err != nil {
		return nil, err
	}

	defaults := make(map[string]string)
	sections := make(map[string]map[string]string)
	for _, sec := range f.Sections() {
		name := strings.ToLower(sec.Name())
		target := defaults
		if !strings.EqualFold(name, ini.DefaultSection) {
			if sections[name] == nil {
				sections[name] = make(map[string]string)
			}
			target = sections[name]
		}
		for _, k := range sec.Keys() {
			target[strings.ToLower(k.Name())] = k.Value()
		}
	}

	out := make(map[string]any, len(defaults)+len(sections))
	for k, v := range defaults {
		out[k] = v
	}
	for name, keys := range sections {
		values := make(map[string]any, len(defaults)+len(keys))
		for k, v := range defaults {
			values[k] = v
		}
		for k, v := range keys {
			values[k] = v
		}
		out[name] = values
	}

	return out, nil
}
