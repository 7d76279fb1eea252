package debugger

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtin returns the descriptors shipped with the binary.
func Builtin() ([]Descriptor, error) {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return nil, err
		}
		desc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", entry.Name(), err)
		}
		out = append(out, desc)
	}
	return out, nil
}

// Parse decodes one YAML descriptor.
func Parse(data []byte) (Descriptor, error) {
	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, err
	}
	if desc.Name() == "" {
		return Descriptor{}, fmt.Errorf("code_name or try_exec is required: %w", schema.ErrInvalidDebugger)
	}
	return desc, nil
}

// Load returns the built-in descriptors overlaid with every *.yaml file
// in dir. A file descriptor replaces a built-in with the same code name.
// A missing dir is not an error.
func Load(dir string, logger pslog.Logger) ([]Descriptor, error) {
	builtin, err := Builtin()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Descriptor, len(builtin))
	for _, desc := range builtin {
		byName[desc.Name()] = desc
	}
	if strings.TrimSpace(dir) != "" {
		paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(paths)
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, err
			}
			desc, err := Parse(data)
			if err != nil {
				if logger != nil {
					logger.Warn("debugger descriptor skipped", "path", path, "err", err)
				}
				continue
			}
			desc.Source = path
			byName[desc.Name()] = desc
			if logger != nil {
				logger.Debug("debugger descriptor loaded", "path", path, "debugger", desc.Name())
			}
		}
	}
	out := make([]Descriptor, 0, len(byName))
	for _, desc := range byName {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// Find returns the descriptor with the code name.
func Find(descs []Descriptor, codeName string) (Descriptor, error) {
	for _, desc := range descs {
		if desc.Name() == codeName {
			return desc, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%s: %w", codeName, schema.ErrDebuggerNotFound)
}
