package debugger

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"pkt.systems/crashtrace/schema"
)

const (
	// BackendKCrash debugs a live process stopped by the crash handler.
	BackendKCrash = "kcrash"
	// BackendCoredump debugs an extracted core file.
	BackendCoredump = "coredump"
)

// Descriptor is a debugger definition with command templates per backend.
type Descriptor struct {
	DisplayName string              `yaml:"name"`
	CodeName    string              `yaml:"code_name"`
	TryExec     string              `yaml:"try_exec"`
	Backends    map[string]Commands `yaml:"backends"`

	// Source is the file the descriptor was read from, empty for built-ins.
	Source string `yaml:"-"`
}

// Commands are the templates used to run a debugger for one backend.
// Every template accepts the placeholders documented on Expand.
type Commands struct {
	Command                     string `yaml:"exec"`
	CommandWithSymbolResolution string `yaml:"exec_with_symbol_resolution,omitempty"`
	BatchCommands               string `yaml:"batch_commands"`
	PreambleCommands            string `yaml:"preamble_commands,omitempty"`
	// ExecInputFile, when set, is expanded and fed to the debugger's stdin.
	ExecInputFile string `yaml:"exec_input_file,omitempty"`
}

// Name returns the code name, falling back to the try-exec binary.
func (d Descriptor) Name() string {
	if name := strings.TrimSpace(d.CodeName); name != "" {
		return name
	}
	return strings.TrimSpace(d.TryExec)
}

// SupportedBackends lists the backends the descriptor has commands for.
func (d Descriptor) SupportedBackends() []string {
	out := make([]string, 0, len(d.Backends))
	for name := range d.Backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ForBackend resolves the descriptor for one backend.
func (d Descriptor) ForBackend(backend string) (Debugger, error) {
	cmds, ok := d.Backends[backend]
	if !ok {
		return Debugger{}, fmt.Errorf("%s: %s: %w", d.Name(), backend, schema.ErrBackendUnsupported)
	}
	return Debugger{
		DisplayName: d.DisplayName,
		CodeName:    d.Name(),
		TryExec:     d.TryExec,
		Backend:     backend,
		Commands:    cmds,
	}, nil
}

// Debugger is a descriptor bound to the backend in use.
type Debugger struct {
	DisplayName string
	CodeName    string
	TryExec     string
	Backend     string
	Commands
}

// Valid reports whether the debugger can be launched at all.
func (d Debugger) Valid() bool {
	return d.CodeName != "" && strings.TrimSpace(d.Command) != ""
}

// Installed reports whether the try-exec binary is on PATH or next to
// the running executable.
func (d Debugger) Installed() bool {
	tryExec := strings.TrimSpace(d.TryExec)
	if tryExec == "" {
		return false
	}
	if _, err := exec.LookPath(tryExec); err == nil {
		return true
	}
	self, err := os.Executable()
	if err != nil {
		return false
	}
	candidate := filepath.Join(filepath.Dir(self), tryExec)
	info, err := os.Stat(candidate)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}

// SupportsSymbolResolution reports whether a symbol-resolving command exists.
func (d Debugger) SupportsSymbolResolution() bool {
	return strings.TrimSpace(d.CommandWithSymbolResolution) != ""
}

// CommandTemplate picks the command template for the attempt.
func (d Debugger) CommandTemplate(symbolResolution bool) string {
	if symbolResolution && d.SupportsSymbolResolution() {
		return d.CommandWithSymbolResolution
	}
	return d.Command
}
