package debugger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/crashtrace/schema"
)

func testApp() schema.CrashedApplication {
	return schema.CrashedApplication{
		ProgramName:    "Demo App",
		ExecutablePath: "/usr/bin/demo",
		PID:            4242,
		Signal:         11,
		Thread:         7,
		CoreFile:       "/tmp/core dump",
	}
}

func TestExpandPlain(t *testing.T) {
	vars := Vars(testApp(), "/tmp/batch", "/tmp/preamble")
	got := Expand(BannerTemplate, vars, UsagePlain)
	want := "Application: Demo App (demo), signal: SIGSEGV\n"
	if got != want {
		t.Fatalf("unexpected banner %q", got)
	}
	if got := Expand("%pid %{thread} %signum 100%% %unknown", vars, UsagePlain); got != "4242 7 11 100% %unknown" {
		t.Fatalf("unexpected expansion %q", got)
	}
}

func TestSplitCommandQuotesValues(t *testing.T) {
	vars := Vars(testApp(), "/tmp/batch", "/tmp/pre amble")
	args, err := SplitCommand("gdb -nw --init-eval-command='set debuginfod enabled on' -x %preamblefile --core=%corefile %execpath", vars)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{
		"gdb", "-nw", "--init-eval-command=set debuginfod enabled on",
		"-x", "/tmp/pre amble", "--core=/tmp/core dump", "/usr/bin/demo",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Fatalf("unexpected args (-want +got):\n%s", diff)
	}
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"":          "''",
		"/usr/bin":  "/usr/bin",
		"a b":       "'a b'",
		"it's":      `'it'\''s'`,
		"$(reboot)": "'$(reboot)'",
	}
	for in, want := range tests {
		if got := shellQuote(in); got != want {
			t.Fatalf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuiltinDescriptors(t *testing.T) {
	descs, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	gdb, err := Find(descs, "gdb")
	if err != nil {
		t.Fatalf("find gdb: %v", err)
	}
	dbg, err := gdb.ForBackend(BackendKCrash)
	if err != nil {
		t.Fatalf("for backend: %v", err)
	}
	if !dbg.Valid() || !dbg.SupportsSymbolResolution() {
		t.Fatalf("expected valid gdb with symbol resolution, got %+v", dbg)
	}
	if dbg.CommandTemplate(false) == dbg.CommandTemplate(true) {
		t.Fatalf("expected distinct symbol resolution command")
	}
	if _, err := gdb.ForBackend("nope"); !errors.Is(err, schema.ErrBackendUnsupported) {
		t.Fatalf("expected unsupported backend, got %v", err)
	}
}

func TestLoadOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	content := `
name: Patched GDB
code_name: gdb
try_exec: sh
backends:
  kcrash:
    exec: sh %tempfile
    batch_commands: echo hi
`
	if err := os.WriteFile(filepath.Join(dir, "gdb.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("backends: ["), 0o600); err != nil {
		t.Fatalf("write broken descriptor: %v", err)
	}
	descs, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	gdb, err := Find(descs, "gdb")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if gdb.DisplayName != "Patched GDB" || gdb.Source == "" {
		t.Fatalf("expected file descriptor to win, got %+v", gdb)
	}
	if _, err := Find(descs, "lldb"); err != nil {
		t.Fatalf("expected builtin lldb to remain: %v", err)
	}
	dbg, err := gdb.ForBackend(BackendKCrash)
	if err != nil {
		t.Fatalf("for backend: %v", err)
	}
	if !dbg.Installed() {
		t.Fatalf("expected sh to be installed")
	}
}

func TestMissingTryExecIsNotInstalled(t *testing.T) {
	dbg := Debugger{CodeName: "ghost", TryExec: "crashtrace-no-such-debugger", Commands: Commands{Command: "ghost"}}
	if dbg.Installed() {
		t.Fatalf("expected missing binary")
	}
	if (Debugger{}).Valid() {
		t.Fatalf("expected empty debugger to be invalid")
	}
}

func TestBuiltinGdbPreambleWritesSentryPayload(t *testing.T) {
	descs, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	gdb, err := Find(descs, "gdb")
	if err != nil {
		t.Fatalf("find gdb: %v", err)
	}
	for _, backend := range []string{BackendKCrash, BackendCoredump} {
		dbg, err := gdb.ForBackend(backend)
		if err != nil {
			t.Fatalf("for backend %s: %v", backend, err)
		}
		preamble := Expand(dbg.Commands.PreambleCommands, Vars(testApp(), "/tmp/batch", "/tmp/preamble"), UsagePlain)
		for _, want := range []string{"os.getenv('CRASHTRACE_TMP_DIR')", "'sentry_payload.json'", "int('11')", "'stacktrace'"} {
			if !strings.Contains(preamble, want) {
				t.Fatalf("%s: expected preamble to contain %q", backend, want)
			}
		}
		if !strings.HasSuffix(preamble, "\nend") {
			t.Fatalf("%s: expected python block to be closed", backend)
		}
	}
}
