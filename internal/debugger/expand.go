package debugger

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/shlex"
	"golang.org/x/sys/unix"

	"pkt.systems/crashtrace/schema"
)

// Usage selects how placeholder values are substituted.
type Usage int

const (
	// UsagePlain substitutes values verbatim.
	UsagePlain Usage = iota
	// UsageShell substitutes shell-quoted values.
	UsageShell
)

// BannerTemplate heads every loaded report.
const BannerTemplate = "Application: %progname (%execname), signal: %signame\n"

var placeholderRe = regexp.MustCompile(`%(%|\{[A-Za-z0-9_]+\}|[A-Za-z0-9_]+)`)

// Vars returns the placeholder values for a crashed application.
// Recognized names: progname, execname, execpath, signum, signame, pid,
// thread, tempfile, preamblefile, corefile.
func Vars(app schema.CrashedApplication, tempFile, preambleFile string) map[string]string {
	execName := filepath.Base(app.ExecutablePath)
	if app.ExecutablePath == "" {
		execName = ""
	}
	execPath := app.ExecutablePath
	if abs, err := filepath.Abs(execPath); err == nil && execPath != "" {
		execPath = abs
	}
	return map[string]string{
		"progname":     app.ProgramName,
		"execname":     execName,
		"execpath":     execPath,
		"signum":       strconv.Itoa(app.Signal),
		"signame":      SignalName(app.Signal),
		"pid":          strconv.Itoa(app.PID),
		"thread":       strconv.Itoa(app.Thread),
		"tempfile":     tempFile,
		"preamblefile": preambleFile,
		"corefile":     app.CoreFile,
	}
}

// SignalName returns the conventional name of a signal number.
func SignalName(signum int) string {
	if name := unix.SignalName(syscall.Signal(signum)); name != "" {
		return name
	}
	return "SIG" + strconv.Itoa(signum)
}

// Expand substitutes %name and %{name} placeholders. Unknown
// placeholders are left untouched and %% yields a literal percent sign.
func Expand(tmpl string, vars map[string]string, usage Usage) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1:]
		if name == "%" {
			return "%"
		}
		name = strings.TrimSuffix(strings.TrimPrefix(name, "{"), "}")
		value, ok := vars[name]
		if !ok {
			return match
		}
		if usage == UsageShell {
			return shellQuote(value)
		}
		return value
	})
}

// SplitCommand expands a command template and splits it into argv.
func SplitCommand(tmpl string, vars map[string]string) ([]string, error) {
	return shlex.Split(Expand(tmpl, vars, UsageShell))
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	safe := true
	for _, r := range value {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%_-+=:,./", r)) {
			safe = false
			break
		}
	}
	if safe {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
