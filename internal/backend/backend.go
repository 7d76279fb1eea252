package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"pkt.systems/crashtrace/internal/debugger"
	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

// Preparer makes a crashed application ready for a debugger. It is called
// once per attempt before the debugger is spawned and may update the
// application record (e.g. with an extracted core file path). Files it
// creates go into workDir, which the caller removes after the attempt.
type Preparer interface {
	Name() string
	Prepare(ctx context.Context, app *schema.CrashedApplication, workDir string) error
}

// For returns the preparer for a backend name.
func For(name string) (Preparer, error) {
	switch name {
	case debugger.BackendKCrash:
		return KCrash{}, nil
	case debugger.BackendCoredump:
		return &Coredump{}, nil
	default:
		return nil, fmt.Errorf("backend %q: %w", name, schema.ErrBackendUnsupported)
	}
}

// KCrash prepares a live process held by the crash handler. The process
// is continued so the debugger can attach to it.
type KCrash struct{}

// Name returns the backend name.
func (KCrash) Name() string { return debugger.BackendKCrash }

// Prepare verifies the process exists and continues it.
func (KCrash) Prepare(ctx context.Context, app *schema.CrashedApplication, _ string) error {
	if app == nil || app.PID <= 0 {
		return fmt.Errorf("pid %d: %w", pidOf(app), schema.ErrProcessGone)
	}
	if err := unix.Kill(app.PID, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return fmt.Errorf("pid %d: %w", app.PID, schema.ErrProcessGone)
	}
	if err := unix.Kill(app.PID, unix.SIGCONT); err != nil && !errors.Is(err, unix.EPERM) {
		return fmt.Errorf("continue pid %d: %w", app.PID, err)
	}
	if log := pslog.Ctx(ctx); log != nil {
		log.Debug("kcrash process continued", "pid", app.PID)
	}
	return nil
}

// Coredump prepares a core dump. An existing core file is used as-is,
// otherwise the dump is extracted with coredumpctl into the work dir.
type Coredump struct {
	// Tool is the extractor binary, coredumpctl when empty.
	Tool string
}

// Name returns the backend name.
func (c *Coredump) Name() string { return debugger.BackendCoredump }

// Prepare locates or extracts the core file and records its path.
func (c *Coredump) Prepare(ctx context.Context, app *schema.CrashedApplication, workDir string) error {
	if app == nil {
		return schema.ErrNoCoreFile
	}
	if app.CoreFile != "" {
		if _, err := os.Stat(app.CoreFile); err != nil {
			return fmt.Errorf("%s: %w", app.CoreFile, schema.ErrNoCoreFile)
		}
		return nil
	}
	if app.PID <= 0 {
		return fmt.Errorf("no pid to extract: %w", schema.ErrNoCoreFile)
	}
	tool := strings.TrimSpace(c.Tool)
	if tool == "" {
		tool = "coredumpctl"
	}
	if strings.TrimSpace(workDir) == "" {
		return fmt.Errorf("extract core for pid %d: no work dir: %w", app.PID, schema.ErrNoCoreFile)
	}
	out := filepath.Join(workDir, "core."+strconv.Itoa(app.PID))
	log := pslog.Ctx(ctx)
	if log != nil {
		log.Info("core dump extract start", "tool", tool, "pid", app.PID, "output", out)
	}
	cmd := exec.CommandContext(ctx, tool, "--output="+out, "dump", strconv.Itoa(app.PID))
	if output, err := cmd.CombinedOutput(); err != nil {
		if log != nil {
			log.Warn("core dump extract failed", "pid", app.PID, "err", err, "output", strings.TrimSpace(string(output)))
		}
		return fmt.Errorf("extract core for pid %d: %w: %v", app.PID, schema.ErrNoCoreFile, err)
	}
	app.CoreFile = out
	if log != nil {
		log.Info("core dump extracted", "pid", app.PID, "output", out)
	}
	return nil
}

func pidOf(app *schema.CrashedApplication) int {
	if app == nil {
		return 0
	}
	return app.PID
}
