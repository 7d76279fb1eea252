package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithDebuggerAddsFields(t *testing.T) {
	capture := &logCapture{}
	log := WithDebugger(newCaptureLogger(capture), "gdb", "kcrash")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["debugger"] != "gdb" {
		t.Fatalf("expected debugger field, got %+v", entry)
	}
	if entry["backend"] != "kcrash" {
		t.Fatalf("expected backend field, got %+v", entry)
	}
}

func TestWithBugSkipsInvalidID(t *testing.T) {
	capture := &logCapture{}
	log := WithBug(newCaptureLogger(capture), 0)
	log.Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["bug"]; ok {
		t.Fatalf("did not expect bug field for id 0")
	}
}

func TestContextWithSessionLogger(t *testing.T) {
	capture := &logCapture{}
	ctx := ContextWithSessionLogger(context.Background(), newCaptureLogger(capture), "s1")
	// same session again must not duplicate the field
	ctx = ContextWithSessionLogger(ctx, Ctx(ctx), "s1")
	Ctx(ctx).Info("hello")

	if got := strings.Count(capture.buf.String(), `"session"`); got != 1 {
		t.Fatalf("expected one session field, got %d in %s", got, capture.buf.String())
	}
	if id, ok := SessionFromContext(ctx); !ok || id != "s1" {
		t.Fatalf("expected session marker, got %q %v", id, ok)
	}
}

func TestRedactingLogSinkScrubsSecretsAndRules(t *testing.T) {
	var out bytes.Buffer
	sink, err := NewRedactingLogSink(&out, map[string]string{
		"hunter2":      "",
		"hunter2-long": "<pw>",
	}, []RedactRule{{Name: "token", Pattern: `tok_[a-z0-9]+`}})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	line := "user=hunter2 alt=hunter2-long key=tok_abc123\n"
	n, err := sink.Write([]byte(line))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(line) {
		t.Fatalf("expected full write count %d, got %d", len(line), n)
	}
	want := "user=[REDACTED] alt=<pw> key=[REDACTED:token]\n"
	if out.String() != want {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRedactingLogSinkWithLogger(t *testing.T) {
	capture := &logCapture{}
	sink, err := NewRedactingLogSink(capture, SecretsFromList([]string{" s3cret "}), nil)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	log := pslog.NewWithOptions(sink, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	log.Info("login", "password", "s3cret")

	entry := capture.firstEntry(t)
	if entry["password"] != SecretPlaceholder {
		t.Fatalf("expected redacted password, got %+v", entry)
	}
}

func TestRedactRuleValidation(t *testing.T) {
	if _, err := NewRedactingLogSink(&bytes.Buffer{}, nil, []RedactRule{{Pattern: "x"}}); err == nil {
		t.Fatalf("expected missing name error")
	}
	if _, err := NewRedactingLogSink(&bytes.Buffer{}, nil, []RedactRule{{Name: "bad", Pattern: "("}}); err == nil {
		t.Fatalf("expected invalid pattern error")
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
