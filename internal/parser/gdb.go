package parser

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"pkt.systems/crashtrace/schema"
)

const (
	// InfoMessagePrefix introduces an informational message from the crashed application.
	InfoMessagePrefix = "KCRASH_INFO_MESSAGE: "
	// CrashHandlerMarker replaces the crash handler's own frames.
	CrashHandlerMarker = "[KCrash Handler]\n"

	signalHandlerText = "<signal handler called>"
	gdbUnknownName    = "??"
)

var (
	// gdb wraps long frames onto indented continuation lines, so '.' must
	// match newlines.
	gdbFrameRe = regexp.MustCompile(`(?s)^#([0-9]+)` +
		`[\s]+(?:0x[0-9a-f]+[\s]+in[\s]+)?` +
		`((?:\(anonymous namespace\)::)?[^\(]+)?` +
		`(?:\(.*\))?` +
		`[\s]+(?:const[\s]+)?` +
		`\(.*\)` +
		`([\s]+(from|at)[\s]+(.+))?\n$`)
	gdbGarbageRe = regexp.MustCompile(`^(?:.*\(no debugging symbols found\).*|` +
		`.*\[Thread debugging using libthread_db enabled\].*|` +
		`.*\[New .*|` +
		`0x[0-9a-f]+.*|` +
		`Current language:.*)\n?$`)
	gdbThreadStartRe     = regexp.MustCompile(`^Thread [0-9]+\s+\(Thread [0-9a-fx]+\s+\(.*\)\):\n$`)
	gdbThreadIndicatorRe = regexp.MustCompile(`^\[Current thread is [0-9]+ \(.*\)\]\n$`)
)

func parseGdbLine(raw string) schema.BacktraceLine {
	switch {
	case raw == "\n":
		return schema.NewLine(raw, schema.LineEmpty)
	case raw == CrashHandlerMarker:
		return schema.NewLine(raw, schema.LineCrashHandlerMarker)
	case strings.Contains(raw, signalHandlerText):
		return schema.NewLine(raw, schema.LineSignalHandlerStart)
	}

	if m := gdbFrameRe.FindStringSubmatch(raw); m != nil {
		number, err := strconv.Atoi(m[1])
		if err != nil {
			number = schema.NoFrameNumber
		}
		function := strings.TrimSpace(m[2])
		var file, library string
		if m[3] != "" {
			if m[4] == "at" && !isSharedLibrary(m[5]) {
				file = m[5]
			} else {
				library = m[5]
			}
		}
		return schema.NewStackFrame(raw, number, function, file, library, gdbUnknownName)
	}

	switch {
	case strings.Contains(raw, InfoMessagePrefix):
		return schema.NewLine(raw, schema.LineInfo)
	case gdbGarbageRe.MatchString(raw):
		return schema.NewLine(raw, schema.LineGarbage)
	case gdbThreadStartRe.MatchString(raw):
		return schema.NewLine(raw, schema.LineThreadStart)
	case gdbThreadIndicatorRe.MatchString(raw):
		return schema.NewLine(raw, schema.LineThreadIndicator)
	}
	return schema.NewLine(raw, schema.LineUnknown)
}

// isSharedLibrary reports whether path names a shared object. gdb sometimes
// introduces libraries with "at" instead of "from".
func isSharedLibrary(path string) bool {
	base := filepath.Base(path)
	idx := strings.IndexByte(base, '.')
	if idx < 0 {
		return false
	}
	suffix := base[idx+1:]
	return suffix == "so" || strings.HasPrefix(suffix, "so.") || strings.Contains(suffix, ".so")
}

// gdbNewLine joins indented continuation lines onto the buffered line and
// parses the buffer once a non-continuation line arrives.
func (st *state) gdbNewLine(raw string) {
	g := &st.gdb
	switch {
	case g.pending == "":
		g.pending = raw
	case strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t"):
		g.pending += raw
	default:
		st.gdbParse(g.pending)
		g.pending = raw
	}
}

func (st *state) gdbParse(raw string) {
	g := &st.gdb
	line := parseGdbLine(raw)
	switch line.Type {
	case schema.LineGarbage:
	case schema.LineInfo:
		idx := strings.Index(line.Raw, InfoMessagePrefix)
		st.infoLines = append(st.infoLines, line.Raw[idx+len(InfoMessagePrefix):])
	case schema.LineThreadStart:
		st.lines = append(st.lines, line)
		g.crashStart = len(st.lines)
		g.threads++
		g.belowSignalHandler = false
		g.frameZeroSeen = false
	case schema.LineSignalHandlerStart:
		if g.belowSignalHandler {
			st.lines = append(st.lines, line)
			break
		}
		st.lines = append(st.lines[:g.crashStart], parseGdbLine(CrashHandlerMarker))
		g.belowSignalHandler = true
	case schema.LineCrashHandlerMarker:
		// already collapsed, as in a saved report
		st.lines = append(st.lines, line)
		g.belowSignalHandler = true
	case schema.LineStackFrame:
		if line.FrameNumber == 0 {
			if g.frameZeroSeen {
				break
			}
			g.frameZeroSeen = true
		}
		if g.belowSignalHandler {
			st.toRate = append(st.toRate, line)
		}
		st.lines = append(st.lines, line)
	default:
		st.lines = append(st.lines, line)
	}
}

// gdbVisible hides thread scaffolding from single-thread output.
func (st *state) gdbVisible(line schema.BacktraceLine) bool {
	if st.gdb.threads != 1 {
		return true
	}
	switch line.Type {
	case schema.LineThreadIndicator, schema.LineThreadStart, schema.LineEmpty:
		return false
	default:
		return true
	}
}
