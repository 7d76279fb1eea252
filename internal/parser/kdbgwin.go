package parser

import (
	"regexp"
	"strings"

	"pkt.systems/crashtrace/schema"
)

const kdbgwinUnknown = "[unknown]"

// module!function() [file @ line] at 0xaddress
var kdbgwinFrameRe = regexp.MustCompile(`^([^!]+)!([^\(]+)\(\) \[([^@]+)@ [\-\d]+\] at 0x.*\n?$`)

func parseKdbgwinLine(raw string) schema.BacktraceLine {
	switch {
	case raw == "\n":
		return schema.NewLine(raw, schema.LineEmpty)
	case raw == CrashHandlerMarker:
		return schema.NewLine(raw, schema.LineCrashHandlerMarker)
	case strings.HasPrefix(raw, "Loaded"):
		return schema.NewLine(raw, schema.LineGarbage)
	}
	m := kdbgwinFrameRe.FindStringSubmatch(raw)
	if m == nil {
		return schema.NewLine(raw, schema.LineUnknown)
	}
	return schema.NewStackFrame(raw, schema.NoFrameNumber, m[2], strings.TrimSpace(m[3]), m[1], kdbgwinUnknown)
}

func (st *state) kdbgwinNewLine(raw string) {
	if raw == "" {
		return
	}
	line := parseKdbgwinLine(raw)
	switch line.Type {
	case schema.LineGarbage:
	case schema.LineStackFrame:
		st.toRate = append(st.toRate, line)
		st.lines = append(st.lines, line)
	default:
		st.lines = append(st.lines, line)
	}
}
