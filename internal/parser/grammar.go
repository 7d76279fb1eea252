package parser

import (
	"strings"

	"pkt.systems/crashtrace/schema"
)

// Grammar selects how debugger output is classified.
type Grammar string

const (
	// GrammarGdb parses GNU gdb output.
	GrammarGdb Grammar = "gdb"
	// GrammarLldb trusts every line emitted by lldb.
	GrammarLldb Grammar = "lldb"
	// GrammarCdb trusts every line emitted by the Windows console debugger.
	GrammarCdb Grammar = "cdb"
	// GrammarKdbgwin parses the kdbgwin helper output.
	GrammarKdbgwin Grammar = "kdbgwin"
	// GrammarNull rejects every line.
	GrammarNull Grammar = "null"
)

// Grammars lists every supported grammar.
func Grammars() []Grammar {
	return []Grammar{GrammarGdb, GrammarLldb, GrammarCdb, GrammarKdbgwin, GrammarNull}
}

// GrammarFor maps a debugger code name to its grammar. Unknown names map
// to GrammarNull.
func GrammarFor(codeName string) Grammar {
	switch Grammar(strings.ToLower(strings.TrimSpace(codeName))) {
	case GrammarGdb:
		return GrammarGdb
	case GrammarLldb:
		return GrammarLldb
	case GrammarCdb:
		return GrammarCdb
	case GrammarKdbgwin:
		return GrammarKdbgwin
	default:
		return GrammarNull
	}
}

// ClassifyLine classifies a single complete line without session context.
func ClassifyLine(g Grammar, raw string) schema.BacktraceLine {
	switch g {
	case GrammarGdb:
		return parseGdbLine(raw)
	case GrammarKdbgwin:
		return parseKdbgwinLine(raw)
	case GrammarLldb, GrammarCdb:
		line := schema.NewLine(raw, schema.LineUnknown)
		line.Rating = schema.RatingGood
		return line
	default:
		line := schema.NewLine(raw, schema.LineUnknown)
		line.Rating = schema.RatingMissingEverything
		return line
	}
}

// feed routes one streamed line to the grammar's session handling.
func (st *state) feed(g Grammar, raw string) {
	switch g {
	case GrammarGdb:
		st.gdbNewLine(raw)
	case GrammarKdbgwin:
		st.kdbgwinNewLine(raw)
	case GrammarLldb, GrammarCdb:
		if raw == "" {
			return
		}
		line := ClassifyLine(g, raw)
		st.lines = append(st.lines, line)
		st.toRate = append(st.toRate, line)
	default:
		if raw == "" {
			return
		}
		st.lines = append(st.lines, ClassifyLine(g, raw))
	}
}
