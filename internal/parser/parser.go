package parser

import (
	"strings"
	"sync"

	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

// Thresholds are the score fractions of the best possible score a
// backtrace must reach for each usefulness bucket.
type Thresholds struct {
	ReallyUseful    float64
	MayBeUseful     float64
	ProbablyUseless float64
}

// DefaultThresholds returns the stock usefulness thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{ReallyUseful: 0.90, MayBeUseful: 0.70, ProbablyUseless: 0.40}
}

// Option configures a Parser.
type Option func(*Parser)

// WithThresholds overrides the usefulness thresholds. Zero values keep the defaults.
func WithThresholds(t Thresholds) Option {
	return func(p *Parser) {
		def := DefaultThresholds()
		if t.ReallyUseful <= 0 {
			t.ReallyUseful = def.ReallyUseful
		}
		if t.MayBeUseful <= 0 {
			t.MayBeUseful = def.MayBeUseful
		}
		if t.ProbablyUseless <= 0 {
			t.ProbablyUseless = def.ProbablyUseless
		}
		p.thresholds = t
	}
}

// WithLogger attaches a logger used for rating diagnostics.
func WithLogger(log pslog.Logger) Option {
	return func(p *Parser) {
		p.log = log
	}
}

// Parser turns streamed debugger output into a structured backtrace and
// rates its usefulness. The grammar is fixed at construction.
type Parser struct {
	grammar    Grammar
	thresholds Thresholds
	log        pslog.Logger

	mu sync.Mutex
	st *state
}

// state is everything one attempt accumulates. Reset swaps in a fresh
// value instead of clearing this one.
type state struct {
	infoLines []string
	lines     []schema.BacktraceLine
	toRate    []schema.BacktraceLine
	rating    ratingCache
	gdb       gdbState
}

type gdbState struct {
	pending            string
	crashStart         int
	threads            int
	belowSignalHandler bool
	frameZeroSeen      bool
}

// New constructs a parser for the grammar.
func New(g Grammar, opts ...Option) *Parser {
	p := &Parser{grammar: g, thresholds: DefaultThresholds()}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// ForDebugger constructs a parser for a debugger code name.
func ForDebugger(codeName string, opts ...Option) *Parser {
	return New(GrammarFor(codeName), opts...)
}

// Grammar reports the grammar the parser was built with.
func (p *Parser) Grammar() Grammar {
	return p.grammar
}

// Reset discards all state and starts a new attempt.
func (p *Parser) Reset() {
	p.mu.Lock()
	p.st = &state{}
	p.mu.Unlock()
}

// NewLine feeds one complete line, including its trailing newline. An
// empty string marks the end of the stream.
func (p *Parser) NewLine(raw string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.st == nil {
		p.st = &state{}
	}
	p.st.feed(p.grammar, raw)
	p.st.rating.invalidate()
}

// FeedText resets the parser and feeds a whole backtrace. A final line
// without a newline is completed before the end of stream is signalled.
func (p *Parser) FeedText(text string) {
	p.Reset()
	rest := text
	for {
		idx := strings.IndexByte(rest, '\n')
		if idx < 0 {
			break
		}
		p.NewLine(rest[:idx+1])
		rest = rest[idx+1:]
	}
	if rest != "" {
		p.NewLine(rest + "\n")
	}
	p.NewLine("")
}

// Lines returns the visible structured backtrace in textual order.
func (p *Parser) Lines() []schema.BacktraceLine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.st == nil {
		return nil
	}
	out := make([]schema.BacktraceLine, 0, len(p.st.lines))
	for _, line := range p.st.lines {
		if p.grammar == GrammarGdb && !p.st.gdbVisible(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Text returns the visible backtrace as text.
func (p *Parser) Text() string {
	var b strings.Builder
	for _, line := range p.Lines() {
		b.WriteString(line.Raw)
	}
	return b.String()
}

// RatedFrames returns the frames that take part in rating.
func (p *Parser) RatedFrames() []schema.BacktraceLine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.st == nil {
		return nil
	}
	return append([]schema.BacktraceLine(nil), p.st.toRate...)
}

// InformationLines returns the application's info messages joined by
// newlines, always newline terminated.
func (p *Parser) InformationLines() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var info []string
	if p.st != nil {
		info = p.st.infoLines
	}
	out := strings.Join(info, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

// Usefulness returns the usefulness verdict. A parser that never started
// reports Useless.
func (p *Parser) Usefulness() schema.Usefulness {
	return p.ratingData().Usefulness
}

// SimplifiedBacktrace returns at most five useful frames.
func (p *Parser) SimplifiedBacktrace() string {
	return p.ratingData().Simplified
}

// LibrariesWithMissingDebugSymbols returns the libraries whose frames lack
// symbols, in first-seen order.
func (p *Parser) LibrariesWithMissingDebugSymbols() []string {
	return append([]string(nil), p.ratingData().MissingSymbols...)
}

// CompositorCrashed reports whether the crash was caused by the display
// compositor going away.
func (p *Parser) CompositorCrashed() bool {
	return p.ratingData().CompositorCrashed
}

// Rating returns every derived output at once.
func (p *Parser) Rating() RatingData {
	data := p.ratingData()
	data.MissingSymbols = append([]string(nil), data.MissingSymbols...)
	return data
}

func (p *Parser) ratingData() RatingData {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.st == nil {
		return RatingData{Usefulness: schema.Useless}
	}
	if data, ok := p.st.rating.get(); ok {
		return data
	}
	data := rate(p.st, p.thresholds)
	p.st.rating.store(data)
	if p.log != nil {
		p.log.Debug("backtrace rated",
			"grammar", p.grammar,
			"usefulness", data.Usefulness,
			"score", data.Score,
			"best", data.BestScore,
			"counted", data.Counted,
			"stack_base", data.StackBaseSeen,
		)
	}
	return data
}
