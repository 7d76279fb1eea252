package duplicates

import (
	"pkt.systems/crashtrace/internal/parser"
	"pkt.systems/crashtrace/schema"
)

// Rating is a duplicate confidence. Lower values are more confident.
type Rating int

const (
	// PerfectDuplicate means every compared frame matched.
	PerfectDuplicate Rating = iota
	// MostLikelyDuplicate means at least 90% of compared frames matched.
	MostLikelyDuplicate
	// MaybeDuplicate means at least 60% of compared frames matched.
	MaybeDuplicate
	// NoDuplicate means fewer matches, or nothing to compare.
	NoDuplicate
)

func (r Rating) String() string {
	switch r {
	case PerfectDuplicate:
		return "perfect_duplicate"
	case MostLikelyDuplicate:
		return "most_likely_duplicate"
	case MaybeDuplicate:
		return "maybe_duplicate"
	case NoDuplicate:
		return "no_duplicate"
	default:
		return "unknown"
	}
}

// Better reports whether r is more confident than other.
func (r Rating) Better(other Rating) bool { return r < other }

// Similarity is the outcome of comparing two backtraces.
type Similarity struct {
	Matches int
	Lines   int
	Percent int
	Rating  Rating
}

// crashFrame returns the index of the first stack frame after the crash
// handler marker, or len(lines) when there is none.
func crashFrame(lines []schema.BacktraceLine) int {
	start := len(lines)
	for i, line := range lines {
		if line.Type == schema.LineCrashHandlerMarker {
			start = i
			break
		}
	}
	for i := start; i < len(lines); i++ {
		if lines[i].Type == schema.LineStackFrame {
			return i
		}
	}
	return len(lines)
}

// Score compares two backtraces frame by frame from their crash frames on.
// Frames match on equal frame number and function name. When one side
// runs out of frames first, the other side's remaining frames count as
// compared lines without a match.
func Score(ours, theirs []schema.BacktraceLine) Similarity {
	i, j := crashFrame(ours), crashFrame(theirs)
	var s Similarity
	for i < len(ours) || j < len(theirs) {
		a, aOK := lineAt(ours, i)
		b, bOK := lineAt(theirs, j)
		aFrame := aOK && a.Type == schema.LineStackFrame
		bFrame := bOK && b.Type == schema.LineStackFrame
		switch {
		case aFrame && bFrame:
			s.Lines++
			if a.FrameNumber == b.FrameNumber && a.FunctionName == b.FunctionName {
				s.Matches++
			}
			i++
			j++
		case aOK && !aFrame && a.Type != schema.LineEmpty:
			i++
		case bOK && !bFrame && b.Type != schema.LineEmpty:
			j++
		case aFrame:
			s.Lines++
			i++
		case bFrame:
			s.Lines++
			j++
		default:
			// both sides ended their thread or ran out
			return s.rate()
		}
	}
	return s.rate()
}

func (s Similarity) rate() Similarity {
	if s.Lines == 0 {
		s.Rating = NoDuplicate
		return s
	}
	s.Percent = s.Matches * 100 / s.Lines
	switch {
	case s.Percent == 100:
		s.Rating = PerfectDuplicate
	case s.Percent >= 90:
		s.Rating = MostLikelyDuplicate
	case s.Percent >= 60:
		s.Rating = MaybeDuplicate
	default:
		s.Rating = NoDuplicate
	}
	return s
}

func lineAt(lines []schema.BacktraceLine, idx int) (schema.BacktraceLine, bool) {
	if idx < 0 || idx >= len(lines) {
		return schema.BacktraceLine{}, false
	}
	return lines[idx], true
}

// FindDuplicate returns the best rating of ours against every mined
// backtrace, stopping at the first perfect match.
func FindDuplicate(ours []schema.BacktraceLine, mined [][]schema.BacktraceLine) Rating {
	if len(ours) == 0 || len(mined) == 0 {
		return NoDuplicate
	}
	best := NoDuplicate
	for _, theirs := range mined {
		if r := Score(ours, theirs).Rating; r.Better(best) {
			best = r
		}
		if best == PerfectDuplicate {
			break
		}
	}
	return best
}

// Mine parses every comment as gdb output and returns one line list per
// comment. Comments need not be well formed; the crash frame is located
// later during scoring.
func Mine(comments []string) [][]schema.BacktraceLine {
	out := make([][]schema.BacktraceLine, 0, len(comments))
	for _, comment := range comments {
		p := parser.New(parser.GrammarGdb)
		p.FeedText(comment)
		out = append(out, p.Lines())
	}
	return out
}
