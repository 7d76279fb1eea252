package schema

// LineType classifies one line of debugger output.
type LineType int

const (
	// LineUnknown is any line no grammar rule recognized.
	LineUnknown LineType = iota
	// LineEmpty is a line consisting only of a newline.
	LineEmpty
	// LineGarbage is debugger noise dropped from the visible backtrace.
	LineGarbage
	// LineCrashHandlerMarker replaces the crash handler's own frames.
	LineCrashHandlerMarker
	// LineThreadIndicator reports the thread the debugger is focused on.
	LineThreadIndicator
	// LineThreadStart opens the backtrace of one thread.
	LineThreadStart
	// LineSignalHandlerStart marks entry into a signal handler.
	LineSignalHandlerStart
	// LineStackFrame is a numbered stack frame.
	LineStackFrame
	// LineInfo carries an informational message emitted by the crashed application.
	LineInfo
)

func (t LineType) String() string {
	switch t {
	case LineEmpty:
		return "empty"
	case LineGarbage:
		return "garbage"
	case LineCrashHandlerMarker:
		return "crash_handler_marker"
	case LineThreadIndicator:
		return "thread_indicator"
	case LineThreadStart:
		return "thread_start"
	case LineSignalHandlerStart:
		return "signal_handler_start"
	case LineStackFrame:
		return "stack_frame"
	case LineInfo:
		return "info"
	default:
		return "unknown"
	}
}

// LineRating grades how much symbol information a stack frame carries.
// Higher values carry more information.
type LineRating int

const (
	// RatingInvalid is the rating of every line that is not a rated frame.
	RatingInvalid LineRating = -1
	// RatingMissingEverything has neither function, file nor library.
	RatingMissingEverything LineRating = 0
	// RatingMissingFunction knows the library but not the function.
	RatingMissingFunction LineRating = 1
	// RatingMissingLibrary knows the function but not where it lives.
	RatingMissingLibrary LineRating = 2
	// RatingMissingSourceFile knows function and library but has no source location.
	RatingMissingSourceFile LineRating = 3
	// RatingGood has a source location.
	RatingGood LineRating = 4
)

func (r LineRating) String() string {
	switch r {
	case RatingMissingEverything:
		return "missing_everything"
	case RatingMissingFunction:
		return "missing_function"
	case RatingMissingLibrary:
		return "missing_library"
	case RatingMissingSourceFile:
		return "missing_source_file"
	case RatingGood:
		return "good"
	default:
		return "invalid"
	}
}

// NoFrameNumber is the frame number of lines without one.
const NoFrameNumber = -1

// BacktraceLine is one classified fragment of debugger output.
type BacktraceLine struct {
	Raw          string
	Type         LineType
	Rating       LineRating
	FrameNumber  int
	FunctionName string
	FileName     string
	LibraryName  string
}

// NewLine returns an unrated line of the given type.
func NewLine(raw string, typ LineType) BacktraceLine {
	return BacktraceLine{
		Raw:         raw,
		Type:        typ,
		Rating:      RatingInvalid,
		FrameNumber: NoFrameNumber,
	}
}

// NewStackFrame returns a frame line whose rating is derived from the
// parts that are present. unknown lists values that count as absent
// in addition to the empty string (e.g. "??").
func NewStackFrame(raw string, number int, function, file, library string, unknown ...string) BacktraceLine {
	return BacktraceLine{
		Raw:          raw,
		Type:         LineStackFrame,
		Rating:       RateFrame(function, file, library, unknown...),
		FrameNumber:  number,
		FunctionName: function,
		FileName:     file,
		LibraryName:  library,
	}
}

// RateFrame derives a frame rating from the present parts.
func RateFrame(function, file, library string, unknown ...string) LineRating {
	missing := func(v string) bool {
		if v == "" {
			return true
		}
		for _, u := range unknown {
			if v == u {
				return true
			}
		}
		return false
	}
	switch {
	case !missing(file):
		return RatingGood
	case !missing(library):
		if missing(function) {
			return RatingMissingFunction
		}
		return RatingMissingSourceFile
	case missing(function):
		return RatingMissingEverything
	default:
		return RatingMissingLibrary
	}
}

// String returns the raw text of the line.
func (l BacktraceLine) String() string {
	return l.Raw
}

// HasFrameNumber reports whether the line carries a frame number.
func (l BacktraceLine) HasFrameNumber() bool {
	return l.FrameNumber != NoFrameNumber
}

// Usefulness is the overall verdict on a parsed backtrace.
type Usefulness int

const (
	// UsefulnessInvalid means no verdict was computed.
	UsefulnessInvalid Usefulness = iota
	// Useless backtraces carry no actionable information.
	Useless
	// ProbablyUseless backtraces are missing most symbols.
	ProbablyUseless
	// MayBeUseful backtraces are missing some symbols.
	MayBeUseful
	// ReallyUseful backtraces have nearly complete symbols.
	ReallyUseful
)

func (u Usefulness) String() string {
	switch u {
	case Useless:
		return "useless"
	case ProbablyUseless:
		return "probably_useless"
	case MayBeUseful:
		return "may_be_useful"
	case ReallyUseful:
		return "really_useful"
	default:
		return "invalid"
	}
}
