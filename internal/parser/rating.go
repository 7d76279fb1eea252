package parser

import (
	"regexp"
	"strings"

	"pkt.systems/crashtrace/schema"
)

const (
	simplifiedMaxFrames = 5
	simplifiedGap       = "[...]\n"
	compositorBroke     = "The Wayland connection broke. Did the Wayland compositor die"
)

// RatingData holds every output derived from the rated frames.
type RatingData struct {
	Usefulness        schema.Usefulness
	Simplified        string
	MissingSymbols    []string
	CompositorCrashed bool
	Score             int
	BestScore         int
	Counted           int
	StackBaseSeen     bool
}

type cacheState int

const (
	cacheStale cacheState = iota
	cacheFresh
)

// ratingCache holds RatingData computed for the current lines. Any new
// line makes it stale.
type ratingCache struct {
	state cacheState
	data  RatingData
}

func (c *ratingCache) invalidate() {
	c.state = cacheStale
	c.data = RatingData{}
}

func (c *ratingCache) get() (RatingData, bool) {
	if c.state != cacheFresh {
		return RatingData{}, false
	}
	return c.data, true
}

func (c *ratingCache) store(data RatingData) {
	c.state = cacheFresh
	c.data = data
}

var applicationNotifyRe = regexp.MustCompile(`^(Q|K)(Core)?Application(Private)?::notify.*$`)

func unrated(line schema.BacktraceLine) bool {
	return line.Rating == schema.RatingMissingEverything || line.Rating == schema.RatingMissingFunction
}

// isStackBase reports frames where a thread effectively began. Nothing
// below them is worth rating.
func isStackBase(line schema.BacktraceLine) bool {
	if unrated(line) {
		return false
	}
	switch fn := line.FunctionName; fn {
	case "start_thread", "main", "kdemain",
		"~KCleanUpGlobalStatic", "~QGlobalStatic", "exit", "*__GI_exit":
		return true
	default:
		return applicationNotifyRe.MatchString(fn)
	}
}

// isStackTop reports assertion and abort frames. Everything above them
// belongs to the crash machinery.
func isStackTop(line schema.BacktraceLine) bool {
	if unrated(line) {
		return false
	}
	fn := line.FunctionName
	return strings.HasPrefix(fn, "qt_assert") ||
		fn == "qFatal" || fn == "abort" ||
		fn == "*__GI_abort" || fn == "*__GI___assert_fail"
}

var ignoredLibraries = []string{
	"libc.so", "libstdc++.so", "libpthread.so", "libglib-2.0.so",
	"ntdll.dll", "kernel32.dll",
}

func isIgnored(line schema.BacktraceLine) bool {
	for _, lib := range ignoredLibraries {
		if strings.Contains(line.LibraryName, lib) {
			return true
		}
	}
	fn := line.FunctionName
	return strings.HasPrefix(fn, "*__GI_") ||
		fn == "__libc_start_main" || fn == "_start" || fn == "WinMain" ||
		strings.Contains(fn, "_tmain")
}

var (
	uselessFunctions = map[string]struct{}{
		"__kernel_vsyscall": {}, "raise": {}, "abort": {}, "__libc_message": {},
		"thr_kill": {}, "qt_message_output": {}, "qt_message": {}, "qFatal": {},
	}
	uselessPrefixes = []string{
		"QBasicAtomicInt::", "QBasicAtomicPointer::", "QAtomicInt::", "QAtomicPointer::",
		"QMetaObject::", "QPointer::", "QWeakPointer::", "QSharedPointer::",
		"QScopedPointer::", "QMetaCallEvent::", "qGetPtrHelper", "qt_meta_",
	}
	uselessSuffixes = []string{
		"detach", "detach_helper", "node_create", "deref", "ref", "node_copy", "d_func",
	}
)

func isFunctionUseful(line schema.BacktraceLine) bool {
	if unrated(line) {
		return false
	}
	fn := line.FunctionName
	if _, ok := uselessFunctions[fn]; ok {
		return false
	}
	for _, prefix := range uselessPrefixes {
		if strings.HasPrefix(fn, prefix) {
			return false
		}
	}
	for _, suffix := range uselessSuffixes {
		if strings.HasSuffix(fn, suffix) {
			return false
		}
	}
	return true
}

func rate(st *state, th Thresholds) RatingData {
	var data RatingData
	data.CompositorCrashed = compositorCrashed(st)

	seen := make(map[string]struct{})
	frames := st.toRate
	for i := len(frames) - 1; i >= 0; i-- {
		line := frames[i]
		if i == 0 && line.Rating == schema.RatingMissingEverything {
			// a bad function pointer leaves an unusable top frame
			break
		}
		if isStackBase(line) {
			data.Score, data.BestScore, data.Counted = 0, 0, 0
			data.StackBaseSeen = true
		} else if isStackTop(line) {
			break
		}
		if isIgnored(line) {
			continue
		}
		if line.Rating == schema.RatingMissingFunction || line.Rating == schema.RatingMissingSourceFile {
			lib := strings.TrimSpace(line.LibraryName)
			if _, ok := seen[lib]; !ok {
				seen[lib] = struct{}{}
				data.MissingSymbols = append(data.MissingSymbols, lib)
			}
		}
		data.Counted++
		weight := data.Counted
		data.Score += int(line.Rating) * weight
		data.BestScore += int(schema.RatingGood) * weight
	}

	data.Simplified = simplify(frames)
	data.Usefulness = bucket(data, th)
	return data
}

func bucket(data RatingData, th Thresholds) schema.Usefulness {
	score := float64(data.Score)
	best := float64(data.BestScore)
	verdict := schema.Useless
	switch {
	case score >= best*th.ReallyUseful:
		verdict = schema.ReallyUseful
	case score >= best*th.MayBeUseful:
		verdict = schema.MayBeUseful
	case score >= best*th.ProbablyUseless:
		verdict = schema.ProbablyUseless
	}
	if !data.StackBaseSeen {
		if data.Counted < 1 {
			return schema.Useless
		}
		if verdict > schema.Useless {
			verdict--
		}
	}
	return verdict
}

func simplify(frames []schema.BacktraceLine) string {
	var b strings.Builder
	accepted := 0
	for _, line := range frames {
		if accepted >= simplifiedMaxFrames {
			break
		}
		if !isIgnored(line) && isFunctionUseful(line) {
			b.WriteString(line.Raw)
			accepted++
			continue
		}
		if accepted > 0 && !strings.HasSuffix(b.String(), simplifiedGap) {
			b.WriteString(simplifiedGap)
		}
	}
	return b.String()
}

func compositorCrashed(st *state) bool {
	for _, info := range st.infoLines {
		if strings.Contains(info, compositorBroke) {
			return true
		}
	}
	for _, line := range st.lines {
		if strings.Contains(line.Raw, compositorBroke) {
			return true
		}
	}
	for _, line := range st.toRate {
		if strings.Contains(line.Raw, compositorBroke) {
			return true
		}
	}
	return false
}
