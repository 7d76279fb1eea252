package duplicates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/crashtrace/schema"
)

const ourTrace = `Application: Demo (demo), signal: SIGSEGV
[KCrash Handler]
#6  0x00007f2 in Foo::crash (this=0x1) at /src/foo.cpp:10
#7  0x00007f3 in Foo::run (this=0x1) at /src/foo.cpp:20
#8  0x00007f4 in main (argc=1, argv=0x2) at /src/main.cpp:5
`

func ours(t *testing.T) []schema.BacktraceLine {
	t.Helper()
	mined := Mine([]string{ourTrace})
	if len(mined) != 1 || len(mined[0]) == 0 {
		t.Fatalf("expected mined backtrace, got %+v", mined)
	}
	return mined[0]
}

func frames(functions ...string) []schema.BacktraceLine {
	out := []schema.BacktraceLine{schema.NewLine("[KCrash Handler]\n", schema.LineCrashHandlerMarker)}
	for i, fn := range functions {
		raw := fmt.Sprintf("#%d  0x1 in %s () at /src/x.cpp:%d\n", i, fn, i)
		out = append(out, schema.NewStackFrame(raw, i, fn, fmt.Sprintf("/src/x.cpp:%d", i), ""))
	}
	return out
}

func TestScoreSelfIsPerfect(t *testing.T) {
	lines := ours(t)
	got := Score(lines, lines)
	want := Similarity{Matches: 3, Lines: 3, Percent: 100, Rating: PerfectDuplicate}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected similarity (-want +got):\n%s", diff)
	}
}

func TestScoreThresholds(t *testing.T) {
	ten := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	nineOfTen := append(append([]string(nil), ten[:9]...), "other")
	tests := []struct {
		name   string
		theirs []schema.BacktraceLine
		want   Rating
	}{
		{name: "identical", theirs: frames(ten...), want: PerfectDuplicate},
		{name: "nine of ten", theirs: frames(nineOfTen...), want: MostLikelyDuplicate},
		{name: "shorter counts missing frames", theirs: frames(ten[:7]...), want: MaybeDuplicate},
		{name: "half", theirs: frames(ten[:5]...), want: NoDuplicate},
		{name: "no marker", theirs: frames(ten...)[1:], want: NoDuplicate},
	}
	for _, tc := range tests {
		if got := Score(frames(ten...), tc.theirs).Rating; got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestScoreLongerTheirsIsPenalized(t *testing.T) {
	got := Score(frames("a", "b"), frames("a", "b", "c"))
	if got.Lines != 3 || got.Matches != 2 || got.Rating != MaybeDuplicate {
		t.Fatalf("unexpected similarity: %+v", got)
	}
}

func TestScoreStopsAtEmptyLines(t *testing.T) {
	theirs := append(frames("a"),
		schema.NewLine("\n", schema.LineEmpty),
		schema.NewStackFrame("#0  0x1 in other () at /src/y.cpp:1\n", 0, "other", "/src/y.cpp:1", ""),
	)
	if got := Score(frames("a"), theirs); got.Rating != PerfectDuplicate || got.Lines != 1 {
		t.Fatalf("expected perfect over the first thread only, got %+v", got)
	}
}

func TestScoreSkipsNoiseLines(t *testing.T) {
	theirs := frames("a", "b")
	noisy := append([]schema.BacktraceLine{}, theirs[:2]...)
	noisy = append(noisy, schema.NewLine("some comment text\n", schema.LineUnknown))
	noisy = append(noisy, theirs[2:]...)
	if got := Score(frames("a", "b"), noisy); got.Rating != PerfectDuplicate {
		t.Fatalf("expected noise to be skipped, got %+v", got)
	}
}

func TestFindDuplicateReturnsBest(t *testing.T) {
	mine := frames("a", "b", "c")
	mined := [][]schema.BacktraceLine{frames("x", "y", "z"), frames("a", "b"), frames("a", "b", "c")}
	if got := FindDuplicate(mine, mined); got != PerfectDuplicate {
		t.Fatalf("expected perfect duplicate, got %s", got)
	}
	if got := FindDuplicate(mine, mined[:2]); got != MaybeDuplicate {
		t.Fatalf("expected maybe duplicate, got %s", got)
	}
	if got := FindDuplicate(nil, mined); got != NoDuplicate {
		t.Fatalf("expected no duplicate for empty backtrace, got %s", got)
	}
}

func TestMineToleratesProse(t *testing.T) {
	comment := "I hit this again today.\n\n" + ourTrace + "Hope that helps"
	mined := Mine([]string{comment})
	if got := Score(ours(t), mined[0]).Rating; got != PerfectDuplicate {
		t.Fatalf("expected perfect duplicate from prose comment, got %s", got)
	}
}

type fakeTracker struct {
	comments map[int][]string
	bugs     map[int]schema.Bug
	failing  map[int]bool
	calls    []string
}

func (f *fakeTracker) Comments(_ context.Context, id int) ([]string, error) {
	f.calls = append(f.calls, fmt.Sprintf("comments %d", id))
	if f.failing[id] {
		return nil, errors.New("tracker unavailable")
	}
	return f.comments[id], nil
}

func (f *fakeTracker) Bug(_ context.Context, id int) (schema.Bug, error) {
	f.calls = append(f.calls, fmt.Sprintf("bug %d", id))
	bug, ok := f.bugs[id]
	if !ok {
		return schema.Bug{}, schema.ErrBugNotFound
	}
	return bug, nil
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{comments: map[int][]string{}, bugs: map[int]schema.Bug{}, failing: map[int]bool{}}
}

func (f *fakeTracker) add(bug schema.Bug, comments ...string) schema.Bug {
	f.bugs[bug.ID] = bug
	f.comments[bug.ID] = comments
	return bug
}

func TestFinderFollowsDuplicateChain(t *testing.T) {
	tr := newFakeTracker()
	other := tr.add(schema.Bug{ID: 10, Status: schema.BugStatusConfirmed, Resolution: schema.BugResolutionNone}, "#0  0x1 in unrelated () at /src/u.cpp:1\n")
	a := tr.add(schema.Bug{ID: 11, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionDuplicate, DupeOf: 12}, ourTrace)
	b := tr.add(schema.Bug{ID: 12, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionFixed}, "see attached\n"+ourTrace)

	got := NewFinder(tr).Find(context.Background(), ours(t), []schema.Bug{other, a, b})
	want := Result{Duplicate: 11, ParentDuplicate: 12, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionFixed}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
	wantCalls := []string{"comments 10", "comments 11", "bug 12", "comments 12"}
	if diff := cmp.Diff(wantCalls, tr.calls); diff != "" {
		t.Fatalf("unexpected tracker calls (-want +got):\n%s", diff)
	}
}

func TestFinderSkipsFetchErrorsAndUnknownStatus(t *testing.T) {
	tr := newFakeTracker()
	broken := tr.add(schema.Bug{ID: 1, Status: schema.BugStatusConfirmed, Resolution: schema.BugResolutionNone}, ourTrace)
	tr.failing[1] = true
	unknown := tr.add(schema.Bug{ID: 2, Status: schema.BugStatusUnknown, Resolution: schema.BugResolutionNone}, ourTrace)
	open := tr.add(schema.Bug{ID: 3, Status: schema.BugStatusConfirmed, Resolution: schema.BugResolutionNone}, ourTrace)

	got := NewFinder(tr).Find(context.Background(), ours(t), []schema.Bug{broken, unknown, open})
	want := Result{Duplicate: 3, ParentDuplicate: 3, Status: schema.BugStatusConfirmed, Resolution: schema.BugResolutionNone}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestFinderNoDuplicate(t *testing.T) {
	tr := newFakeTracker()
	a := tr.add(schema.Bug{ID: 1, Status: schema.BugStatusConfirmed, Resolution: schema.BugResolutionNone}, "no backtrace here\n")
	dangling := tr.add(schema.Bug{ID: 2, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionDuplicate, DupeOf: 99}, ourTrace)
	got := NewFinder(tr).Find(context.Background(), ours(t), []schema.Bug{a, dangling})
	if got != (Result{}) || got.Found() {
		t.Fatalf("expected zero result, got %+v", got)
	}
}

func TestFinderStopsOnCycles(t *testing.T) {
	tr := newFakeTracker()
	a := tr.add(schema.Bug{ID: 1, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionDuplicate, DupeOf: 2}, ourTrace)
	tr.add(schema.Bug{ID: 2, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionDuplicate, DupeOf: 1}, ourTrace)
	got := NewFinder(tr).Find(context.Background(), ours(t), []schema.Bug{a})
	if got.Found() {
		t.Fatalf("expected no result for cyclic chain, got %+v", got)
	}
	if len(tr.calls) != 4 {
		t.Fatalf("expected the cycle to be cut after one loop, got calls %v", tr.calls)
	}
}

func TestFinderHopLimit(t *testing.T) {
	tr := newFakeTracker()
	var first schema.Bug
	for id := 1; id <= 5; id++ {
		bug := schema.Bug{ID: id, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionDuplicate, DupeOf: id + 1}
		if id == 5 {
			bug = schema.Bug{ID: id, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionFixed}
		}
		tr.add(bug, ourTrace)
		if id == 1 {
			first = bug
		}
	}
	if got := NewFinder(tr, WithMaxChainHops(2)).Find(context.Background(), ours(t), []schema.Bug{first}); got.Found() {
		t.Fatalf("expected hop limit to stop the chain, got %+v", got)
	}
	got := NewFinder(tr).Find(context.Background(), ours(t), []schema.Bug{first})
	if got.Duplicate != 1 || got.ParentDuplicate != 5 {
		t.Fatalf("expected full chain with default limit, got %+v", got)
	}
}

func TestFinderStartDeliversAsync(t *testing.T) {
	tr := newFakeTracker()
	open := tr.add(schema.Bug{ID: 7, Status: schema.BugStatusAssigned, Resolution: schema.BugResolutionNone}, strings.Repeat("\n", 3)+ourTrace)
	ch := NewFinder(tr).Start(context.Background(), ours(t), []schema.Bug{open})
	select {
	case res := <-ch:
		if res.ParentDuplicate != 7 {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for result")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected result channel to be closed")
	}
}
