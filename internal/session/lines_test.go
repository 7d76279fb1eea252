package session

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLineBufferSplitsAcrossChunks(t *testing.T) {
	b := newLineBuffer()
	var got []string
	for _, chunk := range []string{"#0  ma", "in ()\n#1", "  start\n\nh\xc3", "\xa9\n", "tail"} {
		got = append(got, b.Write([]byte(chunk))...)
	}
	want := []string{"#0  main ()\n", "#1  start\n", "\n", "hé\n"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected lines (-want +got):\n%s", diff)
	}
	if b.Pending() != len("tail") {
		t.Fatalf("expected pending tail, got %d bytes", b.Pending())
	}
}

func TestLineBufferReplacesInvalidUTF8(t *testing.T) {
	b := newLineBuffer()
	got := b.Write([]byte("bad \xff byte\n"))
	if diff := cmp.Diff([]string{"bad � byte\n"}, got); diff != "" {
		t.Fatalf("unexpected lines (-want +got):\n%s", diff)
	}
}

func TestSummarizeRejectsInvalidPayload(t *testing.T) {
	if _, ok := Summarize(nil); ok {
		t.Fatalf("expected empty payload to be rejected")
	}
	if _, ok := Summarize([]byte("{not json")); ok {
		t.Fatalf("expected invalid payload to be rejected")
	}
	summary, ok := Summarize([]byte(`{"event_id":"e1","platform":"native","exception":{"values":[{"type":"SIGABRT","stacktrace":{"frames":[{},{}]}}]}}`))
	if !ok || summary.Frames != 2 || summary.Platform != "native" {
		t.Fatalf("unexpected summary: %+v %v", summary, ok)
	}
}
