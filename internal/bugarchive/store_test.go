package bugarchive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/crashtrace/internal/duplicates"
	"pkt.systems/crashtrace/schema"
)

func TestStoreLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, ok, err := store.Load(42)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected missing record")
	}
	if _, err := store.Bug(context.Background(), 42); !errors.Is(err, schema.ErrBugNotFound) {
		t.Fatalf("expected bug not found, got %v", err)
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	record := Record{
		Bug:      schema.Bug{ID: 42, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionDuplicate, DupeOf: 7},
		Summary:  "crash in Foo::run",
		Comments: []string{"first\n", "#0  0x1 in main () at /src/main.cpp:1\n"},
	}
	if err := store.Save(record); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := store.Load(42)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected record")
	}
	if diff := cmp.Diff(record, got); diff != "" {
		t.Fatalf("unexpected record (-want +got):\n%s", diff)
	}
	info, err := os.Stat(filepath.Join(dir, "bug-42.json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
	data, err := os.ReadFile(filepath.Join(dir, "bug-42.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"resolution": "DUPLICATE"`) {
		t.Fatalf("expected resolution name in record, got %s", data)
	}
}

func TestStoreRejectsInvalidIDs(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save(Record{}); !errors.Is(err, schema.ErrInvalidBug) {
		t.Fatalf("expected invalid bug, got %v", err)
	}
	if _, err := NewStore(" "); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestStoreListAndFinder(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	trace := "[KCrash Handler]\n#6  0x1 in Foo::crash () at /src/foo.cpp:10\n#7  0x2 in main () at /src/main.cpp:5\n"
	records := []Record{
		{Bug: schema.Bug{ID: 3, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionFixed}, Comments: []string{trace}},
		{Bug: schema.Bug{ID: 1, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionDuplicate, DupeOf: 3}, Comments: []string{"crashed again\n" + trace}},
	}
	for _, record := range records {
		if err := store.Save(record); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	bugs, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bugs) != 2 || bugs[0].ID != 1 || bugs[1].ID != 3 {
		t.Fatalf("unexpected bugs: %+v", bugs)
	}

	ours := duplicates.Mine([]string{trace})[0]
	res := duplicates.NewFinder(store).Find(context.Background(), ours, bugs)
	want := duplicates.Result{Duplicate: 1, ParentDuplicate: 3, Status: schema.BugStatusResolved, Resolution: schema.BugResolutionFixed}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
}
