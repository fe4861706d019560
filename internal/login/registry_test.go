package login

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/devsession/internal/task"
	"github.com/danmuck/devsession/internal/testutil/testlog"
)

func member(id uint64, uri, devType string) sessionMember {
	return sessionMember{taskID: task.ID(id), devURI: uri, devType: devType, sessionID: uri}
}

func TestRegistryInsertRejectsDuplicate(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	if _, err := reg.Insert("dev://A", member(1, "dev://A", "cam")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := reg.Insert("dev://A", member(2, "dev://A", "cam"))
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
	got, ok := reg.Lookup("dev://A")
	if !ok || got.TaskID() != 1 {
		t.Fatalf("duplicate insert overwrote entry: %+v", got)
	}
	if _, err := reg.Insert(" ", member(3, "", "")); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}
}

func TestRegistryEraseIsIdempotent(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	_, _ = reg.Insert("dev://A", member(1, "dev://A", "cam"))
	reg.Erase("dev://A")
	reg.Erase("dev://A")
	reg.Erase("dev://never")
	if reg.Exists("dev://A") || reg.Size() != 0 {
		t.Fatalf("expected empty registry, size=%d", reg.Size())
	}
}

func TestRegistryReleaseOnlyErasesOwnedEntry(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	old, _ := reg.Insert("dev://A", member(1, "dev://A", "cam"))
	reg.Erase("dev://A")
	fresh, _ := reg.Insert("dev://A", member(2, "dev://A", "cam"))

	if reg.Release(old) {
		t.Fatalf("stale handle released a newer entry")
	}
	if !reg.Exists("dev://A") {
		t.Fatalf("newer entry removed by stale handle")
	}
	if !reg.Release(fresh) {
		t.Fatalf("owner handle failed to release")
	}
	if reg.Release(fresh) {
		t.Fatalf("second release should report false")
	}
	if reg.Release(Handle{}) {
		t.Fatalf("zero handle should not release")
	}
}

func TestRegistryAllIteratesSnapshot(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	for i, uri := range []string{"dev://C", "dev://A", "dev://B"} {
		_, _ = reg.Insert(uri, member(uint64(i+1), uri, "cam"))
	}

	var seen []string
	for id := range reg.All() {
		seen = append(seen, id)
		reg.Erase("dev://C")
	}
	if strings.Join(seen, ",") != "dev://A,dev://B,dev://C" {
		t.Fatalf("unexpected iteration order: %v", seen)
	}
	if reg.Size() != 2 {
		t.Fatalf("expected erase during iteration to apply, size=%d", reg.Size())
	}

	n := 0
	for range reg.All() {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("early break not honored")
	}
}

func TestWriteListingPrintsCountEntriesCount(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	_, _ = reg.Insert("dev://B", member(2, "dev://B", "door"))
	_, _ = reg.Insert("dev://A", member(1, "dev://A", "cam"))

	var buf bytes.Buffer
	if err := WriteListing(&buf, reg); err != nil {
		t.Fatalf("listing: %v", err)
	}
	want := "sessions: 2\n" +
		"     1. dev[cam-dev://A]-session[dev://A]\n" +
		"     2. dev[door-dev://B]-session[dev://B]\n" +
		"sessions: 2\n"
	if buf.String() != want {
		t.Fatalf("unexpected listing:\n%s", buf.String())
	}

	rows := ListingRows(reg)
	if len(rows) != 2 || rows[0].DevType != "cam" || rows[1].TaskID != 2 || rows[1].Index != 2 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestWriteListingEmptyRegistry(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteListing(&buf, NewRegistry()); err != nil {
		t.Fatalf("listing: %v", err)
	}
	if buf.String() != "sessions: 0\nsessions: 0\n" {
		t.Fatalf("unexpected listing: %q", buf.String())
	}
}
