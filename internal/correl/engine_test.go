package correl

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hbruning/xgw/internal/store"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.CreateUser(&store.User{JID: "u@example.org", Registration: "{}"}); err != nil {
		t.Fatal(err)
	}
	return New(db, "u@example.org")
}

func TestRecordAndLookup(t *testing.T) {
	e := testEngine(t)

	if err := e.Record(Direct, "xmpp-1", "legacy-99", "123"); err != nil {
		t.Fatal(err)
	}

	legacy, err := e.ByXMPP(Direct, "xmpp-1")
	if err != nil || legacy != "legacy-99" {
		t.Errorf("ByXMPP = %q, %v", legacy, err)
	}
	xmpp, err := e.ByLegacy(Direct, "legacy-99")
	if err != nil || xmpp != "xmpp-1" {
		t.Errorf("ByLegacy = %q, %v", xmpp, err)
	}

	if _, err := e.ByLegacy(Direct, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown legacy id: got %v, want ErrNotFound", err)
	}
	if _, err := e.ByXMPP(Group, "xmpp-1"); !errors.Is(err, ErrNotFound) {
		t.Error("kinds must be independent namespaces")
	}
}

func TestEchoDetection(t *testing.T) {
	e := testEngine(t)

	if e.IsEcho(Direct, "legacy-99") {
		t.Error("unknown id must not be an echo")
	}
	if err := e.Record(Direct, "xmpp-1", "legacy-99", "123"); err != nil {
		t.Fatal(err)
	}
	if !e.IsEcho(Direct, "legacy-99") {
		t.Error("correlated id must be detected as echo")
	}
}

func TestDoubleRecordRejected(t *testing.T) {
	e := testEngine(t)

	if err := e.Record(Group, "x1", "l1", "g1"); err != nil {
		t.Fatal(err)
	}
	if err := e.Record(Group, "x2", "l1", "g1"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second record for one legacy id: got %v, want conflict", err)
	}
}
