package attach

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hbruning/xgw/internal/store"
	"go.uber.org/zap"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := New("127.0.0.1:0", "", t.TempDir(), db, zap.NewNop())
	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(ts.Close)
	s.baseURL = ts.URL
	return s, ts
}

func TestStoreAndFetch(t *testing.T) {
	s, _ := testServer(t)

	url, err := s.Store([]byte("voice note bytes"), "note.ogg", "audio/ogg")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(url, "/a/") || !strings.HasSuffix(url, "/note.ogg") {
		t.Fatalf("url = %q", url)
	}

	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/ogg" {
		t.Errorf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "voice note bytes" {
		t.Errorf("body = %q", body)
	}
}

func TestStoreDeduplicatesByContent(t *testing.T) {
	s, _ := testServer(t)

	first, err := s.Store([]byte("same bytes"), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Store([]byte("same bytes"), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("same content produced different urls:\n%s\n%s", first, second)
	}

	other, err := s.Store([]byte("other bytes"), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("different content produced the same url")
	}
}

func TestUnknownKeyIs404(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/a/deadbeef/x.bin")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
