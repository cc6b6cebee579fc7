package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/maruel/mdfolio/internal/content"
)

func dialLive(t *testing.T, ts *httptest.Server, basePath string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + basePath + "/api/live"
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), u, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", u, err)
	}
	_ = resp.Body.Close()
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg liveMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) liveMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg liveMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestLive(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
	f := newFixture(t, Config{BasePath: "/Portfolio"})
	ts := httptest.NewServer(f.h)
	defer ts.Close()
	conn := dialLive(t, ts, "/Portfolio")
	defer func() { _ = conn.Close() }()

	tests := []struct {
		name      string
		path      string
		wantType  string
		wantPath  string
		wantFound bool
		wantHTML  string
	}{
		{"document", "/Portfolio/go/intro", msgContent, "/Portfolio/go/intro", true, `<h1 id="hello">Hello</h1>`},
		{"missing", "/Portfolio/go/missing", msgContent, "/Portfolio/go/missing", false, content.NotFoundMessage},
		{"home", "/Portfolio/", msgContent, "/Portfolio/", false, content.PlaceholderMessage},
		{"unmatched", "/Portfolio/a/b/c", msgReload, "/Portfolio/a/b/c", false, ""},
		{"outside base path", "/go/intro", msgReload, "/go/intro", false, ""},
	}
	for _, tt := range tests {
		send(t, conn, liveMessage{Type: msgNavigate, Path: tt.path})
		got := recv(t, conn)
		if got.Type != tt.wantType || got.Path != tt.wantPath || got.Found != tt.wantFound {
			t.Errorf("%s: got %s %s found=%v, want %s %s found=%v", tt.name, got.Type, got.Path, got.Found, tt.wantType, tt.wantPath, tt.wantFound)
		}
		if !strings.Contains(got.HTML, tt.wantHTML) {
			t.Errorf("%s: html = %q, want it to contain %q", tt.name, got.HTML, tt.wantHTML)
		}
	}
	if got := recvAfterNavigate(t, conn, "/Portfolio/go/intro"); got.Title != "Hello" {
		t.Errorf("title = %q", got.Title)
	}

	// A rebuild pushes the sidebar, then reloads the selected document.
	f.fsys["go/intro.md"] = &fstest.MapFile{Data: []byte("# Changed\n")}
	f.fsys["go/new.md"] = &fstest.MapFile{Data: []byte("# New\n")}
	if err := f.store.Rebuild(t.Context()); err != nil {
		t.Fatal(err)
	}
	idx := recv(t, conn)
	if idx.Type != msgIndex || !strings.Contains(idx.HTML, `href="/Portfolio/go/new"`) {
		t.Errorf("index message = %+v", idx)
	}
	if !strings.Contains(idx.HTML, `href="/Portfolio/go/intro" class="active"`) {
		t.Errorf("index message lost the active entry: %s", idx.HTML)
	}
	reloaded := recv(t, conn)
	if reloaded.Type != msgContent || !strings.Contains(reloaded.HTML, "Changed") {
		t.Errorf("reload message = %+v", reloaded)
	}

	_ = conn.Close()
	f.srv.Close()
}

func recvAfterNavigate(t *testing.T, conn *websocket.Conn, path string) liveMessage {
	t.Helper()
	send(t, conn, liveMessage{Type: msgNavigate, Path: path})
	return recv(t, conn)
}

func TestLiveServerClose(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
	f := newFixture(t, Config{})
	ts := httptest.NewServer(f.h)
	defer ts.Close()
	conn := dialLive(t, ts, "")
	defer func() { _ = conn.Close() }()
	recvAfterNavigate(t, conn, "/go/intro")

	f.srv.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed by the server")
	}
}
