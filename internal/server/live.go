package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/maruel/mdfolio/internal/content"
	"github.com/maruel/mdfolio/internal/server/reqctx"
)

// Live message types.
const (
	msgNavigate = "navigate"
	msgContent  = "content"
	msgIndex    = "index"
	msgReload   = "reload"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// liveMessage is exchanged over the live channel in both directions.
//
// The client sends navigate. The server sends content after each applied
// selection, index after the index was rebuilt and reload when the client
// should fall back to a full page load.
type liveMessage struct {
	Type  string `json:"type"`
	Path  string `json:"path,omitempty"`
	Title string `json:"title,omitempty"`
	HTML  string `json:"html,omitempty"`
	Found bool   `json:"found,omitempty"`
}

// session is one websocket connection with its own content view.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	view   *content.View

	writeMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (s *Server) serveLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.InfoContext(r.Context(), "Websocket upgrade failed", "err", err)
		return
	}
	id := uuid.NewString()
	ctx := reqctx.WithSessionID(context.WithoutCancel(r.Context()), id)
	ctx, cancel := context.WithCancel(ctx)
	ss := &session{srv: s, conn: conn, ctx: ctx, cancel: cancel}
	ss.view = content.NewView(s.resolver, s.metrics, ss.onChange)

	s.mu.Lock()
	s.sessions[ss] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	s.metrics.SessionOpened()
	slog.DebugContext(ctx, "Live session opened", "session", id, "ip", reqctx.ClientIP(r.Context()))

	defer func() {
		ss.close()
		ss.wg.Wait()
		ss.view.Close()
		s.mu.Lock()
		delete(s.sessions, ss)
		s.mu.Unlock()
		s.metrics.SessionClosed()
		slog.DebugContext(ctx, "Live session closed", "session", id)
		s.wg.Done()
	}()
	// Subscribe before the first read so no rebuild is missed.
	updates, unsubscribe := s.store.Subscribe()
	defer unsubscribe()
	ss.wg.Go(func() { ss.watchIndex(updates) })
	ss.wg.Go(ss.ping)
	ss.readLoop()
}

// close cancels the session and closes the connection, which ends readLoop.
func (ss *session) close() {
	ss.closeOnce.Do(func() {
		ss.cancel()
		_ = ss.conn.Close()
	})
}

func (ss *session) readLoop() {
	ss.conn.SetReadLimit(maxMessageSize)
	_ = ss.conn.SetReadDeadline(time.Now().Add(pongWait))
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg liveMessage
		if err := ss.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && ss.ctx.Err() == nil {
				slog.InfoContext(ss.ctx, "Live session read failed", "session", reqctx.SessionID(ss.ctx), "err", err)
			}
			return
		}
		switch msg.Type {
		case msgNavigate:
			ss.navigate(msg.Path)
		default:
			slog.DebugContext(ss.ctx, "Ignoring live message", "session", reqctx.SessionID(ss.ctx), "type", msg.Type)
		}
	}
}

func (ss *session) navigate(p string) {
	sel, ok := ss.srv.parsePath(p)
	if !ok {
		ss.write(&liveMessage{Type: msgReload, Path: p})
		return
	}
	ss.view.Select(sel)
}

// onChange runs under the view lock, so messages go out in selection order.
func (ss *session) onChange(b content.Buffer) {
	html, err := ss.srv.renderer.RenderBuffer(b)
	if err != nil {
		slog.ErrorContext(ss.ctx, "Failed to render document", "session", reqctx.SessionID(ss.ctx), "key", b.Selection.Key(), "err", err)
		ss.write(&liveMessage{Type: msgReload, Path: ss.srv.urlPath(b.Selection)})
		return
	}
	msg := &liveMessage{
		Type:  msgContent,
		Path:  ss.srv.urlPath(b.Selection),
		HTML:  string(html),
		Found: b.Found,
	}
	if b.Found {
		msg.Title = b.Document.Title
	}
	ss.write(msg)
}

// watchIndex pushes the sidebar after each index rebuild and reloads the
// selection so edits show up.
func (ss *session) watchIndex(updates <-chan struct{}) {
	for {
		select {
		case <-ss.ctx.Done():
			return
		case <-updates:
			active := ""
			if sel := ss.view.Selected(); !sel.IsZero() {
				active = sel.Key()
			}
			html, err := ss.srv.renderSidebar(active)
			if err != nil {
				slog.ErrorContext(ss.ctx, "Failed to render sidebar", "session", reqctx.SessionID(ss.ctx), "err", err)
				continue
			}
			ss.write(&liveMessage{Type: msgIndex, HTML: html})
			ss.view.Reload()
		}
	}
}

func (ss *session) ping() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ss.ctx.Done():
			return
		case <-t.C:
			ss.writeMu.Lock()
			err := ss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			ss.writeMu.Unlock()
			if err != nil {
				ss.close()
				return
			}
		}
	}
}

// write sends msg. A failed write ends the session.
func (ss *session) write(msg *liveMessage) {
	if ss.ctx.Err() != nil {
		return
	}
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	_ = ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ss.conn.WriteJSON(msg); err != nil {
		slog.InfoContext(ss.ctx, "Live session write failed", "session", reqctx.SessionID(ss.ctx), "err", err)
		ss.close()
	}
}

// urlPath is the escaped page path of sel.
func (s *Server) urlPath(sel content.Selection) string {
	if sel.IsZero() {
		return s.cfg.BasePath + "/"
	}
	return s.cfg.BasePath + "/" + url.PathEscape(sel.Folder) + "/" + url.PathEscape(sel.Name)
}
