// Package server implements the HTTP server and routing logic.
//
// Pages are rendered server side: the sidebar lists the document index and
// the content area holds the selected document. The browser shell then
// navigates in place over a websocket, see live.go.
package server

import (
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/maruel/mdfolio/frontend"
	"github.com/maruel/mdfolio/internal/config"
	"github.com/maruel/mdfolio/internal/content"
	"github.com/maruel/mdfolio/internal/docindex"
	"github.com/maruel/mdfolio/internal/metrics"
	"github.com/maruel/mdfolio/internal/render"
	"github.com/maruel/mdfolio/internal/server/handlers"
	"github.com/maruel/mdfolio/internal/server/ratelimit"
)

// IndexStore holds the current document index and signals rebuilds.
type IndexStore interface {
	Current() *docindex.Index
	Subscribe() (<-chan struct{}, func())
}

// Config configures the HTTP surface.
type Config struct {
	// BasePath prefixes every route. It must be normalized, see
	// config.NormalizeBasePath.
	BasePath string
	Title    string
	Version  string
	// RateLimitPerMin limits requests per client IP. 0 disables limiting.
	RateLimitPerMin int
	// TrustProxy takes the client IP from X-Forwarded-For and X-Real-IP.
	TrustProxy bool
	Auth       config.Auth
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

// Server serves pages, the JSON API and live sessions.
type Server struct {
	cfg      Config
	store    IndexStore
	resolver content.Resolver
	renderer *render.Renderer
	assets   *frontend.Assets
	tmpl     *template.Template
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	upgrader websocket.Upgrader

	// sessions tracks live websocket sessions so Close can end them.
	mu       sync.Mutex
	sessions map[*session]struct{}
	wg       sync.WaitGroup
}

// New returns a server. Close must be called to release live sessions and the
// rate limiter.
func New(cfg Config, store IndexStore, resolver content.Resolver, renderer *render.Renderer, assets *frontend.Assets, m *metrics.Metrics) (*Server, error) {
	tmpl, err := frontend.Templates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if cfg.Title == "" {
		cfg.Title = "Portfolio"
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		renderer: renderer,
		assets:   assets,
		tmpl:     tmpl,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		sessions: make(map[*session]struct{}),
	}
	if cfg.RateLimitPerMin > 0 {
		s.limiter = ratelimit.PerMinute(cfg.RateLimitPerMin)
	}
	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	bp := s.cfg.BasePath
	mux := &http.ServeMux{}

	// JSON API
	hh := handlers.NewHealthHandler(s.cfg.Version)
	dh := handlers.NewDocsHandler(s.store, s.resolver, s.renderer)
	mux.Handle("GET "+bp+"/api/health", Wrap(hh.Health))
	mux.Handle("GET "+bp+"/api/index", Wrap(dh.GetIndex))
	mux.Handle("GET "+bp+"/api/docs/{folder}/{file}", Wrap(dh.GetDoc))
	mux.HandleFunc("GET "+bp+"/api/live", s.serveLive)

	mux.Handle("GET "+bp+"/static/{file}", s.assets)
	if s.cfg.Metrics != nil {
		mux.Handle("GET "+bp+"/metrics", s.cfg.Metrics)
	}

	// Pages
	mux.HandleFunc("GET "+bp+"/{$}", s.serveHome)
	if bp != "" {
		mux.HandleFunc("GET "+bp, s.serveHome)
	}
	mux.HandleFunc("GET "+bp+"/{folder}/{file}", s.serveDoc)
	mux.HandleFunc("/", s.serveNotFound)

	var h http.Handler = mux
	if s.limiter != nil {
		h = ratelimit.Middleware(s.limiter, s.rateLimitKey, http.HandlerFunc(writeRateLimitError))(h)
	}
	if s.cfg.Auth.Enabled() {
		h = newBasicAuth(s.cfg.Auth, s.cfg.Title).middleware(h)
	}
	return LoggingMiddleware(h, s.cfg.TrustProxy)
}

// Close ends live sessions and stops the rate limiter.
func (s *Server) Close() {
	s.mu.Lock()
	for ss := range s.sessions {
		ss.close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if s.limiter != nil {
		s.limiter.Close()
	}
}
