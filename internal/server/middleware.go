package server

import (
	"bufio"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/maruel/mdfolio/internal/config"
	apierrors "github.com/maruel/mdfolio/internal/errors"
	"github.com/maruel/mdfolio/internal/server/ratelimit"
	"github.com/maruel/mdfolio/internal/server/reqctx"
)

// statusRecorder captures the response status for logging. It forwards
// Hijack so websocket upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// LoggingMiddleware logs each request at debug level and stores the client IP
// in the request context. Handlers below it read the IP with reqctx.ClientIP.
func LoggingMiddleware(next http.Handler, trustProxy bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := reqctx.WithClientIP(r.Context(), reqctx.GetClientIP(r, trustProxy))
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))
		slog.DebugContext(ctx, "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"dur", time.Since(start).Round(time.Microsecond),
			"ip", reqctx.ClientIP(ctx),
		)
	})
}

// basicAuth checks HTTP basic credentials against a bcrypt hash. Successful
// credentials are cached, keyed by their SHA-256.
type basicAuth struct {
	user  string
	hash  []byte
	realm string
	ok    *cache.Cache
}

func newBasicAuth(a config.Auth, realm string) *basicAuth {
	return &basicAuth{
		user:  a.User,
		hash:  []byte(a.PasswordHash),
		realm: realm,
		ok:    cache.New(15*time.Minute, 30*time.Minute),
	}
}

func (b *basicAuth) check(user, pass string) bool {
	sum := sha256.Sum256([]byte(user + "\x00" + pass))
	key := hex.EncodeToString(sum[:])
	if _, found := b.ok.Get(key); found {
		return true
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(b.user)) != 1 {
		return false
	}
	if bcrypt.CompareHashAndPassword(b.hash, []byte(pass)) != nil {
		return false
	}
	b.ok.SetDefault(key, struct{}{})
	return true
}

func (b *basicAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok && b.check(user, pass) {
			next.ServeHTTP(w, r)
			return
		}
		slog.InfoContext(r.Context(), "Unauthorized request", "path", r.URL.Path, "ip", reqctx.ClientIP(r.Context()))
		w.Header().Set("WWW-Authenticate", `Basic realm="`+strings.ReplaceAll(b.realm, `"`, "")+`", charset="UTF-8"`)
		apiErr := apierrors.Unauthorized()
		writeErrorResponseWithCode(w, apiErr.StatusCode(), apiErr.Code(), apiErr.Message(), nil)
	})
}

// rateLimitKey exempts health checks and static assets from rate limiting.
func (s *Server) rateLimitKey(r *http.Request) string {
	p := strings.TrimPrefix(r.URL.Path, s.cfg.BasePath)
	if p == "/api/health" || strings.HasPrefix(p, "/static/") {
		return ""
	}
	return ratelimit.BuildKey(reqctx.ClientIP(r.Context()), "read")
}

// writeRateLimitError writes a 429 rate limit error response.
func writeRateLimitError(w http.ResponseWriter, r *http.Request) {
	apiErr := apierrors.RateLimited()
	slog.InfoContext(r.Context(), "Rate limited", "path", r.URL.Path, "ip", reqctx.ClientIP(r.Context()))
	writeErrorResponseWithCode(w, apiErr.StatusCode(), apiErr.Code(), apiErr.Message(), nil)
}
