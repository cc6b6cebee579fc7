// Package main is the entry point for the mdfolio server.
//
// mdfolio serves a directory of markdown documents, grouped by folder, as a
// browsable site. Configuration is read from an optional YAML file and CLI
// flags, flags taking precedence.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/maruel/mdfolio/frontend"
	"github.com/maruel/mdfolio/internal/config"
	"github.com/maruel/mdfolio/internal/content"
	"github.com/maruel/mdfolio/internal/docindex"
	"github.com/maruel/mdfolio/internal/gitsource"
	"github.com/maruel/mdfolio/internal/metrics"
	"github.com/maruel/mdfolio/internal/render"
	"github.com/maruel/mdfolio/internal/server"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "mdfolio: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "mdfolio.yaml", "YAML configuration file; missing is fine")
	httpAddr := flag.String("http", "", "Address to listen on (default :8080)")
	root := flag.String("root", "", "Directory containing one directory per folder (default content)")
	basePath := flag.String("base-path", "", "URL prefix of every route, e.g. /Portfolio")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	gitURL := flag.String("git-url", "", "Clone and pull root from this git remote")
	gitBranch := flag.String("git-branch", "", "Branch of -git-url; default follows the remote HEAD")
	manifest := flag.String("manifest", "", "Serve the index from a manifest written by -write-manifest instead of walking root")
	writeManifest := flag.String("write-manifest", "", "Write the index of root as YAML to this file and exit")
	writeConfig := flag.String("write-config", "", "Write the effective configuration, flags included, as YAML to this file and exit")
	configSchema := flag.Bool("config-schema", false, "Print the JSON Schema of the configuration file and exit")
	hashPassword := flag.Bool("hash-password", false, "Read a password on stdin, print its bcrypt hash for auth.password_hash and exit")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}
	if *configSchema {
		b, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Printf("%s\n", b)
		return err
	}
	if *hashPassword {
		return printPasswordHash()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(ll))

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if set["http"] {
		cfg.HTTP = *httpAddr
	}
	if set["root"] {
		cfg.Root = *root
	}
	if set["base-path"] {
		cfg.BasePath = *basePath
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if set["git-url"] {
		cfg.Git.URL = *gitURL
	}
	if set["git-branch"] {
		cfg.Git.Branch = *gitBranch
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if *writeConfig != "" {
		return cfg.Save(*writeConfig)
	}
	if cfg.LogLevel != "" {
		if err := ll.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return err
		}
	}

	var src *gitsource.Source
	if cfg.Git.URL != "" {
		src = gitsource.New(cfg.Root, cfg.Git.URL, cfg.Git.Branch)
		if _, err := src.Sync(ctx); err != nil {
			// Serve the last checkout when the remote is unreachable.
			if _, statErr := os.Stat(cfg.Root); statErr != nil {
				return err
			}
			slog.WarnContext(ctx, "Failed to sync content repository, serving local copy", "err", err)
		}
	}

	if *writeManifest != "" {
		return writeManifestFile(*writeManifest, cfg.Root)
	}

	var reg *prometheus.Registry
	var m *metrics.Metrics
	if cfg.Metrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if m, err = metrics.New(reg); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	fsys := os.DirFS(cfg.Root)
	build := func() (*docindex.Index, error) { return docindex.Build(fsys) }
	if *manifest != "" {
		build = func() (*docindex.Index, error) { return readManifestFile(*manifest) }
	}
	store, err := docindex.NewStore(build, m)
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", cfg.Root, err)
	}
	idx := store.Current()
	slog.InfoContext(ctx, "Indexed documents", "root", cfg.Root, "folders", len(idx.Folders()), "documents", idx.Len())
	if src != nil && cfg.Git.Interval > 0 {
		go src.Run(ctx, cfg.Git.Interval, store.Rebuild)
	}
	if cfg.Watch && *manifest == "" {
		go func() {
			if err := docindex.Watch(ctx, cfg.Root, store); err != nil {
				slog.WarnContext(ctx, "Not watching content", "root", cfg.Root, "err", err)
			}
		}()
	}

	var css bytes.Buffer
	if err := render.WriteCSS(&css); err != nil {
		return fmt.Errorf("failed to generate code style sheet: %w", err)
	}
	assets, err := frontend.NewAssets(map[string][]byte{"chroma.css": css.Bytes()})
	if err != nil {
		return err
	}

	// Watch own executable for modifications (for development restarts)
	if err := watchExecutable(ctx, stop); err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}

	buildVersion, _, _, _ := getBuildInfo()
	scfg := server.Config{
		BasePath:        cfg.BasePath,
		Title:           cfg.Title,
		Version:         buildVersion,
		RateLimitPerMin: cfg.RateLimitPerMin,
		TrustProxy:      cfg.TrustProxy,
		Auth:            cfg.Auth,
	}
	if reg != nil {
		scfg.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}
	srv, err := server.New(scfg, store, content.NewLoader(fsys, store.Current, m), render.New(render.DefaultTTL, m), assets, m)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.HTTP,
		Handler:           srv.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", cfg.HTTP, "basePath", cfg.BasePath, "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

func newLogger(ll *slog.LevelVar) *slog.Logger {
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Drop localhost IPs (not useful in logs).
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("mdfolio %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

func writeManifestFile(path, root string) error {
	idx, err := docindex.Build(os.DirFS(root))
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", root, err)
	}
	var buf bytes.Buffer
	if err := docindex.WriteManifest(&buf, idx, time.Now()); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil { //nolint:gosec // G306: the manifest is not secret
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	slog.Info("Wrote manifest", "path", path, "folders", len(idx.Folders()), "documents", idx.Len())
	return nil
}

func readManifestFile(path string) (*docindex.Index, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return docindex.ReadManifest(f)
}

func printPasswordHash() error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Fprint(os.Stderr, "Password: ")
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return fmt.Errorf("failed to read password: %w", err)
	}
	pass := strings.TrimRight(line, "\r\n")
	if pass == "" {
		return errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}

// watchExecutable watches the current executable for modifications and calls
// stop to trigger graceful shutdown when detected. This enables seamless
// restarts during development.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
