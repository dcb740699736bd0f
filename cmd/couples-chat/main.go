// ABOUTME: Terminal client for single and shared couples-chat sessions
// ABOUTME: Loads config, wires tokens, backlog and metrics, then runs the input and render loops

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/auth"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/config"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/metrics"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/queue"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/session"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/store"
)

// Version is set at build time.
var version = "dev"

const appName = "couples-chat"

// chatClient is what the terminal needs from either session kind.
type chatClient interface {
	Connect(ctx context.Context) error
	SendMessage(ctx context.Context, content string) error
	SetTyping(ctx context.Context, typing bool) error
	Finalize(ctx context.Context) error
	State() session.Snapshot
	Subscribe(ctx context.Context) (<-chan session.Event, string)
	IsAdmin() bool
	Close() error
}

func main() {
	configPath := flag.String("config", "", "Config file (default: $COUPLES_CONFIG or XDG config dir)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, in io.Reader, out io.Writer) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	var backlog queue.Persister
	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		db, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening backlog database: %w", err)
		}
		defer db.Close()
		backlog = store.NewBacklog(db, cfg.BacklogKey())
	}

	tokens, err := tokenProvider(cfg, logger)
	if err != nil {
		return err
	}

	opts := session.Options{
		Tokens:  tokens,
		Backlog: backlog,
		Metrics: m,
		Logger:  logger,
	}
	var client chatClient
	if cfg.Session.Mode == config.ModeShared {
		client, err = session.NewShared(ctx, cfg.SessionConfig(), opts)
	} else {
		client, err = session.New(ctx, cfg.SessionConfig(), opts)
	}
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer client.Close()

	printBanner(out, cfg, path)
	logger.Info("starting couples-chat",
		"config", path,
		"mode", cfg.Session.Mode,
		"server_url", cfg.Server.URL)

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	events, _ := client.Subscribe(gctx)
	r := newRenderer(out, cfg.Session.UserID)
	g.Go(func() error {
		for ev := range events {
			r.render(ev)
		}
		return nil
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics, reg, logger)
		})
	}

	g.Go(func() error {
		defer stop()
		return inputLoop(gctx, client, r, in)
	})

	if err := client.Connect(gctx); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("connecting: %w", err)
	}

	err = g.Wait()
	if cerr := client.Close(); cerr != nil {
		logger.Debug("closing session", "error", cerr)
	}
	fmt.Fprintln(out, "\nGoodbye!")
	return err
}

// loadConfig resolves the config path and falls back to COUPLES_* variables
// when no file exists at the default location.
func loadConfig(flagPath string) (*config.Config, string, error) {
	path := flagPath
	if path == "" {
		path = config.DefaultPath()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.FromEnv()
			return cfg, "(environment)", err
		}
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// tokenProvider picks the configured token source and caches its result
// until shortly before the token expires.
func tokenProvider(cfg *config.Config, logger *slog.Logger) (auth.TokenProvider, error) {
	var src auth.TokenProvider
	switch {
	case cfg.Auth.Token != "":
		src = auth.StaticToken(cfg.Auth.Token)
	case cfg.Auth.TokenEndpoint != "":
		src = auth.NewHTTPProvider(cfg.Auth.TokenEndpoint, auth.HTTPProviderOptions{Logger: logger})
	default:
		path := cfg.Auth.TokenFile
		if path == "" {
			p, err := auth.DefaultTokenPath(appName)
			if err != nil {
				return nil, err
			}
			path = p
		}
		src = &auth.FileProvider{EnvVar: config.EnvPrefix + "_TOKEN", Path: path}
	}
	return auth.NewCachingProvider(src, cfg.Auth.RefreshSkew), nil
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", cfg.Addr, "path", cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// inputLoop reads lines until EOF, /quit or cancellation.
func inputLoop(ctx context.Context, client chatClient, r *renderer, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := handleLine(ctx, client, r, line); quit {
				return nil
			}
		}
	}
}

func printBanner(out io.Writer, cfg *config.Config, path string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Fprintf(out, "%s %s\n", appName, version)
	green.Fprint(out, "  ▶ ")
	fmt.Fprintf(out, "Config:  %s\n", path)
	green.Fprint(out, "  ▶ ")
	fmt.Fprintf(out, "Server:  %s\n", cfg.Server.URL)
	green.Fprint(out, "  ▶ ")
	if cfg.Session.Mode == config.ModeShared {
		fmt.Fprintf(out, "Shared:  %s as %s\n", cfg.Session.RelationshipID, cfg.Session.UserID)
	} else {
		fmt.Fprintf(out, "Session: %s\n", cfg.Session.SessionID)
	}
	gray.Fprintln(out, "Type a message and press Enter. /help for commands.")
	fmt.Fprintln(out)
}
