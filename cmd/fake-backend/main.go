// ABOUTME: Standalone fake chat backend for local runs and manual testing of couples-chat
// ABOUTME: Usage: fake-backend [-addr :8090] [-db transcripts.db] [-jwt-secret s] [-chunk-delay 40ms]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/auth"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/fakebackend"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/store"
)

func main() {
	addr := flag.String("addr", "localhost:8090", "Listen address")
	dbPath := flag.String("db", "", "SQLite transcript database (default: in memory)")
	secret := flag.String("jwt-secret", os.Getenv("FAKE_BACKEND_JWT_SECRET"), "HMAC secret for verifying tokens (default: accept any caller)")
	chunkDelay := flag.Duration("chunk-delay", 40*time.Millisecond, "Pause between streamed reply fragments")
	quiet := flag.Bool("no-replies", false, "Relay messages without AI replies")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, *dbPath, *secret, *chunkDelay, *quiet); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, dbPath, secret string, chunkDelay time.Duration, quiet bool) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	opts := fakebackend.Options{
		ChunkDelay:     chunkDelay,
		DisableReplies: quiet,
		Logger:         logger,
	}
	if dbPath != "" {
		db, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return fmt.Errorf("opening transcript database: %w", err)
		}
		defer db.Close()
		opts.Store = db
	}
	if secret != "" {
		opts.Verifier = auth.NewJWTVerifier([]byte(secret))
	}

	backend := fakebackend.New(opts)
	defer backend.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake backend listening",
			"addr", addr,
			"socket_path", fakebackend.SocketPath,
			"auth", secret != "",
			"persistent", dbPath != "")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
		backend.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
