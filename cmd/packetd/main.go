// CLAUDE:SUMMARY Entry point for the packet daemon — Chrome host, HTTP control plane, optional stdio MCP.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/packetd/auxdoc"
	"github.com/hazyhaar/packetd/cloud"
	"github.com/hazyhaar/packetd/dbopen"
	"github.com/hazyhaar/packetd/host/rodhost"
	"github.com/hazyhaar/packetd/runtime"
	"github.com/hazyhaar/packetd/surfaces"
)

func main() {
	configPath := env("CONFIG", "")
	logLevel := env("LOG_LEVEL", "info")
	mcpTransport := env("MCP_TRANSPORT", "")

	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := runtime.LoadConfigFile(configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Content URLs are HMAC signed; the secret only has to be stable for
	// the lifetime of the process plus the signature TTL.
	secretInput := env("CONTENT_SECRET", "")
	if secretInput == "" {
		slog.Error("CONTENT_SECRET is required")
		os.Exit(1)
	}
	secretHash := sha256.Sum256([]byte(secretInput))
	signer := cloud.NewLocalSigner(cfg.BaseURL, secretHash[:])

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	h := rodhost.New(rodhost.Config{
		RemoteURL: cfg.Browser.RemoteURL,
		Headless:  cfg.Browser.Headless,
		Stealth:   cfg.Browser.Stealth,
		Logger:    logger.With("component", "rodhost"),
	})
	if err := h.Start(ctx); err != nil {
		slog.Error("browser", "error", err)
		os.Exit(1)
	}
	defer h.Close()

	var rt *runtime.Runtime
	audio, err := auxdoc.NewAudioPage(h.Browser(), logger.With("component", "audiodoc"),
		func(key string, currentTime, duration float64) {
			if rt == nil {
				return
			}
			if err := rt.Media().HandleTimeUpdate(ctx, key, currentTime, duration); err != nil {
				logger.Debug("audio tick", "error", err)
			}
		})
	if err != nil {
		slog.Error("audio document", "error", err)
		os.Exit(1)
	}
	defer audio.Close()

	rt, err = runtime.New(runtime.Deps{
		DB:     db,
		Host:   h,
		Audio:  audio,
		Signer: signer,
		Logger: logger,
	})
	if err != nil {
		slog.Error("runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	if err := rt.Start(ctx); err != nil {
		slog.Error("start", "error", err)
		os.Exit(1)
	}

	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "packetd",
			Version: "1.0.0",
		}, nil)
		rt.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("mcp stdio", "error", err)
			}
		}()
		slog.Info("mcp stdio transport started")
	}

	var handler http.Handler = surfaces.Routes(surfaces.HTTPDeps{
		Router:    rt.Router(),
		Hub:       rt.Hub(),
		Store:     rt.Store(),
		Signer:    signer,
		Processor: auxdoc.NewProcessor(),
		Logger:    logger.With("component", "http"),
	})
	if pw := env("AUTH_PASSWORD", ""); pw != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("hash auth password", "error", err)
			os.Exit(1)
		}
		handler = basicAuth(hash, handler)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("packetd listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server", "error", err)
		os.Exit(1)
	}
}

// basicAuth guards everything except health and signed content URLs, which
// carry their own proof of access.
func basicAuth(hash []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/healthz",
			len(r.URL.Path) > 9 && r.URL.Path[:9] == "/content/":
			next.ServeHTTP(w, r)
			return
		}
		_, pw, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword(hash, []byte(pw)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="packetd"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
