package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pavelanni/papergen/internal/auth"
	"github.com/pavelanni/papergen/internal/cache"
	"github.com/pavelanni/papergen/internal/exam"
	"github.com/pavelanni/papergen/internal/handler"
	appI18n "github.com/pavelanni/papergen/internal/i18n"
	"github.com/pavelanni/papergen/internal/llm"
	"github.com/pavelanni/papergen/internal/llm/prompts"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/store"
	"github.com/pavelanni/papergen/internal/telemetry"
)

const (
	jwtSecretKey         = "jwt_secret"
	revokedCleanupEvery  = time.Hour
	shutdownTimeout      = 15 * time.Second
	defaultAdminUsername = "admin"
	defaultPaperCacheTTL = 30 * time.Minute
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "papergen.db", "SQLite database path")
	addLLMFlags(f)
	f.String("jwt-secret", "", "HMAC secret for access tokens (generated and stored in the database when empty)")
	f.Duration("jwt-ttl", auth.DefaultTTL, "Access token lifetime")
	f.String("admin-email", "admin@localhost", "Email of the admin user seeded on first start")
	f.String("admin-password", "", "Initial admin password (or set PAPERGEN_ADMIN_PASSWORD)")
	f.String("redis-addr", "", "Redis address for the paper cache (empty disables caching)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.Duration("cache-ttl", defaultPaperCacheTTL, "Paper cache entry lifetime")
	f.StringP("lang", "l", "en", "Default language for API messages (en, ru)")
	f.String("trace", telemetry.ExporterOff, "Trace exporter (off, stdout, otlp)")
	addLogFlags(f)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "papergen",
		Version:     version,
		Exporter:    v.GetString("trace"),
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-email"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	secret := v.GetString("jwt-secret")
	if secret == "" {
		secret, err = db.EnsureSecret(jwtSecretKey)
		if err != nil {
			return fmt.Errorf("load jwt secret: %w", err)
		}
	}
	issuer, err := auth.NewIssuer(secret, v.GetDuration("jwt-ttl"))
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}

	llmClient := llm.New(llmConfig(v, log))
	if err := llmClient.Ping(ctx); err != nil {
		// Some OpenAI-compatible servers do not implement the models endpoint.
		log.Warn("LLM health check failed", "url", v.GetString("llm-url"), "error", err)
	} else {
		log.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	composer, err := prompts.New(nil)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	svc := exam.NewService(composer, llmClient, log)

	var rdb *redis.Client
	if addr := v.GetString("redis-addr"); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, papers will load from the database", "addr", addr, "error", err)
		}
	}
	papers := cache.NewPaperCache(rdb, db, durationOr(v.GetDuration("cache-ttl"), defaultPaperCacheTTL), log)

	h := handler.New(db, svc, llmClient, issuer, papers, log)
	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go cleanupRevokedTokens(ctx, db, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			"addr", srv.Addr,
			"version", version,
			"model", v.GetString("llm-model"),
			"llm_url", v.GetString("llm-url"),
			"lang", lang,
			"cache", rdb != nil,
			"trace", v.GetString("trace"),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// cleanupRevokedTokens drops revocations of tokens that have expired anyway.
func cleanupRevokedTokens(ctx context.Context, db *store.Store, log *slog.Logger) {
	ticker := time.NewTicker(revokedCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.CleanupRevokedTokens(); err != nil {
				log.Warn("revoked token cleanup failed", "error", err)
			}
		}
	}
}

func seedAdmin(db *store.Store, email, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		slog.Warn("no users and no admin password: set --admin-password or PAPERGEN_ADMIN_PASSWORD to seed an admin")
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Username:     defaultAdminUsername,
		FullName:     "Administrator",
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", defaultAdminUsername, "email", email)
	return nil
}
