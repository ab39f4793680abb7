package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ruskmedia/screener/internal/api"
	"github.com/ruskmedia/screener/internal/bot"
	"github.com/ruskmedia/screener/internal/config"
	"github.com/ruskmedia/screener/internal/db"
	"github.com/ruskmedia/screener/internal/middleware"
	"github.com/ruskmedia/screener/internal/platform"
	"github.com/ruskmedia/screener/internal/platform/memory"
	"github.com/ruskmedia/screener/internal/platform/rest"
	"github.com/ruskmedia/screener/internal/provision"
	"github.com/ruskmedia/screener/internal/screening"
)

// version is stamped by the build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("screener: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	survey, err := config.LoadSurvey(cfg.SurveyPath)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(cfg.DBPath))
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer sqlDB.Close()
	if err := db.RunMigrations(sqlDB, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	store, err := db.NewStore(sqlDB)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	for _, name := range survey.Campaigns {
		c := &screening.Campaign{Name: name, Description: "Campaign " + name}
		if err := store.AddCampaign(c); err != nil {
			log.Printf("seed campaign %s: %v", name, err)
		}
	}

	var client platform.Client
	switch cfg.Platform {
	case "rest":
		client = rest.New(rest.Config{
			BaseURL:           cfg.PlatformURL,
			Token:             cfg.PlatformToken,
			WorkspaceID:       cfg.WorkspaceID,
			Actor:             cfg.ActorName,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	case "memory":
		log.Printf("no workspace configured, using in-memory platform (dry run)")
		client = memory.New(cfg.ActorName)
	default:
		return fmt.Errorf("unknown platform %q", cfg.Platform)
	}

	pattern := provision.Pattern{
		Delimiter: survey.Hierarchy.Delimiter,
		Segments:  len(survey.Hierarchy.Dimensions),
	}
	prov := provision.NewProvisioner(client, client, pattern, survey.BaselineGroup)
	reconciler := provision.NewReconciler(client, pattern)
	sessions := screening.NewManager(survey, store)
	engine := bot.New(survey, sessions, store, client, prov, bot.Config{
		JoinDelay:       cfg.JoinDelay,
		FallbackChannel: cfg.WelcomeChannel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Rebuild in-flight sessions persisted before the last shutdown. Answers
	// that never reached the store are gone; affected users restart.
	if restored, err := store.ListActiveSessions(); err != nil {
		log.Printf("restore sessions: %v", err)
	} else if len(restored) > 0 {
		sessions.Restore(restored)
		log.Printf("restored %d in-flight screening sessions", len(restored))
	}

	// Startup pass so drift never outlives a deploy.
	if report, err := reconciler.Run(ctx); err != nil {
		log.Printf("startup reconcile: %v", err)
	} else {
		log.Printf("startup reconcile: audited %d, repaired %d, unresolved %d",
			report.Audited, report.Repaired, len(report.Unresolved))
	}
	go reconciler.Loop(ctx, cfg.ReconcileInterval)

	mux := http.NewServeMux()
	router := api.NewRouter(store, engine, reconciler, client, survey, cfg.AdminPasswordHash, cfg.EventSecret)
	router.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "name": "screener"})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"version": version})
	})

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: middleware.Headers(middleware.WithAuth(mux)),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("screener listening on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if open := sessions.Drain(); len(open) > 0 {
		log.Printf("shutting down with %d screening sessions still open (answers persisted)", len(open))
	}
	return nil
}
