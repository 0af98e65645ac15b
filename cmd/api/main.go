package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkgate.org/internal/auth"
	"inkgate.org/internal/config"
	"inkgate.org/internal/httpapi"
	"inkgate.org/internal/obs"
	"inkgate.org/internal/pending"
	"inkgate.org/internal/record"
	"inkgate.org/internal/record/filestore"
	"inkgate.org/internal/record/pg"
	"inkgate.org/internal/replay"
	"inkgate.org/internal/retention"
	"inkgate.org/internal/task"
)

var version = "0.3.0"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Replay cache for assertion jti values. A shared badger volume keeps the
	// dedup state across restarts; without one we stay in memory.
	var cache replay.Cache
	memory := replay.NewMemory()
	defer memory.Close()
	if cfg.ReplayDir != "" {
		badger, err := replay.OpenBadger(cfg.ReplayDir)
		if err != nil {
			log.Fatalf("open replay cache: %v", err)
		}
		defer badger.Close()
		cache = replay.NewFailover(badger, memory)
	} else {
		cache = memory
	}

	key, err := auth.LoadVerificationKey(cfg.AssertionPublicKeyPEM, cfg.AssertionPublicKeyFile)
	if err != nil {
		log.Fatalf("load verification key: %v", err)
	}
	var verifier *auth.Verifier
	if key != nil {
		verifier = auth.NewVerifier(key, cfg.AssertionAudience, cfg.AssertionIssuer, cache)
	} else {
		obs.LogEvent("warn", "assertion verification disabled, token endpoint gated by shared secret", nil)
	}

	issuer, err := auth.NewIssuer(cfg.TokenSecret, "inkgate", auth.WithTokenTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	var (
		store  record.Store
		purger record.Purger
		probe  httpapi.ReadyProbe
	)
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open postgres store: %v", err)
		}
		defer pgStore.Close()
		store, purger = pgStore, pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	case config.BackendFile:
		fileStore, err := filestore.New(cfg.DataDir)
		if err != nil {
			log.Fatalf("open file store: %v", err)
		}
		store, purger = fileStore, fileStore
	default:
		log.Fatalf("unknown storage backend %q", cfg.StorageBackend)
	}

	queue, err := pending.New(cfg.PendingDir, pending.WithMaxAttempts(cfg.PendingMaxAttempts))
	if err != nil {
		log.Fatalf("open pending queue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pendingSweeper := pending.NewSweeper(queue, store, cfg.StorageTimeout)
	pendingRunner := &task.Runner{
		Name:       "pending-sweep",
		Interval:   cfg.PendingSweepInterval,
		Fn:         pendingSweeper.Sweep,
		RunAtStart: true,
	}
	pendingRunner.Start(ctx)
	defer pendingRunner.Stop()

	if !cfg.RetentionDisabled {
		retentionSweeper, err := retention.New(purger, cfg.RetentionTTL, cfg.StorageTimeout)
		if err != nil {
			log.Fatalf("retention sweeper: %v", err)
		}
		retentionRunner := &task.Runner{
			Name:       "retention-sweep",
			Interval:   cfg.RetentionInterval,
			Fn:         retentionSweeper.Sweep,
			RunAtStart: true,
		}
		retentionRunner.Start(ctx)
		defer retentionRunner.Stop()
	}

	api := httpapi.New(httpapi.Options{
		Version:        version,
		Issuer:         issuer,
		Verifier:       verifier,
		HostAPIKey:     cfg.HostAPIKey,
		Store:          store,
		Queue:          queue,
		StorageTimeout: cfg.StorageTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
		ReadyProbe:     probe,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting inkgate-api %s on %s (backend=%s, assertion_gated=%t)",
		version, srv.Addr, cfg.StorageBackend, verifier != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	log.Println("Stopped")
}
