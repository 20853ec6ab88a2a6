package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"passgate.org/internal/authz"
	"passgate.org/internal/config"
	"passgate.org/internal/httpapi"
	"passgate.org/internal/obs"
	"passgate.org/internal/passcode"
	"passgate.org/internal/retention"
	"passgate.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.FromEnv()

	var (
		auditLog passcode.AuditLog
		purger   retention.Purger
		probe    httpapi.ReadyProbe
		closeFn  func() error
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		auditLog = store
		purger = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
		closeFn = store.Close
	} else {
		// In-memory fallback for local development only.
		mem := passcode.NewInMemory()
		auditLog = mem
		purger = mem
		closeFn = func() error { return nil }
	}

	stats := passcode.NewStatsAggregator(auditLog, passcode.StatsConfig{
		OnlineThreshold: cfg.OnlineThreshold,
	})

	// The gate behind the ops read endpoints. Deployments with a full RBAC
	// service swap this for its adapter.
	gate := authz.NewStaticGate()
	for _, caller := range splitEnvList("PASSGATE_AUDIT_READERS") {
		gate.Grant(caller, authz.PermPasscodeAuditRead, "")
	}

	api := httpapi.New(probe, version, stats, auditLog, gate)
	handler := httpapi.Logging(httpapi.RateLimit(httpapi.MaxBodyBytes(api.Handler(), 1<<20), cfg.RateBurst, cfg.RatePerSec))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner := retention.NewPruner(purger,
		time.Duration(cfg.RetentionDays)*24*time.Hour,
		time.Duration(cfg.PruneIntervalHours)*time.Hour)
	go pruner.Run(ctx)

	log.Printf("Starting passgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = closeFn()
	log.Println("Stopped")
}

func splitEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
