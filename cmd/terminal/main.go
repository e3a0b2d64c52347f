// The terminal daemon runs next to the cashier UI on a shop terminal. It owns
// the durable sale journal, probes server connectivity, drains the journal on
// reconnect and keeps the staff receipt mirror reconciled.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dokonpos/internal/config"
	"dokonpos/internal/journal"
	"dokonpos/internal/reconcile"
	"dokonpos/internal/syncer"
)

func main() {
	cfg := config.Load()
	if cfg.TerminalToken == "" {
		log.Fatal("TERMINAL_TOKEN must be set; obtain one via /api/v1/auth/login")
	}

	j, err := journal.OpenBadger(cfg.JournalPath)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	staffCache, err := reconcile.OpenCache(cfg.StaffCachePath)
	if err != nil {
		log.Fatalf("open staff receipt cache: %v", err)
	}
	defer staffCache.Close()

	client := syncer.NewClient(cfg.ServerURL, cfg.TerminalToken)
	coordinator := syncer.NewCoordinator(j, client)
	reconciler := reconcile.NewReconciler(staffCache, client)

	// Every journal drain is followed by a staff receipt reconciliation, so a
	// reconnect catches up both queues in one go.
	syncPass := func(ctx context.Context) (syncer.Result, error) {
		result, err := coordinator.Sync(ctx)
		if err != nil {
			return result, err
		}
		if _, err := reconciler.Reconcile(ctx); err != nil {
			log.Printf("reconcile failed: %v", err)
		}
		return result, nil
	}

	// The probe loop retries the journal on every healthy tick while records
	// remain queued, so a sale rejected in one pass converges without waiting
	// for the link to drop and come back.
	hasPending := func(ctx context.Context) bool {
		records, err := j.Pending(ctx)
		if err != nil {
			log.Printf("journal pending check failed: %v", err)
			return false
		}
		return len(records) > 0
	}

	monitor := syncer.NewMonitor(syncPass, hasPending, time.Duration(cfg.DebounceSeconds)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitor.Run(ctx, client, time.Duration(cfg.ProbeIntervalSeconds)*time.Second)

	// SIGUSR1 forces an immediate pass, handy when a cashier does not want to
	// wait out the probe interval.
	syncNow := make(chan os.Signal, 1)
	signal.Notify(syncNow, syscall.SIGUSR1)
	go func() {
		for range syncNow {
			log.Println("manual sync requested")
			monitor.TriggerSync()
		}
	}()

	log.Printf("terminal daemon started server=%s journal=%s", cfg.ServerURL, cfg.JournalPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	log.Println("terminal daemon stopped")
}
