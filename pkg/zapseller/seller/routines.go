package seller

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Routines runs the background maintenance schedules: periodic health
// snapshots, abandoned-cart scans, and a daily prune of idle customer state.
// All jobs take read snapshots or coarse store-level locks only briefly, so
// they never stall the message-handling lanes.
type Routines struct {
	cron   *cron.Cron
	seller *Seller
	logger *slog.Logger
}

// NewRoutines creates the maintenance scheduler for a seller.
func NewRoutines(s *Seller, logger *slog.Logger) *Routines {
	return &Routines{
		cron:   cron.New(),
		seller: s,
		logger: logger.With("component", "routines"),
	}
}

// Start registers and launches the schedules. Invalid intervals are a
// programming error in DefaultConfig, so registration failures are returned
// rather than ignored.
func (r *Routines) Start() error {
	cfg := r.seller.cfg.Routines

	healthSpec := fmt.Sprintf("@every %ds", int(cfg.HealthInterval.Seconds()))
	if _, err := r.cron.AddFunc(healthSpec, r.healthSnapshot); err != nil {
		return fmt.Errorf("registering health snapshot: %w", err)
	}

	scanSpec := fmt.Sprintf("@every %ds", int(cfg.AbandonedScanInterval.Seconds()))
	if _, err := r.cron.AddFunc(scanSpec, r.scanAbandoned); err != nil {
		return fmt.Errorf("registering abandoned-cart scan: %w", err)
	}

	// Daily prune keeps long-running deployments from growing without bound.
	if _, err := r.cron.AddFunc("0 4 * * *", r.pruneIdle); err != nil {
		return fmt.Errorf("registering daily prune: %w", err)
	}

	r.cron.Start()
	r.logger.Info("background routines started",
		"health_interval", cfg.HealthInterval,
		"abandoned_scan_interval", cfg.AbandonedScanInterval)
	return nil
}

// Stop halts the scheduler. Running jobs finish; no new ones start.
func (r *Routines) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("background routines stopped")
}

// healthSnapshot logs the operational status.
func (r *Routines) healthSnapshot() {
	st := r.seller.Status()
	r.logger.Info("health snapshot",
		"connected", st.Connected,
		"customers", st.Customers,
		"carts", st.Carts,
		"handled", st.MessagesHandled,
		"dropped", st.MessagesDropped,
		"send_failures", st.SendFailures)
}

// scanAbandoned reports carts idle beyond the threshold. Reporting only; the
// carts stay in the store so an operator can still recover the sale.
func (r *Routines) scanAbandoned() {
	abandoned := r.seller.AbandonedCarts()
	if len(abandoned) == 0 {
		return
	}
	for _, cart := range abandoned {
		r.logger.Warn("abandoned cart detected",
			"customer", cart.CustomerID,
			"items", len(cart.Items),
			"total", cart.Total,
			"last_activity", cart.LastActivityAt)
	}
}

// pruneIdle evicts profile and history entries idle beyond the TTL.
func (r *Routines) pruneIdle() {
	ttl := r.seller.cfg.Routines.PruneTTL
	if ttl <= 0 {
		return
	}
	profiles := r.seller.profiles.PruneInactive(ttl)
	histories := r.seller.history.PruneInactive(ttl)
	if profiles > 0 || histories > 0 {
		r.logger.Info("pruned idle customer state",
			"profiles", profiles,
			"histories", histories,
			"ttl", ttl)
	}
}
