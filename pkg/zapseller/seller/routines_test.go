package seller

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestRoutines(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("start and stop", func(t *testing.T) {
		s := newTestSeller(t, newFakeChannel())
		r := NewRoutines(s, logger)

		if err := r.Start(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(r.cron.Entries()); got != 3 {
			t.Errorf("expected 3 scheduled jobs, got %d", got)
		}
		r.Stop()
	})

	t.Run("jobs run against seller state", func(t *testing.T) {
		s := newTestSeller(t, newFakeChannel())
		r := NewRoutines(s, logger)

		s.carts.AddItem("cust-1", "biblia-ra", "Bíblia RA", 89.00, 1)
		s.carts.mu.Lock()
		s.carts.carts["cust-1"].LastActivityAt = time.Now().Add(-3 * time.Hour)
		s.carts.mu.Unlock()

		// Direct invocation; the cron schedule is exercised by Start above.
		r.healthSnapshot()
		r.scanAbandoned()
		r.pruneIdle()

		// Prune uses a 7-day TTL by default, so recent state survives.
		if _, ok := s.Cart("cust-1"); !ok {
			t.Error("abandoned cart must survive scan and prune")
		}
	})
}
