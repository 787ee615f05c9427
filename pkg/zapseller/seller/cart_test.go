package seller

import (
	"testing"
	"time"
)

func TestCartStoreAddItem(t *testing.T) {
	t.Run("total recomputed on every mutation", func(t *testing.T) {
		s := NewCartStore()

		cart, err := s.AddItem("cust-1", "biblia-ra", "Bíblia RA", 89.00, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cart.Total != 89.00 {
			t.Errorf("expected total 89.00, got %v", cart.Total)
		}

		cart, err = s.AddItem("cust-1", "devocional-diario", "Devocional Diário", 39.90, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cart.Total != 168.80 {
			t.Errorf("expected total 168.80, got %v", cart.Total)
		}
		if len(cart.Items) != 2 {
			t.Errorf("expected 2 items, got %d", len(cart.Items))
		}
	})

	t.Run("same product appends a new line", func(t *testing.T) {
		s := NewCartStore()
		s.AddItem("cust-1", "harpa-crista", "Harpa Cristã", 34.90, 1)
		cart, _ := s.AddItem("cust-1", "harpa-crista", "Harpa Cristã", 34.90, 1)

		if len(cart.Items) != 2 {
			t.Errorf("expected 2 lines, got %d", len(cart.Items))
		}
		if cart.Total != 69.80 {
			t.Errorf("expected total 69.80, got %v", cart.Total)
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		s := NewCartStore()

		if _, err := s.AddItem("", "p", "Produto", 10, 1); err == nil {
			t.Error("expected error for empty customer id")
		}
		if _, err := s.AddItem("cust-1", "p", "Produto", 10, 0); err == nil {
			t.Error("expected error for zero quantity")
		}
		if _, err := s.AddItem("cust-1", "p", "Produto", 10, -2); err == nil {
			t.Error("expected error for negative quantity")
		}
		if _, err := s.AddItem("cust-1", "p", "Produto", -1, 1); err == nil {
			t.Error("expected error for negative price")
		}
		if s.Count() != 0 {
			t.Errorf("rejected adds must not create carts, got %d", s.Count())
		}
	})

	t.Run("updates last activity", func(t *testing.T) {
		s := NewCartStore()
		before := time.Now()
		cart, _ := s.AddItem("cust-1", "p", "Produto", 10, 1)
		if cart.LastActivityAt.Before(before) {
			t.Error("expected LastActivityAt refreshed on add")
		}
	})
}

func TestCartStoreGetOrCreate(t *testing.T) {
	s := NewCartStore()

	t.Run("creates empty cart", func(t *testing.T) {
		cart := s.GetOrCreate("cust-1")
		if cart.CustomerID != "cust-1" {
			t.Errorf("expected customer id, got %s", cart.CustomerID)
		}
		if len(cart.Items) != 0 || cart.Total != 0 {
			t.Errorf("expected empty cart, got %+v", cart)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		s.AddItem("cust-1", "p", "Produto", 10, 1)
		cart := s.GetOrCreate("cust-1")
		if len(cart.Items) != 1 {
			t.Error("GetOrCreate must not reset an existing cart")
		}
	})

	t.Run("returns deep copy", func(t *testing.T) {
		cart := s.GetOrCreate("cust-1")
		cart.Items[0].Quantity = 99

		fresh, _ := s.Get("cust-1")
		if fresh.Items[0].Quantity != 1 {
			t.Error("mutating returned cart should not affect the store")
		}
	})
}

func TestCartStoreClear(t *testing.T) {
	s := NewCartStore()
	s.AddItem("cust-1", "p", "Produto", 10, 1)

	if !s.Clear("cust-1") {
		t.Error("expected Clear to report the cart existed")
	}
	if s.Clear("cust-1") {
		t.Error("expected Clear on missing cart to return false")
	}
	if _, ok := s.Get("cust-1"); ok {
		t.Error("expected cart removed")
	}
}

func TestScanAbandoned(t *testing.T) {
	s := NewCartStore()

	s.AddItem("stale", "biblia-ra", "Bíblia RA", 89.00, 1)
	s.AddItem("fresh", "harpa-crista", "Harpa Cristã", 34.90, 1)
	s.GetOrCreate("empty-stale")

	// Backdate the stale carts past the threshold.
	s.mu.Lock()
	s.carts["stale"].LastActivityAt = time.Now().Add(-3 * time.Hour)
	s.carts["empty-stale"].LastActivityAt = time.Now().Add(-3 * time.Hour)
	s.mu.Unlock()

	t.Run("reports carts past the threshold", func(t *testing.T) {
		abandoned := s.ScanAbandoned(2 * time.Hour)
		if len(abandoned) != 1 {
			t.Fatalf("expected 1 abandoned cart, got %d", len(abandoned))
		}
		if abandoned[0].CustomerID != "stale" {
			t.Errorf("expected 'stale', got %s", abandoned[0].CustomerID)
		}
	})

	t.Run("threshold beyond inactivity excludes the cart", func(t *testing.T) {
		if got := s.ScanAbandoned(4 * time.Hour); len(got) != 0 {
			t.Errorf("expected no abandoned carts, got %d", len(got))
		}
	})

	t.Run("empty carts never reported", func(t *testing.T) {
		for _, c := range s.ScanAbandoned(1 * time.Minute) {
			if len(c.Items) == 0 {
				t.Errorf("empty cart reported as abandoned: %s", c.CustomerID)
			}
		}
	})

	t.Run("scan never purges", func(t *testing.T) {
		s.ScanAbandoned(1 * time.Minute)
		if _, ok := s.Get("stale"); !ok {
			t.Error("abandoned cart must survive the scan")
		}
		if s.Count() != 3 {
			t.Errorf("expected 3 carts after scan, got %d", s.Count())
		}
	})
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{168.80000000000001, 168.80},
		{39.899999999999999, 39.90},
		{49.90 * 3, 149.70},
		{0, 0},
	}
	for _, tt := range tests {
		if got := round2(tt.in); got != tt.want {
			t.Errorf("round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
