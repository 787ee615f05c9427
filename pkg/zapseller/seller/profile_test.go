package seller

import (
	"testing"
	"time"
)

func TestClassifyText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		segment Segment
	}{
		{"igreja keyword", "preciso de 50 bíblias para minha igreja", SegmentAtacado},
		{"atacado keyword", "vocês vendem no atacado?", SegmentAtacado},
		{"revenda keyword", "quero comprar para revenda", SegmentAtacado},
		{"congregação keyword", "é para a congregação daqui do bairro", SegmentAtacado},
		{"jovem keyword", "procuro uma bíblia jovem", SegmentJovem},
		{"adolescente keyword", "presente de bíblia para adolescente", SegmentJovem},
		{"filho keyword", "quero uma bíblia infantil para meu filho", SegmentFamilia},
		{"no keyword match", "olá, bom dia", SegmentGeral},
		{"empty text", "", SegmentGeral},
		{"uppercase still matches", "PRECISO PARA A IGREJA", SegmentAtacado},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := classifyText(tt.text)
			if rule.segment != tt.segment {
				t.Errorf("classifyText(%q) = %s, want %s", tt.text, rule.segment, tt.segment)
			}
			if rule.confidence <= 0 || rule.confidence > 1 {
				t.Errorf("confidence out of range: %v", rule.confidence)
			}
			if rule.discount < 0 || rule.discount >= 1 {
				t.Errorf("discount out of range: %v", rule.discount)
			}
		})
	}

	t.Run("first matching rule wins", func(t *testing.T) {
		// "igreja" (atacado) appears alongside "filho" (família); the
		// atacado rule is evaluated first.
		rule := classifyText("quero bíblias para a igreja e uma para meu filho")
		if rule.segment != SegmentAtacado {
			t.Errorf("expected atacado, got %s", rule.segment)
		}
		if rule.discount != 0.20 {
			t.Errorf("expected discount 0.20, got %v", rule.discount)
		}
	})

	t.Run("wholesale segment carries 20 percent discount", func(t *testing.T) {
		rule := classifyText("preciso de 50 bíblias para minha igreja")
		if rule.segment != SegmentAtacado {
			t.Fatalf("expected atacado, got %s", rule.segment)
		}
		if rule.confidence != 0.95 {
			t.Errorf("expected confidence 0.95, got %v", rule.confidence)
		}
		if rule.discount != 0.20 {
			t.Errorf("expected discount 0.20, got %v", rule.discount)
		}
	})

	t.Run("deterministic for identical text", func(t *testing.T) {
		a := classifyText("bíblia para o acampamento de jovens")
		b := classifyText("bíblia para o acampamento de jovens")
		if a.segment != b.segment || a.confidence != b.confidence || a.discount != b.discount {
			t.Errorf("classification not deterministic: %+v vs %+v", a, b)
		}
	})
}

func TestProfileStore(t *testing.T) {
	t.Run("classify creates profile", func(t *testing.T) {
		s := NewProfileStore()
		p := s.Classify("bíblias para a igreja", "5511999999999")

		if p.CustomerID != "5511999999999" {
			t.Errorf("expected customer id set, got %s", p.CustomerID)
		}
		if p.Segment != SegmentAtacado {
			t.Errorf("expected atacado, got %s", p.Segment)
		}
		if p.DiscountRate != 0.20 {
			t.Errorf("expected discount 0.20, got %v", p.DiscountRate)
		}
		if p.LastInteractionAt.IsZero() {
			t.Error("expected LastInteractionAt set")
		}
		if s.Count() != 1 {
			t.Errorf("expected 1 profile, got %d", s.Count())
		}
	})

	t.Run("reclassification preserves purchase history", func(t *testing.T) {
		s := NewProfileStore()
		s.Classify("para minha igreja", "cust-1")

		s.mu.Lock()
		s.profiles["cust-1"].TotalPurchases = 3
		s.mu.Unlock()

		p := s.Classify("presente para meu filho", "cust-1")
		if p.Segment != SegmentFamilia {
			t.Errorf("expected reclassification to família, got %s", p.Segment)
		}
		if p.TotalPurchases != 3 {
			t.Errorf("expected purchases preserved, got %d", p.TotalPurchases)
		}
	})

	t.Run("get returns copy", func(t *testing.T) {
		s := NewProfileStore()
		s.Classify("olá", "cust-1")

		p, ok := s.Get("cust-1")
		if !ok {
			t.Fatal("expected profile to exist")
		}
		p.Segment = SegmentAtacado

		p2, _ := s.Get("cust-1")
		if p2.Segment != SegmentGeral {
			t.Error("mutating returned profile should not affect the store")
		}
	})

	t.Run("get missing customer", func(t *testing.T) {
		s := NewProfileStore()
		if _, ok := s.Get("nobody"); ok {
			t.Error("expected not found")
		}
	})

	t.Run("prune removes inactive profiles", func(t *testing.T) {
		s := NewProfileStore()
		s.Classify("olá", "old")
		s.Classify("olá", "recent")

		s.mu.Lock()
		s.profiles["old"].LastInteractionAt = s.profiles["old"].LastInteractionAt.Add(-10 * 24 * time.Hour)
		s.mu.Unlock()

		removed := s.PruneInactive(7 * 24 * time.Hour)
		if removed != 1 {
			t.Errorf("expected 1 removed, got %d", removed)
		}
		if _, ok := s.Get("recent"); !ok {
			t.Error("recent profile should survive pruning")
		}
	})
}
