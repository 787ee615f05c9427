package seller

import (
	"fmt"
	"testing"
	"time"
)

func TestHistoryStore(t *testing.T) {
	t.Run("append and recent", func(t *testing.T) {
		h := NewHistoryStore(20)
		h.Append("cust-1", SpeakerCustomer, "oi")
		h.Append("cust-1", SpeakerSeller, "olá! como posso ajudar?")

		turns := h.Recent("cust-1", 10)
		if len(turns) != 2 {
			t.Fatalf("expected 2 turns, got %d", len(turns))
		}
		if turns[0].Speaker != SpeakerCustomer || turns[0].Text != "oi" {
			t.Errorf("expected oldest turn first, got %+v", turns[0])
		}
		if turns[1].Speaker != SpeakerSeller {
			t.Errorf("expected seller turn second, got %+v", turns[1])
		}
	})

	t.Run("evicts oldest beyond the cap", func(t *testing.T) {
		h := NewHistoryStore(20)
		for i := 0; i < 25; i++ {
			h.Append("cust-1", SpeakerCustomer, fmt.Sprintf("mensagem %d", i))
		}

		if h.Len("cust-1") != 20 {
			t.Fatalf("expected 20 turns retained, got %d", h.Len("cust-1"))
		}

		turns := h.Recent("cust-1", 0)
		if turns[0].Text != "mensagem 5" {
			t.Errorf("expected oldest retained to be 'mensagem 5', got %q", turns[0].Text)
		}
		if turns[len(turns)-1].Text != "mensagem 24" {
			t.Errorf("expected newest to be 'mensagem 24', got %q", turns[len(turns)-1].Text)
		}
	})

	t.Run("recent window smaller than retained", func(t *testing.T) {
		h := NewHistoryStore(20)
		for i := 0; i < 15; i++ {
			h.Append("cust-1", SpeakerCustomer, fmt.Sprintf("m%d", i))
		}

		turns := h.Recent("cust-1", 5)
		if len(turns) != 5 {
			t.Fatalf("expected 5 turns, got %d", len(turns))
		}
		if turns[0].Text != "m10" {
			t.Errorf("expected window to start at 'm10', got %q", turns[0].Text)
		}
	})

	t.Run("customers are isolated", func(t *testing.T) {
		h := NewHistoryStore(20)
		h.Append("a", SpeakerCustomer, "oi")
		h.Append("b", SpeakerCustomer, "olá")

		if h.Len("a") != 1 || h.Len("b") != 1 {
			t.Errorf("expected one turn each, got a=%d b=%d", h.Len("a"), h.Len("b"))
		}
	})

	t.Run("clear drops history", func(t *testing.T) {
		h := NewHistoryStore(20)
		h.Append("cust-1", SpeakerCustomer, "oi")
		h.Clear("cust-1")

		if h.Len("cust-1") != 0 {
			t.Errorf("expected empty history, got %d", h.Len("cust-1"))
		}
	})

	t.Run("non-positive cap uses default", func(t *testing.T) {
		h := NewHistoryStore(0)
		if h.maxSize != defaultHistoryCap {
			t.Errorf("expected cap %d, got %d", defaultHistoryCap, h.maxSize)
		}
	})

	t.Run("prune removes stale conversations", func(t *testing.T) {
		h := NewHistoryStore(20)
		h.Append("old", SpeakerCustomer, "oi")
		h.Append("recent", SpeakerCustomer, "oi")

		h.mu.Lock()
		h.turns["old"][0].Timestamp = time.Now().Add(-8 * 24 * time.Hour)
		h.mu.Unlock()

		if removed := h.PruneInactive(7 * 24 * time.Hour); removed != 1 {
			t.Errorf("expected 1 pruned, got %d", removed)
		}
		if h.Len("recent") != 1 {
			t.Error("recent conversation should survive pruning")
		}
	})
}
