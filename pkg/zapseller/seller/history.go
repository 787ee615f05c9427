package seller

import (
	"sync"
	"time"
)

// defaultHistoryCap is how many turns are kept per customer.
const defaultHistoryCap = 20

// Speaker labels for conversation turns.
const (
	SpeakerCustomer = "customer"
	SpeakerSeller   = "seller"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryStore keeps the conversation history per customer, capped at a
// fixed number of turns (FIFO, oldest turns fall off first). It only serves
// as context for the LLM, not as a record of truth.
type HistoryStore struct {
	mu      sync.RWMutex
	turns   map[string][]Turn
	maxSize int
}

// NewHistoryStore creates a history store with the given per-customer cap.
// A non-positive cap uses the default.
func NewHistoryStore(maxSize int) *HistoryStore {
	if maxSize <= 0 {
		maxSize = defaultHistoryCap
	}
	return &HistoryStore{
		turns:   make(map[string][]Turn),
		maxSize: maxSize,
	}
}

// Append records a turn for the customer, evicting the oldest turns once the
// cap is exceeded.
func (h *HistoryStore) Append(customerID, speaker, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := append(h.turns[customerID], Turn{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
	})
	if len(turns) > h.maxSize {
		turns = turns[len(turns)-h.maxSize:]
	}
	h.turns[customerID] = turns
}

// Recent returns up to n most recent turns for the customer, oldest first.
// n <= 0 returns everything retained.
func (h *HistoryStore) Recent(customerID string, n int) []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	turns := h.turns[customerID]
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Len returns how many turns are retained for the customer.
func (h *HistoryStore) Len(customerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns[customerID])
}

// Clear drops the customer's history.
func (h *HistoryStore) Clear(customerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.turns, customerID)
}

// PruneInactive removes histories whose newest turn predates the TTL.
// Returns how many customers were pruned.
func (h *HistoryStore) PruneInactive(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, turns := range h.turns {
		if len(turns) == 0 || turns[len(turns)-1].Timestamp.Before(cutoff) {
			delete(h.turns, id)
			removed++
		}
	}
	return removed
}
