package seller

import (
	"strings"
	"sync"
	"time"
)

// Segment is the behavioral classification bucket for a customer.
type Segment string

const (
	// SegmentAtacado: bulk and institutional buyers (churches, schools,
	// resellers). Highest priority and highest discount.
	SegmentAtacado Segment = "atacado"
	// SegmentJovem: casual youth-market buyers.
	SegmentJovem Segment = "jovem"
	// SegmentFamilia: family and childcare buyers.
	SegmentFamilia Segment = "familia"
	// SegmentGeral: default bucket when no rule matches.
	SegmentGeral Segment = "geral"
)

// CustomerProfile is the behavioral profile tracked per customer.
type CustomerProfile struct {
	CustomerID        string    `json:"customer_id"`
	Segment           Segment   `json:"segment"`
	Confidence        float64   `json:"confidence"`
	DiscountRate      float64   `json:"discount_rate"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
	// TotalPurchases is a monotonic counter reserved for order tracking.
	// Classification never touches it.
	TotalPurchases int `json:"total_purchases"`
}

// segmentRule maps keywords to a segment. Rules are evaluated in order and
// the first match wins; there is no cross-rule scoring.
type segmentRule struct {
	segment    Segment
	confidence float64
	discount   float64
	keywords   []string
}

// segmentRules is the ordered rule table. Bulk/institutional intent outranks
// everything else because those are the highest-value conversations.
var segmentRules = []segmentRule{
	{
		segment:    SegmentAtacado,
		confidence: 0.95,
		discount:   0.20,
		keywords: []string{
			"atacado", "igreja", "revenda", "revender", "escola",
			"quantidade", "caixa", "caixas", "lote", "congregação",
			"congregacao", "ministério", "ministerio", "doação", "doacao",
		},
	},
	{
		segment:    SegmentJovem,
		confidence: 0.90,
		discount:   0.10,
		keywords: []string{
			"jovem", "jovens", "juventude", "adolescente", "teen",
			"acampamento", "retiro", "galera",
		},
	},
	{
		segment:    SegmentFamilia,
		confidence: 0.88,
		discount:   0.15,
		keywords: []string{
			"família", "familia", "filho", "filha", "filhos", "criança",
			"crianca", "crianças", "criancas", "infantil", "bebê", "bebe",
			"esposa", "marido", "mãe", "mae", "pai",
		},
	},
}

// defaultRule is used when no keyword rule matches.
var defaultRule = segmentRule{
	segment:    SegmentGeral,
	confidence: 0.70,
	discount:   0.05,
}

// classifyText runs the rule table over the message text. Pure function:
// identical text always yields the same rule.
func classifyText(text string) segmentRule {
	lower := strings.ToLower(text)
	for _, rule := range segmentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule
			}
		}
	}
	return defaultRule
}

// ProfileStore holds one CustomerProfile per customer id.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*CustomerProfile
}

// NewProfileStore creates an empty profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]*CustomerProfile)}
}

// Classify maps message text to a behavioral segment and upserts the
// customer's profile. Re-classification overwrites segment, confidence,
// discount and last-interaction time but preserves TotalPurchases.
// Always returns a profile; unmatched text falls through to SegmentGeral.
func (s *ProfileStore) Classify(text, customerID string) CustomerProfile {
	rule := classifyText(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[customerID]
	if !ok {
		p = &CustomerProfile{CustomerID: customerID}
		s.profiles[customerID] = p
	}
	p.Segment = rule.segment
	p.Confidence = rule.confidence
	p.DiscountRate = rule.discount
	p.LastInteractionAt = time.Now()

	return *p
}

// Get returns a copy of the customer's profile.
func (s *ProfileStore) Get(customerID string) (CustomerProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[customerID]
	if !ok {
		return CustomerProfile{}, false
	}
	return *p, true
}

// Count returns the number of known customers.
func (s *ProfileStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// PruneInactive removes profiles whose last interaction predates the TTL.
// Returns how many were removed. Keeps memory bounded on long-running
// deployments.
func (s *ProfileStore) PruneInactive(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, p := range s.profiles {
		if p.LastInteractionAt.Before(cutoff) {
			delete(s.profiles, id)
			removed++
		}
	}
	return removed
}
