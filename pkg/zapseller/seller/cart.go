package seller

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// CartItem is one line in a customer's cart. Items with the same product id
// are appended as separate lines, not merged.
type CartItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// Cart is the per-customer shopping cart.
type Cart struct {
	CustomerID     string     `json:"customer_id"`
	Items          []CartItem `json:"items"`
	Total          float64    `json:"total"`
	Discount       float64    `json:"discount"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

// CartStore holds one cart per customer id.
type CartStore struct {
	mu    sync.RWMutex
	carts map[string]*Cart
}

// NewCartStore creates an empty cart store.
func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]*Cart)}
}

// round2 rounds to two decimal places (centavos).
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// recomputeTotal rederives Total from the item list. Called after every
// mutation so Total is never stale.
func (c *Cart) recomputeTotal() {
	total := 0.0
	for _, it := range c.Items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	c.Total = round2(total)
}

// getOrCreateLocked returns the customer's cart, creating it if absent.
// Caller must hold the write lock.
func (s *CartStore) getOrCreateLocked(customerID string) *Cart {
	if cart, ok := s.carts[customerID]; ok {
		return cart
	}
	now := time.Now()
	cart := &Cart{
		CustomerID:     customerID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.carts[customerID] = cart
	return cart
}

// GetOrCreate returns a copy of the customer's cart, creating an empty one
// if absent. Idempotent.
func (s *CartStore) GetOrCreate(customerID string) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCart(s.getOrCreateLocked(customerID))
}

// Get returns a copy of the customer's cart without creating one.
func (s *CartStore) Get(customerID string) (Cart, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cart, ok := s.carts[customerID]
	if !ok {
		return Cart{}, false
	}
	return copyCart(cart), true
}

// AddItem appends an item to the customer's cart, creating the cart if
// missing, and recomputes the total. Rejects non-positive quantity and
// negative price since those indicate a caller bug, not customer input.
func (s *CartStore) AddItem(customerID, productID, name string, unitPrice float64, quantity int) (Cart, error) {
	if customerID == "" {
		return Cart{}, fmt.Errorf("empty customer id")
	}
	if quantity <= 0 {
		return Cart{}, fmt.Errorf("invalid quantity %d: must be positive", quantity)
	}
	if unitPrice < 0 {
		return Cart{}, fmt.Errorf("invalid unit price %.2f: must not be negative", unitPrice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.getOrCreateLocked(customerID)
	cart.Items = append(cart.Items, CartItem{
		ProductID: productID,
		Name:      name,
		UnitPrice: unitPrice,
		Quantity:  quantity,
	})
	cart.recomputeTotal()
	cart.LastActivityAt = time.Now()

	return copyCart(cart), nil
}

// SetDiscount records the discount snapshot on the customer's cart.
// The discount comes from the profile classifier, not from the cart itself.
func (s *CartStore) SetDiscount(customerID string, discount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart := s.getOrCreateLocked(customerID)
	cart.Discount = discount
}

// Clear removes the customer's cart entirely. Returns whether one existed.
func (s *CartStore) Clear(customerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.carts[customerID]
	delete(s.carts, customerID)
	return ok
}

// ScanAbandoned returns every cart with at least one item whose last
// activity predates the inactivity threshold. Read-only: abandoned carts
// are reported, never purged.
func (s *CartStore) ScanAbandoned(threshold time.Duration) []Cart {
	cutoff := time.Now().Add(-threshold)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var abandoned []Cart
	for _, cart := range s.carts {
		if len(cart.Items) == 0 {
			continue
		}
		if cart.LastActivityAt.Before(cutoff) {
			abandoned = append(abandoned, copyCart(cart))
		}
	}
	return abandoned
}

// Count returns the number of carts (including empty ones).
func (s *CartStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.carts)
}

// copyCart returns a deep copy so callers never alias store-internal state.
func copyCart(c *Cart) Cart {
	out := *c
	out.Items = make([]CartItem, len(c.Items))
	copy(out.Items, c.Items)
	return out
}
