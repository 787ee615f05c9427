// Package seller implements the conversational sales engine: customer
// profiling, cart management, conversation history, and LLM-backed response
// generation with deterministic fallbacks.
package seller

import (
	"fmt"
	"strings"
)

// Product is a catalog entry.
type Product struct {
	ID       string  `yaml:"id" json:"id"`
	Name     string  `yaml:"name" json:"name"`
	Price    float64 `yaml:"price" json:"price"`
	Category string  `yaml:"category" json:"category"`
}

// Catalog holds the products the seller can offer. It is loaded once at
// startup and read-only afterwards, so no locking is needed.
type Catalog struct {
	products []Product
	byID     map[string]Product
}

// NewCatalog builds a catalog from a product list. Empty input falls back to
// the default catalog.
func NewCatalog(products []Product) *Catalog {
	if len(products) == 0 {
		products = defaultProducts()
	}
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &Catalog{products: products, byID: byID}
}

// Get returns the product with the given ID.
func (c *Catalog) Get(id string) (Product, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Products returns all catalog entries.
func (c *Catalog) Products() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

// Summary renders a compact one-line-per-product listing for LLM grounding.
func (c *Catalog) Summary() string {
	var b strings.Builder
	for _, p := range c.products {
		fmt.Fprintf(&b, "- %s (%s): R$ %.2f\n", p.Name, p.ID, p.Price)
	}
	return strings.TrimRight(b.String(), "\n")
}

// defaultProducts is the built-in catalog used when none is configured.
func defaultProducts() []Product {
	return []Product{
		{ID: "biblia-ra", Name: "Bíblia Sagrada Almeida Revista e Atualizada", Price: 89.00, Category: "biblias"},
		{ID: "biblia-ntlh", Name: "Bíblia NTLH Letra Grande", Price: 79.90, Category: "biblias"},
		{ID: "biblia-jovem", Name: "Bíblia do Jovem Capa Jeans", Price: 64.90, Category: "biblias"},
		{ID: "biblia-infantil", Name: "Bíblia Ilustrada para Crianças", Price: 49.90, Category: "infantil"},
		{ID: "devocional-diario", Name: "Devocional Pão Diário", Price: 39.90, Category: "devocionais"},
		{ID: "harpa-crista", Name: "Harpa Cristã com Corinhos", Price: 34.90, Category: "hinarios"},
		{ID: "livro-proposito", Name: "Uma Vida com Propósitos", Price: 54.90, Category: "livros"},
	}
}
