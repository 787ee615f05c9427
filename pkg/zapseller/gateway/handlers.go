package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	_ = json.NewEncoder(w).Encode(resp)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth implements GET /health
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", 405)
		return
	}
	uptime := time.Since(g.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}
	st := g.seller.Status()
	channel := "disconnected"
	if st.Connected {
		channel = "connected"
	}
	g.writeJSON(w, 200, map[string]any{
		"status":  "ok",
		"uptime":  uptime,
		"channel": channel,
	})
}

// handleStatus implements GET /api/status
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", 405)
		return
	}
	g.writeJSON(w, 200, g.seller.Status())
}

// handleCatalog implements GET /api/catalog
func (g *Gateway) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", 405)
		return
	}
	g.writeJSON(w, 200, map[string]any{"products": g.seller.Catalog()})
}

// handleProfile implements GET /api/profiles/{customerId}
func (g *Gateway) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", 405)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/profiles/")
	if id == "" {
		g.writeError(w, "customer id required", 400)
		return
	}
	profile, ok := g.seller.Profile(id)
	if !ok {
		g.writeError(w, "profile not found", 404)
		return
	}
	g.writeJSON(w, 200, profile)
}

// handleAbandonedCarts implements GET /api/carts/abandoned
func (g *Gateway) handleAbandonedCarts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", 405)
		return
	}
	carts := g.seller.AbandonedCarts()
	g.writeJSON(w, 200, map[string]any{
		"count": len(carts),
		"carts": carts,
	})
}

// handleCartByID routes /api/carts/{customerId} and
// /api/carts/{customerId}/items by method.
func (g *Gateway) handleCartByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/carts/")
	if path == "" {
		g.writeError(w, "customer id required", 400)
		return
	}

	if id, found := strings.CutSuffix(path, "/items"); found {
		g.handleAddCartItem(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		cart, ok := g.seller.Cart(path)
		if !ok {
			g.writeError(w, "cart not found", 404)
			return
		}
		g.writeJSON(w, 200, cart)
	case http.MethodDelete:
		if !g.seller.ClearCart(path) {
			g.writeError(w, "cart not found", 404)
			return
		}
		g.writeJSON(w, 200, map[string]any{"cleared": true})
	default:
		g.writeError(w, "method not allowed", 405)
	}
}

// handleAddCartItem implements POST /api/carts/{customerId}/items
func (g *Gateway) handleAddCartItem(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", 405)
		return
	}
	var req struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", 400)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	cart, err := g.seller.AddCartItem(customerID, req.ProductID, req.Quantity)
	if err != nil {
		g.writeError(w, err.Error(), 400)
		return
	}
	g.writeJSON(w, 200, cart)
}

// handleSend implements POST /api/send — operator-initiated message.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", 405)
		return
	}
	var req struct {
		CustomerID string `json:"customer_id"`
		Text       string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", 400)
		return
	}
	if err := g.seller.SendText(r.Context(), req.CustomerID, req.Text); err != nil {
		g.writeError(w, err.Error(), 502)
		return
	}
	g.writeJSON(w, 200, map[string]any{"sent": true})
}

// ---------- Middleware ----------

// securityHeadersMiddleware adds standard security headers to all responses.
func (g *Gateway) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces the Bearer token when one is configured.
// /health stays public for load balancers and probes.
func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.config.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if auth == "" {
			g.writeError(w, "missing Authorization header", 401)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			g.writeError(w, "invalid Authorization format", 401)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if !compareTokens(token, g.config.AuthToken) {
			g.writeError(w, "invalid token", 401)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// compareTokens performs a constant-time comparison.
func compareTokens(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
