package seller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// completer is the slice of LLMClient the responder needs. Narrow on purpose
// so tests can substitute a fake.
type completer interface {
	Complete(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (string, error)
}

// historyWindow is how many past turns are sent as LLM context.
const historyWindow = 10

// genericFailureMarkers flag LLM responses that are technically successful
// but useless as a sales reply. Treated the same as a transport error.
var genericFailureMarkers = []string{
	"não consigo ajudar",
	"nao consigo ajudar",
	"i cannot help",
	"i can't help",
	"as an ai",
	"como uma ia",
	"sou um modelo de linguagem",
	"i am a language model",
}

// Responder builds grounded prompts and generates sales replies, degrading
// to deterministic segment-keyed templates when the LLM is unavailable.
type Responder struct {
	llm     completer
	history *HistoryStore
	catalog *Catalog
	persona string
	timeout time.Duration
	logger  *slog.Logger
}

// ResponderConfig configures the response generator.
type ResponderConfig struct {
	// Persona is the merchant identity injected into the system prompt.
	Persona string `yaml:"persona"`
	// Timeout bounds the LLM call. Default: 15s.
	Timeout time.Duration `yaml:"timeout"`
}

// NewResponder creates a response generator.
func NewResponder(llm completer, history *HistoryStore, catalog *Catalog, cfg ResponderConfig, logger *slog.Logger) *Responder {
	persona := cfg.Persona
	if persona == "" {
		persona = "Você é o vendedor virtual da Livraria Águas Vivas, uma livraria evangélica brasileira. Atenda com simpatia, use linguagem calorosa e foque em fechar a venda."
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Responder{
		llm:     llm,
		history: history,
		catalog: catalog,
		persona: persona,
		timeout: timeout,
		logger:  logger.With("component", "responder"),
	}
}

// Generate produces a sales reply for the customer's message. It never
// returns an error: LLM failures, timeouts, and degenerate answers all fall
// back to a deterministic template keyed by the customer's segment. Both the
// inbound message and the reply are recorded into the conversation history.
func (r *Responder) Generate(ctx context.Context, message string, profile CustomerProfile, cart Cart) string {
	recent := r.history.Recent(profile.CustomerID, historyWindow)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reply, err := r.llm.Complete(callCtx, r.buildSystemPrompt(profile, cart), recent, message)
	if err != nil {
		r.logger.Warn("llm call failed, using fallback reply",
			"customer", profile.CustomerID,
			"segment", profile.Segment,
			"error", err)
		reply = fallbackReply(profile.Segment, profile.DiscountRate)
	} else if reply == "" || isGenericFailure(reply) {
		r.logger.Warn("llm returned degenerate reply, using fallback",
			"customer", profile.CustomerID,
			"segment", profile.Segment)
		reply = fallbackReply(profile.Segment, profile.DiscountRate)
	}

	r.history.Append(profile.CustomerID, SpeakerCustomer, message)
	r.history.Append(profile.CustomerID, SpeakerSeller, reply)

	return reply
}

// buildSystemPrompt assembles the grounding segment: persona, customer
// profile, cart state, and catalog.
func (r *Responder) buildSystemPrompt(profile CustomerProfile, cart Cart) string {
	var b strings.Builder

	b.WriteString(r.persona)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Perfil do cliente: segmento %q (confiança %.2f). Desconto autorizado: %.0f%%.\n",
		profile.Segment, profile.Confidence, profile.DiscountRate*100)

	if len(cart.Items) > 0 {
		b.WriteString("\nCarrinho atual:\n")
		for _, it := range cart.Items {
			fmt.Fprintf(&b, "- %dx %s (R$ %.2f cada)\n", it.Quantity, it.Name, it.UnitPrice)
		}
		fmt.Fprintf(&b, "Total: R$ %.2f\n", cart.Total)
	} else {
		b.WriteString("\nO carrinho do cliente está vazio.\n")
	}

	b.WriteString("\nCatálogo:\n")
	b.WriteString(r.catalog.Summary())
	b.WriteString("\n\n")

	b.WriteString("Responda em português brasileiro, em no máximo 3 frases curtas. " +
		"Mencione o desconto quando fizer sentido. Nunca invente produtos fora do catálogo.")

	return b.String()
}

// isGenericFailure reports whether an LLM reply matches a known useless
// answer pattern.
func isGenericFailure(reply string) bool {
	lower := strings.ToLower(reply)
	for _, marker := range genericFailureMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// fallbackReply returns the deterministic templated reply for a segment.
// Always non-empty and always mentions the authorized discount.
func fallbackReply(segment Segment, discount float64) string {
	pct := int(discount * 100)
	switch segment {
	case SegmentAtacado:
		return fmt.Sprintf("Temos condições especiais para compras em quantidade! Para pedidos de atacado oferecemos %d%% de desconto. Me diga quantas unidades você precisa que eu preparo um orçamento.", pct)
	case SegmentJovem:
		return fmt.Sprintf("Temos várias opções que a galera está curtindo! E com %d%% de desconto pra você. Quer que eu mande as mais pedidas?", pct)
	case SegmentFamilia:
		return fmt.Sprintf("Temos ótimas opções para toda a família, incluindo material infantil. Posso oferecer %d%% de desconto na sua compra. Quer ver algumas sugestões?", pct)
	default:
		return fmt.Sprintf("Seja bem-vindo à nossa livraria! Temos bíblias, devocionais e livros com %d%% de desconto. Como posso ajudar você hoje?", pct)
	}
}
