package seller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jholhewres/zapseller/pkg/zapseller/channels"
)

// laneBuffer is the per-customer inbox depth. A full lane drops the newest
// message rather than blocking the shared dispatch loop.
const laneBuffer = 32

// Seller orchestrates the sales pipeline: it consumes inbound messages,
// classifies the customer, builds a reply, and dispatches it back over the
// channel. Messages from different customers are handled in parallel;
// messages from the same customer are strictly serialized in arrival order.
type Seller struct {
	cfg       *Config
	channel   channels.Channel
	profiles  *ProfileStore
	carts     *CartStore
	history   *HistoryStore
	catalog   *Catalog
	responder *Responder
	logger    *slog.Logger

	// lanes holds one buffered inbox per active customer. Guarded by laneMu.
	lanes  map[string]chan *channels.IncomingMessage
	laneMu sync.Mutex

	// wg tracks lane workers for clean shutdown.
	wg sync.WaitGroup

	startedAt time.Time

	// counters for the status snapshot.
	handled atomic.Int64
	dropped atomic.Int64
	fails   atomic.Int64
}

// New creates a Seller wired to the given channel.
func New(cfg *Config, ch channels.Channel, logger *slog.Logger) *Seller {
	catalog := NewCatalog(cfg.Catalog)
	history := NewHistoryStore(cfg.HistorySize)
	llm := NewLLMClient(cfg.API, logger)

	return &Seller{
		cfg:       cfg,
		channel:   ch,
		profiles:  NewProfileStore(),
		carts:     NewCartStore(),
		history:   history,
		catalog:   catalog,
		responder: NewResponder(llm, history, catalog, cfg.Responder, logger),
		logger:    logger.With("component", "seller"),
		lanes:     make(map[string]chan *channels.IncomingMessage),
		startedAt: time.Now(),
	}
}

// Start runs the message loop until the context is cancelled. Must be called
// after the channel is connected (or connecting).
func (s *Seller) Start(ctx context.Context) {
	s.logger.Info("seller started", "channel", s.channel.Name())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("seller stopping, draining lanes")
			s.closeLanes()
			s.wg.Wait()
			return
		case msg, ok := <-s.channel.Receive():
			if !ok {
				s.logger.Info("channel closed, seller stopping")
				s.closeLanes()
				s.wg.Wait()
				return
			}
			s.route(ctx, msg)
		}
	}
}

// route delivers a message to the customer's lane, creating the lane and its
// worker on first contact. Same-customer ordering comes from the single
// worker per lane; cross-customer parallelism from having many lanes.
func (s *Seller) route(ctx context.Context, msg *channels.IncomingMessage) {
	if msg.From == "" {
		s.logger.Warn("dropping message without sender id", "id", msg.ID)
		s.dropped.Add(1)
		return
	}

	s.laneMu.Lock()
	lane, ok := s.lanes[msg.From]
	if !ok {
		lane = make(chan *channels.IncomingMessage, laneBuffer)
		s.lanes[msg.From] = lane
		s.wg.Add(1)
		go s.laneWorker(ctx, msg.From, lane)
	}
	s.laneMu.Unlock()

	select {
	case lane <- msg:
	default:
		s.logger.Warn("customer lane full, dropping message",
			"customer", msg.From)
		s.dropped.Add(1)
	}
}

// laneWorker processes one customer's messages sequentially.
func (s *Seller) laneWorker(ctx context.Context, customerID string, lane <-chan *channels.IncomingMessage) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-lane:
			if !ok {
				return
			}
			s.handleMessage(ctx, msg)
		}
	}
}

// closeLanes closes every lane inbox so workers drain and exit.
func (s *Seller) closeLanes() {
	s.laneMu.Lock()
	defer s.laneMu.Unlock()
	for id, lane := range s.lanes {
		close(lane)
		delete(s.lanes, id)
	}
}

// handleMessage runs the full pipeline for one inbound message: classify,
// update cart discount, generate a reply, and dispatch it. Failures never
// propagate — at worst the customer receives no reply for this message.
func (s *Seller) handleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	corrID := uuid.NewString()
	log := s.logger.With("correlation_id", corrID, "customer", msg.From)

	if !s.channel.IsConnected() {
		log.Warn("channel not connected, skipping message")
		s.dropped.Add(1)
		return
	}

	log.Info("handling message",
		"name", msg.FromName,
		"length", len(msg.Content))

	profile := s.profiles.Classify(msg.Content, msg.From)
	s.carts.SetDiscount(msg.From, profile.DiscountRate)
	cart := s.carts.GetOrCreate(msg.From)

	log.Debug("customer classified",
		"segment", profile.Segment,
		"confidence", profile.Confidence,
		"discount", profile.DiscountRate)

	reply := s.responder.Generate(ctx, msg.Content, profile, cart)

	if err := s.channel.Send(ctx, msg.From, &channels.OutgoingMessage{Content: reply}); err != nil {
		// No retry: a dropped reply is an accepted failure mode.
		log.Warn("failed to send reply", "error", err)
		s.fails.Add(1)
		return
	}

	s.handled.Add(1)
	log.Info("reply sent", "segment", profile.Segment)
}

// ---------- Admin Accessors ----------

// Profile returns the customer's profile.
func (s *Seller) Profile(customerID string) (CustomerProfile, bool) {
	return s.profiles.Get(customerID)
}

// Cart returns the customer's cart.
func (s *Seller) Cart(customerID string) (Cart, bool) {
	return s.carts.Get(customerID)
}

// AddCartItem adds an item to the customer's cart, validating it against the
// catalog when the product id is known.
func (s *Seller) AddCartItem(customerID, productID string, quantity int) (Cart, error) {
	product, ok := s.catalog.Get(productID)
	if !ok {
		return Cart{}, fmt.Errorf("unknown product %q", productID)
	}
	return s.carts.AddItem(customerID, product.ID, product.Name, product.Price, quantity)
}

// ClearCart removes the customer's cart.
func (s *Seller) ClearCart(customerID string) bool {
	return s.carts.Clear(customerID)
}

// AbandonedCarts returns carts inactive beyond the configured threshold.
func (s *Seller) AbandonedCarts() []Cart {
	return s.carts.ScanAbandoned(s.cfg.Routines.AbandonedThreshold)
}

// Catalog returns the product catalog.
func (s *Seller) Catalog() []Product {
	return s.catalog.Products()
}

// SendText sends an operator-initiated message directly to a customer.
func (s *Seller) SendText(ctx context.Context, customerID, text string) error {
	if customerID == "" || text == "" {
		return fmt.Errorf("customer id and text must be set")
	}
	return s.channel.Send(ctx, customerID, &channels.OutgoingMessage{Content: text})
}

// Status is the operational snapshot exposed by the admin surface and logged
// by the health routine.
type Status struct {
	Uptime          string         `json:"uptime"`
	ChannelName     string         `json:"channel"`
	Connected       bool           `json:"connected"`
	ChannelDetails  map[string]any `json:"channel_details,omitempty"`
	Customers       int            `json:"customers"`
	Carts           int            `json:"carts"`
	MessagesHandled int64          `json:"messages_handled"`
	MessagesDropped int64          `json:"messages_dropped"`
	SendFailures    int64          `json:"send_failures"`
}

// Status returns the current operational snapshot.
func (s *Seller) Status() Status {
	health := s.channel.Health()
	return Status{
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
		ChannelName:     s.channel.Name(),
		Connected:       health.Connected,
		ChannelDetails:  health.Details,
		Customers:       s.profiles.Count(),
		Carts:           s.carts.Count(),
		MessagesHandled: s.handled.Load(),
		MessagesDropped: s.dropped.Load(),
		SendFailures:    s.fails.Load(),
	}
}
