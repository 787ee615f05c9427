package seller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/zapseller/pkg/zapseller/channels"
)

func newTestSeller(t *testing.T, ch channels.Channel) *Seller {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := DefaultConfig()
	s := New(cfg, ch, logger)
	// Substitute the LLM so tests never touch the network. The fake echoes
	// the customer message back as the reply.
	s.responder.llm = &echoCompleter{}
	return s
}

func TestHandleMessage(t *testing.T) {
	t.Run("full pipeline replies to the customer", func(t *testing.T) {
		ch := newFakeChannel()
		s := newTestSeller(t, ch)

		s.handleMessage(context.Background(), &channels.IncomingMessage{
			From:    "5511999999999",
			Content: "preciso de 50 bíblias para minha igreja",
		})

		sent := ch.sentMessages()
		if len(sent) != 1 {
			t.Fatalf("expected 1 reply sent, got %d", len(sent))
		}
		if sent[0].to != "5511999999999" {
			t.Errorf("reply sent to wrong recipient: %s", sent[0].to)
		}

		profile, ok := s.Profile("5511999999999")
		if !ok {
			t.Fatal("expected profile created")
		}
		if profile.Segment != SegmentAtacado {
			t.Errorf("expected atacado segment, got %s", profile.Segment)
		}

		cart, ok := s.Cart("5511999999999")
		if !ok {
			t.Fatal("expected cart created")
		}
		if cart.Discount != 0.20 {
			t.Errorf("expected discount snapshot 0.20, got %v", cart.Discount)
		}

		if s.handled.Load() != 1 {
			t.Errorf("expected handled counter 1, got %d", s.handled.Load())
		}
	})

	t.Run("skips when channel disconnected", func(t *testing.T) {
		ch := newFakeChannel()
		ch.setConnected(false)
		s := newTestSeller(t, ch)

		s.handleMessage(context.Background(), &channels.IncomingMessage{
			From:    "5511999999999",
			Content: "oi",
		})

		if len(ch.sentMessages()) != 0 {
			t.Error("expected no send attempt while disconnected")
		}
		if s.dropped.Load() != 1 {
			t.Errorf("expected dropped counter 1, got %d", s.dropped.Load())
		}
	})

	t.Run("send failure counted, never retried", func(t *testing.T) {
		ch := newFakeChannel()
		ch.sendErr = channels.ErrSendFailed
		s := newTestSeller(t, ch)

		s.handleMessage(context.Background(), &channels.IncomingMessage{
			From:    "5511999999999",
			Content: "oi",
		})

		if got := ch.sendAttempts(); got != 1 {
			t.Errorf("expected exactly 1 send attempt, got %d", got)
		}
		if s.fails.Load() != 1 {
			t.Errorf("expected failure counter 1, got %d", s.fails.Load())
		}
	})
}

func TestMessageRouting(t *testing.T) {
	t.Run("same customer processed in arrival order", func(t *testing.T) {
		ch := newFakeChannel()
		s := newTestSeller(t, ch)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			s.Start(ctx)
			close(done)
		}()

		for i := 0; i < 5; i++ {
			ch.inject(&channels.IncomingMessage{
				From:    "5511999999999",
				Content: fmt.Sprintf("mensagem %d", i),
			})
		}

		waitFor(t, func() bool { return len(ch.sentMessages()) == 5 })
		cancel()
		<-done

		sent := ch.sentMessages()
		for i, m := range sent {
			// echoCompleter replies with the inbound text, so reply order
			// proves processing order.
			want := fmt.Sprintf("mensagem %d", i)
			if !strings.Contains(m.content, want) {
				t.Errorf("reply %d out of order: got %q, want %q", i, m.content, want)
			}
		}
	})

	t.Run("different customers get independent lanes", func(t *testing.T) {
		ch := newFakeChannel()
		s := newTestSeller(t, ch)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			s.Start(ctx)
			close(done)
		}()

		ch.inject(&channels.IncomingMessage{From: "a", Content: "oi"})
		ch.inject(&channels.IncomingMessage{From: "b", Content: "olá"})

		waitFor(t, func() bool { return len(ch.sentMessages()) == 2 })
		cancel()
		<-done

		s.laneMu.Lock()
		lanes := len(s.lanes)
		s.laneMu.Unlock()
		if lanes != 0 {
			t.Errorf("expected lanes drained after stop, got %d", lanes)
		}
	})

	t.Run("drops message without sender", func(t *testing.T) {
		ch := newFakeChannel()
		s := newTestSeller(t, ch)

		s.route(context.Background(), &channels.IncomingMessage{Content: "oi"})

		if s.dropped.Load() != 1 {
			t.Errorf("expected dropped counter 1, got %d", s.dropped.Load())
		}
	})

	t.Run("stops when channel closes", func(t *testing.T) {
		ch := newFakeChannel()
		s := newTestSeller(t, ch)

		done := make(chan struct{})
		go func() {
			s.Start(context.Background())
			close(done)
		}()

		close(ch.messages)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("seller did not stop after channel close")
		}
	})
}

func TestAddCartItem(t *testing.T) {
	ch := newFakeChannel()
	s := newTestSeller(t, ch)

	t.Run("known product uses catalog price", func(t *testing.T) {
		cart, err := s.AddCartItem("cust-1", "biblia-ra", 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cart.Total != 178.00 {
			t.Errorf("expected total 178.00, got %v", cart.Total)
		}
	})

	t.Run("unknown product rejected", func(t *testing.T) {
		if _, err := s.AddCartItem("cust-1", "produto-inexistente", 1); err == nil {
			t.Error("expected error for unknown product")
		}
	})
}

func TestSendText(t *testing.T) {
	ch := newFakeChannel()
	s := newTestSeller(t, ch)

	t.Run("validates input", func(t *testing.T) {
		if err := s.SendText(context.Background(), "", "oi"); err == nil {
			t.Error("expected error for empty customer id")
		}
		if err := s.SendText(context.Background(), "cust-1", ""); err == nil {
			t.Error("expected error for empty text")
		}
	})

	t.Run("dispatches through the channel", func(t *testing.T) {
		if err := s.SendText(context.Background(), "5511999999999", "Seu pedido chegou!"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sent := ch.sentMessages()
		if len(sent) != 1 || sent[0].content != "Seu pedido chegou!" {
			t.Errorf("unexpected sends: %+v", sent)
		}
	})
}

func TestStatus(t *testing.T) {
	ch := newFakeChannel()
	s := newTestSeller(t, ch)

	s.handleMessage(context.Background(), &channels.IncomingMessage{
		From:    "5511999999999",
		Content: "oi",
	})

	st := s.Status()
	if st.ChannelName != "fake" {
		t.Errorf("unexpected channel name: %s", st.ChannelName)
	}
	if !st.Connected {
		t.Error("expected connected status")
	}
	if st.Customers != 1 {
		t.Errorf("expected 1 customer, got %d", st.Customers)
	}
	if st.MessagesHandled != 1 {
		t.Errorf("expected 1 handled, got %d", st.MessagesHandled)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// Test helper types

type sentMessage struct {
	to      string
	content string
}

type fakeChannel struct {
	mu        sync.Mutex
	sent      []sentMessage
	attempts  int
	connected bool
	sendErr   error
	messages  chan *channels.IncomingMessage
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		connected: true,
		messages:  make(chan *channels.IncomingMessage, 64),
	}
}

func (f *fakeChannel) Name() string                      { return "fake" }
func (f *fakeChannel) Connect(ctx context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error                 { return nil }

func (f *fakeChannel) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{to: to, content: msg.Content})
	return nil
}

func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage { return f.messages }

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Health() channels.HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return channels.HealthStatus{
		Connected: f.connected,
		Details:   map[string]any{"state": "fake"},
	}
}

func (f *fakeChannel) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeChannel) inject(msg *channels.IncomingMessage) {
	f.messages <- msg
}

func (f *fakeChannel) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeChannel) sendAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// echoCompleter replies with the inbound customer message.
type echoCompleter struct{}

func (echoCompleter) Complete(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (string, error) {
	return userMessage, nil
}

var _ channels.Channel = (*fakeChannel)(nil)
