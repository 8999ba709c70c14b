package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	appconfig "tickflow/config"
	"tickflow/internal/channel"

	"github.com/gorilla/websocket"
)

// stubAdapter drives the manager against an in-process websocket server.
type stubAdapter struct {
	url string
}

func (a *stubAdapter) Name() string                             { return "stub" }
func (a *stubAdapter) Endpoint(context.Context) (string, error) { return a.url, nil }
func (a *stubAdapter) SubscribeFrames(symbols []string) [][]byte {
	if len(symbols) == 0 {
		return nil
	}
	return [][]byte{[]byte(`{"op":"subscribe","symbols":"` + strings.Join(symbols, ",") + `"}`)}
}
func (a *stubAdapter) UnsubscribeFrames(symbols []string) [][]byte {
	if len(symbols) == 0 {
		return nil
	}
	return [][]byte{[]byte(`{"op":"unsubscribe","symbols":"` + strings.Join(symbols, ",") + `"}`)}
}
func (a *stubAdapter) HeartbeatFrame() []byte    { return nil }
func (a *stubAdapter) DefaultSymbols() []string  { return []string{"BTC"} }

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// feedServer upgrades connections, records the first inbound frame, pushes
// one ticker payload, then holds the socket open until the client leaves.
func feedServer(t *testing.T, accepts *atomic.Int64, firstFrame chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		accepts.Add(1)

		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case firstFrame <- string(frame):
		default:
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"50000"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.State(), want)
}

func testFeedConfig(symbols []string) appconfig.FeedConfig {
	return appconfig.FeedConfig{
		Enabled:           true,
		Symbols:           symbols,
		HeartbeatInterval: time.Hour,
		ReconnectBase:     10 * time.Millisecond,
		ReconnectMax:      50 * time.Millisecond,
		MaxReconnects:     5,
	}
}

func TestManagerConnectSubscribesAndForwardsFrames(t *testing.T) {
	var accepts atomic.Int64
	firstFrame := make(chan string, 1)
	srv := feedServer(t, &accepts, firstFrame)
	defer srv.Close()

	ch := channel.NewChannels(16, 16)
	defer ch.Close()
	m := NewManager(&stubAdapter{url: wsURL(srv)}, testFeedConfig([]string{"BTC", "ETH"}), ch)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, m, StateConnected)

	select {
	case frame := <-firstFrame:
		if !strings.Contains(frame, "subscribe") || !strings.Contains(frame, "BTC,ETH") {
			t.Errorf("subscribe frame = %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received subscribe frame")
	}

	select {
	case msg := <-ch.Raw:
		if msg.Exchange != "stub" {
			t.Errorf("exchange = %q, want stub", msg.Exchange)
		}
		if !strings.Contains(string(msg.Payload), "24hrTicker") {
			t.Errorf("payload = %s", msg.Payload)
		}
		if msg.Received.IsZero() {
			t.Error("received timestamp not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ticker frame never reached raw channel")
	}
}

func TestManagerConnectIsIdempotent(t *testing.T) {
	var accepts atomic.Int64
	firstFrame := make(chan string, 1)
	srv := feedServer(t, &accepts, firstFrame)
	defer srv.Close()

	ch := channel.NewChannels(16, 16)
	defer ch.Close()
	m := NewManager(&stubAdapter{url: wsURL(srv)}, testFeedConfig([]string{"BTC"}), ch)
	defer m.Close()

	m.Connect(context.Background())
	waitForState(t, m, StateConnected)
	m.Connect(context.Background())
	m.Connect(context.Background())

	time.Sleep(100 * time.Millisecond)
	if got := accepts.Load(); got != 1 {
		t.Errorf("server accepted %d connections, want 1", got)
	}
}

func TestManagerReconnectsAfterServerClose(t *testing.T) {
	var accepts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := accepts.Add(1)
		if n == 1 {
			// drop the first connection immediately
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch := channel.NewChannels(16, 16)
	defer ch.Close()
	m := NewManager(&stubAdapter{url: wsURL(srv)}, testFeedConfig([]string{"BTC"}), ch)
	defer m.Close()

	m.Connect(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && accepts.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if accepts.Load() < 2 {
		t.Fatal("manager never reconnected after server close")
	}
	waitForState(t, m, StateConnected)
}

func TestManagerDisconnectStopsReconnect(t *testing.T) {
	var accepts atomic.Int64
	firstFrame := make(chan string, 1)
	srv := feedServer(t, &accepts, firstFrame)
	defer srv.Close()

	ch := channel.NewChannels(16, 16)
	defer ch.Close()
	m := NewManager(&stubAdapter{url: wsURL(srv)}, testFeedConfig([]string{"BTC"}), ch)

	m.Connect(context.Background())
	waitForState(t, m, StateConnected)

	m.Close()
	waitForState(t, m, StateDisconnected)

	// give any stray reconnect timer time to fire
	time.Sleep(200 * time.Millisecond)
	if got := accepts.Load(); got != 1 {
		t.Errorf("server accepted %d connections after disconnect, want 1", got)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %v after user disconnect, want disconnected", m.State())
	}
}

func TestManagerGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := testFeedConfig([]string{"BTC"})
	cfg.MaxReconnects = 2

	ch := channel.NewChannels(16, 16)
	defer ch.Close()
	// no server listening
	m := NewManager(&stubAdapter{url: "ws://127.0.0.1:1"}, cfg, ch)
	defer m.Close()

	m.Connect(context.Background())

	time.Sleep(500 * time.Millisecond)
	if m.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected after exhausting attempts", m.State())
	}
	if m.LastError() == nil {
		t.Error("last error not recorded")
	}
}

func TestManagerSetSymbolsResubscribesInPlace(t *testing.T) {
	frames := make(chan string, 8)
	var accepts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		accepts.Add(1)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(frame)
		}
	}))
	defer srv.Close()

	ch := channel.NewChannels(16, 16)
	defer ch.Close()
	m := NewManager(&stubAdapter{url: wsURL(srv)}, testFeedConfig([]string{"BTC"}), ch)
	defer m.Close()

	m.Connect(context.Background())
	waitForState(t, m, StateConnected)
	<-frames // initial subscribe

	m.SetSymbols([]string{"ETH"})

	var unsub, sub string
	for i := 0; i < 2; i++ {
		select {
		case frame := <-frames:
			if strings.Contains(frame, "unsubscribe") {
				unsub = frame
			} else {
				sub = frame
			}
		case <-time.After(2 * time.Second):
			t.Fatal("resubscribe frames never arrived")
		}
	}
	if !strings.Contains(unsub, "BTC") {
		t.Errorf("unsubscribe frame = %q, want BTC removal", unsub)
	}
	if !strings.Contains(sub, "ETH") {
		t.Errorf("subscribe frame = %q, want ETH addition", sub)
	}
	if accepts.Load() != 1 {
		t.Errorf("in-place resubscribe opened %d connections, want 1", accepts.Load())
	}
}
