package feed

import (
	"context"
	"net"
	"sync"
	"time"

	appconfig "tickflow/config"
	"tickflow/internal/channel"
	"tickflow/internal/models"
	"tickflow/logger"

	"github.com/gorilla/websocket"
)

// State tracks the connection lifecycle of a manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// reconnectPause is the fixed delay between the disconnect and connect halves
// of an explicit Reconnect.
const reconnectPause = 500 * time.Millisecond

// Manager owns a single live websocket connection to one exchange and drives
// the connect, subscribe, heartbeat, reconnect lifecycle. Raw frames go to
// the shared channel layer; decoding happens downstream in the normalizer.
// A manager never holds two live sockets: a new socket bumps the generation
// counter so the previous read loop discards its close event.
type Manager struct {
	adapter  Adapter
	cfg      appconfig.FeedConfig
	channels *channel.Channels
	log      *logger.Log

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	gen            int
	symbols        []string
	attempts       int
	lastErr        error
	userClosed     bool
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	ctx            context.Context
	wg             sync.WaitGroup
}

// NewManager creates a connection manager for one exchange. The initial
// subscription set comes from the feed config and can be replaced later with
// SetSymbols.
func NewManager(adapter Adapter, cfg appconfig.FeedConfig, ch *channel.Channels) *Manager {
	return &Manager{
		adapter:  adapter,
		cfg:      cfg,
		channels: ch,
		log:      logger.GetLogger(),
		symbols:  append([]string(nil), cfg.Symbols...),
	}
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError reports the most recent transport error, for observability only.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Symbols returns the current subscription set.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.symbols...)
}

// Connect opens the socket, subscribes, and starts the heartbeat and read
// loop. It is a no-op while already connected or connecting. With no symbols
// configured it subscribes to the adapter's default set so the socket is
// never opened with nothing to stream.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.userClosed = false
	m.state = StateConnecting
	m.ctx = ctx
	symbols := append([]string(nil), m.symbols...)
	m.mu.Unlock()

	log := m.log.WithComponent("feed_manager").WithFields(logger.Fields{"exchange": m.adapter.Name()})

	if len(symbols) == 0 {
		symbols = m.adapter.DefaultSymbols()
		log.WithField("symbols", symbols).Debug("no symbols configured, subscribing to defaults")
	}

	endpoint, err := m.adapter.Endpoint(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to resolve websocket endpoint")
		m.connectFailed(ctx, err)
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if m.cfg.LocalIP != "" {
		if ip := net.ParseIP(m.cfg.LocalIP); ip != nil {
			dialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
		}
	}

	log.WithField("url", endpoint).Debug("connecting to websocket")
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		log.WithError(err).Warn("websocket connect failed")
		m.connectFailed(ctx, err)
		return err
	}

	m.mu.Lock()
	if m.userClosed {
		// Disconnect raced the dial
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	m.state = StateConnected
	m.attempts = 0
	m.lastErr = nil
	stop := make(chan struct{})
	m.heartbeatStop = stop
	m.mu.Unlock()

	log.WithField("symbols", symbols).Info("websocket connected")

	for _, frame := range m.adapter.SubscribeFrames(symbols) {
		m.send(websocket.TextMessage, frame)
	}

	m.wg.Add(2)
	go m.heartbeat(stop)
	go m.readLoop(ctx, conn, gen)
	return nil
}

// Disconnect closes the socket with a normal-closure code and cancels any
// pending reconnect and heartbeat timers. The closure is recorded as
// user-initiated so the read loop does not schedule a reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.userClosed = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	conn := m.conn
	if conn == nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		return
	}
	m.state = StateClosing
	m.mu.Unlock()

	m.log.WithComponent("feed_manager").WithFields(logger.Fields{
		"exchange": m.adapter.Name(),
	}).Info("disconnecting websocket")

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}

// Reconnect tears the connection down and dials again after a short fixed
// pause. Used when the subscription set changes on an exchange that cannot
// resubscribe in place.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.Disconnect()
	select {
	case <-time.After(reconnectPause):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.Connect(ctx)
}

// SetSymbols replaces the subscription set. While connected, the manager
// resubscribes in place when the adapter supports incremental unsubscribe,
// otherwise it reconnects with the new set.
func (m *Manager) SetSymbols(symbols []string) {
	m.mu.Lock()
	previous := m.symbols
	m.symbols = append([]string(nil), symbols...)
	connected := m.state == StateConnected
	ctx := m.ctx
	m.mu.Unlock()

	if !connected {
		return
	}

	added := subtract(symbols, previous)
	removed := subtract(previous, symbols)
	if len(removed) > 0 {
		frames := m.adapter.UnsubscribeFrames(removed)
		if frames == nil {
			go m.Reconnect(ctx)
			return
		}
		for _, frame := range frames {
			m.send(websocket.TextMessage, frame)
		}
	}
	for _, frame := range m.adapter.SubscribeFrames(added) {
		m.send(websocket.TextMessage, frame)
	}
}

// Close disconnects and waits for the read loop and heartbeat to exit.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

// send writes a frame if the socket is open. Writes while disconnected are
// silent no-ops, never errors surfaced to the caller.
func (m *Manager) send(messageType int, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.conn == nil {
		return
	}
	if err := m.conn.WriteMessage(messageType, payload); err != nil {
		m.lastErr = err
	}
}

func (m *Manager) heartbeat(stop chan struct{}) {
	defer m.wg.Done()
	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 150 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if frame := m.adapter.HeartbeatFrame(); frame != nil {
				m.send(websocket.TextMessage, frame)
			} else {
				m.send(websocket.PingMessage, nil)
			}
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	defer m.wg.Done()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(ctx, gen, err)
			return
		}
		m.channels.SendRaw(ctx, models.RawFeedMessage{
			Exchange: m.adapter.Name(),
			Payload:  payload,
			Received: time.Now().UTC(),
		})
	}
}

// handleClose runs when the read loop dies. Server or network closures
// schedule a reconnect; user-initiated closures and stale generations do not.
func (m *Manager) handleClose(ctx context.Context, gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.lastErr = err
	m.state = StateDisconnected
	userClosed := m.userClosed
	m.mu.Unlock()

	if userClosed || ctx.Err() != nil {
		return
	}

	m.log.WithComponent("feed_manager").WithFields(logger.Fields{
		"exchange": m.adapter.Name(),
	}).WithError(err).Warn("websocket closed unexpectedly")
	m.scheduleReconnect(ctx)
}

func (m *Manager) connectFailed(ctx context.Context, err error) {
	m.mu.Lock()
	m.lastErr = err
	m.state = StateDisconnected
	m.mu.Unlock()
	m.scheduleReconnect(ctx)
}

func (m *Manager) scheduleReconnect(ctx context.Context) {
	maxAttempts := m.cfg.MaxReconnects
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	m.mu.Lock()
	if m.userClosed {
		m.mu.Unlock()
		return
	}
	if m.attempts >= maxAttempts {
		m.mu.Unlock()
		m.log.WithComponent("feed_manager").WithFields(logger.Fields{
			"exchange": m.adapter.Name(),
			"attempts": maxAttempts,
		}).Error("reconnect attempts exhausted, staying disconnected")
		m.log.LogMetric("feed_manager", "feed_reconnect_exhausted", 1, "Count", logger.Fields{"exchange": m.adapter.Name()})
		return
	}
	attempt := m.attempts
	m.attempts++
	delay := reconnectDelay(attempt, m.cfg.ReconnectBase, m.cfg.ReconnectMax)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.Connect(ctx)
	})
	m.mu.Unlock()

	m.log.WithComponent("feed_manager").WithFields(logger.Fields{
		"exchange": m.adapter.Name(),
		"attempt":  attempt + 1,
		"delay":    delay.String(),
	}).Info("reconnect scheduled")
}

// subtract returns the elements of a not present in b, preserving order.
func subtract(a, b []string) []string {
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		seen[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
