package feed

import "context"

// Adapter captures the per-exchange protocol details the connection manager
// needs: where to connect, how to subscribe, and how to keep the socket
// alive. Subscribe frames are exact literal templates per exchange, built
// from canonical symbols.
type Adapter interface {
	// Name identifies the exchange; it tags raw messages for the normalizer.
	Name() string

	// Endpoint returns the websocket URL. Exchanges that hand out
	// per-session endpoints (token handshakes) resolve them here.
	Endpoint(ctx context.Context) (string, error)

	// SubscribeFrames returns the frames to send after connect for the
	// given canonical symbols.
	SubscribeFrames(symbols []string) [][]byte

	// UnsubscribeFrames returns the frames that drop the given symbols, or
	// nil when the exchange cannot unsubscribe incrementally. A nil result
	// makes the manager fall back to a full reconnect on symbol changes.
	UnsubscribeFrames(symbols []string) [][]byte

	// HeartbeatFrame returns the application-level keepalive payload, or
	// nil to use a transport-level ping.
	HeartbeatFrame() []byte

	// DefaultSymbols is the fallback subscription used when the caller has
	// not provided any symbols yet.
	DefaultSymbols() []string
}
