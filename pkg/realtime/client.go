package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v3"
)

const (
	// DefaultWebSocketURL is the default relay WebSocket endpoint.
	DefaultWebSocketURL = "ws://127.0.0.1:8990/v1/realtime"

	// DefaultHTTPURL is the default relay HTTP base (WebRTC SDP exchange).
	DefaultHTTPURL = "http://127.0.0.1:8990/v1"
)

// Client dials realtime channels against a relay.
type Client struct {
	config *clientConfig
}

type clientConfig struct {
	token      string
	wsURL      string
	httpURL    string
	httpClient *http.Client
	iceServers []webrtc.ICEServer
}

// Option configures the Client.
type Option func(*clientConfig)

// NewClient creates a relay client. With no options it targets a local
// relay without authentication.
func NewClient(opts ...Option) *Client {
	cfg := &clientConfig{
		wsURL:      DefaultWebSocketURL,
		httpURL:    DefaultHTTPURL,
		httpClient: http.DefaultClient,
		iceServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Client{config: cfg}
}

// WithToken sets the bearer token presented on connect. Empty means no
// Authorization header.
func WithToken(token string) Option {
	return func(c *clientConfig) {
		c.token = token
	}
}

// WithBaseURL derives both endpoints from an HTTP base such as
// "http://relay.internal:8990/v1": the WebSocket URL gains a "/realtime"
// suffix with the scheme switched to ws(s).
func WithBaseURL(base string) Option {
	return func(c *clientConfig) {
		base = strings.TrimRight(base, "/")
		c.httpURL = base
		ws := base
		switch {
		case strings.HasPrefix(ws, "https://"):
			ws = "wss://" + strings.TrimPrefix(ws, "https://")
		case strings.HasPrefix(ws, "http://"):
			ws = "ws://" + strings.TrimPrefix(ws, "http://")
		}
		c.wsURL = ws + "/realtime"
	}
}

// WithWebSocketURL overrides the WebSocket endpoint.
func WithWebSocketURL(url string) Option {
	return func(c *clientConfig) {
		c.wsURL = url
	}
}

// WithHTTPURL overrides the HTTP base used for the WebRTC SDP exchange.
func WithHTTPURL(url string) Option {
	return func(c *clientConfig) {
		c.httpURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithICEServers overrides the STUN/TURN servers used for WebRTC. Pass
// nil to restrict gathering to host candidates, which is enough when
// client and relay share a LAN.
func WithICEServers(servers []webrtc.ICEServer) Option {
	return func(c *clientConfig) {
		c.iceServers = servers
	}
}

// ConnectWebSocket establishes a WebSocket channel to the relay.
func (c *Client) ConnectWebSocket(ctx context.Context) (Channel, error) {
	return c.connectWebSocket(ctx)
}

// ConnectWebRTC establishes a WebRTC data channel to the relay. Lower
// latency than WebSocket on lossy links; the wire protocol is identical.
func (c *Client) ConnectWebRTC(ctx context.Context) (Channel, error) {
	return c.connectWebRTC(ctx)
}
