package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/voicewire/voicewire/pkg/realtime"
)

// DefaultListenAddr is where the relay listens when the config names no
// address.
const DefaultListenAddr = ":8990"

// Config configures a Relay.
type Config struct {
	// Listen is the TCP listen address. Defaults to DefaultListenAddr.
	Listen string

	// Token is the bearer token clients must present. Empty disables
	// downstream auth; fine on a LAN, unwise anywhere else.
	Token string

	// APIKey is the upstream API key. Required.
	APIKey string

	// UpstreamURL overrides the upstream realtime endpoint.
	UpstreamURL string

	// Model and Voice select what the upstream session runs.
	Model string
	Voice string

	// Instructions is the system prompt for every conversation.
	Instructions string

	// Tools is advertised to the model on every conversation.
	Tools *ToolSet

	// ICEServers configures the answering side of WebRTC offers. Empty
	// means host candidates only, which serves LAN deployments.
	ICEServers []webrtc.ICEServer

	Logger *slog.Logger
}

// Relay serves the voicewire wire protocol over WebSocket and WebRTC
// and bridges every conversation to its own upstream session.
type Relay struct {
	cfg      Config
	logger   *slog.Logger
	toolDefs []map[string]any
	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
	conns  map[*conversation]struct{}
	closed bool
}

// New validates the config and builds a relay.
func New(cfg Config) (*Relay, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("relay: api key required")
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListenAddr
	}
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = DefaultUpstreamURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	toolDefs, err := cfg.Tools.upstreamDefs()
	if err != nil {
		return nil, err
	}
	return &Relay{
		cfg:      cfg,
		logger:   cfg.Logger,
		toolDefs: toolDefs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: map[*conversation]struct{}{},
	}, nil
}

// Handler returns the relay's HTTP routes.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/realtime", r.handleRealtime)
	mux.HandleFunc("/v1/webrtc", r.handleWebRTC)
	mux.HandleFunc("/v1/secret", r.handleSecret)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok\n")
	})
	return mux
}

// ListenAndServe serves until ctx is canceled or the listener fails.
func (r *Relay) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", r.cfg.Listen, err)
	}
	return r.serve(ctx, ln)
}

func (r *Relay) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ln.Close()
		return errors.New("relay: already shut down")
	}
	r.server = srv
	r.mu.Unlock()

	r.logger.Info("relay listening",
		"addr", ln.Addr().String(), "model", r.cfg.Model, "tools", r.cfg.Tools.Len())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			r.Shutdown(shutdownCtx)
		case <-done:
		}
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and closes every live conversation.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	srv := r.server
	conns := make([]*conversation, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("relay: shutdown: %w", err)
		}
	}
	return nil
}

func (r *Relay) track(c *conversation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

func (r *Relay) untrack(c *conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

// authorized checks the downstream bearer token. An empty configured
// token admits everyone.
func (r *Relay) authorized(req *http.Request) bool {
	if r.cfg.Token == "" {
		return true
	}
	return req.Header.Get("Authorization") == "Bearer "+r.cfg.Token
}

func (r *Relay) handleRealtime(w http.ResponseWriter, req *http.Request) {
	if !r.authorized(req) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}
	conv := newConversation(r, &wsDownstream{conn: conn})
	if !r.track(conv) {
		conn.Close()
		return
	}
	conv.run(req.Context())
}

// handleWebRTC answers a client SDP offer. The client creates the data
// channel; the conversation starts once it opens, which is after this
// handler has already returned the answer.
func (r *Relay) handleWebRTC(w http.ResponseWriter, req *http.Request) {
	if !r.authorized(req) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	offer, err := io.ReadAll(http.MaxBytesReader(w, req.Body, 1<<20))
	if err != nil || len(offer) == 0 {
		http.Error(w, "missing sdp offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: r.cfg.ICEServers})
	if err != nil {
		r.logger.Error("create peer connection failed", "error", err)
		http.Error(w, "webrtc unavailable", http.StatusInternalServerError)
		return
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != realtime.DataChannelLabel {
			r.logger.Warn("unexpected data channel", "label", dc.Label())
			dc.Close()
			return
		}
		conv := newConversation(r, newRTCDownstream(pc, dc))
		if !r.track(conv) {
			pc.Close()
			return
		}
		dc.OnOpen(func() {
			go conv.run(context.Background())
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			pc.Close()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  string(offer),
	}); err != nil {
		pc.Close()
		http.Error(w, "bad sdp offer", http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		r.logger.Error("create answer failed", "error", err)
		http.Error(w, "answer failed", http.StatusInternalServerError)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "answer failed", http.StatusInternalServerError)
		return
	}

	// Answer with all candidates gathered so the exchange stays a single
	// round trip.
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-req.Context().Done():
		pc.Close()
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	io.WriteString(w, pc.LocalDescription().SDP)
}

func (r *Relay) handleSecret(w http.ResponseWriter, req *http.Request) {
	if !r.authorized(req) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	secret, err := MintClientSecret(req.Context(), r.cfg.APIKey, r.cfg.Model, r.cfg.Voice)
	if err != nil {
		r.logger.Warn("mint client secret failed", "error", err)
		http.Error(w, "mint failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(secret)
}
