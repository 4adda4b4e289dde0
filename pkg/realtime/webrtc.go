package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/voicewire/voicewire/pkg/encoding"
)

// DataChannelLabel is the data channel carrying the JSON protocol. The
// client creates it; the answering side matches on it.
const DataChannelLabel = "vw-events"

// WebRTCChannel is a realtime channel carried over a WebRTC data channel.
// Audio still travels as base64 PCM inside JSON messages; WebRTC here buys
// datagram-style delivery over lossy links, not media tracks.
type WebRTCChannel struct {
	*eventPump

	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	closeOnce sync.Once
}

func (c *Client) connectWebRTC(ctx context.Context) (*WebRTCChannel, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: c.config.iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: create peer connection: %w", err)
	}

	ch := &WebRTCChannel{
		eventPump: newEventPump(),
		pc:        pc,
	}

	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("realtime: create data channel: %w", err)
	}
	ch.dc = dc

	opened := make(chan struct{})
	dc.OnOpen(func() {
		slog.Debug("data channel opened", "label", DataChannelLabel)
		close(opened)
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		ch.dispatch(m.Data)
	})
	dc.OnClose(func() {
		slog.Debug("data channel closed", "label", DataChannelLabel)
		close(ch.eventsCh)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("realtime: create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("realtime: set local description: %w", err)
	}

	// Wait for ICE gathering so the offer carries all candidates; the
	// relay answers in a single round trip.
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	answer, err := c.exchangeSDP(ctx, pc.LocalDescription().SDP)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("realtime: set remote description: %w", err)
	}

	select {
	case <-opened:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}
	return ch, nil
}

// exchangeSDP posts the local offer to the relay and returns the answer.
func (c *Client) exchangeSDP(ctx context.Context, sdp string) (string, error) {
	url := c.config.httpURL + "/webrtc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(sdp))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	if c.config.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.token)
	}

	resp, err := c.config.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("realtime: exchange sdp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		body, _ := io.ReadAll(resp.Body)
		return "", &Error{
			Code:       CodeAuthRejected,
			Message:    fmt.Sprintf("credential rejected: %s", body),
			Fatal:      true,
			HTTPStatus: resp.StatusCode,
		}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", &Error{
			Code:       CodeSDPFailed,
			Message:    fmt.Sprintf("sdp exchange failed: %s", body),
			HTTPStatus: resp.StatusCode,
		}
	}

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(answer), nil
}

func (ch *WebRTCChannel) send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ch.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return &Error{Code: CodeConnectFailed, Message: "data channel not open"}
	}
	if msg.EventID == "" {
		msg.EventID = NewEventID()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug("sending message", "type", msg.Type, "event_id", msg.EventID)
	}
	return ch.dc.Send(raw)
}

// AppendAudio appends raw PCM16 audio to the input buffer.
func (ch *WebRTCChannel) AppendAudio(ctx context.Context, pcm []byte) error {
	return ch.send(ctx, &Message{Type: TypeAudioAppend, Audio: pcm})
}

// AppendAudioBase64 appends already-encoded audio to the input buffer.
func (ch *WebRTCChannel) AppendAudioBase64(ctx context.Context, audioBase64 string) error {
	pcm, err := encoding.DecodeStdBase64(audioBase64)
	if err != nil {
		return fmt.Errorf("realtime: append audio: %w", err)
	}
	return ch.AppendAudio(ctx, pcm)
}

// CommitInput commits the input buffer as one utterance.
func (ch *WebRTCChannel) CommitInput(ctx context.Context) error {
	return ch.send(ctx, &Message{Type: TypeAudioCommit})
}

// RequestTurn asks the relay to start a response turn.
func (ch *WebRTCChannel) RequestTurn(ctx context.Context) error {
	return ch.send(ctx, &Message{Type: TypeTurnRequest})
}

// CancelTurn aborts the named in-flight turn.
func (ch *WebRTCChannel) CancelTurn(ctx context.Context, turnID string) error {
	return ch.send(ctx, &Message{Type: TypeTurnCancel, TurnID: turnID})
}

// SendToolResult delivers the application's answer to a tool_call.
func (ch *WebRTCChannel) SendToolResult(ctx context.Context, callID, output string) error {
	return ch.send(ctx, &Message{Type: TypeToolResult, CallID: callID, Output: output})
}

// SendRaw sends an arbitrary message.
func (ch *WebRTCChannel) SendRaw(ctx context.Context, msg *Message) error {
	return ch.send(ctx, msg)
}

// Events returns the server message iterator.
func (ch *WebRTCChannel) Events() iter.Seq2[*Message, error] {
	return ch.events()
}

// Close tears down the data channel and peer connection.
func (ch *WebRTCChannel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.closeCh)
		if ch.dc != nil {
			ch.dc.Close()
		}
		err = ch.pc.Close()
	})
	return err
}

var _ Channel = (*WebRTCChannel)(nil)
