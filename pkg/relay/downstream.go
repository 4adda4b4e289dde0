package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/voicewire/voicewire/pkg/buffer"
	"github.com/voicewire/voicewire/pkg/realtime"
)

// errBadMessage marks a client frame that did not parse as a protocol
// message.
var errBadMessage = errors.New("relay: unparseable client message")

// downstream is one client connection, WebSocket or WebRTC. read blocks
// until a message arrives and returns io.EOF on clean close; send is
// safe for concurrent use.
type downstream interface {
	send(msg *realtime.Message) error
	read() (*realtime.Message, error)
	close() error
	transport() string
}

// wsDownstream carries the protocol over an upgraded WebSocket.
type wsDownstream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (d *wsDownstream) read() (*realtime.Message, error) {
	_, raw, err := d.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	var msg realtime.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadMessage, err)
	}
	msg.Raw = raw
	return &msg, nil
}

func (d *wsDownstream) send(msg *realtime.Message) error {
	if msg.EventID == "" {
		msg.EventID = realtime.NewEventID()
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteJSON(msg)
}

func (d *wsDownstream) close() error {
	d.writeMu.Lock()
	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	d.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
	d.writeMu.Unlock()
	return d.conn.Close()
}

func (d *wsDownstream) transport() string { return "websocket" }

// rtcDownstream carries the protocol over a WebRTC data channel. Inbound
// frames are decoded on pion's callback goroutine and queued; read
// drains the queue.
type rtcDownstream struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
	in *buffer.Buffer[*realtime.Message]
}

func newRTCDownstream(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *rtcDownstream {
	d := &rtcDownstream{
		pc: pc,
		dc: dc,
		in: buffer.N[*realtime.Message](16),
	}
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		var msg realtime.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			d.in.CloseWithError(fmt.Errorf("%w: %v", errBadMessage, err))
			return
		}
		msg.Raw = m.Data
		d.in.Add(&msg)
	})
	dc.OnClose(func() {
		d.in.CloseWrite()
	})
	return d
}

func (d *rtcDownstream) read() (*realtime.Message, error) {
	msg, err := d.in.Next()
	if err != nil {
		if errors.Is(err, buffer.ErrIteratorDone) {
			return nil, io.EOF
		}
		return nil, err
	}
	return msg, nil
}

func (d *rtcDownstream) send(msg *realtime.Message) error {
	if msg.EventID == "" {
		msg.EventID = realtime.NewEventID()
	}
	if d.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("relay: data channel not open")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return d.dc.Send(raw)
}

func (d *rtcDownstream) close() error {
	d.in.CloseWrite()
	d.dc.Close()
	return d.pc.Close()
}

func (d *rtcDownstream) transport() string { return "webrtc" }
