// Package realtime implements the voicewire wire protocol and its channel
// client. A channel is a duplex, message-framed session with the relay:
// JSON messages carrying base64 PCM16 audio at 24 kHz mono, turn control,
// transcripts and tool calls.
//
// # Connecting
//
// WebSocket is the default transport:
//
//	client := realtime.NewClient(
//	    realtime.WithBaseURL("http://127.0.0.1:8990/v1"),
//	    realtime.WithToken(token),
//	)
//	ch, err := client.ConnectWebSocket(ctx)
//	if err != nil {
//	    return err
//	}
//	defer ch.Close()
//
// ConnectWebRTC carries the identical protocol over a data channel for
// lossy links.
//
// # Driving a turn
//
// Append captured audio, commit it, then request a response turn:
//
//	ch.AppendAudio(ctx, pcm)
//	ch.CommitInput(ctx)
//	ch.RequestTurn(ctx)
//
// # Receiving
//
// Events yields server messages until the channel closes; server error
// messages surface in the error position and end iteration:
//
//	for msg, err := range ch.Events() {
//	    if err != nil {
//	        return err
//	    }
//	    switch msg.Type {
//	    case realtime.TypeAudioFragment:
//	        play(msg.TurnID, msg.Audio)
//	    case realtime.TypeTurnComplete:
//	        done(msg.TurnID)
//	    }
//	}
//
// Wait for TypeSessionReady before sending: the socket being open does not
// mean the relay's upstream session is live.
package realtime
