// Package relay bridges voicewire clients to an OpenAI-style realtime
// voice API. It terminates the client wire protocol on one side
// (WebSocket or a WebRTC data channel) and speaks the upstream realtime
// event protocol on the other, translating between the two per
// conversation.
//
// The relay owns turn identity: a client turn_request may span several
// upstream responses (a voice answer interrupted by tool calls), and the
// relay folds them into the single turn the client asked for. It also
// holds the upstream API key; clients authenticate with a shared bearer
// token or a minted short-lived client secret, never the key itself.
package relay
