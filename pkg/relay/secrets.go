package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voicewire/voicewire/pkg/jsontime"
)

// ClientSecret is a short-lived upstream credential minted for clients
// that talk to the upstream directly instead of through the relay.
type ClientSecret struct {
	SessionID string         `json:"session_id"`
	Secret    string         `json:"secret"`
	ExpiresAt jsontime.Milli `json:"expires_at"`
}

// MintClientSecret asks the upstream for an ephemeral realtime session
// credential bound to the given model and voice.
func MintClientSecret(ctx context.Context, apiKey, model, voice string, opts ...option.RequestOption) (*ClientSecret, error) {
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)

	body := map[string]any{"model": model}
	if voice != "" {
		body["voice"] = voice
	}
	var resp struct {
		ID           string `json:"id"`
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"client_secret"`
	}
	if err := client.Post(ctx, "/realtime/sessions", body, &resp); err != nil {
		return nil, fmt.Errorf("relay: mint client secret: %w", err)
	}
	if resp.ClientSecret.Value == "" {
		return nil, fmt.Errorf("relay: upstream returned no client secret")
	}
	return &ClientSecret{
		SessionID: resp.ID,
		Secret:    resp.ClientSecret.Value,
		ExpiresAt: jsontime.Milli(time.Unix(resp.ClientSecret.ExpiresAt, 0)),
	}, nil
}

// CheckAPIKey verifies the upstream key with a cheap authenticated
// call.
func CheckAPIKey(ctx context.Context, apiKey string, opts ...option.RequestOption) error {
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	if _, err := client.Models.List(ctx); err != nil {
		return fmt.Errorf("relay: api key check: %w", err)
	}
	return nil
}
