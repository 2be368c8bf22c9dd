package voice

import (
	"context"
)

// Config carries the provider connection settings.
type Config struct {
	Endpoint     string
	APIKey       string
	Language     string
	SampleRateHz int
}

// Provider is the external voice backend contract. The session core treats
// its failures identically to transport failures: they flow into the
// recovery manager, never past it.
type Provider interface {
	// Initialize prepares the provider; it must be called before
	// StartSession.
	Initialize(ctx context.Context, cfg Config) error
	// StartSession opens a provider-side session and returns its id.
	StartSession(ctx context.Context, learnerID, topic string) (string, error)
	// SendAudio forwards one chunk of learner audio.
	SendAudio(data []byte) error
	// EndSession closes the provider-side session.
	EndSession(ctx context.Context, providerSessionID string) error
	// ConnectionState reports the provider's own view of its link.
	ConnectionState() string
}
