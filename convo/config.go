package convo

import "time"

// Config controls how the SDK connects and reconciles.
type Config struct {
	GatewayURL string // e.g. "ws://localhost:8080/ws"
	APIBaseURL string // e.g. "http://localhost:8081"
	Token      string // JWT from the auth boundary

	// UserID is the viewing identity. It drives IsCurrentUser, HasReacted
	// and typing self-exclusion; it is passed in explicitly so several
	// sessions can coexist in one process.
	UserID string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	PageSize          int
	TypingTTL         time.Duration
	CorrelationWindow time.Duration
}

// DefaultConfig returns sensible defaults. Set a timeout to 0 to disable it.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		PageSize:          50,
		TypingTTL:         8 * time.Second,
		CorrelationWindow: 5 * time.Second,
	}
}
