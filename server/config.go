package server

import "time"

// Config is the HTTP server configuration.
type Config struct {
	// Address to listen on (e.g., "0.0.0.0:8000")
	ListenAddr string

	// CORSOrigins is a comma separated list of allowed origins, or "*".
	CORSOrigins string

	// StreamTimeout bounds a single streamed reply. Zero disables it.
	StreamTimeout time.Duration

	// MaxConcurrentStreams caps the streams in flight. Requests over the cap
	// are rejected with 503 before streaming begins. Zero disables the cap.
	MaxConcurrentStreams int
}
