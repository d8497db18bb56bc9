package stt

import "time"

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content for this segment only; finals do
	// not repeat earlier segments.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// CredentialKind distinguishes how a credential is presented to the provider.
type CredentialKind int

const (
	// CredentialToken is a short-lived access token issued by the interview
	// backend.
	CredentialToken CredentialKind = iota

	// CredentialAPIKey is a long-lived key supplied by the user (BYOK).
	CredentialAPIKey
)

// String returns the human-readable name of the credential kind.
func (k CredentialKind) String() string {
	switch k {
	case CredentialToken:
		return "token"
	case CredentialAPIKey:
		return "api_key"
	default:
		return "unknown"
	}
}

// Credential authenticates a streaming session.
type Credential struct {
	Kind  CredentialKind
	Value string

	// ExpiresAt is zero for credentials that do not expire.
	ExpiresAt time.Time
}

// Valid reports whether c is non-empty and not expired at now.
func (c Credential) Valid(now time.Time) bool {
	if c.Value == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}
