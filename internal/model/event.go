package model

import (
	"strings"
	"time"
)

// EventType identifies a versioned message type carried on a JetStream subject.
type EventType string

const (
	V1OnboardingRequested EventType = "v1.onboarding.requested"
	V1OnboardingFailed    EventType = "v1.onboarding.failed"
	V1UserCreated         EventType = "v1.users.created"
)

// MapToBaseEventType maps a subject (possibly suffixed with an identifier such
// as the failing step) back to a known EventType.
func MapToBaseEventType(subject string) (EventType, bool) {
	for s := subject; ; {
		switch EventType(s) {
		case V1OnboardingRequested, V1OnboardingFailed, V1UserCreated:
			return EventType(s), true
		}
		idx := strings.LastIndex(s, ".")
		if idx <= 0 {
			return "", false
		}
		s = s[:idx]
	}
}

// GetVersion returns the version prefix (e.g. "v1"), or "" when there is none.
func (e EventType) GetVersion() string {
	parts := strings.SplitN(string(e), ".", 2)
	if len(parts) < 2 || len(parts[0]) < 2 || parts[0][0] != 'v' {
		return ""
	}
	return parts[0]
}

// MessageMetadata is the JetStream delivery metadata of a consumed message.
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	MessageID        string
	MessageSubject   string
	RequestID        string // from the Nats-Msg-Id header, "" when absent
}
