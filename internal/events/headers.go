// Package events publishes the workflow's outbound JetStream messages: the
// UserCreated integration event and failed attempts on the failure stream.
package events

// Message headers shared by producers and the failure inspection worker.
const (
	HeaderMsgID       = "Nats-Msg-Id"
	HeaderEventSource = "Event-Source"
	HeaderEventType   = "Event-Type"

	HeaderOnboardingError = "Onboarding-Error"
	HeaderErrorCode       = "Onboarding-Error-Code"
	HeaderErrorKind       = "Onboarding-Error-Kind"
	HeaderStep            = "Onboarding-Step"
	HeaderRequestID       = "Onboarding-Request-Id"
)

const (
	eventSourceUser      = "user"
	eventTypeUserCreated = "UserCreated"
)
