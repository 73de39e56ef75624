package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies why a workflow step failed.
type Kind string

const (
	// KindInputValidation is a missing or malformed required field. No external call was made.
	KindInputValidation Kind = "InputValidation"
	// KindUpstreamUnavailable means a collaborator call itself errored.
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	// KindPolicyRejection means a business rule refused the attempt.
	KindPolicyRejection Kind = "PolicyRejection"
)

// Code names a specific step failure.
type Code string

const (
	CodeExtractionIncomplete  Code = "ExtractionIncomplete"
	CodeExtractionUnavailable Code = "ExtractionUnavailable"
	CodeBirthdateUnparseable  Code = "BirthdateUnparseable"
	CodeFirstnameMismatch     Code = "FirstnameMismatch"
	CodeLastnameMismatch      Code = "LastnameMismatch"
	CodeBirthdateMismatch     Code = "BirthdateMismatch"
	CodeInvalidAddressInput   Code = "InvalidAddressInput"
	CodeAddressUnverifiable   Code = "AddressUnverifiable"
	CodeAddressServiceError   Code = "AddressServiceError"
	CodeUserAlreadyExists     Code = "UserAlreadyExists"
	CodeUserStoreUnavailable  Code = "UserStoreUnavailable"
	CodeMissingIdentity       Code = "MissingIdentity"
	CodeMissingIDCard         Code = "MissingIDCard"
	CodeInvalidContentType    Code = "InvalidContentType"
	CodePresignFailed         Code = "PresignFailed"
	CodePublishFailed         Code = "PublishFailed"
	CodeInternalError         Code = "InternalError"
	CodeMalformedRequest      Code = "MalformedRequest"
)

// StepError is the typed failure returned by a workflow step. Message is the
// user-facing text relayed to the client.
type StepError struct {
	Kind    Kind
	Code    Code
	Step    string
	Message string
	Err     error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Step, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Step, e.Code, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a StepError against the sentinel of its kind.
func (e *StepError) Is(target error) bool {
	switch e.Kind {
	case KindInputValidation:
		return target == ErrValidation
	case KindUpstreamUnavailable:
		return target == ErrUpstream
	case KindPolicyRejection:
		if e.Code == CodeUserAlreadyExists && target == ErrDuplicate {
			return true
		}
		return target == ErrRejected
	}
	return false
}

// NewStepError builds a StepError. cause may be nil.
func NewStepError(kind Kind, code Code, message string, cause error) *StepError {
	return &StepError{Kind: kind, Code: code, Message: message, Err: cause}
}

// InStep returns a copy of the error attributed to the given step name.
func (e *StepError) InStep(step string) *StepError {
	c := *e
	c.Step = step
	return &c
}

// AsStepError extracts a StepError from err, reporting whether one was found.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// HasCode reports whether err is a StepError with the given code.
func HasCode(err error, code Code) bool {
	se, ok := AsStepError(err)
	return ok && se.Code == code
}
