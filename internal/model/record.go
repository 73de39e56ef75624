package model

import (
	"errors"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
)

// ErrFieldAlreadySet is returned when a write-once record field is written twice.
var ErrFieldAlreadySet = errors.New("workflow record field already set")

// DeclaredIdentity is the identity the user typed in. Birthdate is YYYY-MM-DD.
type DeclaredIdentity struct {
	Firstname      string `json:"firstname" validate:"required"`
	Lastname       string `json:"lastname" validate:"required"`
	Birthdate      string `json:"birthdate" validate:"required,datetime=2006-01-02"`
	CountryOfBirth string `json:"birthcountry" validate:"required"`
	Street         string `json:"street" validate:"required"`
	City           string `json:"city" validate:"required"`
	PostalCode     string `json:"postalcode" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
}

// ExtractedIdentity is what the ID card says, in document order for given names.
type ExtractedIdentity struct {
	Firstnames []string `json:"firstnames"`
	Lastname   string   `json:"lastname"`
	Birthdate  string   `json:"birthdate"`
}

// RecordError describes why an attempt failed.
type RecordError struct {
	Step    string         `json:"step"`
	Code    apperrors.Code `json:"code"`
	Kind    apperrors.Kind `json:"kind"`
	Message string         `json:"errorMessage"`
}

// WorkflowRecord accretes data as it moves through the onboarding steps.
// RequestID is set at creation and never changes. Every populated optional
// field is write-once; use the Set* methods.
type WorkflowRecord struct {
	RequestID         string             `json:"requestId"`
	ConnectionID      string             `json:"connectionId,omitempty"`
	Declared          DeclaredIdentity   `json:"user"`
	IDCardKey         string             `json:"idCardKey"`
	ExtractedIdentity *ExtractedIdentity `json:"identity,omitempty"`
	VerifiedAddress   string             `json:"address,omitempty"`
	UserID            string             `json:"userId,omitempty"`
	Error             *RecordError       `json:"error,omitempty"`
}

// NewWorkflowRecord builds the record for one onboarding attempt.
func NewWorkflowRecord(requestID, connectionID, idCardKey string, declared DeclaredIdentity) *WorkflowRecord {
	return &WorkflowRecord{
		RequestID:    requestID,
		ConnectionID: connectionID,
		Declared:     declared,
		IDCardKey:    idCardKey,
	}
}

func (r *WorkflowRecord) SetExtractedIdentity(id ExtractedIdentity) error {
	if r.ExtractedIdentity != nil {
		return ErrFieldAlreadySet
	}
	r.ExtractedIdentity = &id
	return nil
}

func (r *WorkflowRecord) SetVerifiedAddress(label string) error {
	if r.VerifiedAddress != "" {
		return ErrFieldAlreadySet
	}
	r.VerifiedAddress = label
	return nil
}

// SetUserID records the created account. A failed record never gets a user ID.
func (r *WorkflowRecord) SetUserID(id string) error {
	if r.UserID != "" || r.Error != nil {
		return ErrFieldAlreadySet
	}
	r.UserID = id
	return nil
}

// SetError marks the attempt as failed. A record that already owns a user
// keeps the user ID and the error is refused, so both are never present.
func (r *WorkflowRecord) SetError(e RecordError) error {
	if r.Error != nil || r.UserID != "" {
		return ErrFieldAlreadySet
	}
	r.Error = &e
	return nil
}

// WithoutError returns a shallow copy of the record with the error removed,
// the shape enqueued on the failure stream.
func (r *WorkflowRecord) WithoutError() WorkflowRecord {
	c := *r
	c.Error = nil
	return c
}
