package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"
)

func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// NewDeclaredIdentity creates a DeclaredIdentity with valid fake data.
func NewDeclaredIdentity(override ...func(*DeclaredIdentity)) DeclaredIdentity {
	d := DeclaredIdentity{
		Firstname:      gofakeit.FirstName(),
		Lastname:       gofakeit.LastName(),
		Birthdate:      gofakeit.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC)).Format("2006-01-02"),
		CountryOfBirth: gofakeit.Country(),
		Street:         gofakeit.Street(),
		City:           gofakeit.City(),
		PostalCode:     gofakeit.Zip(),
		Email:          gofakeit.Email(),
	}
	for _, fn := range override {
		fn(&d)
	}
	return d
}

// NewWorkflowRecordFake creates a fresh record with fake identity data.
func NewWorkflowRecordFake(override ...func(*WorkflowRecord)) *WorkflowRecord {
	requestID := gofakeit.UUID()
	r := NewWorkflowRecord(requestID, "conn-"+gofakeit.LetterN(12), requestID+".jpg", NewDeclaredIdentity())
	for _, fn := range override {
		fn(r)
	}
	return r
}

// MatchingExtraction returns the extraction an ID card of the declared identity would yield.
func MatchingExtraction(d DeclaredIdentity) ExtractedIdentity {
	return ExtractedIdentity{
		Firstnames: []string{strings.ToUpper(d.Firstname)},
		Lastname:   strings.ToUpper(d.Lastname),
		Birthdate:  d.Birthdate,
	}
}

// NewUser creates a User with fake data.
func NewUser(override ...func(*User)) *User {
	now := time.Now().UTC()
	u := &User{
		ID:           gofakeit.LetterN(16),
		Lastname:     gofakeit.LastName(),
		Firstname:    gofakeit.FirstName(),
		Birthdate:    gofakeit.Date().Format("2006-01-02"),
		BirthCountry: gofakeit.Country(),
		Address:      gofakeit.Address().Address,
		Email:        gofakeit.Email(),
		IDCardRef:    gofakeit.UUID() + ".png",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, fn := range override {
		fn(u)
	}
	return u
}

// NewFailedOnboarding creates a FailedOnboarding with fake data.
func NewFailedOnboarding(override ...func(*FailedOnboarding)) *FailedOnboarding {
	record := NewWorkflowRecordFake()
	payload, _ := json.Marshal(record)
	f := &FailedOnboarding{
		RequestID:    record.RequestID,
		Step:         gofakeit.RandomString([]string{"ExtractIdentity", "CrossCheckIdentity", "VerifyAddress", "CheckDuplicate"}),
		Code:         gofakeit.RandomString([]string{"ExtractionIncomplete", "FirstnameMismatch", "AddressUnverifiable"}),
		Kind:         "PolicyRejection",
		ErrorMessage: gofakeit.Sentence(6),
		Subject:      "v1.onboarding.failed." + gofakeit.Word(),
		Payload:      datatypes.JSON(payload),
		ReceivedAt:   time.Now().UTC(),
	}
	for _, fn := range override {
		fn(f)
	}
	return f
}
