package extractor

import (
	"strings"
	"time"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

const (
	firstnameSeparator = ", "
	birthdateLayout    = "2 1 2006"
	isoDateLayout      = "2006-01-02"

	msgIncomplete  = "Could not extract all information from the ID Card"
	msgUnavailable = "Could not extract information from the ID Card"
	msgBadDate     = "Could not read the birthdate on the ID Card"
)

// Extractor turns document-analysis form fields into an ExtractedIdentity.
type Extractor struct {
	rules []LabelRule
}

// New creates an Extractor with the given label table, or DefaultLabels when none is given.
func New(rules ...LabelRule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultLabels
	}
	return &Extractor{rules: rules}
}

// Classify returns the category of a form key, if any.
func (e *Extractor) Classify(key string) (Category, bool) {
	for _, rule := range e.rules {
		for _, label := range rule.Labels {
			if strings.Contains(key, label) {
				return rule.Category, true
			}
		}
	}
	return "", false
}

// Extract scans fields once, in the order given. A later key of the same
// category overwrites an earlier one.
func (e *Extractor) Extract(fields []model.FormField) (model.ExtractedIdentity, error) {
	var (
		id                          model.ExtractedIdentity
		hasFirst, hasLast, hasBirth bool
	)

	for _, f := range fields {
		category, ok := e.Classify(f.Key)
		if !ok {
			continue
		}
		switch category {
		case CategoryFirstname:
			id.Firstnames = strings.Split(f.Value, firstnameSeparator)
			hasFirst = true
		case CategoryBirthdate:
			birthdate, err := NormalizeBirthdate(f.Value)
			if err != nil {
				return model.ExtractedIdentity{}, apperrors.NewStepError(apperrors.KindPolicyRejection, apperrors.CodeBirthdateUnparseable, msgBadDate, err)
			}
			id.Birthdate = birthdate
			hasBirth = true
		case CategoryLastname:
			id.Lastname = f.Value
			hasLast = true
		}
	}

	if !hasFirst || !hasLast || !hasBirth {
		return model.ExtractedIdentity{}, apperrors.NewStepError(apperrors.KindPolicyRejection, apperrors.CodeExtractionIncomplete, msgIncomplete, nil)
	}
	return id, nil
}

// NormalizeBirthdate converts a day-month-year value delimited by '.', '/'
// or spaces into YYYY-MM-DD. No other layout is attempted.
func NormalizeBirthdate(value string) (string, error) {
	normalized := strings.NewReplacer(".", " ", "/", " ").Replace(value)
	t, err := time.Parse(birthdateLayout, strings.Join(strings.Fields(normalized), " "))
	if err != nil {
		return "", err
	}
	return t.Format(isoDateLayout), nil
}
