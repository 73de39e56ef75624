// Package crosscheck compares the identity a user declared with the one read
// from their ID card.
package crosscheck

import (
	"strings"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

const (
	msgFirstname = "Firstname does not match with ID card, please verify your input."
	msgLastname  = "Lastname does not match with ID card, please verify your input."
	msgBirthdate = "Birthdate does not match with ID card, please verify your input."
	msgMissing   = "No identity was extracted from the ID card"
)

// Check returns nil when firstname, lastname and birthdate all match. The
// declared firstname is compared with the first given name on the card; names
// ignore case, the birthdate must be identical.
func Check(declared model.DeclaredIdentity, extracted *model.ExtractedIdentity) error {
	if extracted == nil || len(extracted.Firstnames) == 0 {
		return apperrors.NewStepError(apperrors.KindInputValidation, apperrors.CodeMissingIdentity, msgMissing, nil)
	}

	if !strings.EqualFold(declared.Firstname, extracted.Firstnames[0]) {
		return apperrors.NewStepError(apperrors.KindPolicyRejection, apperrors.CodeFirstnameMismatch, msgFirstname, nil)
	}
	if !strings.EqualFold(declared.Lastname, extracted.Lastname) {
		return apperrors.NewStepError(apperrors.KindPolicyRejection, apperrors.CodeLastnameMismatch, msgLastname, nil)
	}
	if declared.Birthdate != extracted.Birthdate {
		return apperrors.NewStepError(apperrors.KindPolicyRejection, apperrors.CodeBirthdateMismatch, msgBirthdate, nil)
	}
	return nil
}
