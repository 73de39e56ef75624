package geocoding

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

// DefaultThreshold is the minimum score, exclusive, for a match to be accepted.
const DefaultThreshold = 0.82

const (
	msgInvalidInput = `Invalid parameters: you must provide "street", "city" and "postalcode"`
	msgUnverifiable = "Address is incorrect, please verify your input"
	msgServiceError = "Request Error"
)

// Geocoder returns the best candidates for a query.
type Geocoder interface {
	Search(ctx context.Context, q Query) ([]Candidate, error)
}

// Verifier accepts a declared address only when the geocoder is confident enough.
type Verifier struct {
	geocoder  Geocoder
	threshold float64
}

// NewVerifier creates a Verifier. threshold must already be validated to lie in [0,1].
func NewVerifier(geocoder Geocoder, threshold float64) *Verifier {
	return &Verifier{geocoder: geocoder, threshold: threshold}
}

// Verify returns the canonical label of the declared address.
func (v *Verifier) Verify(ctx context.Context, street, city, postalCode string) (string, error) {
	log := logger.FromContext(ctx)

	if strings.TrimSpace(street) == "" || strings.TrimSpace(city) == "" || strings.TrimSpace(postalCode) == "" {
		return "", apperrors.NewStepError(apperrors.KindInputValidation, apperrors.CodeInvalidAddressInput, msgInvalidInput, nil)
	}

	candidates, err := v.geocoder.Search(ctx, Query{Text: street + " " + city, PostalCode: postalCode, Limit: 1})
	if err != nil {
		log.Error("Geocoding failed", zap.Error(err))
		return "", apperrors.NewStepError(apperrors.KindUpstreamUnavailable, apperrors.CodeAddressServiceError, msgServiceError, err)
	}

	if len(candidates) == 0 {
		log.Warn("Address rejected, no candidate")
		return "", apperrors.NewStepError(apperrors.KindPolicyRejection, apperrors.CodeAddressUnverifiable, msgUnverifiable, nil)
	}

	best := candidates[0]
	if !v.Accepts(best.Score) {
		log.Warn("Address rejected, low confidence", zap.Float64("score", best.Score), zap.Float64("threshold", v.threshold))
		return "", apperrors.NewStepError(apperrors.KindPolicyRejection, apperrors.CodeAddressUnverifiable, msgUnverifiable, nil)
	}

	log.Info("Address verified", zap.String("label", best.Label), zap.Float64("score", best.Score))
	return best.Label, nil
}

// Accepts reports whether score strictly exceeds the threshold.
func (v *Verifier) Accepts(score float64) bool {
	return score > v.threshold
}
