package extractor

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

// DocumentAnalyzer runs form analysis over an uploaded image and returns the
// detected key/value pairs in detection order.
type DocumentAnalyzer interface {
	AnalyzeForm(ctx context.Context, bucket, key string) ([]model.FormField, error)
}

// Service extracts identity fields from an ID-card image stored in bucket.
type Service struct {
	analyzer  DocumentAnalyzer
	extractor *Extractor
	bucket    string
}

// NewService creates an extraction Service.
func NewService(analyzer DocumentAnalyzer, extractor *Extractor, bucket string) *Service {
	return &Service{analyzer: analyzer, extractor: extractor, bucket: bucket}
}

// ExtractIdentity analyzes the image at idCardKey and extracts the identity.
func (s *Service) ExtractIdentity(ctx context.Context, idCardKey string) (model.ExtractedIdentity, error) {
	log := logger.FromContext(ctx)

	if idCardKey == "" {
		return model.ExtractedIdentity{}, apperrors.NewStepError(apperrors.KindInputValidation, apperrors.CodeMissingIDCard, "Missing idcard parameter", nil)
	}

	fields, err := s.analyzer.AnalyzeForm(ctx, s.bucket, idCardKey)
	if err != nil {
		log.Error("Document analysis failed", zap.String("key", idCardKey), zap.Error(err))
		return model.ExtractedIdentity{}, apperrors.NewStepError(apperrors.KindUpstreamUnavailable, apperrors.CodeExtractionUnavailable, msgUnavailable, err)
	}
	log.Debug("Document analysis returned form fields", zap.Int("count", len(fields)))

	return s.extractor.Extract(fields)
}
