// Package uploads issues temporary credentials that let a client upload its
// ID-card image straight to object storage.
package uploads

import (
	"context"
	"mime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const (
	// DefaultExpiration is how long an upload URL stays valid.
	DefaultExpiration = 300 * time.Second

	msgInvalidContentType = `Input Error: "contentType" parameter is invalid`
	msgPresignFailed      = "Internal Error: could not generate a presigned URL"
)

// preferredExtensions pins the extension for the usual ID-card formats, where
// the platform MIME table lists several.
var preferredExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/tiff":      ".tiff",
	"application/pdf": ".pdf",
}

// PresignAPI is the subset of s3.PresignClient used here.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Presigner issues presigned PUT URLs into a single bucket.
type Presigner struct {
	client     PresignAPI
	bucket     string
	expiration time.Duration
	now        func() time.Time
}

// NewPresigner creates a Presigner. A non-positive expiration falls back to DefaultExpiration.
func NewPresigner(client PresignAPI, bucket string, expiration time.Duration) *Presigner {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &Presigner{client: client, bucket: bucket, expiration: expiration, now: time.Now}
}

// ObjectKey derives the storage key for requestID from the content type.
func ObjectKey(requestID, contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", apperrors.NewStepError(apperrors.KindInputValidation, apperrors.CodeInvalidContentType, msgInvalidContentType, err)
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return requestID + ext, nil
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return "", apperrors.NewStepError(apperrors.KindInputValidation, apperrors.CodeInvalidContentType, msgInvalidContentType, err)
	}
	return requestID + exts[0], nil
}

// Issue returns a presigned upload URL for the given request.
func (p *Presigner) Issue(ctx context.Context, requestID, contentType string) (model.UploadURLResponse, error) {
	log := logger.FromContext(ctx)

	key, err := ObjectKey(requestID, contentType)
	if err != nil {
		log.Warn("Rejected upload content type", zap.String("content_type", contentType))
		return model.UploadURLResponse{}, err
	}

	issuedAt := p.now()
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(p.expiration))
	if err != nil {
		log.Error("Failed to presign upload URL", zap.String("key", key), zap.Error(err))
		return model.UploadURLResponse{}, apperrors.NewStepError(apperrors.KindUpstreamUnavailable, apperrors.CodePresignFailed, msgPresignFailed, err)
	}

	log.Info("Upload URL issued", zap.String("key", key), zap.Duration("expires_in", p.expiration))
	return model.UploadURLResponse{
		RequestID: requestID,
		UploadURL: req.URL,
		Key:       key,
		ExpiresAt: issuedAt.Add(p.expiration),
	}, nil
}
