package uploads

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
)

type fakePresignAPI struct {
	input   *s3.PutObjectInput
	expires time.Duration
	err     error
}

func (f *fakePresignAPI) PresignPutObject(_ context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.input = params
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{
		URL:          "https://uploads.example.com/" + *params.Key + "?X-Amz-Signature=abc",
		Method:       http.MethodPut,
		SignedHeader: http.Header{},
	}, nil
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/jpeg", "req-1.jpg"},
		{"image/png", "req-1.png"},
		{"application/pdf", "req-1.pdf"},
		{"image/jpeg; charset=binary", "req-1.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			key, err := ObjectKey("req-1", tt.contentType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestObjectKey_Invalid(t *testing.T) {
	for _, ct := range []string{"", "not a type", "application/x-definitely-unknown"} {
		_, err := ObjectKey("req-1", ct)
		require.Error(t, err, ct)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidContentType), ct)
		assert.ErrorIs(t, err, apperrors.ErrValidation)

		se, _ := apperrors.AsStepError(err)
		assert.Equal(t, `Input Error: "contentType" parameter is invalid`, se.Message)
	}
}

func TestIssue(t *testing.T) {
	api := &fakePresignAPI{}
	p := NewPresigner(api, "id-cards", 0)
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	resp, err := p.Issue(context.Background(), "req-1", "image/png")
	require.NoError(t, err)

	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "req-1.png", resp.Key)
	assert.Contains(t, resp.UploadURL, "req-1.png")
	assert.Equal(t, fixed.Add(DefaultExpiration), resp.ExpiresAt)

	assert.Equal(t, "id-cards", *api.input.Bucket)
	assert.Equal(t, "image/png", *api.input.ContentType)
	assert.Equal(t, DefaultExpiration, api.expires)
}

func TestIssue_PresignError(t *testing.T) {
	p := NewPresigner(&fakePresignAPI{err: errors.New("no credentials")}, "id-cards", time.Minute)

	_, err := p.Issue(context.Background(), "req-1", "image/jpeg")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePresignFailed))
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}

func TestIssue_InvalidContentTypeSkipsPresign(t *testing.T) {
	api := &fakePresignAPI{}
	_, err := NewPresigner(api, "id-cards", time.Minute).Issue(context.Background(), "req-1", "garbage")
	require.Error(t, err)
	assert.Nil(t, api.input)
}
