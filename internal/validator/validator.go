package validator

import (
	"fmt"
	"mime"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// Get returns a singleton validator instance
func Get() *validator.Validate {
	once.Do(func() {
		validate = validator.New()

		// Report JSON field names rather than struct field names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		_ = validate.RegisterValidation("mimetype", isKnownMediaType)
		_ = validate.RegisterValidation("subjecttoken", func(fl validator.FieldLevel) bool {
			return IsSubjectToken(fl.Field().String())
		})
	})
	return validate
}

// Validate validates a struct. The returned error wraps apperrors.ErrValidation.
func Validate(s interface{}) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, fmt.Sprintf("field '%s' %s", fieldPath(e), getErrorMessage(e)))
	}

	return fmt.Errorf("%w: %s", apperrors.ErrValidation, strings.Join(messages, "; "))
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return Get().Var(field, tag)
}

// fieldPath drops the top-level struct name from the namespace ("OnboardingRequest.user.email" -> "user.email").
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

// isKnownMediaType accepts a MIME type the platform maps to a file extension.
func isKnownMediaType(fl validator.FieldLevel) bool {
	mediaType, _, err := mime.ParseMediaType(fl.Field().String())
	if err != nil {
		return false
	}
	exts, err := mime.ExtensionsByType(mediaType)
	return err == nil && len(exts) > 0
}

// IsSubjectToken reports whether s can be used as a single NATS subject
// token: printable ASCII without spaces, dots or wildcards.
func IsSubjectToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c > '~' || c == '.' || c == '*' || c == '>' {
			return false
		}
	}
	return true
}

func getErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "datetime":
		return fmt.Sprintf("must match the date layout %s", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "mimetype":
		return "must be a recognized MIME type"
	case "subjecttoken":
		return "must be printable ASCII without spaces, dots or wildcards"
	default:
		return fmt.Sprintf("failed validation tag '%s'", e.Tag())
	}
}
