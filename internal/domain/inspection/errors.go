package inspection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"sunforge-server/internal/domain/image"
)

// Kind classifies why an inspection failed.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNoStructuredOutput Kind = "no_structured_output"
	KindRateLimited        Kind = "rate_limited"
	KindPayloadTooLarge    Kind = "payload_too_large"
	KindTimeout            Kind = "timeout"
	KindUnknown            Kind = "unknown"
)

// HTTPStatus is the status a transport reports for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNoStructuredOutput:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// maxDetailRunes bounds how much of an unexpected error reaches a user.
const maxDetailRunes = 120

// Endpoints and addresses stay in the server log, never in Detail.
var (
	urlPattern  = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.-]*://[^\s"'<>]+`)
	addrPattern = regexp.MustCompile(`\[?[0-9A-Za-z.:-]*[0-9A-Za-z]\]?:[0-9]{2,5}\b`)
)

func scrubDetail(s string) string {
	s = urlPattern.ReplaceAllString(s, "<endpoint>")
	return addrPattern.ReplaceAllString(s, "<addr>")
}

// Failure is the only error type Service.Inspect returns. Message and
// Remediation are written for the person who submitted the photo.
type Failure struct {
	Kind        Kind
	Message     string
	Remediation string
	// Detail is a truncated diagnostic with endpoints and addresses
	// removed, set only for KindUnknown.
	Detail string
	Cause  error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("inspection %s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("inspection %s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Cause }

func (f *Failure) HTTPStatus() int { return f.Kind.HTTPStatus() }

// StatusCoder is implemented by provider errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

func newFailure(kind Kind, cause error) *Failure {
	f := &Failure{Kind: kind, Cause: cause}
	switch kind {
	case KindNoStructuredOutput:
		f.Message = "The AI could not produce a structured analysis. The image may be unclear or may not show a solar panel."
		f.Remediation = "Try again with a clearer photo taken straight on, in good light."
	case KindRateLimited:
		f.Message = "The AI service rate limit was reached."
		f.Remediation = "Please wait a moment and try again."
	case KindPayloadTooLarge:
		f.Message = "The image is too large for the AI service to process."
		f.Remediation = "Use a smaller image (under 5MB recommended) or a lower camera resolution."
	case KindTimeout:
		f.Message = "The analysis took too long and was stopped."
		f.Remediation = "Please try again."
	default:
		f.Kind = KindUnknown
		f.Message = "Failed to analyze the panel image."
		f.Remediation = "Please try again with a clear photo of your solar panel."
		if cause != nil {
			f.Detail = truncate(scrubDetail(cause.Error()), maxDetailRunes)
		}
	}
	return f
}

// Classify maps any error from intake or inference onto a Failure. It is
// deterministic: the same error always yields the same kind.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var ve *image.ValidationError
	if errors.As(err, &ve) {
		return &Failure{
			Kind:        KindValidation,
			Message:     ve.Message,
			Remediation: validationRemediation(ve.Reason),
			Cause:       err,
		}
	}

	if errors.Is(err, ErrNoStructuredOutput) || errors.Is(err, ErrSchemaViolation) {
		return newFailure(KindNoStructuredOutput, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newFailure(KindTimeout, err)
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatus() {
		case http.StatusTooManyRequests:
			return newFailure(KindRateLimited, err)
		case http.StatusRequestEntityTooLarge:
			return newFailure(KindPayloadTooLarge, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return newFailure(KindTimeout, err)
		}
	}

	return newFailure(KindFromMessage(err.Error()), err)
}

// KindFromMessage classifies a raw provider message. Rate limiting is
// checked first, then payload size, then timeouts.
func KindFromMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, "429", "rate", "quota", "too many requests"):
		return KindRateLimited
	case containsAny(m, "413", "too large", "payload", "request entity"):
		return KindPayloadTooLarge
	case containsAny(m, "timeout", "timed out", "deadline exceeded", "504"):
		return KindTimeout
	default:
		return KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func validationRemediation(reason image.Reason) string {
	switch reason {
	case image.ReasonNotImage, image.ReasonUnsupported, image.ReasonMalformed:
		return "Upload a JPEG, PNG, GIF or WebP photo."
	case image.ReasonTooLarge:
		return "Upload a smaller photo or reduce the camera resolution."
	case image.ReasonCorrupt:
		return "The file looks damaged. Take or export the photo again."
	case image.ReasonDimensions:
		return "Resize the photo to a normal camera resolution."
	default:
		return "Upload a clear photo of the solar panel."
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
