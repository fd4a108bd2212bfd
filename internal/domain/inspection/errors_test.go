package inspection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunforge-server/internal/domain/image"
)

type statusErr struct {
	status int
	msg    string
}

func (e *statusErr) Error() string   { return e.msg }
func (e *statusErr) HTTPStatus() int { return e.status }

func TestKindFromMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"429 quota exceeded", KindRateLimited},
		{"Rate limit reached for requests", KindRateLimited},
		{"You exceeded your current QUOTA", KindRateLimited},
		{"Too Many Requests", KindRateLimited},
		{"413 Request Entity Too Large", KindPayloadTooLarge},
		{"payload exceeds maximum", KindPayloadTooLarge},
		{"image too large for model", KindPayloadTooLarge},
		{"request timeout", KindTimeout},
		{"operation timed out", KindTimeout},
		{"context deadline exceeded", KindTimeout},
		{"504 Gateway", KindTimeout},
		{"connection refused", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, KindFromMessage(tt.msg))
			// Same input, same answer.
			assert.Equal(t, KindFromMessage(tt.msg), KindFromMessage(tt.msg))
		})
	}
}

func TestKindFromMessagePriority(t *testing.T) {
	// A message matching several patterns resolves to the first group.
	assert.Equal(t, KindRateLimited, KindFromMessage("429: payload timeout"))
	assert.Equal(t, KindPayloadTooLarge, KindFromMessage("payload too large, request timed out"))
}

func TestClassifyScenarioRateLimited(t *testing.T) {
	f := Classify(errors.New("429 quota exceeded"))
	require.NotNil(t, f)
	assert.Equal(t, KindRateLimited, f.Kind)
	assert.Equal(t, http.StatusTooManyRequests, f.HTTPStatus())
	assert.Contains(t, f.Remediation, "wait")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"validation", &image.ValidationError{Reason: image.ReasonTooSmall, Message: "too small"}, KindValidation, 400},
		{"wrapped validation", fmt.Errorf("intake: %w", &image.ValidationError{Reason: image.ReasonNotImage, Message: "nope"}), KindValidation, 400},
		{"no structured output", ErrNoStructuredOutput, KindNoStructuredOutput, 422},
		{"schema violation", &SchemaError{Path: "issues", Reason: "required"}, KindNoStructuredOutput, 422},
		{"deadline", context.DeadlineExceeded, KindTimeout, 504},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout, 504},
		{"status 429", &statusErr{status: 429, msg: "slow down"}, KindRateLimited, 429},
		{"status 413", &statusErr{status: 413, msg: "big"}, KindPayloadTooLarge, 413},
		{"status 504", &statusErr{status: 504, msg: "gateway"}, KindTimeout, 504},
		{"status 500 falls back to message", &statusErr{status: 500, msg: "upstream quota exhausted"}, KindRateLimited, 429},
		{"unknown", errors.New("connection reset by peer"), KindUnknown, 500},
		{"canceled", context.Canceled, KindUnknown, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			require.NotNil(t, f)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.status, f.HTTPStatus())
			assert.NotEmpty(t, f.Message)
			assert.NotEmpty(t, f.Remediation)
			assert.ErrorIs(t, f, tt.err)
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassifyKeepsExistingFailure(t *testing.T) {
	orig := newFailure(KindTimeout, errors.New("x"))
	assert.Same(t, orig, Classify(fmt.Errorf("wrapped: %w", orig)))
}

func TestClassifyValidationKeepsUserMessage(t *testing.T) {
	f := Classify(&image.ValidationError{Reason: image.ReasonTooLarge, Message: "File too large (12.0MB). Maximum size is 10.0MB."})
	assert.Equal(t, "File too large (12.0MB). Maximum size is 10.0MB.", f.Message)
	assert.Contains(t, f.Remediation, "smaller")
}

func TestUnknownDetailIsTruncated(t *testing.T) {
	long := strings.Repeat("é", 400)
	f := Classify(errors.New(long))
	require.Equal(t, KindUnknown, f.Kind)
	assert.Equal(t, maxDetailRunes+1, len([]rune(f.Detail)))
	assert.True(t, strings.HasSuffix(f.Detail, "…"))
	assert.NotContains(t, f.Message, long)
}

func TestUnknownDetailHidesEndpoints(t *testing.T) {
	err := errors.New(`ollama request: Post "http://10.0.0.5:11434/api/chat": dial tcp 10.0.0.5:11434: connect: connection refused`)
	f := Classify(err)
	require.Equal(t, KindUnknown, f.Kind)
	assert.NotContains(t, f.Detail, "10.0.0.5")
	assert.NotContains(t, f.Detail, "11434")
	assert.Contains(t, f.Detail, "connection refused")
	assert.Equal(t, `ollama request: Post "<endpoint>": dial tcp <addr>: connect: connection refused`, f.Detail)
	assert.Same(t, err, f.Cause)

	f = Classify(errors.New("dial tcp vllm.internal:8000: i/o timeout"))
	assert.Equal(t, "dial tcp <addr>: i/o timeout", f.Detail)
}

func TestKindHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, KindValidation.HTTPStatus())
	assert.Equal(t, 422, KindNoStructuredOutput.HTTPStatus())
	assert.Equal(t, 429, KindRateLimited.HTTPStatus())
	assert.Equal(t, 413, KindPayloadTooLarge.HTTPStatus())
	assert.Equal(t, 504, KindTimeout.HTTPStatus())
	assert.Equal(t, 500, KindUnknown.HTTPStatus())
}
