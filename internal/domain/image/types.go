package image

import (
	"encoding/base64"
	"fmt"
	"image"
	"io"
)

// Upload is an image as received from a client, before any validation.
type Upload struct {
	// Data takes precedence over Reader when both are set.
	Data      []byte
	Reader    io.Reader
	MediaType string
	Source    string
}

// Payload is a validated, normalized image ready for inference. It is built
// per request and never retained after the request completes.
type Payload struct {
	Data      []byte
	MediaType string
	Format    string
	Width     int
	Height    int
	Resized   bool
}

// Base64 returns the payload bytes in standard base64.
func (p *Payload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURL renders the payload as a data:<media>;base64,<data> URL.
func (p *Payload) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.Base64())
}

// Reason identifies why an upload was rejected.
type Reason string

const (
	ReasonEmpty       Reason = "empty"
	ReasonNotImage    Reason = "not_image"
	ReasonUnsupported Reason = "unsupported_format"
	ReasonTooSmall    Reason = "too_small"
	ReasonTooLarge    Reason = "too_large"
	ReasonCorrupt     Reason = "corrupt"
	ReasonDimensions  Reason = "dimensions"
	ReasonSuspicious  Reason = "suspicious"
	ReasonMalformed   Reason = "malformed"
)

// ValidationResult captures the outcome of security validation.
type ValidationResult struct {
	IsValid      bool
	Format       string
	Width        int
	Height       int
	FileSize     int64
	Reason       Reason
	Error        error
	SecurityRisk string

	decoded image.Image
}

// ValidationError is returned for any upload rejected at intake. The message
// is safe to show to the person who uploaded the file.
type ValidationError struct {
	Reason  Reason
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("image rejected (%s): %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("image rejected (%s): %s", e.Reason, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func reject(reason Reason, message string, cause error) *ValidationError {
	return &ValidationError{Reason: reason, Message: message, Cause: cause}
}
