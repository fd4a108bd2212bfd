package image

import (
	"bytes"
	"fmt"
	"image"
	"mime"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"sunforge-server/internal/platform/config"
	"sunforge-server/internal/platform/logging"
)

// SecurityValidator performs layered checks against incoming image payloads.
type SecurityValidator struct {
	config *config.IntakeConfig
	logger *logging.Logger
}

func NewSecurityValidator(cfg *config.IntakeConfig, logger *logging.Logger) *SecurityValidator {
	if cfg == nil {
		def := config.DefaultConfig().Intake
		cfg = &def
	}
	return &SecurityValidator{config: cfg, logger: logger}
}

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46},
}

// FormatFromMediaType maps "image/jpeg; charset=x" style values to "jpeg".
// The second result is false when the value is not an image/* type at all.
func FormatFromMediaType(mediaType string) (string, bool) {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(mediaType))
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mediaType))
	}
	sub, ok := strings.CutPrefix(mt, "image/")
	if !ok || sub == "" {
		return "", false
	}
	switch sub {
	case "jpg", "pjpeg":
		sub = "jpeg"
	case "x-png":
		sub = "png"
	}
	return sub, true
}

// Validate checks raw against the declared media type: presence, media type,
// allow-list, size bounds, header, dimension limits, deep scan, full decode.
func (v *SecurityValidator) Validate(raw []byte, mediaType string) ValidationResult {
	if len(raw) == 0 {
		return v.fail(ReasonEmpty, "No image provided. Please upload a photo of the panel.", nil)
	}

	declared, isImage := FormatFromMediaType(mediaType)
	if !isImage {
		return v.fail(ReasonNotImage, fmt.Sprintf("File type %q is not an image. Please upload a JPEG, PNG, GIF or WebP photo.", mediaType), nil)
	}
	if !v.isFormatAllowed(declared) {
		return v.fail(ReasonUnsupported, fmt.Sprintf("Image format %q is not supported. Please upload a JPEG, PNG, GIF or WebP photo.", declared), nil)
	}

	size := int64(len(raw))
	if size < v.config.MinFileSize {
		return v.fail(ReasonTooSmall, fmt.Sprintf("Image is too small (%d bytes). Please upload a real photo of the panel.", size), nil)
	}
	if size > v.config.MaxFileSize {
		v.logger.WarnTag("Intake", "oversized image: size=%d max_size=%d format=%s", size, v.config.MaxFileSize, declared)
		return v.fail(ReasonTooLarge, fmt.Sprintf("Image exceeds the %s limit. Please upload a smaller photo.", humanSize(v.config.MaxFileSize)), nil)
	}

	result := v.validateImageDecoding(raw, declared)
	if !result.IsValid && !v.validateFileSignature(raw, declared) {
		v.logger.WarnTag("Intake", "file signature mismatch: declared_format=%s actual_header=%x", declared, raw[:min(len(raw), 16)])
	}
	return result
}

func (v *SecurityValidator) fail(reason Reason, message string, cause error) ValidationResult {
	return ValidationResult{
		Reason:       reason,
		Error:        reject(reason, message, cause),
		SecurityRisk: string(reason),
	}
}

func (v *SecurityValidator) isFormatAllowed(format string) bool {
	allowed := v.config.AllowedFormats
	if len(allowed) == 0 {
		allowed = []string{"jpeg", "png", "gif", "webp"}
	}
	format = strings.ToLower(format)
	for _, a := range allowed {
		a = strings.ToLower(a)
		if a == "jpg" {
			a = "jpeg"
		}
		if a == format {
			return true
		}
	}
	return false
}

func (v *SecurityValidator) validateFileSignature(raw []byte, format string) bool {
	signature, ok := imageSignatures[strings.ToLower(format)]
	if !ok {
		return true
	}
	return bytes.HasPrefix(raw, signature)
}

func (v *SecurityValidator) validateImageDecoding(raw []byte, declared string) ValidationResult {
	cfg, actual, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return v.fail(ReasonCorrupt, "The image could not be read. It may be corrupted or truncated.", err)
	}
	if !v.isFormatAllowed(actual) {
		return v.fail(ReasonUnsupported, fmt.Sprintf("Image content is %q, which is not supported.", actual), nil)
	}
	if actual != declared {
		v.logger.DebugTag("Intake", "declared format %s differs from content %s", declared, actual)
	}

	if (v.config.MaxWidth > 0 && cfg.Width > v.config.MaxWidth) || (v.config.MaxHeight > 0 && cfg.Height > v.config.MaxHeight) {
		return v.fail(ReasonDimensions, fmt.Sprintf("Image dimensions %dx%d exceed the %dx%d limit.",
			cfg.Width, cfg.Height, v.config.MaxWidth, v.config.MaxHeight), nil)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); v.config.MaxPixels > 0 && pixels > v.config.MaxPixels {
		return v.fail(ReasonDimensions, fmt.Sprintf("Image has %d pixels, above the %d limit.", pixels, v.config.MaxPixels), nil)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return v.fail(ReasonCorrupt, "The image has no pixels.", nil)
	}

	if v.config.EnableDeepScan && v.scanForMaliciousContent(raw) {
		return v.fail(ReasonSuspicious, "The file contains content that is not allowed in an image.", nil)
	}

	// A readable header does not mean readable pixel data.
	decoded, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return v.fail(ReasonCorrupt, "The image could not be read. It may be corrupted or truncated.", err)
	}

	v.logger.DebugTag("Intake", "image validated: format=%s width=%d height=%d size=%d", actual, cfg.Width, cfg.Height, len(raw))
	return ValidationResult{
		IsValid:  true,
		Format:   actual,
		Width:    cfg.Width,
		Height:   cfg.Height,
		FileSize: int64(len(raw)),
		decoded:  decoded,
	}
}

func (v *SecurityValidator) scanForMaliciousContent(raw []byte) bool {
	// Executables, PDFs and archives appended behind a valid image header.
	embedded := [][]byte{
		[]byte("This program cannot be run in DOS mode"),
		[]byte("%PDF-1."),
		{0x50, 0x4B, 0x03, 0x04, 0x14, 0x00},
		{0x7F, 0x45, 0x4C, 0x46, 0x02, 0x01, 0x01},
	}
	for _, sig := range embedded {
		if bytes.Contains(raw, sig) {
			v.logger.WarnTag("Intake", "embedded signature detected: %x", sig)
			return true
		}
	}

	lower := bytes.ToLower(raw)
	for _, token := range []string{"<script", "javascript:", "<?php", "<iframe"} {
		if bytes.Contains(lower, []byte(token)) {
			v.logger.WarnTag("Intake", "suspicious content token=%s", token)
			return true
		}
	}
	return false
}

func humanSize(n int64) string {
	const mb = 1024 * 1024
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	if n >= 1024 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%d bytes", n)
}
