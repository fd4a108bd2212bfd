package image

import (
	"encoding/base64"
	"strings"
)

// ParseDataURL decodes "data:<media>;base64,<payload>". Only base64 image URLs
// are accepted.
func ParseDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return nil, "", reject(ReasonMalformed, "Invalid image format. Expected a data:image/...;base64 URL.", nil)
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", reject(ReasonMalformed, "Invalid image format. Expected a data:image/...;base64 URL.", nil)
	}

	mediaType, params, _ := strings.Cut(meta, ";")
	if !strings.HasPrefix(strings.ToLower(mediaType), "image/") {
		return nil, "", reject(ReasonNotImage, "Invalid image format. The data URL is not an image.", nil)
	}
	if !strings.Contains(strings.ToLower(params), "base64") {
		return nil, "", reject(ReasonMalformed, "Invalid image format. The data URL must be base64 encoded.", nil)
	}

	raw, err := DecodeBase64(data)
	if err != nil {
		return nil, "", err
	}
	return raw, strings.ToLower(mediaType), nil
}

// DecodeBase64 accepts standard or URL-safe base64, padded or not, and
// tolerates embedded whitespace.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(s); err == nil {
			return raw, nil
		}
	}
	return nil, reject(ReasonMalformed, "Invalid image format. The base64 payload could not be decoded.", nil)
}
