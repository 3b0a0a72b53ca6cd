package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedURI is returned for anything that is not a non-empty base64 audio data URI.
var ErrMalformedURI = errors.New("malformed audio data uri")

// DataURI wraps a base64 payload produced by the backend as a playable data URI.
func DataURI(mimeType, payloadBase64 string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}
	return "data:" + mimeType + ";base64," + strings.TrimSpace(payloadBase64)
}

// ParseDataURI validates uri and returns its mime type (parameters stripped) and decoded bytes.
func ParseDataURI(uri string) (string, []byte, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, ErrMalformedURI
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok || payload == "" {
		return "", nil, ErrMalformedURI
	}
	params := strings.Split(header, ";")
	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	if !strings.HasPrefix(mimeType, "audio/") {
		return "", nil, fmt.Errorf("%w: mime %q", ErrMalformedURI, mimeType)
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: not base64", ErrMalformedURI)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}
	if len(data) == 0 {
		return "", nil, ErrMalformedURI
	}
	return mimeType, data, nil
}
