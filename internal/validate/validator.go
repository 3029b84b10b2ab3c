// Package validate gates raw uploads before anything touches disk.
package validate

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dunamismax/imagehub/internal/domain"
	"github.com/dunamismax/imagehub/internal/imagecodec"
)

// DefaultMaxUploadBytes caps uploads at 10 MiB unless configured otherwise.
const DefaultMaxUploadBytes = 10 << 20

// Validator checks a raw upload byte stream. It is a pure check and
// performs no I/O besides decoding the bytes it was handed.
type Validator struct {
	maxBytes   int64
	extensions []string
}

// New builds a Validator with the given size cap and extension
// allow-list. Zero or negative maxBytes falls back to the default; an
// empty allow-list falls back to the full codec format set.
func New(maxBytes int64, extensions []string) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	cleaned := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			cleaned = append(cleaned, ext)
		}
	}
	if len(cleaned) == 0 {
		cleaned = imagecodec.Formats()
	}
	return &Validator{maxBytes: maxBytes, extensions: cleaned}
}

// Validate runs the upload checks in order, short-circuiting on the
// first failure. Every failure wraps domain.ErrValidation with a
// human-readable reason.
func (v *Validator) Validate(data []byte, declaredName string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: file is empty", domain.ErrValidation)
	}
	if int64(len(data)) > v.maxBytes {
		return fmt.Errorf("%w: file size %d exceeds the %d byte limit", domain.ErrValidation, len(data), v.maxBytes)
	}
	if strings.TrimSpace(declaredName) == "" {
		return fmt.Errorf("%w: file name is empty", domain.ErrValidation)
	}
	if !v.hasAllowedExtension(declaredName) {
		return fmt.Errorf("%w: extension of %q is not allowed (supported: %s)",
			domain.ErrValidation, declaredName, strings.Join(v.extensions, ", "))
	}
	if _, _, err := imagecodec.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: content does not decode as an image", domain.ErrValidation)
	}
	return nil
}

func (v *Validator) hasAllowedExtension(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, ext := range v.extensions {
		if strings.HasSuffix(lower, "."+ext) {
			return true
		}
	}
	return false
}
