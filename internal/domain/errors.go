package domain

import "errors"

// Error kinds surfaced by the storage layer and the transform pipeline.
// Call sites wrap these with fmt.Errorf("%w: ...") so errors.Is can
// dispatch on the kind while the message stays human-readable.
var (
	ErrValidation        = errors.New("upload validation failed")
	ErrInvalidParameters = errors.New("invalid transform parameters")
	ErrRange             = errors.New("crop rectangle out of bounds")
	ErrNotFound          = errors.New("image not found")
	ErrImageRead         = errors.New("image read failed")
	ErrImageWrite        = errors.New("image write failed")
	ErrMetadataPersist   = errors.New("metadata persistence failed")
	ErrIntegrityDrift    = errors.New("record references a missing file")
)
