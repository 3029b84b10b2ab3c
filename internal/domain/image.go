package domain

import (
	"strings"
	"time"
)

// ImageRecord is the persistent record paired with the files on disk.
// InputPath is set once at upload and never mutated. TransformPath is
// empty until the first successful transform and is overwritten by each
// subsequent one.
type ImageRecord struct {
	ID            string    `json:"id"`
	Owner         string    `json:"owner"`
	OriginalName  string    `json:"original_name"`
	InputPath     string    `json:"input_path"`
	TransformPath string    `json:"transform_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Transformed reports whether the record has ever been transformed.
func (r ImageRecord) Transformed() bool {
	return r.TransformPath != ""
}

// TransformRequest carries the optional parameter blocks for the five
// transform strategies. A nil block means the matching strategy is not
// requested.
type TransformRequest struct {
	Resize  *ResizeSpec `json:"resize,omitempty"`
	Crop    *CropSpec   `json:"crop,omitempty"`
	Rotate  *float64    `json:"rotate,omitempty"`
	Filters *FilterSpec `json:"filters,omitempty"`
	Format  string      `json:"format,omitempty"`
}

type ResizeSpec struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type CropSpec struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type FilterSpec struct {
	Grayscale bool `json:"grayscale"`
	Sepia     bool `json:"sepia"`
}

// Empty reports whether no strategy is requested. An empty request is
// legal: the pipeline persists a derived copy identical to the input.
func (r TransformRequest) Empty() bool {
	return r.Resize == nil &&
		r.Crop == nil &&
		r.Rotate == nil &&
		r.Filters == nil &&
		strings.TrimSpace(r.Format) == ""
}
