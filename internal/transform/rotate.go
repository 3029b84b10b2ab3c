package transform

import (
	"context"
	"fmt"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/dunamismax/imagehub/internal/domain"
)

type rotateStrategy struct{}

func (rotateStrategy) Name() string { return "rotate" }

func (rotateStrategy) IsApplicable(req domain.TransformRequest) bool {
	return req.Rotate != nil
}

// Apply rotates the raster around its center by an arbitrary angle in
// degrees, positive clockwise. The canvas keeps its original
// dimensions: pixels rotated past the edge are clipped and exposed
// corners are filled with black.
func (rotateStrategy) Apply(ctx context.Context, path string, req domain.TransformRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if req.Rotate == nil {
		return "", fmt.Errorf("%w: rotate angle is required", domain.ErrInvalidParameters)
	}
	angle := *req.Rotate

	img, format, err := loadImage(path)
	if err != nil {
		return "", err
	}

	bounds := img.Bounds()
	background := color.NRGBA{A: 255}

	// imaging rotates counter-clockwise and grows the canvas to fit, so
	// negate the angle and paste the result centered on a canvas of the
	// original size to clip the overflow.
	rotated := imaging.Rotate(img, -angle, background)
	canvas := imaging.New(bounds.Dx(), bounds.Dy(), background)
	out := imaging.PasteCenter(canvas, rotated)

	if err := saveImage(path, out, format); err != nil {
		return "", err
	}
	return path, nil
}
