package transform

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/dunamismax/imagehub/internal/domain"
)

type cropStrategy struct{}

func (cropStrategy) Name() string { return "crop" }

func (cropStrategy) IsApplicable(req domain.TransformRequest) bool {
	return req.Crop != nil
}

// Apply replaces the raster with the requested sub-rectangle. The
// rectangle must lie fully inside the current image bounds.
func (cropStrategy) Apply(ctx context.Context, path string, req domain.TransformRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	spec := req.Crop
	if spec == nil {
		return "", fmt.Errorf("%w: crop parameters are required", domain.ErrInvalidParameters)
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return "", fmt.Errorf("%w: crop width and height must be greater than zero, got %dx%d",
			domain.ErrInvalidParameters, spec.Width, spec.Height)
	}
	if spec.X < 0 || spec.Y < 0 {
		return "", fmt.Errorf("%w: crop position must not be negative, got (%d, %d)",
			domain.ErrInvalidParameters, spec.X, spec.Y)
	}

	img, format, err := loadImage(path)
	if err != nil {
		return "", err
	}

	bounds := img.Bounds()
	if spec.X+spec.Width > bounds.Dx() || spec.Y+spec.Height > bounds.Dy() {
		return "", fmt.Errorf("%w: rectangle (%d, %d) %dx%d exceeds image bounds %dx%d",
			domain.ErrRange, spec.X, spec.Y, spec.Width, spec.Height, bounds.Dx(), bounds.Dy())
	}

	cropped := imaging.Crop(img, image.Rect(spec.X, spec.Y, spec.X+spec.Width, spec.Y+spec.Height))
	if err := saveImage(path, cropped, format); err != nil {
		return "", err
	}
	return path, nil
}
