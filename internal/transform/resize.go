package transform

import (
	"context"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/dunamismax/imagehub/internal/domain"
)

type resizeStrategy struct{}

func (resizeStrategy) Name() string { return "resize" }

func (resizeStrategy) IsApplicable(req domain.TransformRequest) bool {
	return req.Resize != nil
}

// Apply scales the raster to exactly the requested dimensions with a
// CatmullRom (bicubic-class) filter. Aspect ratio is the caller's
// responsibility.
func (resizeStrategy) Apply(ctx context.Context, path string, req domain.TransformRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	spec := req.Resize
	if spec == nil {
		return "", fmt.Errorf("%w: resize parameters are required", domain.ErrInvalidParameters)
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return "", fmt.Errorf("%w: resize width and height must be greater than zero, got %dx%d",
			domain.ErrInvalidParameters, spec.Width, spec.Height)
	}

	img, format, err := loadImage(path)
	if err != nil {
		return "", err
	}

	resized := imaging.Resize(img, spec.Width, spec.Height, imaging.CatmullRom)
	if err := saveImage(path, resized, format); err != nil {
		return "", err
	}
	return path, nil
}
