package transform

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/dunamismax/imagehub/internal/domain"
)

type filterStrategy struct{}

func (filterStrategy) Name() string { return "filter" }

func (filterStrategy) IsApplicable(req domain.TransformRequest) bool {
	return req.Filters != nil
}

// Apply runs a pointwise color filter. At least one of grayscale or
// sepia must be enabled; grayscale wins when both are set.
func (filterStrategy) Apply(ctx context.Context, path string, req domain.TransformRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	spec := req.Filters
	if spec == nil {
		return "", fmt.Errorf("%w: filter parameters are required", domain.ErrInvalidParameters)
	}
	if !spec.Grayscale && !spec.Sepia {
		return "", fmt.Errorf("%w: at least one of grayscale or sepia must be enabled", domain.ErrInvalidParameters)
	}

	img, format, err := loadImage(path)
	if err != nil {
		return "", err
	}

	filtered := imaging.Clone(img)
	if spec.Grayscale {
		applyGrayscale(filtered)
	} else {
		applySepia(filtered)
	}

	if err := saveImage(path, filtered, format); err != nil {
		return "", err
	}
	return path, nil
}

// applyGrayscale sets each pixel to the integer mean of its channels.
func applyGrayscale(img *image.NRGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		r := int(img.Pix[i])
		g := int(img.Pix[i+1])
		b := int(img.Pix[i+2])
		gray := uint8((r + g + b) / 3)
		img.Pix[i] = gray
		img.Pix[i+1] = gray
		img.Pix[i+2] = gray
	}
}

// applySepia maps each pixel through the fixed sepia-tone matrix,
// clamping every output channel to [0, 255].
func applySepia(img *image.NRGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		r := float64(img.Pix[i])
		g := float64(img.Pix[i+1])
		b := float64(img.Pix[i+2])
		img.Pix[i] = clampChannel(0.393*r + 0.769*g + 0.189*b)
		img.Pix[i+1] = clampChannel(0.349*r + 0.686*g + 0.168*b)
		img.Pix[i+2] = clampChannel(0.272*r + 0.534*g + 0.131*b)
	}
}

func clampChannel(v float64) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}
