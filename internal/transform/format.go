package transform

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/imagehub/internal/domain"
	"github.com/dunamismax/imagehub/internal/imagecodec"
)

type formatStrategy struct {
	logger *log.Logger
}

func (formatStrategy) Name() string { return "format" }

func (formatStrategy) IsApplicable(req domain.TransformRequest) bool {
	return strings.TrimSpace(req.Format) != ""
}

// Apply re-encodes the raster into the target format at a sibling path
// with the extension swapped, then removes the old-format file. The new
// file is authoritative: a failed removal is logged, not fatal. A
// target equal to the current format is a no-op.
func (s formatStrategy) Apply(ctx context.Context, path string, req domain.TransformRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	target := imagecodec.Normalize(req.Format)
	if target == "" {
		return "", fmt.Errorf("%w: target format is required", domain.ErrInvalidParameters)
	}
	if !imagecodec.Supported(target) {
		return "", fmt.Errorf("%w: unsupported format %q (supported: %s)",
			domain.ErrInvalidParameters, req.Format, strings.Join(imagecodec.Formats(), ", "))
	}

	current := imagecodec.FormatFromPath(path)
	if current == target {
		return path, nil
	}

	img, _, err := loadImage(path)
	if err != nil {
		return "", err
	}

	newPath := strings.TrimSuffix(path, filepath.Ext(path)) + "." + target
	if err := saveImage(newPath, img, target); err != nil {
		return "", err
	}

	if err := os.Remove(path); err != nil && s.logger != nil {
		s.logger.Printf("old format file removal failed path=%s err=%v", path, err)
	}
	return newPath, nil
}
