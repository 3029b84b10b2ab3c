// Package transform implements the five image transform strategies and
// the pipeline that applies them in a fixed order against a derived
// copy of a stored image.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"

	"github.com/dunamismax/imagehub/internal/domain"
	"github.com/dunamismax/imagehub/internal/imagecodec"
)

// Strategy is one member of the closed transform set. Apply mutates the
// file at path in place and returns the path the file lives at
// afterwards; only the format strategy moves it. Each strategy
// validates its own parameters before touching pixels.
type Strategy interface {
	Name() string
	IsApplicable(req domain.TransformRequest) bool
	Apply(ctx context.Context, path string, req domain.TransformRequest) (string, error)
}

// DefaultStrategies returns the strategies in their contractual order:
// geometry first, pointwise filters after, format conversion last so
// every earlier step operates before the file extension changes.
func DefaultStrategies(logger *log.Logger) []Strategy {
	return []Strategy{
		resizeStrategy{},
		cropStrategy{},
		rotateStrategy{},
		filterStrategy{},
		formatStrategy{logger: logger},
	}
}

func loadImage(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: open %s: %v", domain.ErrImageRead, path, err)
	}
	defer f.Close()

	img, format, err := imagecodec.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", domain.ErrImageRead, path, err)
	}
	return img, format, nil
}

// saveImage re-encodes and replaces the target in one rename so a
// failed encode or write never leaves a half-written file behind.
func saveImage(path string, img image.Image, format string) error {
	var buf bytes.Buffer
	if err := imagecodec.Encode(&buf, img, format); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrImageWrite, err)
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrImageWrite, path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".imagehub-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
