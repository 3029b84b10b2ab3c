// Package imagecodec wraps the raster codecs used across the service.
// Decoding goes through image.Decode with the gif, bmp and webp formats
// registered; encoding dispatches on the normalized format name.
package imagecodec

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 90

var supportedFormats = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"bmp":  true,
	"webp": true,
}

// Normalize lowercases and trims a format name. jpg and jpeg stay
// distinct because the requested name becomes the file extension.
func Normalize(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}

// Supported reports whether format is in the fixed codec set.
func Supported(format string) bool {
	return supportedFormats[Normalize(format)]
}

// Formats returns the supported format names, for error messages.
func Formats() []string {
	return []string{"jpg", "jpeg", "png", "gif", "bmp", "webp"}
}

// FormatFromPath extracts the normalized format from a file extension.
func FormatFromPath(path string) string {
	return Normalize(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Decode reads a raster image and reports the source format name.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, Normalize(format), nil
}

// Encode writes img in the given format.
func Encode(w io.Writer, img image.Image, format string) error {
	switch Normalize(format) {
	case "jpg", "jpeg":
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(w, img); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
	case "gif":
		if err := gif.Encode(w, img, nil); err != nil {
			return fmt.Errorf("encode gif: %w", err)
		}
	case "bmp":
		if err := bmp.Encode(w, img); err != nil {
			return fmt.Errorf("encode bmp: %w", err)
		}
	case "webp":
		if err := nativewebp.Encode(w, img, nil); err != nil {
			return fmt.Errorf("encode webp: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	return nil
}

// MIMEType maps a format name to its content type. Unknown formats fall
// back to a generic byte stream.
func MIMEType(format string) string {
	switch Normalize(format) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
