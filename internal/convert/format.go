package convert

import (
	"fmt"
	"strings"
)

// Format identifies a supported conversion target.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

var allFormats = []Format{FormatJPEG, FormatPNG, FormatWebP}

// ParseFormat normalizes a user-supplied format name. "jpg" is accepted as an
// alias for jpeg.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("unsupported format %q (expected jpeg, png, or webp)", value)
	}
}

// Valid reports whether the format is one of the supported targets.
func (f Format) Valid() bool {
	for _, candidate := range allFormats {
		if f == candidate {
			return true
		}
	}
	return false
}

// Extension returns the output filename extension including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	default:
		return ""
	}
}

// LossyQuality reports whether the quality setting applies to this format.
func (f Format) LossyQuality() bool {
	return f == FormatJPEG || f == FormatWebP
}

// Formats lists the supported targets in display order.
func Formats() []Format {
	return append([]Format(nil), allFormats...)
}
