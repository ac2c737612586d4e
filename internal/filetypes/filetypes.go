// Package filetypes classifies document files by extension.
package filetypes

import (
	"path"
	"strings"
)

// Icon hints understood by the companion.
const (
	IconText  = "doc.text"
	IconImage = "photo"
	IconOther = "doc"
)

var textExtensions = map[string]bool{
	"txt": true, "md": true, "csv": true, "rtf": true, "xml": true,
	"html": true, "htm": true, "log": true, "tex": true, "json": true,
	"yaml": true, "yml": true, "toml": true,
}

// heic is listed so the companion shows a photo icon, but Go cannot decode it
// and the host answers "Could not load image".
var imageExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "heic": true,
	"gif": true, "bmp": true, "tif": true, "tiff": true, "webp": true,
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// IsEditableText reports whether name is a text-like file.
func IsEditableText(name string) bool {
	return textExtensions[Extension(name)]
}

// IsPreviewableImage reports whether name is an image the host downscales.
func IsPreviewableImage(name string) bool {
	return imageExtensions[Extension(name)]
}

// Icon returns the icon hint for name.
func Icon(name string) string {
	switch {
	case IsEditableText(name):
		return IconText
	case IsPreviewableImage(name):
		return IconImage
	default:
		return IconOther
	}
}
