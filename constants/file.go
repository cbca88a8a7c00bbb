package constants

import (
	"bytes"
	"strings"
)

// MIME types accepted by default. The effective list is configuration.
const (
	MIMEPDF  = "application/pdf"
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMETIFF = "image/tiff"
)

// DefaultAllowedMIME holds the default allow-list for uploads.
var DefaultAllowedMIME = []string{MIMEPDF, MIMEJPEG, MIMEPNG, MIMETIFF}

// AllowedExtensions maps file extensions to the MIME type used for directory ingestion.
var AllowedExtensions = map[string]string{
	"pdf":  MIMEPDF,
	"jpg":  MIMEJPEG,
	"jpeg": MIMEJPEG,
	"png":  MIMEPNG,
	"tif":  MIMETIFF,
	"tiff": MIMETIFF,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ExtensionFor is the storage extension of an accepted MIME type.
func ExtensionFor(mime string) string {
	switch mime {
	case MIMEPDF:
		return "pdf"
	case MIMEJPEG:
		return "jpg"
	case MIMEPNG:
		return "png"
	case MIMETIFF:
		return "tiff"
	}
	return "bin"
}

// NormalizeMIME lowercases a declared content type and strips parameters.
func NormalizeMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "image/jpg", "image/pjpeg":
		return MIMEJPEG
	case "image/tif", "image/x-tiff":
		return MIMETIFF
	}
	return mime
}

// SniffMIME returns the MIME type implied by the leading magic bytes,
// or "" when the payload is none of the supported formats.
func SniffMIME(b []byte) string {
	switch {
	case bytes.HasPrefix(b, []byte("%PDF-")):
		return MIMEPDF
	case bytes.HasPrefix(b, []byte{0xFF, 0xD8, 0xFF}):
		return MIMEJPEG
	case bytes.HasPrefix(b, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}):
		return MIMEPNG
	case bytes.HasPrefix(b, []byte{'I', 'I', 0x2A, 0x00}), bytes.HasPrefix(b, []byte{'M', 'M', 0x00, 0x2A}):
		return MIMETIFF
	}
	return ""
}
