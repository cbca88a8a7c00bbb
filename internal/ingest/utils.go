package ingest

import (
	"path/filepath"
	"strings"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// AllowedExt checks if a file extension maps to an accepted MIME type.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
