package extract

import (
	"fmt"
	"slices"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
)

// ValidateUpload checks a payload against the allow-list and size ceiling and
// returns its effective MIME type. The declared type, when present, must agree
// with the magic bytes.
func ValidateUpload(content []byte, declared string, allowed []string, maxBytes int64) (string, error) {
	if len(content) == 0 {
		return "", common.NewValidationError("empty document")
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return "", common.NewValidationError(fmt.Sprintf("document is %d bytes, limit is %d", len(content), maxBytes))
	}
	if len(allowed) == 0 {
		allowed = constants.DefaultAllowedMIME
	}
	sniffed := constants.SniffMIME(content)
	declared = constants.NormalizeMIME(declared)
	mime := declared
	if mime == "" || mime == "application/octet-stream" {
		mime = sniffed
	}
	if mime == "" || !slices.Contains(allowed, mime) {
		return "", common.NewValidationError(fmt.Sprintf("content type %q is not accepted", firstNonEmpty(declared, sniffed, "unknown")))
	}
	if sniffed != mime {
		return "", common.NewValidationError(fmt.Sprintf("content does not look like %s", mime))
	}
	return mime, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
