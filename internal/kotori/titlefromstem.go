package kotori

import (
	"path/filepath"
	"regexp"
	"strings"

	"kotori/internal/kotori/kerr"
)

// trailingVolumeTag matches a trailing volume/chapter marker such as
// " - v01", " vol.12", or " c003" so TitleFromStem can fold it off a
// derived title. An explicit embedded title is never touched by this.
var trailingVolumeTag = regexp.MustCompile(`(?i)[\s_-]+(v(?:ol)?|c(?:h)?)\.?\s*\d+#?$`)

// TitleFromStem derives a book title from its archive filename: the file
// stem with underscores folded to spaces, trimmed, and with a trailing
// volume/chapter numeric tag stripped if present.
func TitleFromStem(path string) (string, error) {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return "", kerr.ErrInvalidPath
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.ReplaceAll(stem, "_", " ")
	stem = strings.TrimSpace(stem)
	stem = trailingVolumeTag.ReplaceAllString(stem, "")
	stem = strings.TrimSpace(stem)

	if stem == "" {
		return "", kerr.ErrInvalidPath
	}
	return stem, nil
}
