package kotori

import (
	"encoding/json"
	"fmt"

	"kotori/internal/kotori/kerr"
)

// currentMetadataVersion is stamped onto Metadata written by SetMetadata;
// a round-tripped metadata value carries the running build's version, not
// whatever version the archive held before.
const currentMetadataVersion = "1.0.0"

// Metadata is the embedded, per-book JSON payload stored inside an archive
// under a fixed internal entry name (kotori.json in release builds,
// kotori-dev.json in dev builds -- see Config.MetadataEntryName).
//
// All fields are optional on read; unknown fields are tolerated on read and
// dropped on rewrite (only the fields below round-trip).
type Metadata struct {
	Title   *string `json:"title,omitempty"`
	Rating  *int    `json:"rating,omitempty"`
	Cover   *string `json:"cover,omitempty"`
	Version *string `json:"version,omitempty"`
}

// Validate checks the bounds on Rating, returning kerr.ErrInvalidRating when
// out of [0,5].
func (m Metadata) Validate() error {
	if m.Rating != nil && (*m.Rating < 0 || *m.Rating > 5) {
		return fmt.Errorf("%w: %d", kerr.ErrInvalidRating, *m.Rating)
	}
	return nil
}

// WithCurrentVersion returns a copy of m with Version stamped to the
// running build's metadata version.
func (m Metadata) WithCurrentVersion() Metadata {
	v := currentMetadataVersion
	m.Version = &v
	return m
}

// ParseMetadata decodes raw JSON into a Metadata value. Malformed JSON is
// reported as kerr.ErrInvalidBook.
func ParseMetadata(raw []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", kerr.ErrInvalidBook, err)
	}
	if err := m.Validate(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// MarshalPretty renders m as pretty-printed JSON for embedding in a
// rewritten archive.
func (m Metadata) MarshalPretty() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}
