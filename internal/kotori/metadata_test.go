package kotori

import (
	"errors"
	"testing"

	"kotori/internal/kotori/kerr"
)

func ptrStr(s string) *string { return &s }
func ptrInt(i int) *int       { return &i }

func TestMetadata_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		rating  *int
		wantErr bool
	}{
		{"nil rating ok", nil, false},
		{"zero ok", ptrInt(0), false},
		{"five ok", ptrInt(5), false},
		{"negative invalid", ptrInt(-1), true},
		{"six invalid", ptrInt(6), true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := Metadata{Rating: c.rating}
			err := m.Validate()
			if c.wantErr && !errors.Is(err, kerr.ErrInvalidRating) {
				t.Fatalf("Validate() = %v, want ErrInvalidRating", err)
			}
			if !c.wantErr && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestParseMetadata_RoundTrip(t *testing.T) {
	t.Parallel()

	m := Metadata{Title: ptrStr("Sample Vol. 1"), Rating: ptrInt(4)}
	raw, err := m.MarshalPretty()
	if err != nil {
		t.Fatalf("MarshalPretty() error = %v", err)
	}

	got, err := ParseMetadata(raw)
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	if got.Title == nil || *got.Title != "Sample Vol. 1" {
		t.Fatalf("Title = %v, want Sample Vol. 1", got.Title)
	}
	if got.Rating == nil || *got.Rating != 4 {
		t.Fatalf("Rating = %v, want 4", got.Rating)
	}
}

func TestParseMetadata_MalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := ParseMetadata([]byte("{not json"))
	if !errors.Is(err, kerr.ErrInvalidBook) {
		t.Fatalf("ParseMetadata() error = %v, want ErrInvalidBook", err)
	}
}

func TestParseMetadata_OutOfRangeRating(t *testing.T) {
	t.Parallel()

	_, err := ParseMetadata([]byte(`{"rating": 9}`))
	if !errors.Is(err, kerr.ErrInvalidRating) {
		t.Fatalf("ParseMetadata() error = %v, want ErrInvalidRating", err)
	}
}

func TestMetadata_WithCurrentVersion(t *testing.T) {
	t.Parallel()

	m := Metadata{}.WithCurrentVersion()
	if m.Version == nil || *m.Version != currentMetadataVersion {
		t.Fatalf("Version = %v, want %q", m.Version, currentMetadataVersion)
	}
}
