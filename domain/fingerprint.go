package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IndexableTextSeparator joins the labelled attributes of a profile.
const IndexableTextSeparator = " | "

// Fingerprint is the hex SHA-256 digest of a profile's indexable text.
type Fingerprint string

// Short returns the first 8 hex characters, for logs.
func (f Fingerprint) Short() string {
	if len(f) <= 8 {
		return string(f)
	}
	return string(f[:8])
}

// IndexableText builds the text a profile is embedded from. Attribute order is
// fixed: research area, description (or primary text when the description is
// empty), resource type, organization, intent. A profile with none of them
// falls back to its name.
func IndexableText(p Profile) string {
	parts := make([]string, 0, 5)
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, label+": "+value)
		}
	}

	add("Research Area", p.ResearchArea)
	if strings.TrimSpace(p.Description) != "" {
		add("Description", p.Description)
	} else {
		add("Research Focus", p.PrimaryText)
	}
	add("Resource Type", p.ResourceType)
	add("Organization", p.Organization)
	add("Intent", p.Intent)

	text := strings.Join(parts, IndexableTextSeparator)
	if strings.TrimSpace(text) == "" {
		name := p.Name
		if strings.TrimSpace(name) == "" {
			name = "Unknown"
		}
		text = "Researcher: " + name
	}
	return text
}

// FingerprintText hashes the UTF-8 bytes of text.
func FingerprintText(text string) Fingerprint {
	sum := sha256.Sum256([]byte(text))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// FingerprintOf returns the fingerprint of the profile's indexable text.
func FingerprintOf(p Profile) Fingerprint {
	return FingerprintText(IndexableText(p))
}

// ShouldRecompute reports whether the profile needs a new embedding given the
// fingerprint stored with its current index entry (empty when there is none),
// along with the freshly computed fingerprint.
func ShouldRecompute(p Profile, existing Fingerprint) (bool, Fingerprint) {
	current := FingerprintOf(p)
	return existing == "" || existing != current, current
}
