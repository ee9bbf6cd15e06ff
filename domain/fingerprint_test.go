package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexableText_ResearchAreaAndDescription(t *testing.T) {
	p := Profile{ID: 1, ResearchArea: "AI", Description: "neural nets"}
	require.Equal(t, "Research Area: AI | Description: neural nets", IndexableText(p))
	require.Equal(t,
		Fingerprint("bd4a6ddf1d66c1e19cb54b149cc850bc6e98eccb5f98828f87ff0a165478b12d"),
		FingerprintOf(p))
}

func TestIndexableText_FallsBackToName(t *testing.T) {
	p := Profile{ID: 2, Name: "Jane"}
	require.Equal(t, "Researcher: Jane", IndexableText(p))
	require.Equal(t,
		Fingerprint("e0b7c90b446d0b32c6657ed215d0cf7a8aa6e3d5d4cb4f4394392d7568393536"),
		FingerprintOf(p))

	require.Equal(t, "Researcher: Unknown", IndexableText(Profile{Description: "   "}))
}

func TestIndexableText_AttributeOrder(t *testing.T) {
	p := Profile{
		Name:         "ignored",
		Email:        "ignored@example.com",
		Organization: "MIT",
		Intent:       "share",
		ResourceType: "expertise",
		ResearchArea: "Quantum",
		PrimaryText:  "qubits",
	}
	assert.Equal(t,
		"Research Area: Quantum | Research Focus: qubits | Resource Type: expertise | Organization: MIT | Intent: share",
		IndexableText(p))

	p.Description = "error correction"
	assert.Equal(t,
		"Research Area: Quantum | Description: error correction | Resource Type: expertise | Organization: MIT | Intent: share",
		IndexableText(p))
}

func TestFingerprintOf_Deterministic(t *testing.T) {
	a := Profile{ResearchArea: "Biology", Description: "protein folding"}
	b := a
	require.Equal(t, FingerprintOf(a), FingerprintOf(b))
	require.Len(t, string(FingerprintOf(a)), 64)

	b.Description = "protein foldings"
	require.NotEqual(t, FingerprintOf(a), FingerprintOf(b))

	// Attributes outside the indexable text do not change the fingerprint.
	c := a
	c.Email = "x@example.com"
	c.Status = StatusInactive
	require.Equal(t, FingerprintOf(a), FingerprintOf(c))
}

func TestShouldRecompute(t *testing.T) {
	p := Profile{ResearchArea: "AI"}
	current := FingerprintOf(p)

	changed, fp := ShouldRecompute(p, "")
	assert.True(t, changed)
	assert.Equal(t, current, fp)

	changed, fp = ShouldRecompute(p, current)
	assert.False(t, changed)
	assert.Equal(t, current, fp)

	changed, _ = ShouldRecompute(p, FingerprintText("something else"))
	assert.True(t, changed)
}

func TestFingerprint_Short(t *testing.T) {
	assert.Equal(t, "bd4a6ddf", Fingerprint("bd4a6ddf1d66c1e1").Short())
	assert.Equal(t, "abc", Fingerprint("abc").Short())
}

func TestCandidateFilter_Matches(t *testing.T) {
	exclude := int64(3)
	f := CandidateFilter{Intent: "share", ResourceType: "Expert", ExcludeID: &exclude}

	assert.True(t, f.Matches(Profile{ID: 1, Intent: "Share", ResourceType: "domain expertise", Status: StatusActive}))
	assert.False(t, f.Matches(Profile{ID: 1, Intent: "seek", ResourceType: "expertise", Status: StatusActive}))
	assert.False(t, f.Matches(Profile{ID: 1, Intent: "share", ResourceType: "dataset", Status: StatusActive}))
	assert.False(t, f.Matches(Profile{ID: 1, Intent: "share", ResourceType: "expertise", Status: StatusInactive}))
	assert.False(t, f.Matches(Profile{ID: 3, Intent: "share", ResourceType: "expertise", Status: StatusActive}))

	all := CandidateFilter{Intent: "seek"}
	assert.True(t, all.Matches(Profile{ID: 9, Intent: "seek", Status: StatusActive}))
}

func TestOppositeIntent(t *testing.T) {
	assert.Equal(t, IntentShare, OppositeIntent("seek"))
	assert.Equal(t, IntentShare, OppositeIntent(" SEEK "))
	assert.Equal(t, IntentSeek, OppositeIntent("share"))
	assert.Equal(t, IntentSeek, OppositeIntent(""))
}
