package domain

import (
	"context"
	"time"
)

// IndexEntry is the dedicated index record for one profile. Vector and
// Fingerprint are always written together.
type IndexEntry struct {
	ProfileID      int64       `json:"profile_id"`
	Vector         Embedding   `json:"vector"`      // L2-normalized
	Fingerprint    Fingerprint `json:"fingerprint"` // fingerprint of the text Vector was computed from
	EncoderVersion string      `json:"encoder_version"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// IndexStore defines the interface for the dedicated profile vector index.
type IndexStore interface {
	// Get returns the entry for the profile and whether it exists. Absence is
	// not an error.
	Get(ctx context.Context, profileID int64) (IndexEntry, bool, error)
	// GetMany returns the entries that exist among ids, keyed by profile id.
	GetMany(ctx context.Context, profileIDs []int64) (map[int64]IndexEntry, error)
	// Upsert atomically replaces or inserts the entry keyed by its profile id.
	Upsert(ctx context.Context, entry IndexEntry) error
	// Delete removes the entry; deleting a missing entry is not an error.
	Delete(ctx context.Context, profileID int64) error
	Count(ctx context.Context) (int, error)
	CountByVersion(ctx context.Context) (map[string]int, error)
}

// VectorScorer is implemented by index backends that rank stored vectors
// themselves. ScoreAmong returns the cosine similarity between query and the
// stored vector of each listed profile; profiles with no stored vector of the
// query's dimension are absent from the result.
type VectorScorer interface {
	ScoreAmong(ctx context.Context, query Embedding, profileIDs []int64) (map[int64]float64, error)
}
