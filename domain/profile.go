package domain

import (
	"context"
	"strings"
)

// ProfileStatus is the lifecycle status of a profile record.
type ProfileStatus string

const (
	StatusActive   ProfileStatus = "active"
	StatusInactive ProfileStatus = "inactive"
)

// Intents a profile can declare. Matching always pairs opposite intents.
const (
	IntentSeek  = "seek"
	IntentShare = "share"
)

// Profile is a researcher profile owned by the CRUD layer. The indexing
// pipeline only ever reads it.
type Profile struct {
	ID           int64         `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Email        string        `json:"email,omitempty" yaml:"email"`
	Organization string        `json:"organization,omitempty" yaml:"organization"`
	Intent       string        `json:"seek_share" yaml:"seek_share"`       // "seek" or "share"
	ResourceType string        `json:"resource_type" yaml:"resource_type"` // free-text category label
	Description  string        `json:"description,omitempty" yaml:"description"`
	ResearchArea string        `json:"research_area,omitempty" yaml:"research_area"`
	PrimaryText  string        `json:"primary_text,omitempty" yaml:"primary_text"`
	Status       ProfileStatus `json:"status" yaml:"status"`
}

// OppositeIntent returns the intent a searcher with the given intent is
// matched against. Anything that is not "seek" is treated as "share".
func OppositeIntent(intent string) string {
	if strings.EqualFold(strings.TrimSpace(intent), IntentSeek) {
		return IntentShare
	}
	return IntentSeek
}

// CandidateFilter selects the profiles a hybrid query may rank.
type CandidateFilter struct {
	Intent       string // candidate's declared intent, compared case-insensitively
	ResourceType string // case-insensitive substring of the candidate's resource type; empty matches all
	ExcludeID    *int64 // when set, this profile never becomes a candidate
}

// Matches reports whether p passes the filter. Only active profiles match.
func (f CandidateFilter) Matches(p Profile) bool {
	if p.Status != StatusActive {
		return false
	}
	if f.ExcludeID != nil && p.ID == *f.ExcludeID {
		return false
	}
	if !strings.EqualFold(p.Intent, f.Intent) {
		return false
	}
	return strings.Contains(strings.ToLower(p.ResourceType), strings.ToLower(f.ResourceType))
}

// Candidate is a profile eligible for ranking together with the vector the
// previous pipeline generation stored for it, if any.
type Candidate struct {
	Profile      Profile
	LegacyVector Embedding
}

// ProfileRepository is read access to the profile records.
type ProfileRepository interface {
	// GetProfile returns ErrProfileNotFound when no record has the id.
	GetProfile(ctx context.Context, id int64) (Profile, error)
	// ListProfileIDs returns every profile id in ascending order.
	ListProfileIDs(ctx context.Context) ([]int64, error)
	CountProfiles(ctx context.Context) (int, error)
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]Candidate, error)
}

// EventSink receives change notifications from the CRUD write path. Both
// methods are called after the owning transaction has committed.
type EventSink interface {
	ProfileMutated(ctx context.Context, id int64)
	ProfileDeleted(ctx context.Context, id int64)
}
