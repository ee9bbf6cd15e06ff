package domain

// MatchSource names the vector store that produced a match's score.
type MatchSource string

const (
	SourceDedicated MatchSource = "dedicated"
	SourceLegacy    MatchSource = "legacy"
)

// SearchRequest is a hybrid similarity query. Intent is the searcher's own
// intent; candidates must declare the opposite one.
type SearchRequest struct {
	QueryText    string `json:"query_text"`
	ResourceType string `json:"resource_type"`
	Intent       string `json:"intent"`
	ExcludeID    *int64 `json:"exclude_id,omitempty"`
	Limit        int    `json:"limit"`
}

// Match is one ranked search result.
type Match struct {
	ProfileID    int64       `json:"id"`
	Name         string      `json:"name"`
	Email        string      `json:"email,omitempty"`
	Organization string      `json:"organization,omitempty"`
	ResearchArea string      `json:"research_area,omitempty"`
	PrimaryText  string      `json:"primary_text,omitempty"`
	ResourceType string      `json:"resource_type,omitempty"`
	Score        float64     `json:"match_score"`
	Source       MatchSource `json:"embedding_source"`
}
