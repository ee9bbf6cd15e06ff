package application

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"profile-indexer/domain"
)

// DefaultSearchLimit is used when a request does not set a positive limit.
const DefaultSearchLimit = 5

// SearchService answers hybrid similarity queries. Candidates are ranked with
// their dedicated index entry when one exists and with their legacy vector
// otherwise.
type SearchService struct {
	profiles     domain.ProfileRepository
	store        domain.IndexStore
	embedder     domain.EmbeddingClient
	defaultLimit int
	log          zerolog.Logger
}

// NewSearchService creates a new SearchService. defaultLimit <= 0 selects
// DefaultSearchLimit.
func NewSearchService(profiles domain.ProfileRepository, store domain.IndexStore, embedder domain.EmbeddingClient, defaultLimit int, logger zerolog.Logger) *SearchService {
	if defaultLimit <= 0 {
		defaultLimit = DefaultSearchLimit
	}
	return &SearchService{
		profiles:     profiles,
		store:        store,
		embedder:     embedder,
		defaultLimit: defaultLimit,
		log:          logger.With().Str("component", "search").Logger(),
	}
}

// Search returns the best matches for req, ordered by similarity descending
// and then by profile id ascending.
//
// Args:
//
//	ctx: the request context.
//	req: the query text and candidate filters; req.Intent is the searcher's
//	     own intent and candidates must declare the opposite one.
//
// Returns:
//
//	At most req.Limit matches. An empty candidate set yields an empty slice.
func (s *SearchService) Search(ctx context.Context, req domain.SearchRequest) ([]domain.Match, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}

	query, err := s.encode(ctx, req.QueryText)
	if err != nil {
		s.log.Error().Err(err).Msg("encode search query")
		return nil, err
	}

	candidates, err := s.profiles.ListCandidates(ctx, domain.CandidateFilter{
		Intent:       domain.OppositeIntent(req.Intent),
		ResourceType: req.ResourceType,
		ExcludeID:    req.ExcludeID,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return []domain.Match{}, nil
	}

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Profile.ID
	}
	dedicated, err := s.dedicatedScores(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("score index entries: %w", err)
	}

	matches := make([]domain.Match, 0, len(candidates))
	for _, c := range candidates {
		if score, ok := dedicated[c.Profile.ID]; ok {
			matches = append(matches, newMatch(c.Profile, score, domain.SourceDedicated))
			continue
		}
		if len(c.LegacyVector) > 0 && len(c.LegacyVector) == len(query) {
			matches = append(matches, newMatch(c.Profile, domain.CosineSimilarity(query, c.LegacyVector), domain.SourceLegacy))
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ProfileID < matches[j].ProfileID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *SearchService) encode(ctx context.Context, text string) (domain.Embedding, error) {
	vectors, err := s.embedder.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed query: %w: no embedding returned", domain.ErrTransientEncoder)
	}
	return domain.Normalize(vectors[0])
}

// dedicatedScores scores the candidates that have a dedicated entry of the
// query's dimension. Stores that rank vectors themselves do the scoring;
// otherwise the entries are fetched and compared here.
func (s *SearchService) dedicatedScores(ctx context.Context, query domain.Embedding, ids []int64) (map[int64]float64, error) {
	if scorer, ok := s.store.(domain.VectorScorer); ok {
		return scorer.ScoreAmong(ctx, query, ids)
	}
	entries, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	scores := make(map[int64]float64, len(entries))
	for id, e := range entries {
		if len(e.Vector) > 0 && len(e.Vector) == len(query) {
			scores[id] = domain.CosineSimilarity(query, e.Vector)
		}
	}
	return scores, nil
}

func newMatch(p domain.Profile, score float64, source domain.MatchSource) domain.Match {
	return domain.Match{
		ProfileID:    p.ID,
		Name:         p.Name,
		Email:        p.Email,
		Organization: p.Organization,
		ResearchArea: p.ResearchArea,
		PrimaryText:  p.PrimaryText,
		ResourceType: p.ResourceType,
		Score:        score,
		Source:       source,
	}
}
