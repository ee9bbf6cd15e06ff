package application

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"profile-indexer/domain"
)

// HealthyCoverage is the coverage percentage above which the index is
// reported healthy.
const HealthyCoverage = 90.0

// JobQueue accepts index jobs and reports their status.
type JobQueue interface {
	Submit(job domain.IndexJob) (string, error)
	Status(id string) (domain.JobStatus, bool)
}

// IndexStats summarizes how much of the profile table the dedicated index
// covers.
type IndexStats struct {
	TotalIndexed         int            `json:"total_indexed"`
	TotalProfiles        int            `json:"total_profiles"`
	ProfilesWithoutIndex int            `json:"profiles_without_index"`
	CoveragePercent      float64        `json:"coverage_percent"`
	PerVersionCounts     map[string]int `json:"per_version_counts"`
	Health               string         `json:"health"`
}

// TriggerResult reports what a single-profile trigger did.
type TriggerResult struct {
	ProfileID   int64              `json:"profile_id"`
	Status      string             `json:"status"` // "queued" or "skipped"
	JobID       string             `json:"job_id,omitempty"`
	Fingerprint domain.Fingerprint `json:"fingerprint"`
}

// OutdatedProfile is a profile whose index entry is missing or stale.
type OutdatedProfile struct {
	ProfileID          int64  `json:"profile_id"`
	Name               string `json:"name"`
	StoredFingerprint  string `json:"stored_fingerprint"`
	CurrentFingerprint string `json:"current_fingerprint"`
}

// IndexingService is the surface the CRUD layer and the administrative
// commands talk to. It also receives the CRUD layer's change events.
type IndexingService struct {
	profiles domain.ProfileRepository
	store    domain.IndexStore
	jobs     JobQueue
	reindex  *ReindexCoordinator
	log      zerolog.Logger
}

var _ domain.EventSink = (*IndexingService)(nil)

// NewIndexingService creates a new IndexingService. reindex may be nil when
// bulk runs are not offered.
func NewIndexingService(profiles domain.ProfileRepository, store domain.IndexStore, jobs JobQueue, reindex *ReindexCoordinator, logger zerolog.Logger) *IndexingService {
	return &IndexingService{
		profiles: profiles,
		store:    store,
		jobs:     jobs,
		reindex:  reindex,
		log:      logger.With().Str("component", "indexing").Logger(),
	}
}

// ProfileMutated schedules reindexing after a profile insert or update. An
// enqueue failure is logged and dropped so the mutation itself never fails.
func (s *IndexingService) ProfileMutated(_ context.Context, id int64) {
	if _, err := s.Enqueue(id, false); err != nil {
		s.log.Warn().Err(err).Int64("profile_id", id).Msg("failed to enqueue index job")
	}
}

// ProfileDeleted removes the profile's index entry.
func (s *IndexingService) ProfileDeleted(ctx context.Context, id int64) {
	if err := s.store.Delete(ctx, id); err != nil {
		s.log.Warn().Err(err).Int64("profile_id", id).Msg("failed to delete index entry")
	}
}

// Enqueue submits an index job without waiting for it and returns its id.
func (s *IndexingService) Enqueue(id int64, force bool) (string, error) {
	return s.jobs.Submit(domain.IndexJob{ProfileID: id, Force: force})
}

// JobStatus returns the status of a job submitted through Enqueue.
func (s *IndexingService) JobStatus(id string) (domain.JobStatus, bool) {
	return s.jobs.Status(id)
}

// TriggerProfile enqueues one profile on request. A profile that is already up
// to date is reported skipped without enqueueing unless force is set.
func (s *IndexingService) TriggerProfile(ctx context.Context, id int64, force bool) (TriggerResult, error) {
	p, err := s.profiles.GetProfile(ctx, id)
	if err != nil {
		return TriggerResult{}, err
	}
	res := TriggerResult{ProfileID: id}

	if !force {
		entry, ok, err := s.store.Get(ctx, id)
		if err != nil {
			return TriggerResult{}, fmt.Errorf("load index entry %d: %w", id, err)
		}
		var stored domain.Fingerprint
		if ok {
			stored = entry.Fingerprint
		}
		changed, current := domain.ShouldRecompute(p, stored)
		res.Fingerprint = current
		if !changed {
			res.Status = "skipped"
			return res, nil
		}
	} else {
		res.Fingerprint = domain.FingerprintOf(p)
	}

	jobID, err := s.Enqueue(id, force)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("enqueue profile %d: %w", id, err)
	}
	res.Status = "queued"
	res.JobID = jobID
	return res, nil
}

// StartReindex launches a background bulk run and returns its id.
func (s *IndexingService) StartReindex(force bool) (string, error) {
	if s.reindex == nil {
		return "", errors.New("bulk reindex is not configured")
	}
	return s.reindex.Start(force)
}

// ReindexStatus returns the status of a bulk run.
func (s *IndexingService) ReindexStatus(id string) (ReindexRun, bool) {
	if s.reindex == nil {
		return ReindexRun{}, false
	}
	return s.reindex.Status(id)
}

// CancelReindex stops a bulk run between profiles.
func (s *IndexingService) CancelReindex(id string) bool {
	if s.reindex == nil {
		return false
	}
	return s.reindex.Cancel(id)
}

// Stats reports index coverage. Storage errors are returned to the caller.
func (s *IndexingService) Stats(ctx context.Context) (IndexStats, error) {
	indexed, err := s.store.Count(ctx)
	if err != nil {
		return IndexStats{}, fmt.Errorf("count index entries: %w", err)
	}
	total, err := s.profiles.CountProfiles(ctx)
	if err != nil {
		return IndexStats{}, fmt.Errorf("count profiles: %w", err)
	}
	versions, err := s.store.CountByVersion(ctx)
	if err != nil {
		return IndexStats{}, fmt.Errorf("count index entries by version: %w", err)
	}

	stats := IndexStats{
		TotalIndexed:     indexed,
		TotalProfiles:    total,
		PerVersionCounts: versions,
		Health:           "needs_attention",
	}
	if missing := total - indexed; missing > 0 {
		stats.ProfilesWithoutIndex = missing
	}
	if total > 0 {
		stats.CoveragePercent = math.Round(float64(indexed)/float64(total)*10000) / 100
	}
	if stats.CoveragePercent > HealthyCoverage {
		stats.Health = "healthy"
	}
	return stats, nil
}

// Outdated lists the profiles whose index entry is missing or carries a
// fingerprint other than the current one, in ascending id order.
func (s *IndexingService) Outdated(ctx context.Context) ([]OutdatedProfile, error) {
	ids, err := s.profiles.ListProfileIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	entries, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load index entries: %w", err)
	}

	var out []OutdatedProfile
	for _, id := range ids {
		p, err := s.profiles.GetProfile(ctx, id)
		if errors.Is(err, domain.ErrProfileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		stored := entries[id].Fingerprint
		changed, current := domain.ShouldRecompute(p, stored)
		if !changed {
			continue
		}
		storedShort := "none"
		if stored != "" {
			storedShort = stored.Short()
		}
		out = append(out, OutdatedProfile{
			ProfileID:          id,
			Name:               p.Name,
			StoredFingerprint:  storedShort,
			CurrentFingerprint: current.Short(),
		})
	}
	return out, nil
}
