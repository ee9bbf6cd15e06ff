package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"profile-indexer/domain"
)

// ProgressFunc receives progress updates (0..100) from a running job.
type ProgressFunc func(progress int, note string)

// ProfileIndexer executes a single index job: load the profile, compare
// fingerprints, embed, normalize and upsert.
type ProfileIndexer struct {
	profiles domain.ProfileRepository
	store    domain.IndexStore
	now      func() time.Time
}

// NewProfileIndexer creates a new ProfileIndexer.
func NewProfileIndexer(profiles domain.ProfileRepository, store domain.IndexStore) *ProfileIndexer {
	return &ProfileIndexer{profiles: profiles, store: store, now: time.Now}
}

// Execute runs one attempt of job using the caller-owned embedding client.
//
// Args:
//
//	ctx: carries the job's wall-clock limit.
//	job: the profile to index and whether to bypass the fingerprint check.
//	embedder: the worker's embedding client handle.
//	report: optional progress callback.
//
// Returns:
//
//	An Outcome. Errors are never returned directly; they are classified as
//	retryable or terminal.
func (x *ProfileIndexer) Execute(ctx context.Context, job domain.IndexJob, embedder domain.EmbeddingClient, report ProgressFunc) domain.Outcome {
	if report == nil {
		report = func(int, string) {}
	}

	profile, err := x.profiles.GetProfile(ctx, job.ProfileID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return domain.Terminal(fmt.Errorf("profile %d: %w", job.ProfileID, err))
		}
		return attemptFailure(ctx, fmt.Errorf("load profile %d: %w: %w", job.ProfileID, domain.ErrTransientStorage, err))
	}

	text := domain.IndexableText(profile)
	fingerprint := domain.FingerprintText(text)

	if !job.Force {
		existing, ok, err := x.store.Get(ctx, job.ProfileID)
		if err != nil {
			return attemptFailure(ctx, fmt.Errorf("load index entry %d: %w: %w", job.ProfileID, domain.ErrTransientStorage, err))
		}
		var stored domain.Fingerprint
		if ok {
			stored = existing.Fingerprint
		}
		if changed, _ := domain.ShouldRecompute(profile, stored); !changed {
			return domain.Skipped(domain.JobResult{
				ProfileID:      job.ProfileID,
				Fingerprint:    fingerprint,
				EncoderVersion: existing.EncoderVersion,
				Dimension:      len(existing.Vector),
				Message:        "embedding already up-to-date",
				ProcessedAt:    x.now(),
			})
		}
	}

	report(25, "computing embedding")
	vectors, err := embedder.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		if domain.IsTerminal(err) {
			return domain.Terminal(fmt.Errorf("embed profile %d: %w", job.ProfileID, err))
		}
		return attemptFailure(ctx, fmt.Errorf("embed profile %d: %w: %w", job.ProfileID, domain.ErrTransientEncoder, err))
	}
	if len(vectors) != 1 {
		return domain.Retryable(fmt.Errorf("embed profile %d: %w: expected 1 embedding, got %d", job.ProfileID, domain.ErrTransientEncoder, len(vectors)))
	}
	if dim := embedder.Dimension(); dim > 0 && len(vectors[0]) != dim {
		return domain.Terminal(fmt.Errorf("embed profile %d: %w: dimension %d, want %d", job.ProfileID, domain.ErrMalformedInput, len(vectors[0]), dim))
	}
	vector, err := domain.Normalize(vectors[0])
	if err != nil {
		return domain.Terminal(fmt.Errorf("embed profile %d: %w", job.ProfileID, err))
	}

	report(50, "storing embedding")
	entry := domain.IndexEntry{
		ProfileID:      job.ProfileID,
		Vector:         vector,
		Fingerprint:    fingerprint,
		EncoderVersion: embedder.ModelVersion(),
		UpdatedAt:      x.now().UTC(),
	}
	if err := x.store.Upsert(ctx, entry); err != nil {
		return attemptFailure(ctx, fmt.Errorf("upsert index entry %d: %w: %w", job.ProfileID, domain.ErrTransientStorage, err))
	}

	report(100, "done")
	return domain.Succeeded(domain.JobResult{
		ProfileID:      job.ProfileID,
		Fingerprint:    fingerprint,
		EncoderVersion: entry.EncoderVersion,
		Dimension:      len(vector),
		ProcessedAt:    entry.UpdatedAt,
	})
}

// attemptFailure marks failures caused by the job's deadline as timeouts.
func attemptFailure(ctx context.Context, err error) domain.Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.Retryable(fmt.Errorf("%w: %w", domain.ErrJobTimeout, err))
	}
	return domain.Retryable(err)
}
