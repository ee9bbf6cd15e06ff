package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"profile-indexer/domain"
)

var errBoom = errors.New("boom")

func nopLogger() zerolog.Logger { return zerolog.Nop() }

// memProfiles is an in-memory domain.ProfileRepository.
type memProfiles struct {
	mu       sync.Mutex
	profiles map[int64]domain.Profile
	legacy   map[int64]domain.Embedding
	getErr   error
	listErr  error
}

func newMemProfiles(ps ...domain.Profile) *memProfiles {
	m := &memProfiles{profiles: map[int64]domain.Profile{}, legacy: map[int64]domain.Embedding{}}
	for _, p := range ps {
		m.put(p)
	}
	return m
}

func (m *memProfiles) put(p domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == "" {
		p.Status = domain.StatusActive
	}
	m.profiles[p.ID] = p
}

func (m *memProfiles) setLegacy(id int64, v domain.Embedding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacy[id] = v
}

func (m *memProfiles) GetProfile(_ context.Context, id int64) (domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Profile{}, m.getErr
	}
	p, ok := m.profiles[id]
	if !ok {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	return p, nil
}

func (m *memProfiles) ListProfileIDs(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	ids := make([]int64, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memProfiles) CountProfiles(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.profiles), nil
}

func (m *memProfiles) ListCandidates(_ context.Context, f domain.CandidateFilter) ([]domain.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Candidate
	for _, p := range m.profiles {
		if f.Matches(p) {
			out = append(out, domain.Candidate{Profile: p, LegacyVector: m.legacy[p.ID]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile.ID < out[j].Profile.ID })
	return out, nil
}

// memIndex is an in-memory domain.IndexStore.
type memIndex struct {
	mu        sync.Mutex
	entries   map[int64]domain.IndexEntry
	upserts   int
	getErr    error
	upsertErr error
}

func newMemIndex() *memIndex { return &memIndex{entries: map[int64]domain.IndexEntry{}} }

func (m *memIndex) Get(_ context.Context, id int64) (domain.IndexEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.IndexEntry{}, false, m.getErr
	}
	e, ok := m.entries[id]
	return e, ok, nil
}

func (m *memIndex) GetMany(_ context.Context, ids []int64) (map[int64]domain.IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]domain.IndexEntry, len(ids))
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (m *memIndex) Upsert(_ context.Context, e domain.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	m.entries[e.ProfileID] = e
	return nil
}

func (m *memIndex) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memIndex) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *memIndex) CountByVersion(context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, e := range m.entries {
		out[e.EncoderVersion]++
	}
	return out, nil
}

func (m *memIndex) entry(id int64) (domain.IndexEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

func (m *memIndex) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// stubEncoder returns fixed vectors per text. fn, when set, takes precedence.
type stubEncoder struct {
	dim     int
	version string
	vectors map[string]domain.Embedding
	fn      func(ctx context.Context, call int, text string) (domain.Embedding, error)

	calls  atomic.Int32
	closed atomic.Int32
}

var _ io.Closer = (*stubEncoder)(nil)

func newStubEncoder(dim int) *stubEncoder {
	return &stubEncoder{dim: dim, version: fmt.Sprintf("stub-%d", dim), vectors: map[string]domain.Embedding{}}
}

func (s *stubEncoder) GenerateEmbeddings(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, 0, len(texts))
	for _, t := range texts {
		call := int(s.calls.Add(1))
		if s.fn != nil {
			v, err := s.fn(ctx, call, t)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			continue
		}
		if v, ok := s.vectors[t]; ok {
			out = append(out, append(domain.Embedding(nil), v...))
			continue
		}
		v := make(domain.Embedding, s.dim)
		v[0] = 2
		out = append(out, v)
	}
	return out, nil
}

func (s *stubEncoder) ModelVersion() string { return s.version }
func (s *stubEncoder) Dimension() int       { return s.dim }

func (s *stubEncoder) Close() error {
	s.closed.Add(1)
	return nil
}

// sharedFactory hands every worker the same encoder and counts the opens.
func sharedFactory(enc domain.EmbeddingClient, opens *atomic.Int32) domain.EmbeddingClientFactory {
	return func(context.Context) (domain.EmbeddingClient, error) {
		if opens != nil {
			opens.Add(1)
		}
		return enc, nil
	}
}

func ptr[T any](v T) *T { return &v }
