package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"profile-indexer/domain"
)

const profileColumns = `id, name, email, organization, seek_share, resource_type, description, research_area, primary_text, status`

// Store is the relational profile store. It owns the profile records and the
// legacy vectors, and notifies an EventSink after each committed write.
type Store struct {
	db *sql.DB

	mu   sync.RWMutex
	sink domain.EventSink
}

var _ domain.ProfileRepository = (*Store)(nil)

// Open opens (and migrates) the sqlite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := (migrator{}).upToLatest(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SetEventSink registers the receiver of change notifications.
func (s *Store) SetEventSink(sink domain.EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

func (s *Store) eventSink() domain.EventSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink
}

// withTx commits on nil error and rolls back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(r rowScanner) (domain.Profile, error) {
	var (
		p      domain.Profile
		status string
	)
	err := r.Scan(&p.ID, &p.Name, &p.Email, &p.Organization, &p.Intent, &p.ResourceType,
		&p.Description, &p.ResearchArea, &p.PrimaryText, &status)
	p.Status = domain.ProfileStatus(status)
	return p, err
}

func (s *Store) GetProfile(ctx context.Context, id int64) (domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, fmt.Errorf("profile %d: %w", id, domain.ErrProfileNotFound)
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("get profile %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) ListProfileIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list profile ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CountProfiles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return n, nil
}

// ListCandidates narrows the rows in SQL and then applies the filter's own
// matching rules, since sqlite's lower() only folds ASCII.
func (s *Store) ListCandidates(ctx context.Context, f domain.CandidateFilter) ([]domain.Candidate, error) {
	q := `SELECT ` + profileColumns + `, embedding FROM profiles
        WHERE status = ? AND lower(seek_share) = lower(?)`
	args := []any{string(domain.StatusActive), f.Intent}
	if f.ResourceType != "" {
		q += ` AND lower(resource_type) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(strings.ToLower(f.ResourceType))+"%")
	}
	if f.ExcludeID != nil {
		q += ` AND id != ?`
		args = append(args, *f.ExcludeID)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var (
			p      domain.Profile
			status string
			legacy sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Organization, &p.Intent, &p.ResourceType,
			&p.Description, &p.ResearchArea, &p.PrimaryText, &status, &legacy); err != nil {
			return nil, err
		}
		p.Status = domain.ProfileStatus(status)
		if !f.Matches(p) {
			continue
		}
		c := domain.Candidate{Profile: p}
		if legacy.Valid && legacy.String != "" {
			if err := json.Unmarshal([]byte(legacy.String), &c.LegacyVector); err != nil {
				return nil, fmt.Errorf("decode legacy embedding of profile %d: %w", p.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SaveProfile inserts p when p.ID is zero and replaces the record otherwise.
// It returns the profile id and notifies the event sink once committed.
func (s *Store) SaveProfile(ctx context.Context, p domain.Profile) (int64, error) {
	if p.Status == "" {
		p.Status = domain.StatusActive
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	id := p.ID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if id == 0 {
			res, err := tx.ExecContext(ctx, `INSERT INTO profiles
                (name, email, organization, seek_share, resource_type, description, research_area, primary_text, status, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.Name, p.Email, p.Organization, p.Intent, p.ResourceType, p.Description, p.ResearchArea, p.PrimaryText, string(p.Status), now, now)
			if err != nil {
				return err
			}
			id, err = res.LastInsertId()
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO profiles
            (id, name, email, organization, seek_share, resource_type, description, research_area, primary_text, status, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                email = excluded.email,
                organization = excluded.organization,
                seek_share = excluded.seek_share,
                resource_type = excluded.resource_type,
                description = excluded.description,
                research_area = excluded.research_area,
                primary_text = excluded.primary_text,
                status = excluded.status,
                updated_at = excluded.updated_at`,
			id, p.Name, p.Email, p.Organization, p.Intent, p.ResourceType, p.Description, p.ResearchArea, p.PrimaryText, string(p.Status), now, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("save profile: %w", err)
	}
	if sink := s.eventSink(); sink != nil {
		sink.ProfileMutated(ctx, id)
	}
	return id, nil
}

// DeleteProfile removes the record and notifies the event sink once
// committed. Deleting a missing profile is not an error and sends nothing.
func (s *Store) DeleteProfile(ctx context.Context, id int64) error {
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete profile %d: %w", id, err)
	}
	if sink := s.eventSink(); sink != nil && affected > 0 {
		sink.ProfileDeleted(ctx, id)
	}
	return nil
}

// SetLegacyEmbedding stores a vector computed by the previous pipeline. It does
// not change the indexable text and sends no event.
func (s *Store) SetLegacyEmbedding(ctx context.Context, id int64, v domain.Embedding) error {
	var value any
	if len(v) > 0 {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		value = string(data)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET embedding = ? WHERE id = ?`, value, id)
	if err != nil {
		return fmt.Errorf("set legacy embedding %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %d: %w", id, domain.ErrProfileNotFound)
	}
	return nil
}
