package memorytier

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	memdom "github.com/arbiterfabric/cogrt/internal/app/domain/memorytier"
)

// coldStore is the persistent, authoritative tier (spec §4.L: "cold is
// source of truth"). Two implementations share the interface: a
// Postgres-backed one for production and an in-memory one used when no
// DSN is configured, mirroring the teacher's `Stores.applyDefaults`
// pattern of defaulting every store to an in-memory implementation.
type coldStore interface {
	Put(ctx context.Context, r memdom.ColdRecord) error
	Get(ctx context.Context, id string) (memdom.ColdRecord, bool, error)
	Touch(ctx context.Context, id string) error
	Search(ctx context.Context, substring string, k int) ([]memdom.ColdRecord, error)
	Delete(ctx context.Context, id string) error
	DeleteStale(ctx context.Context, olderThan time.Time, maxImportance float64) (int64, error)
}

// --- Postgres-backed implementation ----------------------------------------

type sqlColdStore struct {
	db *sqlx.DB
}

// newSQLColdStore wraps an already-open *sql.DB (or one opened by the
// caller via sqlx.Connect("postgres", dsn)) and ensures its schema exists.
func newSQLColdStore(db *sql.DB) (*sqlColdStore, error) {
	sx := sqlx.NewDb(db, "postgres")
	if _, err := sx.Exec(coldSchema); err != nil {
		return nil, fmt.Errorf("memorytier: create cold schema: %w", err)
	}
	return &sqlColdStore{db: sx}, nil
}

const coldSchema = `
CREATE TABLE IF NOT EXISTS memory_cold (
	id text PRIMARY KEY,
	content text NOT NULL,
	meta jsonb,
	created_at timestamptz NOT NULL,
	accessed_at timestamptz NOT NULL,
	access_count bigint NOT NULL DEFAULT 0,
	importance double precision NOT NULL DEFAULT 0
)`

type coldRow struct {
	ID          string    `db:"id"`
	Content     string    `db:"content"`
	Meta        []byte    `db:"meta"`
	CreatedAt   time.Time `db:"created_at"`
	AccessedAt  time.Time `db:"accessed_at"`
	AccessCount int64     `db:"access_count"`
	Importance  float64   `db:"importance"`
}

func (s *sqlColdStore) Put(ctx context.Context, r memdom.ColdRecord) error {
	meta, err := marshalMeta(r.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_cold (id, content, meta, created_at, accessed_at, access_count, importance)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content, meta = EXCLUDED.meta, importance = EXCLUDED.importance`,
		r.ID, r.Content, meta, r.CreatedAt, r.AccessedAt, r.AccessCount, r.Importance)
	return err
}

func (s *sqlColdStore) Get(ctx context.Context, id string) (memdom.ColdRecord, bool, error) {
	var row coldRow
	err := s.db.GetContext(ctx, &row, `SELECT id, content, meta, created_at, accessed_at, access_count, importance FROM memory_cold WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return memdom.ColdRecord{}, false, nil
	}
	if err != nil {
		return memdom.ColdRecord{}, false, err
	}
	return rowToRecord(row), true, nil
}

func (s *sqlColdStore) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memory_cold SET accessed_at = $1, access_count = access_count + 1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *sqlColdStore) Search(ctx context.Context, substring string, k int) ([]memdom.ColdRecord, error) {
	var rows []coldRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, content, meta, created_at, accessed_at, access_count, importance FROM memory_cold
		WHERE content ILIKE $1
		ORDER BY importance DESC
		LIMIT $2`, "%"+substring+"%", k)
	if err != nil {
		return nil, err
	}
	out := make([]memdom.ColdRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToRecord(row))
	}
	return out, nil
}

func (s *sqlColdStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_cold WHERE id = $1`, id)
	return err
}

func (s *sqlColdStore) DeleteStale(ctx context.Context, olderThan time.Time, maxImportance float64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_cold WHERE created_at < $1 AND importance < $2`, olderThan, maxImportance)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func rowToRecord(row coldRow) memdom.ColdRecord {
	return memdom.ColdRecord{
		ID:          row.ID,
		Content:     row.Content,
		Meta:        unmarshalMeta(row.Meta),
		CreatedAt:   row.CreatedAt,
		AccessedAt:  row.AccessedAt,
		AccessCount: row.AccessCount,
		Importance:  row.Importance,
	}
}

// --- in-memory fallback ------------------------------------------------

type memoryColdStore struct {
	mu      sync.RWMutex
	records map[string]memdom.ColdRecord
}

func newMemoryColdStore() *memoryColdStore {
	return &memoryColdStore{records: make(map[string]memdom.ColdRecord)}
}

func (m *memoryColdStore) Put(_ context.Context, r memdom.ColdRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
	return nil
}

func (m *memoryColdStore) Get(_ context.Context, id string) (memdom.ColdRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	return r, ok, nil
}

func (m *memoryColdStore) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil
	}
	r.AccessedAt = time.Now()
	r.AccessCount++
	m.records[id] = r
	return nil
}

func (m *memoryColdStore) Search(_ context.Context, substring string, k int) ([]memdom.ColdRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(substring)
	matches := make([]memdom.ColdRecord, 0)
	for _, r := range m.records {
		if strings.Contains(strings.ToLower(r.Content), needle) {
			matches = append(matches, r)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Importance > matches[j].Importance })
	if k > 0 && k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *memoryColdStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memoryColdStore) DeleteStale(_ context.Context, olderThan time.Time, maxImportance float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.records {
		if r.CreatedAt.Before(olderThan) && r.Importance < maxImportance {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}
