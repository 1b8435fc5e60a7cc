package outcome

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	outcomedom "github.com/arbiterfabric/cogrt/internal/app/domain/outcome"
)

//go:embed migrations/*.sql
var archiveMigrations embed.FS

// applyArchiveMigrations executes every embedded migration file in lexical
// order. Each statement uses IF NOT EXISTS guards, so re-running it at
// startup is safe.
func applyArchiveMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := archiveMigrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("outcome: list archive migrations: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := archiveMigrations.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("outcome: read archive migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("outcome: apply archive migration %s: %w", name, err)
		}
	}
	return nil
}

// Archive is the secondary SQL-backed archival path for the outcome log: it
// never replaces the ring-buffer/snapshot path Query and Persist use, but
// gives operators an indexed, durable copy that outlives eviction and
// supports ad-hoc SQL auditing the in-memory indices don't.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens a PostgreSQL connection and applies the archive schema.
// The returned *Archive's Close must be called by the caller.
func OpenArchive(ctx context.Context, dsn string) (*Archive, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("outcome: archive dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("outcome: open archive db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("outcome: ping archive db: %w", err)
	}
	if err := applyArchiveMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

// NewArchiveFromDB wraps an already-open *sql.DB (used by tests against
// go-sqlmock, and by callers that share a pool across stores).
func NewArchiveFromDB(db *sql.DB) *Archive {
	return &Archive{db: db}
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Insert archives one outcome. Failures are the caller's to log and ignore;
// the archive is a durability add-on, never a dependency the hot append
// path blocks on.
func (a *Archive) Insert(ctx context.Context, o outcomedom.Outcome) error {
	if a == nil || a.db == nil {
		return nil
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	metaJSON, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("outcome: marshal archive metadata: %w", err)
	}
	var durationMs sql.NullInt64
	if o.Duration != nil {
		durationMs = sql.NullInt64{Int64: o.Duration.Milliseconds(), Valid: true}
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO outcome_archive
			(id, agent, action, context, result, success, reward, duration_ms, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, o.ID, o.Agent, o.Action, o.Context, o.Result, o.Success, o.Reward, durationMs, metaJSON, o.Timestamp)
	if err != nil {
		return fmt.Errorf("outcome: insert archive row: %w", err)
	}
	return nil
}

// Query runs an indexed SQL predicate scan over the archive, covering the
// same Filter shape as Store.Query but over the full unwindowed history
// that ring-buffer eviction would otherwise lose.
func (a *Archive) Query(ctx context.Context, f Filter) ([]outcomedom.Outcome, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	clauses := []string{"1=1"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Agent != nil {
		clauses = append(clauses, "agent = "+arg(*f.Agent))
	}
	if f.Action != nil {
		clauses = append(clauses, "action = "+arg(*f.Action))
	}
	if f.Success != nil {
		clauses = append(clauses, "success = "+arg(*f.Success))
	}
	if f.MinReward != nil {
		clauses = append(clauses, "reward >= "+arg(*f.MinReward))
	}
	if f.MaxReward != nil {
		clauses = append(clauses, "reward <= "+arg(*f.MaxReward))
	}
	if f.Start != nil {
		clauses = append(clauses, "recorded_at >= "+arg(*f.Start))
	}
	if f.End != nil {
		clauses = append(clauses, "recorded_at <= "+arg(*f.End))
	}

	query := fmt.Sprintf(`
		SELECT id, agent, action, context, result, success, reward, duration_ms, metadata, recorded_at
		FROM outcome_archive WHERE %s ORDER BY recorded_at ASC
	`, strings.Join(clauses, " AND "))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outcome: query archive: %w", err)
	}
	defer rows.Close()

	var out []outcomedom.Outcome
	for rows.Next() {
		var o outcomedom.Outcome
		var metaJSON []byte
		var durationMs sql.NullInt64
		if err := rows.Scan(&o.ID, &o.Agent, &o.Action, &o.Context, &o.Result, &o.Success,
			&o.Reward, &durationMs, &metaJSON, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("outcome: scan archive row: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &o.Metadata)
		}
		if durationMs.Valid {
			d := time.Duration(durationMs.Int64) * time.Millisecond
			o.Duration = &d
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
