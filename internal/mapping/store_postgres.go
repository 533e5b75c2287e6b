package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	"accord/pkg/requestcontext"
)

const uniqueViolation = "23505"

const mappingColumns = `id, evidence_id, standard_id, version, raw_score, calibrated_confidence,
	rationale_excerpt, verified, active, created_at, produced_by_stage`

// PostgresStore persists mappings in PostgreSQL. Pair writes take a
// transaction-scoped advisory lock so the first version of a pair is
// serialized too; the partial unique index on active rows backs it up.
type PostgresStore struct {
	db       *pgxpool.Pool
	notifier *Notifier
	logger   *slog.Logger
}

// NewPostgresStore constructs a store over pool publishing to notifier (may be nil).
func NewPostgresStore(pool *pgxpool.Pool, notifier *Notifier, opts ...StoreOption) *PostgresStore {
	return &PostgresStore{db: pool, notifier: notifier, logger: newStoreConfig(notifier, opts).logger}
}

func (s *PostgresStore) Supersede(ctx context.Context, m Mapping) (*Mapping, error) {
	return s.write(ctx, m, true)
}

func (s *PostgresStore) Insert(ctx context.Context, m Mapping) (*Mapping, error) {
	return s.write(ctx, m, false)
}

func (s *PostgresStore) write(ctx context.Context, m Mapping, supersede bool) (*Mapping, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	pair := m.Pair()
	now := requestcontext.Now(ctx)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mapping write: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, pair.String()); err != nil {
		return nil, fmt.Errorf("lock mapping pair: %w", err)
	}

	var prev *Mapping
	row := tx.QueryRow(ctx, `SELECT `+mappingColumns+` FROM mappings
		WHERE evidence_id = $1 AND standard_id = $2 AND active
		FOR UPDATE`, pair.EvidenceID, pair.StandardID)
	if found, err := scanMapping(row); err == nil {
		prev = found
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("select active mapping: %w", err)
	}
	if prev != nil && !supersede {
		return nil, invariantViolation(ctx, s.logger, pair)
	}

	var maxVersion int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM mappings
		WHERE evidence_id = $1 AND standard_id = $2`, pair.EvidenceID, pair.StandardID).Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("select mapping version: %w", err)
	}

	if prev != nil {
		if _, err := tx.Exec(ctx, `UPDATE mappings SET active = false WHERE id = $1`, prev.ID); err != nil {
			return nil, fmt.Errorf("deactivate mapping: %w", err)
		}
		prev.Active = false
	}

	next := m
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	next.Version = maxVersion + 1
	next.Active = true
	next.Verified = false
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	_, err = tx.Exec(ctx, `INSERT INTO mappings (`+mappingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		next.ID, next.EvidenceID, next.StandardID, next.Version, next.RawScore, next.CalibratedConfidence,
		next.RationaleExcerpt, next.Verified, next.Active, next.CreatedAt, string(next.ProducedByStage),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, invariantViolation(ctx, s.logger, pair)
		}
		return nil, fmt.Errorf("insert mapping: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mapping write: %w", err)
	}

	events := make([]ChangeEvent, 0, 2)
	if prev != nil {
		events = append(events, eventFor(ChangeSuperseded, *prev, now))
	}
	events = append(events, eventFor(ChangeCreated, next, now))
	s.notifier.Publish(ctx, events...)
	return &next, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	m, err := scanMapping(s.db.QueryRow(ctx, `SELECT `+mappingColumns+` FROM mappings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("mapping %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find mapping by id: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListActiveByEvidence(ctx context.Context, evidenceID string) ([]Mapping, error) {
	return s.query(ctx, `SELECT `+mappingColumns+` FROM mappings
		WHERE evidence_id = $1 AND active ORDER BY standard_id, evidence_id`, evidenceID)
}

func (s *PostgresStore) ListActiveByStandard(ctx context.Context, standardID string) ([]Mapping, error) {
	return s.query(ctx, `SELECT `+mappingColumns+` FROM mappings
		WHERE standard_id = $1 AND active ORDER BY standard_id, evidence_id`, standardID)
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]Mapping, error) {
	return s.query(ctx, `SELECT `+mappingColumns+` FROM mappings
		WHERE active ORDER BY standard_id, evidence_id`)
}

func (s *PostgresStore) History(ctx context.Context, evidenceID, standardID string) ([]Mapping, error) {
	return s.query(ctx, `SELECT `+mappingColumns+` FROM mappings
		WHERE evidence_id = $1 AND standard_id = $2 ORDER BY version`, evidenceID, standardID)
}

func (s *PostgresStore) MarkVerified(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mark verified: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanMapping(tx.QueryRow(ctx, `SELECT `+mappingColumns+` FROM mappings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("mapping %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("select mapping for verify: %w", err)
	}
	if !current.Active {
		return nil, dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict,
			fmt.Sprintf("mapping %s is superseded", id))
	}
	changed := !current.Verified
	if changed {
		if _, err := tx.Exec(ctx, `UPDATE mappings SET verified = true WHERE id = $1`, id); err != nil {
			return nil, fmt.Errorf("mark mapping verified: %w", err)
		}
		current.Verified = true
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mark verified: %w", err)
	}
	if changed {
		s.notifier.Publish(ctx, eventFor(ChangeVerified, *current, requestcontext.Now(ctx)))
	}
	return current, nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Mapping, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()
	out := make([]Mapping, 0)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return out, nil
}

func scanMapping(row pgx.Row) (*Mapping, error) {
	var m Mapping
	var stage string
	if err := row.Scan(&m.ID, &m.EvidenceID, &m.StandardID, &m.Version, &m.RawScore, &m.CalibratedConfidence,
		&m.RationaleExcerpt, &m.Verified, &m.Active, &m.CreatedAt, &stage); err != nil {
		return nil, err
	}
	m.ProducedByStage = Stage(stage)
	return &m, nil
}
