package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"accord/internal/mapping"
	txcontext "accord/pkg/platform/tx"
)

const entryColumns = `sequence, actor_stage, mapping_id, evidence_id, standard_id, decision,
	confidence_at_decision, threshold, recorded_at, prev_hash, hash`

// PostgresStore persists the audit log in PostgreSQL. Appends take an
// exclusive table lock for the chain tip; a transaction already present in
// ctx is joined.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) (Entry, error) {
	var sealed Entry
	err := txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx, _ := txcontext.From(ctx)
		var q dbQuerier = tx

		if _, err := q.ExecContext(ctx, `LOCK TABLE audit_log IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock audit log: %w", err)
		}
		prev, err := scanEntry(q.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM audit_log ORDER BY sequence DESC LIMIT 1`))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			prev = nil
		case err != nil:
			return fmt.Errorf("select audit chain tip: %w", err)
		}

		sealed = seal(e, prev)
		_, err = q.ExecContext(ctx, `INSERT INTO audit_log (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			sealed.Sequence, string(sealed.ActorStage), sealed.MappingID, sealed.EvidenceID, sealed.StandardID,
			string(sealed.Decision), sealed.ConfidenceAtDecision, sealed.Threshold, sealed.Timestamp,
			sealed.PrevHash, sealed.Hash,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return sealed, nil
}

func (s *PostgresStore) ListByPair(ctx context.Context, evidenceID, standardID string) ([]Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM audit_log
		WHERE evidence_id = $1 AND standard_id = $2 ORDER BY sequence`, evidenceID, standardID)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM audit_log ORDER BY sequence`)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e        Entry
		stage    string
		decision string
	)
	if err := row.Scan(&e.Sequence, &stage, &e.MappingID, &e.EvidenceID, &e.StandardID, &decision,
		&e.ConfidenceAtDecision, &e.Threshold, &e.Timestamp, &e.PrevHash, &e.Hash); err != nil {
		return nil, err
	}
	e.ActorStage = mapping.Stage(stage)
	e.Decision = Decision(decision)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
