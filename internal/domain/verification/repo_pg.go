package verification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/mortuary/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type attemptRepoPG struct{ pool *pgxpool.Pool }

func NewAttemptRepoPG(pool *pgxpool.Pool) AttemptRepository {
	return &attemptRepoPG{pool: pool}
}

func (r *attemptRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const attemptCols = `id, case_id, verified_at, verified_by, wristband,
	clinical_record_match, document_match, name_match, service_match, code_match,
	verdict, rejection_reason, diff, correction_request_id`

func (r *attemptRepoPG) scanRow(row pgx.Row) (*Attempt, error) {
	var a Attempt
	err := row.Scan(&a.ID, &a.CaseID, &a.VerifiedAt, &a.VerifiedBy, &a.Wristband,
		&a.ClinicalRecordMatch, &a.DocumentMatch, &a.NameMatch, &a.ServiceMatch, &a.CodeMatch,
		&a.Verdict, &a.RejectionReason, &a.Diff, &a.CorrectionRequestID)
	return &a, err
}

func (r *attemptRepoPG) Create(ctx context.Context, a *Attempt) error {
	a.ID = uuid.New()
	if a.Diff == nil {
		a.Diff = []FieldDiff{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO verification_attempt (id, case_id, verified_at, verified_by, wristband,
			clinical_record_match, document_match, name_match, service_match, code_match,
			verdict, rejection_reason, diff, correction_request_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.ID, a.CaseID, a.VerifiedAt, a.VerifiedBy, a.Wristband,
		a.ClinicalRecordMatch, a.DocumentMatch, a.NameMatch, a.ServiceMatch, a.CodeMatch,
		a.Verdict, a.RejectionReason, a.Diff, a.CorrectionRequestID)
	if err != nil {
		return fmt.Errorf("insert verification attempt: %w", err)
	}
	return nil
}

func (r *attemptRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Attempt, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+attemptCols+` FROM verification_attempt WHERE case_id = $1 ORDER BY verified_at, id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list verification attempts: %w", err)
	}
	defer rows.Close()
	var items []*Attempt
	for rows.Next() {
		a, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *attemptRepoPG) LatestByVerdict(ctx context.Context, caseID uuid.UUID, verdict Verdict) (*Attempt, error) {
	a, err := r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+attemptCols+` FROM verification_attempt
		WHERE case_id = $1 AND verdict = $2 ORDER BY verified_at DESC, id DESC LIMIT 1`, caseID, verdict))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest verification attempt: %w", err)
	}
	return a, nil
}
