package correction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository {
	return &requestRepoPG{pool: pool}
}

func (r *requestRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const pendingIndex = "correction_request_pending_uq"

const reqCols = `id, case_id, requested_by, responsible_user, incorrect_data, problem_description,
	status, created_at, resolved_at, resolved_by, resolution_description, wristband_reprinted`

func (r *requestRepoPG) scanRow(row pgx.Row) (*Request, error) {
	var q Request
	err := row.Scan(&q.ID, &q.CaseID, &q.RequestedBy, &q.ResponsibleUser, &q.IncorrectData, &q.ProblemDescription,
		&q.Status, &q.CreatedAt, &q.ResolvedAt, &q.ResolvedBy, &q.ResolutionDescription, &q.WristbandReprinted)
	return &q, err
}

func (r *requestRepoPG) Create(ctx context.Context, q *Request) error {
	q.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO correction_request (id, case_id, requested_by, responsible_user, incorrect_data,
			problem_description, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		q.ID, q.CaseID, q.RequestedBy, q.ResponsibleUser, q.IncorrectData,
		q.ProblemDescription, q.Status, q.CreatedAt)
	if db.IsUniqueViolation(err, pendingIndex) {
		return apperr.WithMetadata(apperr.CodeCorrectionAlreadyPending,
			"a correction request is already pending for this case",
			map[string]string{"case_id": q.CaseID.String()})
	}
	if err != nil {
		return fmt.Errorf("insert correction request: %w", err)
	}
	return nil
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	q, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+reqCols+` FROM correction_request WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.New(apperr.CodeCorrectionNotFound, "correction request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get correction request: %w", err)
	}
	return q, nil
}

func (r *requestRepoPG) PendingByCase(ctx context.Context, caseID uuid.UUID) (*Request, error) {
	q, err := r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reqCols+` FROM correction_request WHERE case_id = $1 AND status = 'pending'`, caseID))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending correction request: %w", err)
	}
	return q, nil
}

func (r *requestRepoPG) Resolve(ctx context.Context, q *Request) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE correction_request
		SET status = 'resolved', resolved_at = $2, resolved_by = $3,
			resolution_description = $4, wristband_reprinted = $5
		WHERE id = $1 AND status = 'pending'`,
		q.ID, q.ResolvedAt, q.ResolvedBy, q.ResolutionDescription, q.WristbandReprinted)
	if err != nil {
		return fmt.Errorf("resolve correction request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeCorrectionAlreadyResolved, "correction request is already resolved")
	}
	q.Status = StatusResolved
	return nil
}

func (r *requestRepoPG) ListPending(ctx context.Context, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM correction_request WHERE status = 'pending'`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pending corrections: %w", err)
	}
	items, err := r.list(ctx, `SELECT `+reqCols+` FROM correction_request
		WHERE status = 'pending' ORDER BY created_at LIMIT NULLIF($1::int, 0) OFFSET $2`, limit, offset)
	return items, total, err
}

func (r *requestRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Request, error) {
	return r.list(ctx, `SELECT `+reqCols+` FROM correction_request WHERE case_id = $1 ORDER BY created_at`, caseID)
}

func (r *requestRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Request, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list correction requests: %w", err)
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		q, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, q)
	}
	return items, rows.Err()
}
