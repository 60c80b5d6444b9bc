package custody

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

type transferRepoPG struct{ pool *pgxpool.Pool }

func NewTransferRepoPG(pool *pgxpool.Pool) TransferRepository {
	return &transferRepoPG{pool: pool}
}

func (r *transferRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const transferCols = `id, case_id, scanned_code, direction, from_user, to_user, from_state, to_state, transferred_at`

func (r *transferRepoPG) scanRow(row pgx.Row) (*Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.CaseID, &t.ScannedCode, &t.Direction, &t.FromUser, &t.ToUser,
		&t.FromState, &t.ToState, &t.TransferredAt)
	return &t, err
}

func (r *transferRepoPG) Create(ctx context.Context, t *Transfer) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO custody_transfer (id, case_id, scanned_code, direction, from_user, to_user,
			from_state, to_state, transferred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.CaseID, t.ScannedCode, t.Direction, t.FromUser, t.ToUser,
		t.FromState, t.ToState, t.TransferredAt)
	if err != nil {
		return fmt.Errorf("insert custody transfer: %w", err)
	}
	return nil
}

func (r *transferRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Transfer, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+transferCols+` FROM custody_transfer WHERE case_id = $1 ORDER BY transferred_at, id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list custody transfers: %w", err)
	}
	defer rows.Close()
	var items []*Transfer
	for rows.Next() {
		t, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}
