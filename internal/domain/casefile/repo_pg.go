package casefile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/db"
)

const openRecordIndex = "case_file_open_record_uq"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type caseRepoPG struct {
	pool   *pgxpool.Pool
	prefix string
}

// NewCaseRepoPG returns a Postgres-backed repository. Codes are drawn from
// case_code_seq and formatted as <prefix>-<n>.
func NewCaseRepoPG(pool *pgxpool.Pool, prefix string) CaseRepository {
	return &caseRepoPG{pool: pool, prefix: prefix}
}

func (r *caseRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const caseCols = `id, code, clinical_record_number, document_type, document_number, full_name, service,
	state, COALESCE(hold_reason, ''), legal_case, tray_id, created_by, custodian_id, death_at,
	created_at, updated_at, released_at`

func (r *caseRepoPG) scanRow(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.Code, &c.ClinicalRecordNumber, &c.DocumentType, &c.DocumentNumber, &c.FullName, &c.Service,
		&c.State, &c.HoldReason, &c.LegalCase, &c.TrayID, &c.CreatedBy, &c.CustodianID, &c.DeathAt,
		&c.CreatedAt, &c.UpdatedAt, &c.ReleasedAt)
	return &c, err
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('case_code_seq')`).Scan(&seq); err != nil {
		return fmt.Errorf("next case code: %w", err)
	}
	c.ID = uuid.New()
	c.Code = fmt.Sprintf("%s-%d", r.prefix, seq)
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO case_file (id, code, clinical_record_number, document_type, document_number, full_name,
			service, state, hold_reason, legal_case, tray_id, created_by, custodian_id, death_at,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9, ''),$10,$11,$12,$13,$14,$15,$16)`,
		c.ID, c.Code, c.ClinicalRecordNumber, c.DocumentType, c.DocumentNumber, c.FullName,
		c.Service, c.State, string(c.HoldReason), c.LegalCase, c.TrayID, c.CreatedBy, c.CustodianID, c.DeathAt,
		c.CreatedAt, c.UpdatedAt)
	if db.IsUniqueViolation(err, openRecordIndex) {
		return apperr.WithMetadata(apperr.CodeCaseAlreadyOpen,
			"an open case already exists for this clinical record",
			map[string]string{"clinical_record_number": c.ClinicalRecordNumber})
	}
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return r.getByID(ctx, id, "")
}

func (r *caseRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Case, error) {
	return r.getByID(ctx, id, " FOR UPDATE")
}

func (r *caseRepoPG) getByID(ctx context.Context, id uuid.UUID, lock string) (*Case, error) {
	c, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM case_file WHERE id = $1`+lock, id))
	if db.IsNoRows(err) {
		return nil, apperr.WithMetadata(apperr.CodeCaseNotFound, "case not found", map[string]string{"case_id": id.String()})
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

func (r *caseRepoPG) GetByCode(ctx context.Context, code string) (*Case, error) {
	return r.getByCode(ctx, code, "")
}

func (r *caseRepoPG) GetByCodeForUpdate(ctx context.Context, code string) (*Case, error) {
	return r.getByCode(ctx, code, " FOR UPDATE")
}

func (r *caseRepoPG) getByCode(ctx context.Context, code, lock string) (*Case, error) {
	c, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM case_file WHERE code = $1`+lock, code))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get case by code: %w", err)
	}
	return c, nil
}

func (r *caseRepoPG) Update(ctx context.Context, c *Case) error {
	c.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE case_file
		SET state = $2, hold_reason = NULLIF($3, ''), custodian_id = $4, tray_id = $5,
			released_at = $6, updated_at = $7
		WHERE id = $1`,
		c.ID, c.State, string(c.HoldReason), c.CustodianID, c.TrayID, c.ReleasedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.WithMetadata(apperr.CodeCaseNotFound, "case not found", map[string]string{"case_id": c.ID.String()})
	}
	return nil
}

func (r *caseRepoPG) List(ctx context.Context, state State, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM case_file WHERE ($1 = '' OR state = $1)`, string(state)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+caseCols+` FROM case_file
		WHERE ($1 = '' OR state = $1) ORDER BY created_at DESC LIMIT NULLIF($2::int, 0) OFFSET $3`,
		string(state), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *caseRepoPG) AppendStateChange(ctx context.Context, sc *StateChange) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO case_state_change (case_id, from_state, to_state, hold_reason, event, actor_id, note, changed_at)
		VALUES ($1,$2,$3,NULLIF($4, ''),$5,$6,$7,$8)
		RETURNING id`,
		sc.CaseID, sc.FromState, sc.ToState, string(sc.HoldReason), sc.Event, sc.ActorID, sc.Note, sc.ChangedAt,
	).Scan(&sc.ID)
	if err != nil {
		return fmt.Errorf("insert state change: %w", err)
	}
	return nil
}

func (r *caseRepoPG) History(ctx context.Context, caseID uuid.UUID) ([]*StateChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, case_id, from_state, to_state, COALESCE(hold_reason, ''), event, actor_id, note, changed_at
		FROM case_state_change WHERE case_id = $1 ORDER BY id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list state changes: %w", err)
	}
	defer rows.Close()
	var items []*StateChange
	for rows.Next() {
		var sc StateChange
		if err := rows.Scan(&sc.ID, &sc.CaseID, &sc.FromState, &sc.ToState, &sc.HoldReason,
			&sc.Event, &sc.ActorID, &sc.Note, &sc.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &sc)
	}
	return items, rows.Err()
}
