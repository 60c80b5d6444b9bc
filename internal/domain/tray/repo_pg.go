package tray

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

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type trayRepoPG struct{ pool *pgxpool.Pool }

func NewTrayRepoPG(pool *pgxpool.Pool) TrayRepository {
	return &trayRepoPG{pool: pool}
}

func (r *trayRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const (
	codeConstraint = "tray_code_uq"
	caseIndex      = "tray_case_uq"
)

const trayCols = `id, code, state, notes, case_id, assigned_by, assigned_at,
	released_by, released_at, created_at, updated_at`

const occCols = `id, tray_id, case_id, assigned_by, assigned_at, assign_notes,
	released_by, released_at, release_kind, release_notes, manual_reason, manual_observations`

func (r *trayRepoPG) scanTray(row pgx.Row) (*Tray, error) {
	var t Tray
	err := row.Scan(&t.ID, &t.Code, &t.State, &t.Notes, &t.CaseID, &t.AssignedBy, &t.AssignedAt,
		&t.ReleasedBy, &t.ReleasedAt, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *trayRepoPG) scanOccupancy(row pgx.Row) (*Occupancy, error) {
	var o Occupancy
	err := row.Scan(&o.ID, &o.TrayID, &o.CaseID, &o.AssignedBy, &o.AssignedAt, &o.AssignNotes,
		&o.ReleasedBy, &o.ReleasedAt, &o.ReleaseKind, &o.ReleaseNotes, &o.ManualReason, &o.ManualObservations)
	return &o, err
}

func notFound() error {
	return apperr.New(apperr.CodeTrayNotFound, "tray not found")
}

func (r *trayRepoPG) Create(ctx context.Context, t *Tray) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO tray (id, code, state, notes)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at`,
		t.ID, t.Code, t.State, t.Notes).Scan(&t.CreatedAt, &t.UpdatedAt)
	if db.IsUniqueViolation(err, codeConstraint) {
		return apperr.WithMetadata(apperr.CodeTrayCodeTaken, "tray code already exists",
			map[string]string{"code": t.Code})
	}
	if err != nil {
		return fmt.Errorf("insert tray: %w", err)
	}
	return nil
}

func (r *trayRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Tray, error) {
	t, err := r.scanTray(r.conn(ctx).QueryRow(ctx, `SELECT `+trayCols+` FROM tray WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, notFound()
	}
	if err != nil {
		return nil, fmt.Errorf("get tray: %w", err)
	}
	return t, nil
}

func (r *trayRepoPG) GetByCase(ctx context.Context, caseID uuid.UUID) (*Tray, error) {
	t, err := r.scanTray(r.conn(ctx).QueryRow(ctx, `SELECT `+trayCols+` FROM tray WHERE case_id = $1`, caseID))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tray by case: %w", err)
	}
	return t, nil
}

func (r *trayRepoPG) List(ctx context.Context) ([]*Tray, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+trayCols+` FROM tray ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list trays: %w", err)
	}
	defer rows.Close()
	var items []*Tray
	for rows.Next() {
		t, err := r.scanTray(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *trayRepoPG) FirstAvailable(ctx context.Context) (*Tray, error) {
	// SKIP LOCKED lets concurrent allocations pick different trays instead
	// of queueing on the same row.
	t, err := r.scanTray(r.conn(ctx).QueryRow(ctx, `
		SELECT `+trayCols+` FROM tray WHERE state = 'available'
		ORDER BY code LIMIT 1 FOR UPDATE SKIP LOCKED`))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first available tray: %w", err)
	}
	return t, nil
}

// guardFailure turns a compare-and-swap that matched no row into not found
// or the given guard error.
func (r *trayRepoPG) guardFailure(ctx context.Context, trayID uuid.UUID, guard error) error {
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tray WHERE id = $1)`, trayID).Scan(&exists); err != nil {
		return fmt.Errorf("check tray: %w", err)
	}
	if !exists {
		return notFound()
	}
	return guard
}

func (r *trayRepoPG) Occupy(ctx context.Context, trayID, caseID uuid.UUID, by string, at time.Time) (*Tray, error) {
	t, err := r.scanTray(r.conn(ctx).QueryRow(ctx, `
		UPDATE tray
		SET state = 'occupied', case_id = $2, assigned_by = $3, assigned_at = $4, updated_at = NOW()
		WHERE id = $1 AND state = 'available'
		RETURNING `+trayCols,
		trayID, caseID, by, at))
	if db.IsUniqueViolation(err, caseIndex) {
		return nil, apperr.WithMetadata(apperr.CodeCaseAlreadyAssigned, "case already occupies another tray",
			map[string]string{"case_id": caseID.String()})
	}
	if db.IsNoRows(err) {
		return nil, r.guardFailure(ctx, trayID,
			apperr.WithMetadata(apperr.CodeTrayUnavailable, "tray is not available",
				map[string]string{"tray_id": trayID.String()}))
	}
	if err != nil {
		return nil, fmt.Errorf("occupy tray: %w", err)
	}
	return t, nil
}

func (r *trayRepoPG) Vacate(ctx context.Context, trayID uuid.UUID, by string, at time.Time) (*Tray, error) {
	t, err := r.scanTray(r.conn(ctx).QueryRow(ctx, `
		UPDATE tray
		SET state = 'available', case_id = NULL, released_by = $2, released_at = $3, updated_at = NOW()
		WHERE id = $1 AND state = 'occupied'
		RETURNING `+trayCols,
		trayID, by, at))
	if db.IsNoRows(err) {
		return nil, r.guardFailure(ctx, trayID,
			apperr.WithMetadata(apperr.CodeTrayNotOccupied, "tray is not occupied",
				map[string]string{"tray_id": trayID.String()}))
	}
	if err != nil {
		return nil, fmt.Errorf("vacate tray: %w", err)
	}
	return t, nil
}

func (r *trayRepoPG) SetState(ctx context.Context, trayID uuid.UUID, state State, notes string) (*Tray, error) {
	t, err := r.scanTray(r.conn(ctx).QueryRow(ctx, `
		UPDATE tray SET state = $2, notes = $3, updated_at = NOW()
		WHERE id = $1 AND state <> 'occupied'
		RETURNING `+trayCols,
		trayID, state, notes))
	if db.IsNoRows(err) {
		return nil, r.guardFailure(ctx, trayID,
			apperr.WithMetadata(apperr.CodeTrayOccupied, "tray is occupied",
				map[string]string{"tray_id": trayID.String()}))
	}
	if err != nil {
		return nil, fmt.Errorf("set tray state: %w", err)
	}
	return t, nil
}

func (r *trayRepoPG) OpenOccupancy(ctx context.Context, o *Occupancy) error {
	o.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO tray_occupancy (id, tray_id, case_id, assigned_by, assigned_at, assign_notes)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		o.ID, o.TrayID, o.CaseID, o.AssignedBy, o.AssignedAt, o.AssignNotes)
	if err != nil {
		return fmt.Errorf("insert tray occupancy: %w", err)
	}
	return nil
}

func (r *trayRepoPG) CloseOccupancy(ctx context.Context, trayID uuid.UUID, c Closure) (*Occupancy, error) {
	o, err := r.scanOccupancy(r.conn(ctx).QueryRow(ctx, `
		UPDATE tray_occupancy
		SET released_by = $2, released_at = $3, release_kind = $4, release_notes = $5,
			manual_reason = $6, manual_observations = $7
		WHERE tray_id = $1 AND released_at IS NULL
		RETURNING `+occCols,
		trayID, c.By, c.At, c.Kind, c.Notes, c.Reason, c.Observations))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("no open occupancy for tray %s", trayID)
	}
	if err != nil {
		return nil, fmt.Errorf("close tray occupancy: %w", err)
	}
	return o, nil
}

func (r *trayRepoPG) History(ctx context.Context, trayID uuid.UUID) ([]*Occupancy, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+occCols+` FROM tray_occupancy WHERE tray_id = $1 ORDER BY assigned_at DESC`, trayID)
	if err != nil {
		return nil, fmt.Errorf("list tray occupancy: %w", err)
	}
	defer rows.Close()
	var items []*Occupancy
	for rows.Next() {
		o, err := r.scanOccupancy(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}
