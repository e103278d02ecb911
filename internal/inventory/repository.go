package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evmotors/dms/internal/platform/db"
	"github.com/evmotors/dms/internal/shared"
)

// pgLockNotAvailable is the SQLSTATE raised by FOR UPDATE NOWAIT when the
// row lock is held elsewhere.
const pgLockNotAvailable = "55P03"

// LedgerTx exposes the per-unit read-modify-write operations available inside
// a transaction. Every mutating ledger operation locks the unit row first.
type LedgerTx interface {
	GetUnitForUpdate(ctx context.Context, id int64) (*VehicleUnit, error)
	GetUnitByVINForUpdate(ctx context.Context, vin string) (*VehicleUnit, error)
	PickAvailableForUpdate(ctx context.Context, variantID, colorID int64) (*VehicleUnit, error)
	UpdateUnitState(ctx context.Context, unit *VehicleUnit) error
	InsertUnit(ctx context.Context, unit VehicleUnit) (int64, error)
}

// Repository persists vehicle units in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, LedgerTx) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx})
	})
}

// Join wraps an existing transaction so ledger operations can run atomically
// with another module's writes (order cancellation, delivery consumption).
// Unit rows are still only ever written through this package.
func (r *Repository) Join(tx pgx.Tx) LedgerTx {
	return &ledgerTx{tx: tx}
}

type ledgerTx struct {
	tx pgx.Tx
}

const unitColumns = `id, vin, variant_id, color_id, warehouse_location, condition, status,
cost_price, selling_price, reserved_for_dealer_id, reserved_for_customer_id, reservation_ref,
reserved_at, reservation_expires_at, sale_ref, arrival_date, archived, version, created_at, updated_at`

func (l *ledgerTx) GetUnitForUpdate(ctx context.Context, id int64) (*VehicleUnit, error) {
	row := l.tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM vehicle_units WHERE id=$1 FOR UPDATE NOWAIT`, id)
	return scanUnit(row)
}

func (l *ledgerTx) GetUnitByVINForUpdate(ctx context.Context, vin string) (*VehicleUnit, error) {
	row := l.tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM vehicle_units WHERE vin=$1 FOR UPDATE NOWAIT`, vin)
	return scanUnit(row)
}

// PickAvailableForUpdate selects the oldest-arrival available unit of the
// class. SKIP LOCKED lets concurrent class reservations pick distinct units
// instead of contending on the same row.
func (l *ledgerTx) PickAvailableForUpdate(ctx context.Context, variantID, colorID int64) (*VehicleUnit, error) {
	row := l.tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM vehicle_units
WHERE variant_id=$1 AND color_id=$2 AND status=$3 AND NOT archived
ORDER BY arrival_date ASC, id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`, variantID, colorID, string(StatusAvailable))
	unit, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrNotAvailable
		}
		return nil, err
	}
	return unit, nil
}

// UpdateUnitState writes status/reservation fields with a version check.
// A version mismatch means a concurrent writer won; callers see ErrConflict.
func (l *ledgerTx) UpdateUnitState(ctx context.Context, unit *VehicleUnit) error {
	tag, err := l.tx.Exec(ctx, `UPDATE vehicle_units SET
status=$1, reserved_for_dealer_id=$2, reserved_for_customer_id=$3, reservation_ref=$4,
reserved_at=$5, reservation_expires_at=$6, sale_ref=$7, archived=$8, version=version+1, updated_at=NOW()
WHERE id=$9 AND version=$10`,
		string(unit.Status), unit.ReservedForDealerID, unit.ReservedForCustomerID, unit.ReservationRef,
		unit.ReservedAt, unit.ReservationExpiresAt, unit.SaleRef, unit.Archived, unit.ID, unit.Version)
	if err != nil {
		return mapLockErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unit %d version %d stale", shared.ErrConflict, unit.ID, unit.Version)
	}
	unit.Version++
	return nil
}

func (l *ledgerTx) InsertUnit(ctx context.Context, unit VehicleUnit) (int64, error) {
	var id int64
	err := l.tx.QueryRow(ctx, `INSERT INTO vehicle_units
(vin, variant_id, color_id, warehouse_location, condition, status, cost_price, selling_price, arrival_date, archived, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,1,NOW(),NOW()) RETURNING id`,
		unit.VIN, unit.VariantID, unit.ColorID, unit.WarehouseLocation, string(unit.Condition),
		string(unit.Status), unit.CostPrice, unit.SellingPrice, unit.ArrivalDate).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: vin %s already in stock", shared.ErrConflict, unit.VIN)
		}
		return 0, err
	}
	return id, nil
}

// GetUnit reads a unit without locking.
func (r *Repository) GetUnit(ctx context.Context, id int64) (*VehicleUnit, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM vehicle_units WHERE id=$1`, id)
	return scanUnit(row)
}

// GetUnitByVIN reads a unit by VIN without locking.
func (r *Repository) GetUnitByVIN(ctx context.Context, vin string) (*VehicleUnit, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM vehicle_units WHERE vin=$1`, vin)
	return scanUnit(row)
}

// ListUnits returns filtered units plus the total count.
func (r *Repository) ListUnits(ctx context.Context, req ListUnitsRequest) ([]VehicleUnit, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+unitColumns+`, COUNT(*) OVER() AS total FROM vehicle_units
WHERE ($1::bigint IS NULL OR variant_id=$1)
  AND ($2::bigint IS NULL OR color_id=$2)
  AND ($3::text IS NULL OR status=$3)
  AND NOT archived
ORDER BY arrival_date ASC, id ASC
LIMIT $4 OFFSET $5`, req.VariantID, req.ColorID, statusArg(req.Status), limit, req.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	units := []VehicleUnit{}
	total := 0
	for rows.Next() {
		unit, err := scanUnitWithTotal(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		units = append(units, *unit)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return units, total, nil
}

// ListExpiredReservedIDs returns ids of reserved units whose hold lapsed
// before now. The sweep revisits each id under its own row lock.
func (r *Repository) ListExpiredReservedIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM vehicle_units
WHERE status=$1 AND reservation_expires_at < $2
ORDER BY reservation_expires_at ASC
LIMIT $3`, string(StatusReserved), now, limit)
	if err != nil {
		return nil, err
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

func statusArg(s *UnitStatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func mapLockErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: unit row locked", shared.ErrConflict)
	}
	return err
}

func scanUnit(row pgx.Row) (*VehicleUnit, error) {
	var (
		u         VehicleUnit
		condition string
		status    string
	)
	err := row.Scan(&u.ID, &u.VIN, &u.VariantID, &u.ColorID, &u.WarehouseLocation, &condition, &status,
		&u.CostPrice, &u.SellingPrice, &u.ReservedForDealerID, &u.ReservedForCustomerID, &u.ReservationRef,
		&u.ReservedAt, &u.ReservationExpiresAt, &u.SaleRef, &u.ArrivalDate, &u.Archived, &u.Version,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, mapLockErr(err)
	}
	u.Condition = Condition(condition)
	u.Status = UnitStatus(status)
	return &u, nil
}

func scanUnitWithTotal(rows pgx.Rows, total *int) (*VehicleUnit, error) {
	var (
		u         VehicleUnit
		condition string
		status    string
	)
	err := rows.Scan(&u.ID, &u.VIN, &u.VariantID, &u.ColorID, &u.WarehouseLocation, &condition, &status,
		&u.CostPrice, &u.SellingPrice, &u.ReservedForDealerID, &u.ReservedForCustomerID, &u.ReservationRef,
		&u.ReservedAt, &u.ReservationExpiresAt, &u.SaleRef, &u.ArrivalDate, &u.Archived, &u.Version,
		&u.CreatedAt, &u.UpdatedAt, total)
	if err != nil {
		return nil, err
	}
	u.Condition = Condition(condition)
	u.Status = UnitStatus(status)
	return &u, nil
}
