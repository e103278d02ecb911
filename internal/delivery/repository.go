package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evmotors/dms/internal/lifecycle"
	"github.com/evmotors/dms/internal/platform/db"
	"github.com/evmotors/dms/internal/shared"
)

// TxRepository exposes delivery writes inside a transaction. Tx surfaces the
// underlying transaction so ledger and order writes can join it.
type TxRepository interface {
	Tx() pgx.Tx
	CreateDelivery(ctx context.Context, d Delivery) (int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to lifecycle.Status) error
	Schedule(ctx context.Context, id int64, at time.Time, from lifecycle.Status) error
	MarkDeliveredRow(ctx context.Context, id int64, at time.Time, from lifecycle.Status) error
	CountDelivered(ctx context.Context, dealerOrderID int64) (int64, error)
}

// Repository persists deliveries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("delivery repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GenerateNumber allocates the next delivery number for the month,
// e.g. DLV-202608-0001.
func (r *Repository) GenerateNumber(ctx context.Context, docType string, date time.Time) (string, error) {
	var seq int64
	period := date.Format("200601")
	err := r.pool.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, docType, period).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", docType, period, seq), nil
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) Tx() pgx.Tx { return t.tx }

func (t *txRepository) CreateDelivery(ctx context.Context, d Delivery) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO deliveries
(doc_number, order_id, dealer_order_id, dealer_order_line_id, unit_id, status, address, notes, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id`,
		d.DocNumber, d.OrderID, d.DealerOrderID, d.DealerOrderLineID, d.UnitID,
		string(d.Status), d.Address, d.Notes, d.CreatedBy).Scan(&id)
	return id, err
}

// UpdateStatus guards on the expected current status. Zero rows affected
// means another writer moved the delivery first.
func (t *txRepository) UpdateStatus(ctx context.Context, id int64, from, to lifecycle.Status) error {
	return t.guarded(ctx, id, from,
		`UPDATE deliveries SET status=$2, updated_at=NOW() WHERE id=$1 AND status=$3`,
		id, string(to), string(from))
}

func (t *txRepository) Schedule(ctx context.Context, id int64, at time.Time, from lifecycle.Status) error {
	return t.guarded(ctx, id, from,
		`UPDATE deliveries SET status=$2, scheduled_at=$3, updated_at=NOW() WHERE id=$1 AND status=$4`,
		id, string(DeliveryScheduled), at, string(from))
}

func (t *txRepository) MarkDeliveredRow(ctx context.Context, id int64, at time.Time, from lifecycle.Status) error {
	return t.guarded(ctx, id, from,
		`UPDATE deliveries SET status=$2, delivered_at=$3, updated_at=NOW() WHERE id=$1 AND status=$4`,
		id, string(DeliveryDelivered), at, string(from))
}

// CountDelivered counts handed-over deliveries for a dealer order, including
// rows written earlier in this transaction.
func (t *txRepository) CountDelivered(ctx context.Context, dealerOrderID int64) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE dealer_order_id=$1 AND status=$2`,
		dealerOrderID, string(DeliveryDelivered)).Scan(&n)
	return n, err
}

func (t *txRepository) guarded(ctx context.Context, id int64, from lifecycle.Status, sql string, args ...any) error {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: delivery %d no longer %s", shared.ErrConflict, id, from)
	}
	return nil
}

const deliveryColumns = `id, doc_number, order_id, dealer_order_id, dealer_order_line_id, unit_id,
status, address, notes, scheduled_at, delivered_at, created_by, created_at, updated_at`

// GetDelivery loads one delivery.
func (r *Repository) GetDelivery(ctx context.Context, id int64) (*Delivery, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id=$1`, id)
	return scanDelivery(row)
}

// FindActiveByUnit returns the open or completed delivery for a unit, if any.
// Cancelled rows do not block a new delivery for the same unit.
func (r *Repository) FindActiveByUnit(ctx context.Context, unitID int64) (*Delivery, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries
WHERE unit_id=$1 AND status <> $2 ORDER BY created_at DESC LIMIT 1`, unitID, string(DeliveryCancelled))
	return scanDelivery(row)
}

// ListDeliveries pages through deliveries with optional filters.
func (r *Repository) ListDeliveries(ctx context.Context, req ListRequest) ([]Delivery, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	var status *string
	if req.Status != nil {
		s := string(*req.Status)
		status = &s
	}
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+`, COUNT(*) OVER() AS total
FROM deliveries
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::bigint IS NULL OR order_id = $2)
  AND ($3::bigint IS NULL OR dealer_order_id = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, status, req.OrderID, req.DealerOrderID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		out   []Delivery
		total int
	)
	for rows.Next() {
		var (
			d      Delivery
			status string
		)
		if err := rows.Scan(&d.ID, &d.DocNumber, &d.OrderID, &d.DealerOrderID, &d.DealerOrderLineID,
			&d.UnitID, &status, &d.Address, &d.Notes, &d.ScheduledAt, &d.DeliveredAt,
			&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt, &total); err != nil {
			return nil, 0, err
		}
		d.Status = lifecycle.Status(status)
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var (
		d      Delivery
		status string
	)
	err := row.Scan(&d.ID, &d.DocNumber, &d.OrderID, &d.DealerOrderID, &d.DealerOrderLineID,
		&d.UnitID, &status, &d.Address, &d.Notes, &d.ScheduledAt, &d.DeliveredAt,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	d.Status = lifecycle.Status(status)
	return &d, nil
}
