package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evmotors/dms/internal/lifecycle"
	"github.com/evmotors/dms/internal/platform/db"
	"github.com/evmotors/dms/internal/pricing/policy"
	"github.com/evmotors/dms/internal/shared"
)

// TxRepository exposes sales writes inside a transaction. Tx surfaces the
// underlying transaction so ledger operations can join it.
type TxRepository interface {
	Tx() pgx.Tx
	CreateQuotation(ctx context.Context, q Quotation) (int64, error)
	InsertQuotationLine(ctx context.Context, line QuotationLine) (int64, error)
	UpdateQuotationStatus(ctx context.Context, id int64, from, to lifecycle.Status) error
	LinkQuotationOrder(ctx context.Context, id int64, orderID, dealerOrderID *int64) error
	CreateOrder(ctx context.Context, o Order) (int64, error)
	UpdateOrderStatus(ctx context.Context, id int64, from, to lifecycle.Status) error
	SetOrderUnit(ctx context.Context, id int64, unitID *int64) error
	CreateDealerOrder(ctx context.Context, o DealerOrder) (int64, error)
	InsertDealerOrderLine(ctx context.Context, line DealerOrderLine) (int64, error)
	UpdateDealerOrderStatus(ctx context.Context, id int64, from, to lifecycle.Status) error
	SetDealerOrderApproval(ctx context.Context, id int64, status ApprovalStatus) error
	AttachLineUnit(ctx context.Context, lineID, unitID int64) error
}

// Repository persists sales documents in PostgreSQL.
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
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Join wraps an existing transaction so sales writes can run atomically with
// another module's writes (delivery handover).
func (r *Repository) Join(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// GenerateNumber allocates the next document number for the type and month,
// e.g. QUO-202608-0001. The upsert makes allocation atomic across writers.
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

func (t *txRepository) CreateQuotation(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO quotations
(doc_number, buyer_type, customer_id, dealer_id, region, quote_date, validity_days, status,
tax_percent, subtotal, discount_amount, tax_amount, total_amount, notes, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW(),NOW()) RETURNING id`,
		q.DocNumber, string(q.BuyerType), q.CustomerID, q.DealerID, q.Region, q.QuoteDate, q.ValidityDays,
		string(q.Status), q.TaxPercent, q.Subtotal, q.DiscountAmount, q.TaxAmount, q.TotalAmount,
		q.Notes, q.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertQuotationLine(ctx context.Context, line QuotationLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO quotation_lines
(quotation_id, variant_id, color_id, quantity, unit_price, discount_percent, discount_override, discount_amount, line_total, policy_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		line.QuotationID, line.VariantID, line.ColorID, line.Quantity, line.UnitPrice,
		line.DiscountPercent, line.DiscountOverride, line.DiscountAmount, line.LineTotal, line.PolicyID).Scan(&id)
	return id, err
}

// UpdateQuotationStatus guards on the expected current status. Zero rows
// affected means another writer moved the document first.
func (t *txRepository) UpdateQuotationStatus(ctx context.Context, id int64, from, to lifecycle.Status) error {
	return guardedStatusUpdate(ctx, t.tx, "quotations", id, from, to)
}

func (t *txRepository) LinkQuotationOrder(ctx context.Context, id int64, orderID, dealerOrderID *int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE quotations SET order_id=$2, dealer_order_id=$3, updated_at=NOW() WHERE id=$1`,
		id, orderID, dealerOrderID)
	return err
}

func (t *txRepository) CreateOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO orders
(doc_number, customer_id, quotation_id, unit_id, variant_id, color_id, status,
subtotal, discount_amount, tax_amount, total_amount, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW(),NOW()) RETURNING id`,
		o.DocNumber, o.CustomerID, o.QuotationID, o.UnitID, o.VariantID, o.ColorID, string(o.Status),
		o.Subtotal, o.DiscountAmount, o.TaxAmount, o.TotalAmount, o.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) UpdateOrderStatus(ctx context.Context, id int64, from, to lifecycle.Status) error {
	return guardedStatusUpdate(ctx, t.tx, "orders", id, from, to)
}

func (t *txRepository) SetOrderUnit(ctx context.Context, id int64, unitID *int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET unit_id=$2, updated_at=NOW() WHERE id=$1`, id, unitID)
	return err
}

func (t *txRepository) CreateDealerOrder(ctx context.Context, o DealerOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO dealer_orders
(doc_number, dealer_id, quotation_id, status, approval_status,
subtotal, discount_amount, tax_amount, total_amount, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW()) RETURNING id`,
		o.DocNumber, o.DealerID, o.QuotationID, string(o.Status), string(o.ApprovalStatus),
		o.Subtotal, o.DiscountAmount, o.TaxAmount, o.TotalAmount, o.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertDealerOrderLine(ctx context.Context, line DealerOrderLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO dealer_order_lines
(dealer_order_id, variant_id, color_id, quantity, unit_price, discount_amount, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		line.DealerOrderID, line.VariantID, line.ColorID, line.Quantity,
		line.UnitPrice, line.DiscountAmount, line.LineTotal).Scan(&id)
	return id, err
}

func (t *txRepository) UpdateDealerOrderStatus(ctx context.Context, id int64, from, to lifecycle.Status) error {
	return guardedStatusUpdate(ctx, t.tx, "dealer_orders", id, from, to)
}

func (t *txRepository) SetDealerOrderApproval(ctx context.Context, id int64, status ApprovalStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE dealer_orders SET approval_status=$2, updated_at=NOW()
WHERE id=$1 AND approval_status=$3`, id, string(status), string(ApprovalPending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: dealer order %d already reviewed", shared.ErrConflict, id)
	}
	return nil
}

func (t *txRepository) AttachLineUnit(ctx context.Context, lineID, unitID int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO dealer_order_line_units (line_id, unit_id) VALUES ($1,$2)`, lineID, unitID)
	return err
}

func guardedStatusUpdate(ctx context.Context, tx pgx.Tx, table string, id int64, from, to lifecycle.Status) error {
	tag, err := tx.Exec(ctx, `UPDATE `+table+` SET status=$2, updated_at=NOW() WHERE id=$1 AND status=$3`,
		id, string(to), string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %d no longer %s", shared.ErrConflict, table, id, from)
	}
	return nil
}

const quotationColumns = `id, doc_number, buyer_type, customer_id, dealer_id, region, quote_date, validity_days,
status, tax_percent, subtotal, discount_amount, tax_amount, total_amount, notes, order_id, dealer_order_id,
created_by, created_at, updated_at`

// GetQuotation returns a quotation with its lines.
func (r *Repository) GetQuotation(ctx context.Context, id int64) (*Quotation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id=$1`, id)
	q, err := scanQuotation(row)
	if err != nil {
		return nil, err
	}
	lines, err := r.listQuotationLines(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Lines = lines
	return q, nil
}

func (r *Repository) listQuotationLines(ctx context.Context, quotationID int64) ([]QuotationLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, quotation_id, variant_id, color_id, quantity, unit_price,
discount_percent, discount_override, discount_amount, line_total, policy_id
FROM quotation_lines WHERE quotation_id=$1 ORDER BY id ASC`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []QuotationLine{}
	for rows.Next() {
		var l QuotationLine
		if err := rows.Scan(&l.ID, &l.QuotationID, &l.VariantID, &l.ColorID, &l.Quantity, &l.UnitPrice,
			&l.DiscountPercent, &l.DiscountOverride, &l.DiscountAmount, &l.LineTotal, &l.PolicyID); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ListQuotations returns filtered quotations without lines.
func (r *Repository) ListQuotations(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+quotationColumns+`, COUNT(*) OVER() AS total FROM quotations
WHERE ($1::text IS NULL OR status=$1)
  AND ($2::bigint IS NULL OR dealer_id=$2)
  AND ($3::bigint IS NULL OR customer_id=$3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, statusArg(req.Status), req.DealerID, req.CustomerID, limit, req.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Quotation{}
	total := 0
	for rows.Next() {
		q, err := scanQuotationRow(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *q)
	}
	return out, total, rows.Err()
}

// ListExpirableQuotationIDs returns ids of open quotations whose validity
// window ended before now.
func (r *Repository) ListExpirableQuotationIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM quotations
WHERE status IN ($1,$2) AND quote_date + validity_days * INTERVAL '1 day' < $3
ORDER BY quote_date ASC
LIMIT $4`, string(QuotationPending), string(QuotationSent), now, limit)
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

const orderColumns = `id, doc_number, customer_id, quotation_id, unit_id, variant_id, color_id, status,
subtotal, discount_amount, tax_amount, total_amount, created_by, created_at, updated_at`

// GetOrder returns a retail order.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

// ListOrders returns filtered retail orders.
func (r *Repository) ListOrders(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+`, COUNT(*) OVER() AS total FROM orders
WHERE ($1::text IS NULL OR status=$1)
  AND ($2::bigint IS NULL OR customer_id=$2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`, statusArg(req.Status), req.CustomerID, limit, req.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Order{}
	total := 0
	for rows.Next() {
		var o Order
		var status string
		if err := rows.Scan(&o.ID, &o.DocNumber, &o.CustomerID, &o.QuotationID, &o.UnitID, &o.VariantID,
			&o.ColorID, &status, &o.Subtotal, &o.DiscountAmount, &o.TaxAmount, &o.TotalAmount,
			&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &total); err != nil {
			return nil, 0, err
		}
		o.Status = lifecycle.Status(status)
		out = append(out, o)
	}
	return out, total, rows.Err()
}

const dealerOrderColumns = `id, doc_number, dealer_id, quotation_id, status, approval_status,
subtotal, discount_amount, tax_amount, total_amount, created_by, created_at, updated_at`

// GetDealerOrder returns a dealer order with lines and reserved units.
func (r *Repository) GetDealerOrder(ctx context.Context, id int64) (*DealerOrder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dealerOrderColumns+` FROM dealer_orders WHERE id=$1`, id)
	o, err := scanDealerOrder(row)
	if err != nil {
		return nil, err
	}
	lines, err := r.listDealerOrderLines(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return o, nil
}

func (r *Repository) listDealerOrderLines(ctx context.Context, orderID int64) ([]DealerOrderLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.id, l.dealer_order_id, l.variant_id, l.color_id, l.quantity,
l.unit_price, l.discount_amount, l.line_total,
COALESCE(array_agg(u.unit_id) FILTER (WHERE u.unit_id IS NOT NULL), '{}') AS unit_ids
FROM dealer_order_lines l
LEFT JOIN dealer_order_line_units u ON u.line_id = l.id
WHERE l.dealer_order_id=$1
GROUP BY l.id
ORDER BY l.id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []DealerOrderLine{}
	for rows.Next() {
		var l DealerOrderLine
		if err := rows.Scan(&l.ID, &l.DealerOrderID, &l.VariantID, &l.ColorID, &l.Quantity,
			&l.UnitPrice, &l.DiscountAmount, &l.LineTotal, &l.ReservedUnitIDs); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ListDealerOrders returns filtered dealer orders without lines.
func (r *Repository) ListDealerOrders(ctx context.Context, req ListDealerOrdersRequest) ([]DealerOrder, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var approval any
	if req.Approval != nil {
		approval = string(*req.Approval)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+dealerOrderColumns+`, COUNT(*) OVER() AS total FROM dealer_orders
WHERE ($1::text IS NULL OR status=$1)
  AND ($2::bigint IS NULL OR dealer_id=$2)
  AND ($3::text IS NULL OR approval_status=$3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, statusArg(req.Status), req.DealerID, approval, limit, req.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []DealerOrder{}
	total := 0
	for rows.Next() {
		var o DealerOrder
		var status, approvalStatus string
		if err := rows.Scan(&o.ID, &o.DocNumber, &o.DealerID, &o.QuotationID, &status, &approvalStatus,
			&o.Subtotal, &o.DiscountAmount, &o.TaxAmount, &o.TotalAmount,
			&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &total); err != nil {
			return nil, 0, err
		}
		o.Status = lifecycle.Status(status)
		o.ApprovalStatus = ApprovalStatus(approvalStatus)
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func buyerTypeFromString(s string) policy.BuyerType { return policy.BuyerType(s) }

func statusArg(s *lifecycle.Status) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var (
		q         Quotation
		buyerType string
		status    string
	)
	err := row.Scan(&q.ID, &q.DocNumber, &buyerType, &q.CustomerID, &q.DealerID, &q.Region, &q.QuoteDate,
		&q.ValidityDays, &status, &q.TaxPercent, &q.Subtotal, &q.DiscountAmount, &q.TaxAmount, &q.TotalAmount,
		&q.Notes, &q.OrderID, &q.DealerOrderID, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	q.BuyerType = buyerTypeFromString(buyerType)
	q.Status = lifecycle.Status(status)
	return &q, nil
}

func scanQuotationRow(rows pgx.Rows, total *int) (*Quotation, error) {
	var (
		q         Quotation
		buyerType string
		status    string
	)
	err := rows.Scan(&q.ID, &q.DocNumber, &buyerType, &q.CustomerID, &q.DealerID, &q.Region, &q.QuoteDate,
		&q.ValidityDays, &status, &q.TaxPercent, &q.Subtotal, &q.DiscountAmount, &q.TaxAmount, &q.TotalAmount,
		&q.Notes, &q.OrderID, &q.DealerOrderID, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt, total)
	if err != nil {
		return nil, err
	}
	q.BuyerType = buyerTypeFromString(buyerType)
	q.Status = lifecycle.Status(status)
	return &q, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.DocNumber, &o.CustomerID, &o.QuotationID, &o.UnitID, &o.VariantID, &o.ColorID,
		&status, &o.Subtotal, &o.DiscountAmount, &o.TaxAmount, &o.TotalAmount, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	o.Status = lifecycle.Status(status)
	return &o, nil
}

func scanDealerOrder(row pgx.Row) (*DealerOrder, error) {
	var (
		o              DealerOrder
		status         string
		approvalStatus string
	)
	err := row.Scan(&o.ID, &o.DocNumber, &o.DealerID, &o.QuotationID, &status, &approvalStatus,
		&o.Subtotal, &o.DiscountAmount, &o.TaxAmount, &o.TotalAmount, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	o.Status = lifecycle.Status(status)
	o.ApprovalStatus = ApprovalStatus(approvalStatus)
	return &o, nil
}
