package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/evmotors/dms/internal/lifecycle"
	"github.com/evmotors/dms/internal/platform/db"
	"github.com/evmotors/dms/internal/shared"
)

// TxRepository exposes billing writes inside a transaction.
type TxRepository interface {
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	// ApplyPayment writes the new paid amount and status, guarded on the
	// previous paid amount so concurrent payments never double-apply.
	ApplyPayment(ctx context.Context, invoiceID int64, prevPaid, newPaid decimal.Decimal, status lifecycle.Status) error
	UpdateInvoiceStatus(ctx context.Context, id int64, from, to lifecycle.Status) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	CreatePlan(ctx context.Context, plan InstallmentPlan) (int64, error)
	InsertSchedule(ctx context.Context, sch Schedule) (int64, error)
	ApplySchedulePayment(ctx context.Context, scheduleID int64, prevPaid, newPaid decimal.Decimal, status ScheduleStatus, paidAt *time.Time) error
	MarkScheduleOverdue(ctx context.Context, scheduleID int64) error
	UpdatePlanStatus(ctx context.Context, planID int64, status PlanStatus) error
}

// Repository persists billing documents in PostgreSQL.
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
		return errors.New("billing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GenerateNumber allocates the next invoice number for the month.
func (r *Repository) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	var seq int64
	period := date.Format("200601")
	err := r.pool.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, seq)
		VALUES ('INV', $1, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, period).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%s-%04d", period, seq), nil
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO invoices
(doc_number, source_type, order_id, dealer_order_id, customer_id, dealer_id, issue_date, due_date,
subtotal, tax_amount, discount_amount, total_amount, paid_amount, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW(),NOW()) RETURNING id`,
		inv.DocNumber, string(inv.SourceType), inv.OrderID, inv.DealerOrderID, inv.CustomerID, inv.DealerID,
		inv.IssueDate, inv.DueDate, inv.Subtotal, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount,
		inv.PaidAmount, string(inv.Status), inv.CreatedBy).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *txRepository) ApplyPayment(ctx context.Context, invoiceID int64, prevPaid, newPaid decimal.Decimal, status lifecycle.Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET paid_amount=$2, status=$3, updated_at=NOW()
WHERE id=$1 AND paid_amount=$4`, invoiceID, newPaid, string(status), prevPaid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %d changed while recording payment", shared.ErrConflict, invoiceID)
	}
	return nil
}

func (t *txRepository) UpdateInvoiceStatus(ctx context.Context, id int64, from, to lifecycle.Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET status=$2, updated_at=NOW() WHERE id=$1 AND status=$3`,
		id, string(to), string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %d no longer %s", shared.ErrConflict, id, from)
	}
	return nil
}

func (t *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO payments (invoice_id, amount, method, paid_at, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		p.InvoiceID, p.Amount, p.Method, p.PaidAt, p.Note, p.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) CreatePlan(ctx context.Context, plan InstallmentPlan) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO installment_plans
(invoice_id, down_payment, months, total_financed, status, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		plan.InvoiceID, plan.DownPayment, plan.Months, plan.TotalFinanced, string(plan.Status), plan.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertSchedule(ctx context.Context, sch Schedule) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO installment_schedules
(plan_id, seq, due_date, amount, paid_amount, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		sch.PlanID, sch.Seq, sch.DueDate, sch.Amount, sch.PaidAmount, string(sch.Status)).Scan(&id)
	return id, err
}

func (t *txRepository) ApplySchedulePayment(ctx context.Context, scheduleID int64, prevPaid, newPaid decimal.Decimal, status ScheduleStatus, paidAt *time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE installment_schedules SET paid_amount=$2, status=$3, paid_at=$4
WHERE id=$1 AND paid_amount=$5`, scheduleID, newPaid, string(status), paidAt, prevPaid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %d changed while applying payment", shared.ErrConflict, scheduleID)
	}
	return nil
}

func (t *txRepository) MarkScheduleOverdue(ctx context.Context, scheduleID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE installment_schedules SET status=$2 WHERE id=$1 AND status=$3`,
		scheduleID, string(ScheduleOverdue), string(SchedulePending))
	return err
}

func (t *txRepository) UpdatePlanStatus(ctx context.Context, planID int64, status PlanStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE installment_plans SET status=$2 WHERE id=$1`, planID, string(status))
	return err
}

const invoiceColumns = `id, doc_number, source_type, order_id, dealer_order_id, customer_id, dealer_id,
issue_date, due_date, subtotal, tax_amount, discount_amount, total_amount, paid_amount, status,
created_by, created_at, updated_at`

// GetInvoice returns an invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id)
	return scanInvoice(row)
}

// GetInvoiceByOrder returns the invoice billing a retail order.
func (r *Repository) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id=$1`, orderID)
	return scanInvoice(row)
}

// ListInvoices returns filtered invoices.
func (r *Repository) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var status any
	if req.Status != nil {
		status = string(*req.Status)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+`, COUNT(*) OVER() AS total FROM invoices
WHERE ($1::text IS NULL OR status=$1)
  AND ($2::bigint IS NULL OR customer_id=$2)
  AND ($3::bigint IS NULL OR dealer_id=$3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, status, req.CustomerID, req.DealerID, limit, req.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Invoice{}
	total := 0
	for rows.Next() {
		inv, err := scanInvoiceRow(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *inv)
	}
	return out, total, rows.Err()
}

// ListPayments returns payments for an invoice, oldest first.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, amount, method, paid_at, note, created_by, created_at
FROM payments WHERE invoice_id=$1 ORDER BY paid_at ASC, id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.PaidAt, &p.Note, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPlanByInvoice returns the installment plan for an invoice with its
// schedules, or ErrNotFound.
func (r *Repository) GetPlanByInvoice(ctx context.Context, invoiceID int64) (*InstallmentPlan, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, invoice_id, down_payment, months, total_financed, status, created_by, created_at
FROM installment_plans WHERE invoice_id=$1`, invoiceID)
	var (
		plan   InstallmentPlan
		status string
	)
	err := row.Scan(&plan.ID, &plan.InvoiceID, &plan.DownPayment, &plan.Months, &plan.TotalFinanced,
		&status, &plan.CreatedBy, &plan.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	plan.Status = PlanStatus(status)
	schedules, err := r.listSchedules(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	plan.Schedules = schedules
	return &plan, nil
}

func (r *Repository) listSchedules(ctx context.Context, planID int64) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, plan_id, seq, due_date, amount, paid_amount, status, paid_at
FROM installment_schedules WHERE plan_id=$1 ORDER BY seq ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Schedule{}
	for rows.Next() {
		var (
			sch    Schedule
			status string
		)
		if err := rows.Scan(&sch.ID, &sch.PlanID, &sch.Seq, &sch.DueDate, &sch.Amount, &sch.PaidAmount, &status, &sch.PaidAt); err != nil {
			return nil, err
		}
		sch.Status = ScheduleStatus(status)
		out = append(out, sch)
	}
	return out, rows.Err()
}

// ListOverdueInvoiceIDs returns open invoices past due with a balance.
func (r *Repository) ListOverdueInvoiceIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM invoices
WHERE status IN ($1,$2) AND due_date < $3 AND paid_amount < total_amount
ORDER BY due_date ASC
LIMIT $4`, string(InvoiceIssued), string(InvoicePartiallyPaid), now, limit)
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

// ListDueScheduleIDs returns pending schedules past their due date, with the
// owning plan id.
func (r *Repository) ListDueScheduleIDs(ctx context.Context, now time.Time, limit int) (map[int64]int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT id, plan_id FROM installment_schedules
WHERE status=$1 AND due_date < $2
ORDER BY due_date ASC
LIMIT $3`, string(SchedulePending), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]int64{}
	for rows.Next() {
		var id, planID int64
		if err := rows.Scan(&id, &planID); err != nil {
			return nil, err
		}
		out[id] = planID
	}
	return out, rows.Err()
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv        Invoice
		sourceType string
		status     string
	)
	err := row.Scan(&inv.ID, &inv.DocNumber, &sourceType, &inv.OrderID, &inv.DealerOrderID, &inv.CustomerID,
		&inv.DealerID, &inv.IssueDate, &inv.DueDate, &inv.Subtotal, &inv.TaxAmount, &inv.DiscountAmount,
		&inv.TotalAmount, &inv.PaidAmount, &status, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	inv.SourceType = SourceType(sourceType)
	inv.Status = lifecycle.Status(status)
	return &inv, nil
}

func scanInvoiceRow(rows pgx.Rows, total *int) (*Invoice, error) {
	var (
		inv        Invoice
		sourceType string
		status     string
	)
	err := rows.Scan(&inv.ID, &inv.DocNumber, &sourceType, &inv.OrderID, &inv.DealerOrderID, &inv.CustomerID,
		&inv.DealerID, &inv.IssueDate, &inv.DueDate, &inv.Subtotal, &inv.TaxAmount, &inv.DiscountAmount,
		&inv.TotalAmount, &inv.PaidAmount, &status, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt, total)
	if err != nil {
		return nil, err
	}
	inv.SourceType = SourceType(sourceType)
	inv.Status = lifecycle.Status(status)
	return &inv, nil
}
