package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/evmotors/dms/internal/pricing"
	"github.com/evmotors/dms/internal/sales"
	"github.com/evmotors/dms/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GenerateNumber(ctx context.Context, date time.Time) (string, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error)
	ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	GetPlanByInvoice(ctx context.Context, invoiceID int64) (*InstallmentPlan, error)
	ListOverdueInvoiceIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ListDueScheduleIDs(ctx context.Context, now time.Time, limit int) (map[int64]int64, error)
}

// OrderSource is the slice of the sales service billing reads from and
// notifies on settlement.
type OrderSource interface {
	GetOrder(ctx context.Context, id int64) (*sales.Order, error)
	GetDealerOrder(ctx context.Context, id int64) (*sales.DealerOrder, error)
	MarkOrderPaid(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service provides invoice, payment and installment operations.
type Service struct {
	repo   RepositoryPort
	orders OrderSource
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, orders OrderSource, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, orders: orders, audit: audit, logger: logger, now: time.Now}
}

// IssueInvoiceForOrder snapshots a confirmed retail order into an ISSUED
// invoice. One invoice per order.
func (s *Service) IssueInvoiceForOrder(ctx context.Context, orderID int64, dueInDays int, actorID int64) (*Invoice, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case sales.OrderConfirmed, sales.OrderPaid:
	default:
		return nil, fmt.Errorf("%w: cannot invoice %s order %s", shared.ErrInvalidTransition, o.Status, o.DocNumber)
	}
	existing, err := s.repo.GetInvoiceByOrder(ctx, orderID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: order %s already invoiced as %s", shared.ErrConflict, o.DocNumber, existing.DocNumber)
	}
	return s.issue(ctx, Invoice{
		SourceType:     SourceOrder,
		OrderID:        &o.ID,
		CustomerID:     &o.CustomerID,
		Subtotal:       o.Subtotal,
		TaxAmount:      o.TaxAmount,
		DiscountAmount: o.DiscountAmount,
		TotalAmount:    o.TotalAmount,
	}, dueInDays, actorID)
}

// IssueInvoiceForDealerOrder snapshots an approved dealer order into an
// ISSUED invoice.
func (s *Service) IssueInvoiceForDealerOrder(ctx context.Context, dealerOrderID int64, dueInDays int, actorID int64) (*Invoice, error) {
	o, err := s.orders.GetDealerOrder(ctx, dealerOrderID)
	if err != nil {
		return nil, err
	}
	if o.ApprovalStatus != sales.ApprovalApproved {
		return nil, fmt.Errorf("%w: dealer order %s is not approved", shared.ErrInvalidTransition, o.DocNumber)
	}
	return s.issue(ctx, Invoice{
		SourceType:     SourceDealerOrder,
		DealerOrderID:  &o.ID,
		DealerID:       &o.DealerID,
		Subtotal:       o.Subtotal,
		TaxAmount:      o.TaxAmount,
		DiscountAmount: o.DiscountAmount,
		TotalAmount:    o.TotalAmount,
	}, dueInDays, actorID)
}

func (s *Service) issue(ctx context.Context, inv Invoice, dueInDays int, actorID int64) (*Invoice, error) {
	if err := pricing.CheckInvoiceArithmetic(inv.Subtotal, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount); err != nil {
		return nil, err
	}
	if dueInDays <= 0 {
		dueInDays = 30
	}
	now := s.now().UTC()
	docNumber, err := s.repo.GenerateNumber(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("generate doc number: %w", err)
	}
	inv.DocNumber = docNumber
	inv.IssueDate = now
	inv.DueDate = now.AddDate(0, 0, dueInDays)
	inv.PaidAmount = decimal.Zero
	inv.Status = InvoiceIssued
	inv.CreatedBy = actorID

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.CreateInvoice(ctx, inv)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	s.record(ctx, actorID, "billing:ISSUE", id, map[string]any{"doc_number": docNumber})
	return s.repo.GetInvoice(ctx, id)
}

// RecordPayment applies a payment and rolls the invoice status forward. The
// amount also settles installment schedules oldest-first when a plan exists.
// Overpayment is rejected, never clamped.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, paidAt time.Time, method string, actorID int64) (*Invoice, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if InvoiceMachine.IsTerminal(inv.Status) {
		return nil, fmt.Errorf("%w: invoice %s is %s", shared.ErrInvalidTransition, inv.DocNumber, inv.Status)
	}
	newPaid := inv.PaidAmount.Add(amount)
	if newPaid.GreaterThan(inv.TotalAmount) {
		return nil, fmt.Errorf("%w: payment exceeds balance %s", shared.ErrValidation, inv.Balance())
	}
	target := InvoicePartiallyPaid
	if newPaid.Equal(inv.TotalAmount) {
		target = InvoicePaid
	}
	if target != inv.Status {
		if _, err := InvoiceMachine.Transition(inv.Status, target); err != nil {
			return nil, err
		}
	}
	if paidAt.IsZero() {
		paidAt = s.now().UTC()
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ApplyPayment(ctx, invoiceID, inv.PaidAmount, newPaid, target); err != nil {
			return err
		}
		if _, err := tx.InsertPayment(ctx, Payment{
			InvoiceID: invoiceID,
			Amount:    amount,
			Method:    method,
			PaidAt:    paidAt,
			CreatedBy: actorID,
		}); err != nil {
			return err
		}
		return s.settleSchedules(ctx, tx, invoiceID, amount, paidAt)
	})
	if err != nil {
		return nil, err
	}

	if target == InvoicePaid && inv.SourceType == SourceOrder && inv.OrderID != nil {
		if err := s.orders.MarkOrderPaid(ctx, *inv.OrderID); err != nil && s.logger != nil {
			s.logger.Warn("mark order paid", slog.Int64("order_id", *inv.OrderID), slog.Any("error", err))
		}
	}
	s.record(ctx, actorID, "billing:PAYMENT", invoiceID, map[string]any{"amount": amount.String()})
	return s.repo.GetInvoice(ctx, invoiceID)
}

// settleSchedules applies the amount to unpaid schedules in sequence order
// and rolls the plan status up. No plan is not an error.
func (s *Service) settleSchedules(ctx context.Context, tx TxRepository, invoiceID int64, amount decimal.Decimal, paidAt time.Time) error {
	plan, err := s.repo.GetPlanByInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	remaining := amount
	for i := range plan.Schedules {
		if !remaining.IsPositive() {
			break
		}
		sch := &plan.Schedules[i]
		open := sch.Amount.Sub(sch.PaidAmount)
		if !open.IsPositive() {
			continue
		}
		portion := decimal.Min(remaining, open)
		newPaid := sch.PaidAmount.Add(portion)
		status := sch.Status
		var settledAt *time.Time
		if newPaid.Equal(sch.Amount) {
			status = SchedulePaid
			settledAt = &paidAt
		}
		if err := tx.ApplySchedulePayment(ctx, sch.ID, sch.PaidAmount, newPaid, status, settledAt); err != nil {
			return err
		}
		sch.PaidAmount = newPaid
		sch.Status = status
		remaining = remaining.Sub(portion)
	}
	return tx.UpdatePlanStatus(ctx, plan.ID, DerivePlanStatus(plan.Schedules))
}

// CreateInstallmentPlan splits the invoice total minus the down payment into
// equal monthly schedules, any rounding remainder landing on the last one.
func (s *Service) CreateInstallmentPlan(ctx context.Context, invoiceID int64, months int, downPayment decimal.Decimal, firstDue time.Time, actorID int64) (*InstallmentPlan, error) {
	if months < 1 || months > 60 {
		return nil, fmt.Errorf("%w: months must be between 1 and 60", shared.ErrValidation)
	}
	if downPayment.IsNegative() {
		return nil, fmt.Errorf("%w: down payment must not be negative", shared.ErrValidation)
	}
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if InvoiceMachine.IsTerminal(inv.Status) {
		return nil, fmt.Errorf("%w: invoice %s is %s", shared.ErrInvalidTransition, inv.DocNumber, inv.Status)
	}
	if _, err := s.repo.GetPlanByInvoice(ctx, invoiceID); err == nil {
		return nil, fmt.Errorf("%w: invoice %s already has a plan", shared.ErrConflict, inv.DocNumber)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	financed := inv.TotalAmount.Sub(downPayment)
	if !financed.IsPositive() {
		return nil, fmt.Errorf("%w: down payment covers the invoice", shared.ErrValidation)
	}
	if firstDue.IsZero() {
		firstDue = s.now().UTC().AddDate(0, 1, 0)
	}

	monthly := financed.Div(decimal.NewFromInt(int64(months))).RoundDown(2)
	last := financed.Sub(monthly.Mul(decimal.NewFromInt(int64(months - 1))))

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		planID, err := tx.CreatePlan(ctx, InstallmentPlan{
			InvoiceID:     invoiceID,
			DownPayment:   downPayment,
			Months:        months,
			TotalFinanced: financed,
			Status:        PlanActive,
			CreatedBy:     actorID,
		})
		if err != nil {
			return err
		}
		for i := 0; i < months; i++ {
			amount := monthly
			if i == months-1 {
				amount = last
			}
			if _, err := tx.InsertSchedule(ctx, Schedule{
				PlanID:     planID,
				Seq:        i + 1,
				DueDate:    firstDue.AddDate(0, i, 0),
				Amount:     amount,
				PaidAmount: decimal.Zero,
				Status:     SchedulePending,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create installment plan: %w", err)
	}
	s.record(ctx, actorID, "billing:PLAN", invoiceID, map[string]any{"months": months})
	return s.repo.GetPlanByInvoice(ctx, invoiceID)
}

// CancelInvoice voids an unpaid invoice.
func (s *Service) CancelInvoice(ctx context.Context, id int64, actorID int64) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.PaidAmount.IsPositive() {
		return nil, fmt.Errorf("%w: invoice %s has recorded payments", shared.ErrInvalidTransition, inv.DocNumber)
	}
	if _, err := InvoiceMachine.Transition(inv.Status, InvoiceCancelled); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateInvoiceStatus(ctx, id, inv.Status, InvoiceCancelled)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "billing:CANCEL", id, nil)
	return s.repo.GetInvoice(ctx, id)
}

// MarkOverdue flags open invoices past their due date and pending schedules
// past theirs, rolling plan statuses up. Per-record failures are logged and
// skipped. Returns how many records were marked.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	marked := 0

	ids, err := s.repo.ListOverdueInvoiceIDs(ctx, now, 0)
	if err != nil {
		return 0, fmt.Errorf("list overdue invoices: %w", err)
	}
	for _, id := range ids {
		inv, err := s.repo.GetInvoice(ctx, id)
		if err != nil {
			s.warn("overdue invoice read", id, err)
			continue
		}
		if !InvoiceMachine.CanTransition(inv.Status, InvoiceOverdue) || !inv.DueDate.Before(now) {
			continue
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateInvoiceStatus(ctx, id, inv.Status, InvoiceOverdue)
		})
		if err != nil {
			s.warn("mark invoice overdue", id, err)
			continue
		}
		marked++
	}

	due, err := s.repo.ListDueScheduleIDs(ctx, now, 0)
	if err != nil {
		return marked, fmt.Errorf("list due schedules: %w", err)
	}
	plans := map[int64]struct{}{}
	for scheduleID, planID := range due {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.MarkScheduleOverdue(ctx, scheduleID)
		})
		if err != nil {
			s.warn("mark schedule overdue", scheduleID, err)
			continue
		}
		plans[planID] = struct{}{}
		marked++
	}
	for planID := range plans {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdatePlanStatus(ctx, planID, PlanOverdue)
		})
		if err != nil {
			s.warn("roll plan status", planID, err)
		}
	}
	return marked, nil
}

// GetInvoice returns an invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns filtered invoices.
func (s *Service) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	return s.repo.ListInvoices(ctx, req)
}

// ListPayments returns an invoice's payments.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}

// GetPlan returns the installment plan for an invoice.
func (s *Service) GetPlan(ctx context.Context, invoiceID int64) (*InstallmentPlan, error) {
	return s.repo.GetPlanByInvoice(ctx, invoiceID)
}

func (s *Service) warn(msg string, id int64, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg, slog.Int64("id", id), slog.Any("error", err))
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "invoice",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
