// Package billing owns invoices, payments and installment plans. Invoice
// status only ever moves forward from recorded payments, never by edits.
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/evmotors/dms/internal/lifecycle"
)

// Invoice statuses.
const (
	InvoiceIssued        lifecycle.Status = "ISSUED"
	InvoicePartiallyPaid lifecycle.Status = "PARTIALLY_PAID"
	InvoicePaid          lifecycle.Status = "PAID"
	InvoiceOverdue       lifecycle.Status = "OVERDUE"
	InvoiceCancelled     lifecycle.Status = "CANCELLED"
)

// InvoiceMachine drives invoice status changes. PAID and CANCELLED are
// terminal; OVERDUE invoices still accept payments.
var InvoiceMachine = lifecycle.Machine{
	Name: "invoice",
	Transitions: map[lifecycle.Status][]lifecycle.Status{
		InvoiceIssued:        {InvoicePartiallyPaid, InvoicePaid, InvoiceOverdue, InvoiceCancelled},
		InvoicePartiallyPaid: {InvoicePaid, InvoiceOverdue, InvoiceCancelled},
		InvoiceOverdue:       {InvoicePartiallyPaid, InvoicePaid, InvoiceCancelled},
	},
}

// SourceType identifies which document an invoice bills.
type SourceType string

const (
	SourceOrder       SourceType = "ORDER"
	SourceDealerOrder SourceType = "DEALER_ORDER"
)

// Invoice is an immutable amount snapshot of its source document at issue
// time. total = subtotal + tax - discount holds on every write.
type Invoice struct {
	ID             int64            `json:"id" db:"id"`
	DocNumber      string           `json:"doc_number" db:"doc_number"`
	SourceType     SourceType       `json:"source_type" db:"source_type"`
	OrderID        *int64           `json:"order_id,omitempty" db:"order_id"`
	DealerOrderID  *int64           `json:"dealer_order_id,omitempty" db:"dealer_order_id"`
	CustomerID     *int64           `json:"customer_id,omitempty" db:"customer_id"`
	DealerID       *int64           `json:"dealer_id,omitempty" db:"dealer_id"`
	IssueDate      time.Time        `json:"issue_date" db:"issue_date"`
	DueDate        time.Time        `json:"due_date" db:"due_date"`
	Subtotal       decimal.Decimal  `json:"subtotal" db:"subtotal"`
	TaxAmount      decimal.Decimal  `json:"tax_amount" db:"tax_amount"`
	DiscountAmount decimal.Decimal  `json:"discount_amount" db:"discount_amount"`
	TotalAmount    decimal.Decimal  `json:"total_amount" db:"total_amount"`
	PaidAmount     decimal.Decimal  `json:"paid_amount" db:"paid_amount"`
	Status         lifecycle.Status `json:"status" db:"status"`
	CreatedBy      int64            `json:"created_by" db:"created_by"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// Balance is the unpaid remainder.
func (i Invoice) Balance() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

// Payment is one settled amount against an invoice.
type Payment struct {
	ID        int64           `json:"id" db:"id"`
	InvoiceID int64           `json:"invoice_id" db:"invoice_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Method    string          `json:"method" db:"method"`
	PaidAt    time.Time       `json:"paid_at" db:"paid_at"`
	Note      string          `json:"note,omitempty" db:"note"`
	CreatedBy int64           `json:"created_by" db:"created_by"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Schedule statuses.
type ScheduleStatus string

const (
	SchedulePending ScheduleStatus = "PENDING"
	SchedulePaid    ScheduleStatus = "PAID"
	ScheduleOverdue ScheduleStatus = "OVERDUE"
)

// Plan statuses, derived from the schedules.
type PlanStatus string

const (
	PlanActive    PlanStatus = "ACTIVE"
	PlanCompleted PlanStatus = "COMPLETED"
	PlanOverdue   PlanStatus = "OVERDUE"
)

// InstallmentPlan splits an invoice balance into monthly schedules.
type InstallmentPlan struct {
	ID            int64           `json:"id" db:"id"`
	InvoiceID     int64           `json:"invoice_id" db:"invoice_id"`
	DownPayment   decimal.Decimal `json:"down_payment" db:"down_payment"`
	Months        int             `json:"months" db:"months"`
	TotalFinanced decimal.Decimal `json:"total_financed" db:"total_financed"`
	Status        PlanStatus      `json:"status" db:"status"`
	CreatedBy     int64           `json:"created_by" db:"created_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	Schedules     []Schedule      `json:"schedules,omitempty"`
}

// Schedule is one dated installment.
type Schedule struct {
	ID         int64           `json:"id" db:"id"`
	PlanID     int64           `json:"plan_id" db:"plan_id"`
	Seq        int             `json:"seq" db:"seq"`
	DueDate    time.Time       `json:"due_date" db:"due_date"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	PaidAmount decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	Status     ScheduleStatus  `json:"status" db:"status"`
	PaidAt     *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}

// DerivePlanStatus rolls schedule states up into the plan state: any overdue
// schedule makes the plan OVERDUE, all paid makes it COMPLETED.
func DerivePlanStatus(schedules []Schedule) PlanStatus {
	allPaid := len(schedules) > 0
	for _, sch := range schedules {
		switch sch.Status {
		case ScheduleOverdue:
			return PlanOverdue
		case SchedulePaid:
		default:
			allPaid = false
		}
	}
	if allPaid {
		return PlanCompleted
	}
	return PlanActive
}

// ListInvoicesRequest filters invoice listings.
type ListInvoicesRequest struct {
	Status     *lifecycle.Status
	CustomerID *int64
	DealerID   *int64
	Limit      int
	Offset     int
}
