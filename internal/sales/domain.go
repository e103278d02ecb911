// Package sales owns quotations and orders for retail customers and dealers,
// from quote through conversion to cancellation.
package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/evmotors/dms/internal/lifecycle"
	"github.com/evmotors/dms/internal/pricing/policy"
	"github.com/evmotors/dms/internal/shared"
)

// Quotation statuses.
const (
	QuotationPending   lifecycle.Status = "PENDING"
	QuotationSent      lifecycle.Status = "SENT"
	QuotationAccepted  lifecycle.Status = "ACCEPTED"
	QuotationRejected  lifecycle.Status = "REJECTED"
	QuotationExpired   lifecycle.Status = "EXPIRED"
	QuotationConverted lifecycle.Status = "CONVERTED"
	QuotationCancelled lifecycle.Status = "CANCELLED"
)

// QuotationMachine drives quotation status changes. REJECTED, EXPIRED,
// CONVERTED and CANCELLED are terminal.
var QuotationMachine = lifecycle.Machine{
	Name: "quotation",
	Transitions: map[lifecycle.Status][]lifecycle.Status{
		QuotationPending:  {QuotationSent, QuotationExpired, QuotationCancelled},
		QuotationSent:     {QuotationAccepted, QuotationRejected, QuotationExpired, QuotationCancelled},
		QuotationAccepted: {QuotationConverted, QuotationCancelled},
	},
}

// Retail order statuses.
const (
	OrderPending   lifecycle.Status = "PENDING"
	OrderConfirmed lifecycle.Status = "CONFIRMED"
	OrderPaid      lifecycle.Status = "PAID"
	OrderDelivered lifecycle.Status = "DELIVERED"
	OrderCompleted lifecycle.Status = "COMPLETED"
	OrderCancelled lifecycle.Status = "CANCELLED"
)

// OrderMachine drives retail order status changes. An order is cancellable
// until the unit is handed over.
var OrderMachine = lifecycle.Machine{
	Name: "order",
	Transitions: map[lifecycle.Status][]lifecycle.Status{
		OrderPending:   {OrderConfirmed, OrderCancelled},
		OrderConfirmed: {OrderPaid, OrderCancelled},
		OrderPaid:      {OrderDelivered, OrderCancelled},
		OrderDelivered: {OrderCompleted},
	},
}

// Dealer order statuses.
const (
	DealerOrderPending          lifecycle.Status = "PENDING"
	DealerOrderConfirmed        lifecycle.Status = "CONFIRMED"
	DealerOrderInProduction     lifecycle.Status = "IN_PRODUCTION"
	DealerOrderReadyForDelivery lifecycle.Status = "READY_FOR_DELIVERY"
	DealerOrderDelivered        lifecycle.Status = "DELIVERED"
	DealerOrderCompleted        lifecycle.Status = "COMPLETED"
	DealerOrderRejected         lifecycle.Status = "REJECTED"
	DealerOrderCancelled        lifecycle.Status = "CANCELLED"
)

// DealerOrderMachine drives dealer order status changes.
var DealerOrderMachine = lifecycle.Machine{
	Name: "dealer-order",
	Transitions: map[lifecycle.Status][]lifecycle.Status{
		DealerOrderPending:          {DealerOrderConfirmed, DealerOrderRejected, DealerOrderCancelled},
		DealerOrderConfirmed:        {DealerOrderInProduction, DealerOrderCancelled},
		DealerOrderInProduction:     {DealerOrderReadyForDelivery, DealerOrderCancelled},
		DealerOrderReadyForDelivery: {DealerOrderDelivered, DealerOrderCancelled},
		DealerOrderDelivered:        {DealerOrderCompleted},
	},
}

// ApprovalStatus tracks the staff review of a dealer order, orthogonal to
// the order's own status track.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// DefaultValidityDays applies when a quote request passes no validity.
const DefaultValidityDays = 7

// Quotation is a priced offer to a retail customer or a dealer. Exactly one
// of CustomerID/DealerID is set, matching BuyerType.
type Quotation struct {
	ID             int64            `json:"id" db:"id"`
	DocNumber      string           `json:"doc_number" db:"doc_number"`
	BuyerType      policy.BuyerType `json:"buyer_type" db:"buyer_type"`
	CustomerID     *int64           `json:"customer_id,omitempty" db:"customer_id"`
	DealerID       *int64           `json:"dealer_id,omitempty" db:"dealer_id"`
	Region         string           `json:"region,omitempty" db:"region"`
	QuoteDate      time.Time        `json:"quote_date" db:"quote_date"`
	ValidityDays   int              `json:"validity_days" db:"validity_days"`
	Status         lifecycle.Status `json:"status" db:"status"`
	TaxPercent     decimal.Decimal  `json:"tax_percent" db:"tax_percent"`
	Subtotal       decimal.Decimal  `json:"subtotal" db:"subtotal"`
	DiscountAmount decimal.Decimal  `json:"discount_amount" db:"discount_amount"`
	TaxAmount      decimal.Decimal  `json:"tax_amount" db:"tax_amount"`
	TotalAmount    decimal.Decimal  `json:"total_amount" db:"total_amount"`
	Notes          string           `json:"notes,omitempty" db:"notes"`
	OrderID        *int64           `json:"order_id,omitempty" db:"order_id"`
	DealerOrderID  *int64           `json:"dealer_order_id,omitempty" db:"dealer_order_id"`
	CreatedBy      int64            `json:"created_by" db:"created_by"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
	Lines          []QuotationLine  `json:"lines,omitempty"`
}

// ValidUntil is the last instant the quotation is acceptable.
func (q Quotation) ValidUntil() time.Time {
	return q.QuoteDate.AddDate(0, 0, q.ValidityDays)
}

// ExpiredAt reports whether the quotation has lapsed at the given time.
func (q Quotation) ExpiredAt(now time.Time) bool {
	return now.After(q.ValidUntil())
}

// QuotationLine is one priced line. PolicyID records which pricing policy
// produced the discount, if any.
type QuotationLine struct {
	ID               int64            `json:"id" db:"id"`
	QuotationID      int64            `json:"quotation_id" db:"quotation_id"`
	VariantID        int64            `json:"variant_id" db:"variant_id"`
	ColorID          int64            `json:"color_id" db:"color_id"`
	Quantity         int64            `json:"quantity" db:"quantity"`
	UnitPrice        decimal.Decimal  `json:"unit_price" db:"unit_price"`
	DiscountPercent  decimal.Decimal  `json:"discount_percent" db:"discount_percent"`
	DiscountOverride *decimal.Decimal `json:"discount_override,omitempty" db:"discount_override"`
	DiscountAmount   decimal.Decimal  `json:"discount_amount" db:"discount_amount"`
	LineTotal        decimal.Decimal  `json:"line_total" db:"line_total"`
	PolicyID         *int64           `json:"policy_id,omitempty" db:"policy_id"`
}

// Order is a retail sale of a single vehicle unit. UnitID is set while a
// unit is reserved or sold for the order.
type Order struct {
	ID             int64            `json:"id" db:"id"`
	DocNumber      string           `json:"doc_number" db:"doc_number"`
	CustomerID     int64            `json:"customer_id" db:"customer_id"`
	QuotationID    *int64           `json:"quotation_id,omitempty" db:"quotation_id"`
	UnitID         *int64           `json:"unit_id,omitempty" db:"unit_id"`
	VariantID      int64            `json:"variant_id" db:"variant_id"`
	ColorID        int64            `json:"color_id" db:"color_id"`
	Status         lifecycle.Status `json:"status" db:"status"`
	Subtotal       decimal.Decimal  `json:"subtotal" db:"subtotal"`
	DiscountAmount decimal.Decimal  `json:"discount_amount" db:"discount_amount"`
	TaxAmount      decimal.Decimal  `json:"tax_amount" db:"tax_amount"`
	TotalAmount    decimal.Decimal  `json:"total_amount" db:"total_amount"`
	CreatedBy      int64            `json:"created_by" db:"created_by"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// DealerOrder is a multi-line wholesale order. Units are reserved per line
// when staff approve the order.
type DealerOrder struct {
	ID             int64            `json:"id" db:"id"`
	DocNumber      string           `json:"doc_number" db:"doc_number"`
	DealerID       int64            `json:"dealer_id" db:"dealer_id"`
	QuotationID    *int64           `json:"quotation_id,omitempty" db:"quotation_id"`
	Status         lifecycle.Status `json:"status" db:"status"`
	ApprovalStatus ApprovalStatus   `json:"approval_status" db:"approval_status"`
	Subtotal       decimal.Decimal  `json:"subtotal" db:"subtotal"`
	DiscountAmount decimal.Decimal  `json:"discount_amount" db:"discount_amount"`
	TaxAmount      decimal.Decimal  `json:"tax_amount" db:"tax_amount"`
	TotalAmount    decimal.Decimal  `json:"total_amount" db:"total_amount"`
	CreatedBy      int64            `json:"created_by" db:"created_by"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
	Lines          []DealerOrderLine `json:"lines,omitempty"`
}

// DealerOrderLine is one variant/color position on a dealer order.
// ReservedUnitIDs holds the units allocated to the line after approval.
type DealerOrderLine struct {
	ID              int64           `json:"id" db:"id"`
	DealerOrderID   int64           `json:"dealer_order_id" db:"dealer_order_id"`
	VariantID       int64           `json:"variant_id" db:"variant_id"`
	ColorID         int64           `json:"color_id" db:"color_id"`
	Quantity        int64           `json:"quantity" db:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price" db:"unit_price"`
	DiscountAmount  decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	LineTotal       decimal.Decimal `json:"line_total" db:"line_total"`
	ReservedUnitIDs []int64         `json:"reserved_unit_ids,omitempty"`
}

// QuoteLineRequest is one requested line on a quote.
type QuoteLineRequest struct {
	VariantID        int64            `json:"variant_id" validate:"required,gt=0"`
	ColorID          int64            `json:"color_id" validate:"required,gt=0"`
	Quantity         int64            `json:"quantity" validate:"required,gt=0"`
	UnitPrice        decimal.Decimal  `json:"unit_price"`
	DiscountOverride *decimal.Decimal `json:"discount_override,omitempty"`
}

// QuoteRequest creates a quotation.
type QuoteRequest struct {
	BuyerType    string             `json:"buyer_type" validate:"required"`
	CustomerID   *int64             `json:"customer_id,omitempty"`
	DealerID     *int64             `json:"dealer_id,omitempty"`
	Region       string             `json:"region,omitempty" validate:"max=64"`
	ValidityDays int                `json:"validity_days,omitempty" validate:"gte=0,lte=90"`
	TaxPercent   decimal.Decimal    `json:"tax_percent"`
	Notes        string             `json:"notes,omitempty" validate:"max=1000"`
	Lines        []QuoteLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// Validate checks the buyer identity against the buyer type. Retail quotes
// carry at most one line because a retail order sells exactly one unit.
func (r QuoteRequest) Validate() (policy.BuyerType, error) {
	switch policy.BuyerType(r.BuyerType) {
	case policy.BuyerCustomer:
		if r.CustomerID == nil || r.DealerID != nil {
			return "", fmt.Errorf("%w: retail quote requires customer_id and no dealer_id", shared.ErrValidation)
		}
		if len(r.Lines) != 1 {
			return "", fmt.Errorf("%w: retail quote carries exactly one line", shared.ErrValidation)
		}
		return policy.BuyerCustomer, nil
	case policy.BuyerDealer:
		if r.DealerID == nil || r.CustomerID != nil {
			return "", fmt.Errorf("%w: dealer quote requires dealer_id and no customer_id", shared.ErrValidation)
		}
		return policy.BuyerDealer, nil
	default:
		return "", fmt.Errorf("%w: unknown buyer type %q", shared.ErrValidation, r.BuyerType)
	}
}

// ListQuotationsRequest filters quotation listings.
type ListQuotationsRequest struct {
	Status     *lifecycle.Status
	DealerID   *int64
	CustomerID *int64
	Limit      int
	Offset     int
}

// ListOrdersRequest filters retail order listings.
type ListOrdersRequest struct {
	Status     *lifecycle.Status
	CustomerID *int64
	Limit      int
	Offset     int
}

// ListDealerOrdersRequest filters dealer order listings.
type ListDealerOrdersRequest struct {
	Status   *lifecycle.Status
	DealerID *int64
	Approval *ApprovalStatus
	Limit    int
	Offset   int
}
