package delivery

import (
	"time"

	"github.com/evmotors/dms/internal/lifecycle"
	"github.com/evmotors/dms/internal/shared"
)

const (
	DeliveryPending   lifecycle.Status = "PENDING"
	DeliveryScheduled lifecycle.Status = "SCHEDULED"
	DeliveryInTransit lifecycle.Status = "IN_TRANSIT"
	DeliveryDelivered lifecycle.Status = "DELIVERED"
	DeliveryCancelled lifecycle.Status = "CANCELLED"
)

// DeliveryMachine drives the handover lifecycle. DELIVERED and CANCELLED
// are terminal, so a completed handover can never be replayed.
var DeliveryMachine = lifecycle.Machine{
	Name: "delivery",
	Transitions: map[lifecycle.Status][]lifecycle.Status{
		DeliveryPending:   {DeliveryScheduled, DeliveryCancelled},
		DeliveryScheduled: {DeliveryInTransit, DeliveryDelivered, DeliveryCancelled},
		DeliveryInTransit: {DeliveryDelivered, DeliveryCancelled},
		DeliveryDelivered: {},
		DeliveryCancelled: {},
	},
}

// Delivery hands one vehicle unit over to its buyer. It references either a
// retail order or a dealer order line, never both. UnitID is always set; for
// retail deliveries it mirrors the unit attached to the order.
type Delivery struct {
	ID                int64            `json:"id" db:"id"`
	DocNumber         string           `json:"doc_number" db:"doc_number"`
	OrderID           *int64           `json:"order_id,omitempty" db:"order_id"`
	DealerOrderID     *int64           `json:"dealer_order_id,omitempty" db:"dealer_order_id"`
	DealerOrderLineID *int64           `json:"dealer_order_line_id,omitempty" db:"dealer_order_line_id"`
	UnitID            int64            `json:"unit_id" db:"unit_id"`
	Status            lifecycle.Status `json:"status" db:"status"`
	Address           string           `json:"address,omitempty" db:"address"`
	Notes             string           `json:"notes,omitempty" db:"notes"`
	ScheduledAt       *time.Time       `json:"scheduled_at,omitempty" db:"scheduled_at"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedBy         int64            `json:"created_by" db:"created_by"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// Retail reports whether the delivery belongs to a retail order.
func (d *Delivery) Retail() bool {
	return d.OrderID != nil
}

// CreateRequest opens a delivery for a sold unit. Exactly one of the two
// reference pairs must be populated.
type CreateRequest struct {
	OrderID           *int64 `json:"order_id,omitempty"`
	DealerOrderID     *int64 `json:"dealer_order_id,omitempty"`
	DealerOrderLineID *int64 `json:"dealer_order_line_id,omitempty"`
	UnitID            *int64 `json:"unit_id,omitempty"`
	Address           string `json:"address,omitempty" validate:"max=500"`
	Notes             string `json:"notes,omitempty" validate:"max=1000"`
}

// Validate enforces the structural one-of-two reference shape.
func (r CreateRequest) Validate() error {
	retail := r.OrderID != nil
	dealer := r.DealerOrderID != nil || r.DealerOrderLineID != nil
	switch {
	case retail && dealer:
		return shared.ErrValidation
	case !retail && !dealer:
		return shared.ErrValidation
	case dealer && (r.DealerOrderID == nil || r.DealerOrderLineID == nil):
		return shared.ErrValidation
	case dealer && r.UnitID == nil:
		return shared.ErrValidation
	}
	return nil
}

// ListRequest filters deliveries.
type ListRequest struct {
	Status        *lifecycle.Status
	OrderID       *int64
	DealerOrderID *int64
	Limit         int
	Offset        int
}
