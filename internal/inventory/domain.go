package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/evmotors/dms/internal/shared"
)

// UnitStatus enumerates the allocation states of a vehicle unit.
type UnitStatus string

const (
	StatusAvailable       UnitStatus = "AVAILABLE"
	StatusReserved        UnitStatus = "RESERVED"
	StatusSold            UnitStatus = "SOLD"
	StatusMaintenance     UnitStatus = "MAINTENANCE"
	StatusDamaged         UnitStatus = "DAMAGED"
	StatusInTransit       UnitStatus = "IN_TRANSIT"
	StatusPendingDelivery UnitStatus = "PENDING_DELIVERY"
)

var unitStatuses = map[UnitStatus]struct{}{
	StatusAvailable:       {},
	StatusReserved:        {},
	StatusSold:            {},
	StatusMaintenance:     {},
	StatusDamaged:         {},
	StatusInTransit:       {},
	StatusPendingDelivery: {},
}

// ParseUnitStatus maps raw input to a status. Unknown values are rejected:
// status drives the allocation invariants, so a silent default would corrupt
// the ledger.
func ParseUnitStatus(raw string) (UnitStatus, error) {
	s := UnitStatus(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_")))
	if _, ok := unitStatuses[s]; !ok {
		return "", fmt.Errorf("%w: unknown unit status %q", shared.ErrValidation, raw)
	}
	return s, nil
}

// Condition enumerates the physical condition of a unit.
type Condition string

const (
	ConditionNew     Condition = "NEW"
	ConditionUsed    Condition = "USED"
	ConditionDemo    Condition = "DEMO"
	ConditionDamaged Condition = "DAMAGED"
)

// ParseCondition maps raw input to a condition, falling back to NEW for
// unknown values (the stock-intake default).
func ParseCondition(raw string) Condition {
	switch Condition(strings.ToUpper(strings.TrimSpace(raw))) {
	case ConditionUsed:
		return ConditionUsed
	case ConditionDemo:
		return ConditionDemo
	case ConditionDamaged:
		return ConditionDamaged
	default:
		return ConditionNew
	}
}

// VehicleUnit is one physical, VIN-identified vehicle. All status and
// reservation fields are written only through the ledger.
type VehicleUnit struct {
	ID                    int64            `json:"id" db:"id"`
	VIN                   string           `json:"vin" db:"vin"`
	VariantID             int64            `json:"variant_id" db:"variant_id"`
	ColorID               int64            `json:"color_id" db:"color_id"`
	WarehouseLocation     string           `json:"warehouse_location" db:"warehouse_location"`
	Condition             Condition        `json:"condition" db:"condition"`
	Status                UnitStatus       `json:"status" db:"status"`
	CostPrice             decimal.Decimal  `json:"cost_price" db:"cost_price"`
	SellingPrice          decimal.Decimal  `json:"selling_price" db:"selling_price"`
	ReservedForDealerID   *int64           `json:"reserved_for_dealer_id,omitempty" db:"reserved_for_dealer_id"`
	ReservedForCustomerID *int64           `json:"reserved_for_customer_id,omitempty" db:"reserved_for_customer_id"`
	ReservationRef        *string          `json:"reservation_ref,omitempty" db:"reservation_ref"`
	ReservedAt            *time.Time       `json:"reserved_at,omitempty" db:"reserved_at"`
	ReservationExpiresAt  *time.Time       `json:"reservation_expires_at,omitempty" db:"reservation_expires_at"`
	SaleRef               *string          `json:"sale_ref,omitempty" db:"sale_ref"`
	ArrivalDate           time.Time        `json:"arrival_date" db:"arrival_date"`
	Archived              bool             `json:"archived" db:"archived"`
	Version               int64            `json:"version" db:"version"`
	CreatedAt             time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at" db:"updated_at"`
}

// Holder identifies who a reservation is for. Exactly one side must be set.
type Holder struct {
	DealerID   *int64
	CustomerID *int64
}

// Validate enforces the mutual-exclusion invariant.
func (h Holder) Validate() error {
	if (h.DealerID == nil) == (h.CustomerID == nil) {
		return fmt.Errorf("%w: exactly one of dealer or customer must hold a reservation", shared.ErrValidation)
	}
	return nil
}

// Matches reports whether the unit's reservation belongs to this holder.
func (h Holder) Matches(u *VehicleUnit) bool {
	if h.DealerID != nil {
		return u.ReservedForDealerID != nil && *u.ReservedForDealerID == *h.DealerID
	}
	if h.CustomerID != nil {
		return u.ReservedForCustomerID != nil && *u.ReservedForCustomerID == *h.CustomerID
	}
	return false
}

// UnitSelector targets either a specific VIN or the oldest available unit of
// a (variant, color) pair.
type UnitSelector struct {
	VIN       string
	VariantID int64
	ColorID   int64
}

// Validate checks that the selector names a VIN or a variant/color class.
func (s UnitSelector) Validate() error {
	if s.VIN == "" && (s.VariantID == 0 || s.ColorID == 0) {
		return fmt.Errorf("%w: selector requires a vin or a variant and color", shared.ErrValidation)
	}
	return nil
}

// IntakeInput describes a unit entering warehouse stock.
type IntakeInput struct {
	VIN               string          `json:"vin" validate:"required,min=11,max=17"`
	VariantID         int64           `json:"variant_id" validate:"required,gt=0"`
	ColorID           int64           `json:"color_id" validate:"required,gt=0"`
	WarehouseLocation string          `json:"warehouse_location" validate:"required,max=100"`
	Condition         string          `json:"condition,omitempty"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	ArrivalDate       time.Time       `json:"arrival_date"`
}

// ListUnitsRequest filters unit listings.
type ListUnitsRequest struct {
	VariantID *int64
	ColorID   *int64
	Status    *UnitStatus
	Limit     int
	Offset    int
}
