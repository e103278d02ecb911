package policy

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scope identifies how broadly a pricing policy applies. Narrower scopes win
// over broader ones when priorities tie.
type Scope string

const (
	ScopeGlobal       Scope = "GLOBAL"
	ScopeRegion       Scope = "REGION"
	ScopeCustomerType Scope = "CUSTOMER_TYPE"
	ScopeVariant      Scope = "VARIANT"
	ScopeDealer       Scope = "DEALER"
)

// scopeRank orders scopes from broadest to narrowest.
var scopeRank = map[Scope]int{
	ScopeGlobal:       0,
	ScopeRegion:       1,
	ScopeCustomerType: 2,
	ScopeVariant:      3,
	ScopeDealer:       4,
}

// BuyerType distinguishes retail customers from dealers.
type BuyerType string

const (
	BuyerCustomer BuyerType = "CUSTOMER"
	BuyerDealer   BuyerType = "DEALER"
)

// Policy is a time-bounded pricing/discount rule. A nil ExpiryDate means
// open-ended.
type Policy struct {
	ID              int64            `json:"id" db:"id"`
	Name            string           `json:"name" db:"name"`
	Scope           Scope            `json:"scope" db:"scope"`
	VariantID       *int64           `json:"variant_id,omitempty" db:"variant_id"`
	DealerID        *int64           `json:"dealer_id,omitempty" db:"dealer_id"`
	BuyerType       *BuyerType       `json:"buyer_type,omitempty" db:"buyer_type"`
	Region          *string          `json:"region,omitempty" db:"region"`
	Priority        int              `json:"priority" db:"priority"`
	DiscountPercent decimal.Decimal  `json:"discount_percent" db:"discount_percent"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty" db:"unit_price"`
	EffectiveDate   time.Time        `json:"effective_date" db:"effective_date"`
	ExpiryDate      *time.Time       `json:"expiry_date,omitempty" db:"expiry_date"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

// Query carries the lookup dimensions for price resolution.
type Query struct {
	VariantID int64
	BuyerType BuyerType
	DealerID  *int64
	Region    string
	Date      time.Time
}

// effectiveAt reports whether the policy window covers the date.
func (p Policy) effectiveAt(date time.Time) bool {
	if date.Before(p.EffectiveDate) {
		return false
	}
	if p.ExpiryDate != nil && date.After(*p.ExpiryDate) {
		return false
	}
	return true
}

// matches reports whether the policy's scope dimensions apply to the query.
func (p Policy) matches(q Query) bool {
	switch p.Scope {
	case ScopeGlobal:
		return true
	case ScopeRegion:
		return p.Region != nil && *p.Region == q.Region
	case ScopeCustomerType:
		return p.BuyerType != nil && *p.BuyerType == q.BuyerType
	case ScopeVariant:
		return p.VariantID != nil && *p.VariantID == q.VariantID
	case ScopeDealer:
		return p.DealerID != nil && q.DealerID != nil && *p.DealerID == *q.DealerID
	default:
		return false
	}
}

// Resolve selects the applicable policy from candidates: effective window and
// scope must match; highest priority wins, ties broken by narrower scope,
// then by most recent creation. The second return value is false when no
// policy applies - callers fall back to the base price.
func Resolve(candidates []Policy, q Query) (Policy, bool) {
	var best Policy
	found := false
	for _, p := range candidates {
		if !p.effectiveAt(q.Date) || !p.matches(q) {
			continue
		}
		if !found || wins(p, best) {
			best = p
			found = true
		}
	}
	return best, found
}

func wins(a, b Policy) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if scopeRank[a.Scope] != scopeRank[b.Scope] {
		return scopeRank[a.Scope] > scopeRank[b.Scope]
	}
	return a.CreatedAt.After(b.CreatedAt)
}
