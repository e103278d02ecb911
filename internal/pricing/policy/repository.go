package policy

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/evmotors/dms/internal/shared"
)

// Repository persists pricing policies in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const policyColumns = `id, name, scope, variant_id, dealer_id, buyer_type, region, priority, discount_percent, unit_price, effective_date, expiry_date, created_at`

// ListEffective returns policies whose window covers the date. Scope
// filtering happens in Resolve; the query only prunes by time.
func (r *Repository) ListEffective(ctx context.Context, date time.Time) ([]Policy, error) {
	if r == nil {
		return nil, errors.New("policy repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+policyColumns+`
FROM pricing_policies
WHERE effective_date <= $1 AND (expiry_date IS NULL OR expiry_date >= $1)
ORDER BY priority DESC, created_at DESC`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// Get returns one policy by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Policy, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM pricing_policies WHERE id=$1`, id)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Create inserts a policy and returns its id.
func (r *Repository) Create(ctx context.Context, p Policy) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO pricing_policies
(name, scope, variant_id, dealer_id, buyer_type, region, priority, discount_percent, unit_price, effective_date, expiry_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id`,
		p.Name, string(p.Scope), p.VariantID, p.DealerID, buyerTypePtr(p.BuyerType), p.Region,
		p.Priority, p.DiscountPercent, p.UnitPrice, p.EffectiveDate, p.ExpiryDate).Scan(&id)
	return id, err
}

func buyerTypePtr(bt *BuyerType) *string {
	if bt == nil {
		return nil
	}
	s := string(*bt)
	return &s
}

func scanPolicies(rows pgx.Rows) ([]Policy, error) {
	policies := []Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return policies, nil
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var (
		p         Policy
		scope     string
		buyerType *string
		discount  decimal.NullDecimal
		unitPrice decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.Name, &scope, &p.VariantID, &p.DealerID, &buyerType, &p.Region,
		&p.Priority, &discount, &unitPrice, &p.EffectiveDate, &p.ExpiryDate, &p.CreatedAt)
	if err != nil {
		return Policy{}, err
	}
	p.Scope = Scope(scope)
	if buyerType != nil {
		bt := BuyerType(*buyerType)
		p.BuyerType = &bt
	}
	if discount.Valid {
		p.DiscountPercent = discount.Decimal
	}
	if unitPrice.Valid {
		p.UnitPrice = &unitPrice.Decimal
	}
	return p, nil
}
