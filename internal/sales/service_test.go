package sales

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmotors/dms/internal/inventory"
	"github.com/evmotors/dms/internal/lifecycle"
	"github.com/evmotors/dms/internal/pricing/policy"
	"github.com/evmotors/dms/internal/shared"
)

// mockRepo keeps documents in memory and applies transactional writes only
// when the callback succeeds, mirroring commit/rollback.
type mockRepo struct {
	quotations   map[int64]*Quotation
	orders       map[int64]*Order
	dealerOrders map[int64]*DealerOrder
	nextID       int64
	docSeq       map[string]int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		quotations:   make(map[int64]*Quotation),
		orders:       make(map[int64]*Order),
		dealerOrders: make(map[int64]*DealerOrder),
		docSeq:       make(map[string]int64),
	}
}

func (m *mockRepo) id() int64 {
	m.nextID++
	return m.nextID
}

type mockTx struct {
	m       *mockRepo
	pending []func()
	// staged status per quotation, so chained updates in one tx see the
	// intermediate value like the database would.
	stagedQuotationStatus map[int64]lifecycle.Status
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &mockTx{m: m, pending: []func(){}, stagedQuotationStatus: make(map[int64]lifecycle.Status)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, apply := range tx.pending {
		apply()
	}
	return nil
}

func (m *mockRepo) Join(tx pgx.Tx) TxRepository {
	// Writes through a joined tx apply immediately in the mock.
	return &mockTx{m: m, pending: nil}
}

func (m *mockRepo) GenerateNumber(ctx context.Context, docType string, date time.Time) (string, error) {
	m.docSeq[docType]++
	return fmt.Sprintf("%s-%s-%04d", docType, date.Format("200601"), m.docSeq[docType]), nil
}

func (t *mockTx) Tx() pgx.Tx { return nil }

func (t *mockTx) stage(apply func()) {
	if t.pending == nil {
		apply()
		return
	}
	t.pending = append(t.pending, apply)
}

func (t *mockTx) CreateQuotation(ctx context.Context, q Quotation) (int64, error) {
	id := t.m.id()
	q.ID = id
	t.stage(func() { t.m.quotations[id] = &q })
	return id, nil
}

func (t *mockTx) InsertQuotationLine(ctx context.Context, line QuotationLine) (int64, error) {
	id := t.m.id()
	line.ID = id
	t.stage(func() {
		q := t.m.quotations[line.QuotationID]
		q.Lines = append(q.Lines, line)
	})
	return id, nil
}

func (t *mockTx) UpdateQuotationStatus(ctx context.Context, id int64, from, to lifecycle.Status) error {
	q, ok := t.m.quotations[id]
	if !ok {
		return shared.ErrNotFound
	}
	current := q.Status
	if staged, ok := t.stagedQuotationStatus[id]; ok {
		current = staged
	}
	if current != from {
		return fmt.Errorf("%w: quotations %d no longer %s", shared.ErrConflict, id, from)
	}
	if t.stagedQuotationStatus != nil {
		t.stagedQuotationStatus[id] = to
	}
	t.stage(func() { t.m.quotations[id].Status = to })
	return nil
}

func (t *mockTx) LinkQuotationOrder(ctx context.Context, id int64, orderID, dealerOrderID *int64) error {
	t.stage(func() {
		q := t.m.quotations[id]
		q.OrderID = orderID
		q.DealerOrderID = dealerOrderID
	})
	return nil
}

func (t *mockTx) CreateOrder(ctx context.Context, o Order) (int64, error) {
	id := t.m.id()
	o.ID = id
	t.stage(func() { t.m.orders[id] = &o })
	return id, nil
}

func (t *mockTx) UpdateOrderStatus(ctx context.Context, id int64, from, to lifecycle.Status) error {
	o, ok := t.m.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	if o.Status != from {
		return fmt.Errorf("%w: orders %d no longer %s", shared.ErrConflict, id, from)
	}
	t.stage(func() { t.m.orders[id].Status = to })
	return nil
}

func (t *mockTx) SetOrderUnit(ctx context.Context, id int64, unitID *int64) error {
	t.stage(func() {
		if o, ok := t.m.orders[id]; ok {
			o.UnitID = unitID
		}
	})
	return nil
}

func (t *mockTx) CreateDealerOrder(ctx context.Context, o DealerOrder) (int64, error) {
	id := t.m.id()
	o.ID = id
	t.stage(func() { t.m.dealerOrders[id] = &o })
	return id, nil
}

func (t *mockTx) InsertDealerOrderLine(ctx context.Context, line DealerOrderLine) (int64, error) {
	id := t.m.id()
	line.ID = id
	t.stage(func() {
		o := t.m.dealerOrders[line.DealerOrderID]
		o.Lines = append(o.Lines, line)
	})
	return id, nil
}

func (t *mockTx) UpdateDealerOrderStatus(ctx context.Context, id int64, from, to lifecycle.Status) error {
	o, ok := t.m.dealerOrders[id]
	if !ok {
		return shared.ErrNotFound
	}
	if o.Status != from {
		return fmt.Errorf("%w: dealer_orders %d no longer %s", shared.ErrConflict, id, from)
	}
	t.stage(func() { t.m.dealerOrders[id].Status = to })
	return nil
}

func (t *mockTx) SetDealerOrderApproval(ctx context.Context, id int64, status ApprovalStatus) error {
	o, ok := t.m.dealerOrders[id]
	if !ok {
		return shared.ErrNotFound
	}
	if o.ApprovalStatus != ApprovalPending {
		return fmt.Errorf("%w: dealer order %d already reviewed", shared.ErrConflict, id)
	}
	t.stage(func() { t.m.dealerOrders[id].ApprovalStatus = status })
	return nil
}

func (t *mockTx) AttachLineUnit(ctx context.Context, lineID, unitID int64) error {
	t.stage(func() {
		for _, o := range t.m.dealerOrders {
			for i := range o.Lines {
				if o.Lines[i].ID == lineID {
					o.Lines[i].ReservedUnitIDs = append(o.Lines[i].ReservedUnitIDs, unitID)
				}
			}
		}
	})
	return nil
}

func (m *mockRepo) GetQuotation(ctx context.Context, id int64) (*Quotation, error) {
	q, ok := m.quotations[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *q
	cp.Lines = append([]QuotationLine(nil), q.Lines...)
	return &cp, nil
}

func (m *mockRepo) ListQuotations(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	out := []Quotation{}
	for _, q := range m.quotations {
		out = append(out, *q)
	}
	return out, len(out), nil
}

func (m *mockRepo) ListExpirableQuotationIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	for _, q := range m.quotations {
		if (q.Status == QuotationPending || q.Status == QuotationSent) && q.ExpiredAt(now) {
			ids = append(ids, q.ID)
		}
	}
	return ids, nil
}

func (m *mockRepo) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockRepo) ListOrders(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	out := []Order{}
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (m *mockRepo) GetDealerOrder(ctx context.Context, id int64) (*DealerOrder, error) {
	o, ok := m.dealerOrders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *o
	cp.Lines = append([]DealerOrderLine(nil), o.Lines...)
	return &cp, nil
}

func (m *mockRepo) ListDealerOrders(ctx context.Context, req ListDealerOrdersRequest) ([]DealerOrder, int, error) {
	out := []DealerOrder{}
	for _, o := range m.dealerOrders {
		out = append(out, *o)
	}
	return out, len(out), nil
}

// mockLedger tracks per-class stock counts.
type mockLedger struct {
	stock      map[[2]int64]int
	nextUnitID int64
	released   []int64
}

func newMockLedger() *mockLedger {
	return &mockLedger{stock: make(map[[2]int64]int)}
}

func (m *mockLedger) ReserveTx(ctx context.Context, tx pgx.Tx, sel inventory.UnitSelector, holder inventory.Holder, ttl time.Duration) (*inventory.VehicleUnit, error) {
	if err := holder.Validate(); err != nil {
		return nil, err
	}
	key := [2]int64{sel.VariantID, sel.ColorID}
	if m.stock[key] <= 0 {
		return nil, fmt.Errorf("%w: no stock for class", shared.ErrNotAvailable)
	}
	m.stock[key]--
	m.nextUnitID++
	return &inventory.VehicleUnit{
		ID:        m.nextUnitID,
		VariantID: sel.VariantID,
		ColorID:   sel.ColorID,
		Status:    inventory.StatusReserved,
	}, nil
}

func (m *mockLedger) ReleaseTx(ctx context.Context, tx pgx.Tx, unitID int64, reason string) error {
	m.released = append(m.released, unitID)
	return nil
}

// stubResolver returns a fixed policy when armed.
type stubResolver struct {
	pol   policy.Policy
	found bool
}

func (s *stubResolver) ResolvePrice(ctx context.Context, q policy.Query) (policy.Policy, bool, error) {
	return s.pol, s.found, nil
}

type recordedApproval struct {
	logs []shared.ApprovalLog
}

func (r *recordedApproval) Record(ctx context.Context, log shared.ApprovalLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(repo *mockRepo, ledger *mockLedger, resolver *stubResolver) *Service {
	return NewService(repo, ledger, resolver, nil, nil, nil, ServiceConfig{})
}

func retailQuoteRequest() QuoteRequest {
	customerID := int64(7)
	return QuoteRequest{
		BuyerType:  string(policy.BuyerCustomer),
		CustomerID: &customerID,
		TaxPercent: dec("10"),
		Lines: []QuoteLineRequest{
			{VariantID: 1, ColorID: 2, Quantity: 1, UnitPrice: dec("30000.00")},
		},
	}
}

func TestQuote_AppliesPolicyDiscount(t *testing.T) {
	repo := newMockRepo()
	resolver := &stubResolver{
		pol: policy.Policy{
			ID:              42,
			Scope:           policy.ScopeGlobal,
			DiscountPercent: dec("10"),
		},
		found: true,
	}
	svc := newTestService(repo, newMockLedger(), resolver)

	q, err := svc.Quote(context.Background(), retailQuoteRequest(), 1)
	require.NoError(t, err)
	assert.Equal(t, QuotationPending, q.Status)
	require.Len(t, q.Lines, 1)
	require.NotNil(t, q.Lines[0].PolicyID)
	assert.Equal(t, int64(42), *q.Lines[0].PolicyID)
	assert.True(t, q.Lines[0].DiscountAmount.Equal(dec("3000.00")), "got %s", q.Lines[0].DiscountAmount)
	assert.True(t, q.Subtotal.Equal(dec("27000.00")), "got %s", q.Subtotal)
	assert.True(t, q.TaxAmount.Equal(dec("2700.00")), "got %s", q.TaxAmount)
	assert.True(t, q.TotalAmount.Equal(dec("29700.00")), "got %s", q.TotalAmount)
}

func TestQuote_FallsBackToBasePrice(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockLedger(), &stubResolver{})

	q, err := svc.Quote(context.Background(), retailQuoteRequest(), 1)
	require.NoError(t, err)
	assert.Nil(t, q.Lines[0].PolicyID)
	assert.True(t, q.Subtotal.Equal(dec("30000.00")), "got %s", q.Subtotal)
}

func TestQuote_RejectsMismatchedBuyer(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockLedger(), &stubResolver{})

	req := retailQuoteRequest()
	dealerID := int64(3)
	req.DealerID = &dealerID
	_, err := svc.Quote(context.Background(), req, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func acceptedRetailFixture(t *testing.T, repo *mockRepo, ledger *mockLedger, svc *Service) *Quotation {
	t.Helper()
	ledger.stock[[2]int64{1, 2}] = 1
	q, err := svc.Quote(context.Background(), retailQuoteRequest(), 1)
	require.NoError(t, err)
	q, err = svc.SendQuotation(context.Background(), q.ID, 1)
	require.NoError(t, err)
	q, err = svc.AcceptQuotation(context.Background(), q.ID, 1)
	require.NoError(t, err)
	return q
}

func TestAcceptQuotation_ConvertsAndReserves(t *testing.T) {
	repo := newMockRepo()
	ledger := newMockLedger()
	svc := newTestService(repo, ledger, &stubResolver{})

	q := acceptedRetailFixture(t, repo, ledger, svc)
	assert.Equal(t, QuotationConverted, q.Status)
	require.NotNil(t, q.OrderID)

	o, err := svc.GetOrder(context.Background(), *q.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderConfirmed, o.Status)
	require.NotNil(t, o.UnitID)
	assert.Equal(t, 0, ledger.stock[[2]int64{1, 2}], "unit taken from stock")
	assert.True(t, o.TotalAmount.Equal(q.TotalAmount), "order snapshots quotation totals")
}

func TestAcceptQuotation_PendingIsIllegal(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockLedger(), &stubResolver{})

	q, err := svc.Quote(context.Background(), retailQuoteRequest(), 1)
	require.NoError(t, err)
	_, err = svc.AcceptQuotation(context.Background(), q.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestAcceptQuotation_ExpiredAtDayEight(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockLedger(), &stubResolver{})

	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	q, err := svc.Quote(context.Background(), retailQuoteRequest(), 1)
	require.NoError(t, err)
	_, err = svc.SendQuotation(context.Background(), q.ID, 1)
	require.NoError(t, err)

	// Validity is 7 days; day 8 is past the window.
	svc.now = func() time.Time { return base.AddDate(0, 0, 8) }
	_, err = svc.AcceptQuotation(context.Background(), q.ID, 1)
	require.ErrorIs(t, err, shared.ErrExpired)

	got, err := svc.GetQuotation(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, QuotationExpired, got.Status)

	// A terminal quotation stays expired.
	_, err = svc.AcceptQuotation(context.Background(), q.ID, 1)
	require.Error(t, err)
}

func TestAcceptQuotation_NoStockAbortsConversion(t *testing.T) {
	repo := newMockRepo()
	ledger := newMockLedger()
	svc := newTestService(repo, ledger, &stubResolver{})

	q, err := svc.Quote(context.Background(), retailQuoteRequest(), 1)
	require.NoError(t, err)
	_, err = svc.SendQuotation(context.Background(), q.ID, 1)
	require.NoError(t, err)

	_, err = svc.AcceptQuotation(context.Background(), q.ID, 1)
	require.ErrorIs(t, err, shared.ErrNotAvailable)

	got, err := svc.GetQuotation(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, QuotationSent, got.Status, "failed conversion leaves the quotation acceptable")
	assert.Nil(t, got.OrderID)
}

func TestCancelOrder_ReleasesUnit(t *testing.T) {
	repo := newMockRepo()
	ledger := newMockLedger()
	svc := newTestService(repo, ledger, &stubResolver{})

	q := acceptedRetailFixture(t, repo, ledger, svc)
	unitID := *repo.orders[*q.OrderID].UnitID

	o, err := svc.CancelOrder(context.Background(), *q.OrderID, 1, "buyer withdrew")
	require.NoError(t, err)
	assert.Equal(t, OrderCancelled, o.Status)
	assert.Nil(t, o.UnitID)
	assert.Equal(t, []int64{unitID}, ledger.released)

	// Terminal: a second cancel fails.
	_, err = svc.CancelOrder(context.Background(), *q.OrderID, 1, "again")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func dealerQuoteFixture(t *testing.T, svc *Service) *Quotation {
	t.Helper()
	dealerID := int64(9)
	req := QuoteRequest{
		BuyerType:  string(policy.BuyerDealer),
		DealerID:   &dealerID,
		TaxPercent: dec("10"),
		Lines: []QuoteLineRequest{
			{VariantID: 1, ColorID: 2, Quantity: 2, UnitPrice: dec("25000.00")},
			{VariantID: 1, ColorID: 3, Quantity: 1, UnitPrice: dec("26000.00")},
		},
	}
	q, err := svc.Quote(context.Background(), req, 1)
	require.NoError(t, err)
	q, err = svc.SendQuotation(context.Background(), q.ID, 1)
	require.NoError(t, err)
	q, err = svc.AcceptQuotation(context.Background(), q.ID, 1)
	require.NoError(t, err)
	return q
}

func staffActor() shared.Actor {
	return shared.Actor{UserID: 100, Role: shared.RoleStaff}
}

func TestAcceptQuotation_DealerCreatesPendingOrder(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockLedger(), &stubResolver{})

	q := dealerQuoteFixture(t, svc)
	require.NotNil(t, q.DealerOrderID)
	o, err := svc.GetDealerOrder(context.Background(), *q.DealerOrderID)
	require.NoError(t, err)
	assert.Equal(t, DealerOrderPending, o.Status)
	assert.Equal(t, ApprovalPending, o.ApprovalStatus)
	assert.Len(t, o.Lines, 2)
	assert.Empty(t, o.Lines[0].ReservedUnitIDs, "no stock reserved before approval")
}

func TestApproveDealerOrder_RequiresStaff(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockLedger(), &stubResolver{})
	q := dealerQuoteFixture(t, svc)

	dealer := shared.Actor{UserID: 9, Role: shared.RoleDealer}
	_, err := svc.ApproveDealerOrder(context.Background(), *q.DealerOrderID, dealer, "")
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestApproveDealerOrder_ReservesPerLine(t *testing.T) {
	repo := newMockRepo()
	ledger := newMockLedger()
	approvals := &recordedApproval{}
	svc := NewService(repo, ledger, &stubResolver{}, approvals, nil, nil, ServiceConfig{})
	q := dealerQuoteFixture(t, svc)

	ledger.stock[[2]int64{1, 2}] = 2
	ledger.stock[[2]int64{1, 3}] = 1

	o, err := svc.ApproveDealerOrder(context.Background(), *q.DealerOrderID, staffActor(), "stock confirmed")
	require.NoError(t, err)
	assert.Equal(t, DealerOrderConfirmed, o.Status)
	assert.Equal(t, ApprovalApproved, o.ApprovalStatus)
	assert.Len(t, o.Lines[0].ReservedUnitIDs, 2)
	assert.Len(t, o.Lines[1].ReservedUnitIDs, 1)
	assert.Equal(t, 0, ledger.stock[[2]int64{1, 2}])

	require.Len(t, approvals.logs, 1)
	assert.Equal(t, shared.ApprovalApprove, approvals.logs[0].Action)

	// Already reviewed: a second approval fails.
	_, err = svc.ApproveDealerOrder(context.Background(), *q.DealerOrderID, staffActor(), "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestApproveDealerOrder_InsufficientStockAborts(t *testing.T) {
	repo := newMockRepo()
	ledger := newMockLedger()
	svc := newTestService(repo, ledger, &stubResolver{})
	q := dealerQuoteFixture(t, svc)

	ledger.stock[[2]int64{1, 2}] = 1 // line needs 2

	_, err := svc.ApproveDealerOrder(context.Background(), *q.DealerOrderID, staffActor(), "")
	require.ErrorIs(t, err, shared.ErrNotAvailable)

	o, err := svc.GetDealerOrder(context.Background(), *q.DealerOrderID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalPending, o.ApprovalStatus, "aborted approval leaves the order reviewable")
	assert.Equal(t, DealerOrderPending, o.Status)
}

func TestRejectDealerOrder(t *testing.T) {
	repo := newMockRepo()
	approvals := &recordedApproval{}
	svc := NewService(repo, newMockLedger(), &stubResolver{}, approvals, nil, nil, ServiceConfig{})
	q := dealerQuoteFixture(t, svc)

	o, err := svc.RejectDealerOrder(context.Background(), *q.DealerOrderID, staffActor(), "credit hold")
	require.NoError(t, err)
	assert.Equal(t, DealerOrderRejected, o.Status)
	assert.Equal(t, ApprovalRejected, o.ApprovalStatus)
	require.Len(t, approvals.logs, 1)
	assert.Equal(t, shared.ApprovalReject, approvals.logs[0].Action)
}

func TestCancelDealerOrder_ReleasesAllUnits(t *testing.T) {
	repo := newMockRepo()
	ledger := newMockLedger()
	svc := newTestService(repo, ledger, &stubResolver{})
	q := dealerQuoteFixture(t, svc)

	ledger.stock[[2]int64{1, 2}] = 2
	ledger.stock[[2]int64{1, 3}] = 1
	_, err := svc.ApproveDealerOrder(context.Background(), *q.DealerOrderID, staffActor(), "")
	require.NoError(t, err)

	o, err := svc.CancelDealerOrder(context.Background(), *q.DealerOrderID, 1, "dealer withdrew")
	require.NoError(t, err)
	assert.Equal(t, DealerOrderCancelled, o.Status)
	assert.Len(t, ledger.released, 3)
}

func TestExpireQuotations_Idempotent(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockLedger(), &stubResolver{})

	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	q1, err := svc.Quote(context.Background(), retailQuoteRequest(), 1)
	require.NoError(t, err)
	_, err = svc.SendQuotation(context.Background(), q1.ID, 1)
	require.NoError(t, err)
	_, err = svc.Quote(context.Background(), retailQuoteRequest(), 1)
	require.NoError(t, err)

	cutoff := base.AddDate(0, 0, 10)
	expired, err := svc.ExpireQuotations(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	expired, err = svc.ExpireQuotations(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
}

func TestAdvanceDealerOrder_FollowsTrack(t *testing.T) {
	repo := newMockRepo()
	ledger := newMockLedger()
	svc := newTestService(repo, ledger, &stubResolver{})
	q := dealerQuoteFixture(t, svc)

	ledger.stock[[2]int64{1, 2}] = 2
	ledger.stock[[2]int64{1, 3}] = 1
	_, err := svc.ApproveDealerOrder(context.Background(), *q.DealerOrderID, staffActor(), "")
	require.NoError(t, err)

	o, err := svc.AdvanceDealerOrder(context.Background(), *q.DealerOrderID, DealerOrderInProduction, staffActor())
	require.NoError(t, err)
	assert.Equal(t, DealerOrderInProduction, o.Status)

	// Skipping a step is illegal.
	_, err = svc.AdvanceDealerOrder(context.Background(), *q.DealerOrderID, DealerOrderDelivered, staffActor())
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}
