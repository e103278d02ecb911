package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmotors/dms/internal/inventory"
	"github.com/evmotors/dms/internal/lifecycle"
	"github.com/evmotors/dms/internal/sales"
	"github.com/evmotors/dms/internal/shared"
)

type mockRepo struct {
	deliveries map[int64]*Delivery
	nextID     int64
	seq        int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{deliveries: map[int64]*Delivery{}}
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTx{repo: m})
}

func (m *mockRepo) GenerateNumber(_ context.Context, docType string, date time.Time) (string, error) {
	m.seq++
	return fmt.Sprintf("%s-%s-%04d", docType, date.Format("200601"), m.seq), nil
}

func (m *mockRepo) GetDelivery(_ context.Context, id int64) (*Delivery, error) {
	d, ok := m.deliveries[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockRepo) FindActiveByUnit(_ context.Context, unitID int64) (*Delivery, error) {
	for _, d := range m.deliveries {
		if d.UnitID == unitID && d.Status != DeliveryCancelled {
			cp := *d
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepo) ListDeliveries(_ context.Context, req ListRequest) ([]Delivery, int, error) {
	var out []Delivery
	for _, d := range m.deliveries {
		if req.Status != nil && d.Status != *req.Status {
			continue
		}
		out = append(out, *d)
	}
	return out, len(out), nil
}

type mockTx struct {
	repo *mockRepo
}

func (t *mockTx) Tx() pgx.Tx { return nil }

func (t *mockTx) CreateDelivery(_ context.Context, d Delivery) (int64, error) {
	t.repo.nextID++
	d.ID = t.repo.nextID
	d.CreatedAt = time.Now()
	t.repo.deliveries[d.ID] = &d
	return d.ID, nil
}

func (t *mockTx) UpdateStatus(_ context.Context, id int64, from, to lifecycle.Status) error {
	d, ok := t.repo.deliveries[id]
	if !ok || d.Status != from {
		return shared.ErrConflict
	}
	d.Status = to
	return nil
}

func (t *mockTx) Schedule(_ context.Context, id int64, at time.Time, from lifecycle.Status) error {
	if err := t.UpdateStatus(nil, id, from, DeliveryScheduled); err != nil {
		return err
	}
	t.repo.deliveries[id].ScheduledAt = &at
	return nil
}

func (t *mockTx) MarkDeliveredRow(_ context.Context, id int64, at time.Time, from lifecycle.Status) error {
	if err := t.UpdateStatus(nil, id, from, DeliveryDelivered); err != nil {
		return err
	}
	t.repo.deliveries[id].DeliveredAt = &at
	return nil
}

func (t *mockTx) CountDelivered(_ context.Context, dealerOrderID int64) (int64, error) {
	var n int64
	for _, d := range t.repo.deliveries {
		if d.DealerOrderID != nil && *d.DealerOrderID == dealerOrderID && d.Status == DeliveryDelivered {
			n++
		}
	}
	return n, nil
}

type heldUnit struct {
	holder   inventory.Holder
	consumed bool
	saleRef  string
}

type mockLedger struct {
	units map[int64]*heldUnit
}

func (m *mockLedger) ConsumeHeldTx(_ context.Context, _ pgx.Tx, unitID int64, holder inventory.Holder, saleRef string) error {
	u, ok := m.units[unitID]
	if !ok || u.consumed {
		return shared.ErrNotAvailable
	}
	if !sameHolder(u.holder, holder) {
		return shared.ErrConflict
	}
	u.consumed = true
	u.saleRef = saleRef
	return nil
}

func sameHolder(a, b inventory.Holder) bool {
	if a.DealerID != nil && b.DealerID != nil {
		return *a.DealerID == *b.DealerID
	}
	if a.CustomerID != nil && b.CustomerID != nil {
		return *a.CustomerID == *b.CustomerID
	}
	return false
}

type mockOrders struct {
	orders       map[int64]*sales.Order
	dealerOrders map[int64]*sales.DealerOrder
}

func (m *mockOrders) GetOrder(_ context.Context, id int64) (*sales.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) GetDealerOrder(_ context.Context, id int64) (*sales.DealerOrder, error) {
	o, ok := m.dealerOrders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) MarkOrderDeliveredTx(_ context.Context, _ pgx.Tx, id int64) error {
	o, ok := m.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	if _, err := sales.OrderMachine.Transition(o.Status, sales.OrderDelivered); err != nil {
		return err
	}
	o.Status = sales.OrderDelivered
	return nil
}

func (m *mockOrders) MarkDealerOrderDeliveredTx(_ context.Context, _ pgx.Tx, id int64) error {
	o, ok := m.dealerOrders[id]
	if !ok {
		return shared.ErrNotFound
	}
	if o.Status == sales.DealerOrderDelivered {
		return nil
	}
	if _, err := sales.DealerOrderMachine.Transition(o.Status, sales.DealerOrderDelivered); err != nil {
		return err
	}
	o.Status = sales.DealerOrderDelivered
	return nil
}

func int64ptr(v int64) *int64 { return &v }

func newTestService(repo *mockRepo, ledger *mockLedger, orders *mockOrders) *Service {
	return NewService(repo, ledger, orders, nil, slog.Default())
}

func staffActor() shared.Actor {
	return shared.Actor{UserID: 1, Role: shared.RoleStaff}
}

func paidOrderFixture(orders *mockOrders, ledger *mockLedger) {
	orders.orders[1] = &sales.Order{ID: 1, DocNumber: "ORD-202608-0001", CustomerID: 77, UnitID: int64ptr(7), Status: sales.OrderPaid}
	ledger.units[7] = &heldUnit{holder: inventory.Holder{CustomerID: int64ptr(77)}}
}

func TestCreateDelivery_RequiresSingleReference(t *testing.T) {
	svc := newTestService(newMockRepo(), &mockLedger{units: map[int64]*heldUnit{}}, &mockOrders{
		orders:       map[int64]*sales.Order{},
		dealerOrders: map[int64]*sales.DealerOrder{},
	})

	_, err := svc.CreateDelivery(context.Background(), CreateRequest{}, staffActor())
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateDelivery(context.Background(), CreateRequest{
		OrderID:           int64ptr(1),
		DealerOrderID:     int64ptr(2),
		DealerOrderLineID: int64ptr(3),
		UnitID:            int64ptr(4),
	}, staffActor())
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateDelivery(context.Background(), CreateRequest{
		DealerOrderID:     int64ptr(2),
		DealerOrderLineID: int64ptr(3),
	}, staffActor())
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateDelivery_RetailUsesOrderUnit(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{}}
	paidOrderFixture(orders, ledger)
	svc := newTestService(repo, ledger, orders)

	d, err := svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1)}, staffActor())
	require.NoError(t, err)
	assert.Equal(t, DeliveryPending, d.Status)
	assert.Equal(t, int64(7), d.UnitID)
	assert.Contains(t, d.DocNumber, "DLV-")
}

func TestCreateDelivery_RejectsMismatchedUnit(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{}}
	paidOrderFixture(orders, ledger)
	svc := newTestService(repo, ledger, orders)

	_, err := svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1), UnitID: int64ptr(99)}, staffActor())
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateDelivery_DuplicateUnitRejected(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{}}
	paidOrderFixture(orders, ledger)
	svc := newTestService(repo, ledger, orders)

	_, err := svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1)}, staffActor())
	require.NoError(t, err)

	_, err = svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1)}, staffActor())
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateDelivery_DealerRequiresApproval(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{
		5: {
			ID: 5, DocNumber: "DLR-202608-0001", DealerID: 200,
			Status: sales.DealerOrderConfirmed, ApprovalStatus: sales.ApprovalPending,
			Lines: []sales.DealerOrderLine{{ID: 50, DealerOrderID: 5, ReservedUnitIDs: []int64{11}}},
		},
	}}
	svc := newTestService(repo, ledger, orders)

	_, err := svc.CreateDelivery(context.Background(), CreateRequest{
		DealerOrderID:     int64ptr(5),
		DealerOrderLineID: int64ptr(50),
		UnitID:            int64ptr(11),
	}, staffActor())
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCreateDelivery_DealerUnitMustBeReserved(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{
		5: {
			ID: 5, DocNumber: "DLR-202608-0001", DealerID: 200,
			Status: sales.DealerOrderReadyForDelivery, ApprovalStatus: sales.ApprovalApproved,
			Lines: []sales.DealerOrderLine{{ID: 50, DealerOrderID: 5, ReservedUnitIDs: []int64{11, 12}}},
		},
	}}
	svc := newTestService(repo, ledger, orders)

	_, err := svc.CreateDelivery(context.Background(), CreateRequest{
		DealerOrderID:     int64ptr(5),
		DealerOrderLineID: int64ptr(50),
		UnitID:            int64ptr(99),
	}, staffActor())
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestMarkDelivered_ConsumesUnitAndAdvancesOrder(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{}}
	paidOrderFixture(orders, ledger)
	svc := newTestService(repo, ledger, orders)

	d, err := svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1)}, staffActor())
	require.NoError(t, err)
	d, err = svc.Schedule(context.Background(), d.ID, time.Now().Add(24*time.Hour), 1)
	require.NoError(t, err)

	d, err = svc.MarkDelivered(context.Background(), d.ID, time.Time{}, 1)
	require.NoError(t, err)
	assert.Equal(t, DeliveryDelivered, d.Status)
	require.NotNil(t, d.DeliveredAt)

	assert.True(t, ledger.units[7].consumed)
	assert.Equal(t, d.DocNumber, ledger.units[7].saleRef)
	assert.Equal(t, sales.OrderDelivered, orders.orders[1].Status)
}

func TestMarkDelivered_NotRepeatable(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{}}
	paidOrderFixture(orders, ledger)
	svc := newTestService(repo, ledger, orders)

	d, err := svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1)}, staffActor())
	require.NoError(t, err)
	_, err = svc.Schedule(context.Background(), d.ID, time.Now(), 1)
	require.NoError(t, err)
	_, err = svc.MarkDelivered(context.Background(), d.ID, time.Time{}, 1)
	require.NoError(t, err)

	_, err = svc.MarkDelivered(context.Background(), d.ID, time.Time{}, 1)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestMarkDelivered_RequiresPaidOrder(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{}}
	orders.orders[1] = &sales.Order{ID: 1, DocNumber: "ORD-202608-0001", CustomerID: 77, UnitID: int64ptr(7), Status: sales.OrderConfirmed}
	ledger.units[7] = &heldUnit{holder: inventory.Holder{CustomerID: int64ptr(77)}}
	svc := newTestService(repo, ledger, orders)

	d, err := svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1)}, staffActor())
	require.NoError(t, err)
	d, err = svc.Schedule(context.Background(), d.ID, time.Now(), 1)
	require.NoError(t, err)

	_, err = svc.MarkDelivered(context.Background(), d.ID, time.Time{}, 1)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	got, err := svc.GetDelivery(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, DeliveryScheduled, got.Status)
}

func TestMarkDelivered_RejectsForeignHold(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{}}
	orders.orders[1] = &sales.Order{ID: 1, DocNumber: "ORD-202608-0001", CustomerID: 77, UnitID: int64ptr(7), Status: sales.OrderPaid}
	ledger.units[7] = &heldUnit{holder: inventory.Holder{CustomerID: int64ptr(99)}}
	svc := newTestService(repo, ledger, orders)

	d, err := svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1)}, staffActor())
	require.NoError(t, err)
	_, err = svc.Schedule(context.Background(), d.ID, time.Now(), 1)
	require.NoError(t, err)

	_, err = svc.MarkDelivered(context.Background(), d.ID, time.Time{}, 1)
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.False(t, ledger.units[7].consumed)
}

func TestMarkDelivered_DealerCompletesAfterLastUnit(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{
		11: {holder: inventory.Holder{DealerID: int64ptr(200)}},
		12: {holder: inventory.Holder{DealerID: int64ptr(200)}},
	}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{
		5: {
			ID: 5, DocNumber: "DLR-202608-0001", DealerID: 200,
			Status: sales.DealerOrderReadyForDelivery, ApprovalStatus: sales.ApprovalApproved,
			Lines: []sales.DealerOrderLine{{ID: 50, DealerOrderID: 5, Quantity: 2, ReservedUnitIDs: []int64{11, 12}}},
		},
	}}
	svc := newTestService(repo, ledger, orders)

	deliver := func(unitID int64) *Delivery {
		d, err := svc.CreateDelivery(context.Background(), CreateRequest{
			DealerOrderID:     int64ptr(5),
			DealerOrderLineID: int64ptr(50),
			UnitID:            int64ptr(unitID),
		}, staffActor())
		require.NoError(t, err)
		_, err = svc.Schedule(context.Background(), d.ID, time.Now(), 1)
		require.NoError(t, err)
		d, err = svc.MarkDelivered(context.Background(), d.ID, time.Time{}, 1)
		require.NoError(t, err)
		return d
	}

	deliver(11)
	assert.Equal(t, sales.DealerOrderReadyForDelivery, orders.dealerOrders[5].Status)
	assert.True(t, ledger.units[11].consumed)

	deliver(12)
	assert.Equal(t, sales.DealerOrderDelivered, orders.dealerOrders[5].Status)
	assert.True(t, ledger.units[12].consumed)
}

func TestCancel_KeepsUnitReservedAndFreesSlot(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{}}
	paidOrderFixture(orders, ledger)
	svc := newTestService(repo, ledger, orders)

	d, err := svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1)}, staffActor())
	require.NoError(t, err)

	d, err = svc.Cancel(context.Background(), d.ID, 1, "customer rescheduled")
	require.NoError(t, err)
	assert.Equal(t, DeliveryCancelled, d.Status)
	assert.False(t, ledger.units[7].consumed)

	// A cancelled delivery does not block a replacement for the same unit.
	_, err = svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1)}, staffActor())
	require.NoError(t, err)
}

func TestSchedule_ThenTransitFlow(t *testing.T) {
	repo := newMockRepo()
	ledger := &mockLedger{units: map[int64]*heldUnit{}}
	orders := &mockOrders{orders: map[int64]*sales.Order{}, dealerOrders: map[int64]*sales.DealerOrder{}}
	paidOrderFixture(orders, ledger)
	svc := newTestService(repo, ledger, orders)

	d, err := svc.CreateDelivery(context.Background(), CreateRequest{OrderID: int64ptr(1)}, staffActor())
	require.NoError(t, err)

	// Delivering straight from PENDING is not allowed.
	_, err = svc.MarkDelivered(context.Background(), d.ID, time.Time{}, 1)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	d, err = svc.Schedule(context.Background(), d.ID, at, 1)
	require.NoError(t, err)
	assert.Equal(t, DeliveryScheduled, d.Status)
	require.NotNil(t, d.ScheduledAt)
	assert.Equal(t, at, *d.ScheduledAt)

	d, err = svc.MarkInTransit(context.Background(), d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, DeliveryInTransit, d.Status)

	d, err = svc.MarkDelivered(context.Background(), d.ID, time.Time{}, 1)
	require.NoError(t, err)
	assert.Equal(t, DeliveryDelivered, d.Status)
}
