package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmotors/dms/internal/shared"
)

// mockLedger emulates the repository with per-unit row locks: TryLock stands
// in for FOR UPDATE NOWAIT, skipping locked rows stands in for SKIP LOCKED.
type mockLedger struct {
	mu       sync.Mutex
	units    map[int64]*VehicleUnit
	vins     map[string]int64
	rowLocks map[int64]*sync.Mutex
	nextID   int64
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		units:    make(map[int64]*VehicleUnit),
		vins:     make(map[string]int64),
		rowLocks: make(map[int64]*sync.Mutex),
	}
}

func (m *mockLedger) seed(unit VehicleUnit) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	unit.ID = m.nextID
	if unit.Version == 0 {
		unit.Version = 1
	}
	m.units[unit.ID] = &unit
	m.vins[unit.VIN] = unit.ID
	m.rowLocks[unit.ID] = &sync.Mutex{}
	return unit.ID
}

type mockTx struct {
	m       *mockLedger
	locked  []int64
	pending map[int64]*VehicleUnit
}

func (m *mockLedger) WithTx(ctx context.Context, fn func(context.Context, LedgerTx) error) error {
	tx := &mockTx{m: m, pending: make(map[int64]*VehicleUnit)}
	err := fn(ctx, tx)
	m.mu.Lock()
	if err == nil {
		for id, unit := range tx.pending {
			m.units[id] = unit
		}
	}
	m.mu.Unlock()
	for _, id := range tx.locked {
		m.rowLocks[id].Unlock()
	}
	return err
}

// Join returns an auto-committing tx so the *Tx service variants are
// exercisable without a database.
func (m *mockLedger) Join(tx pgx.Tx) LedgerTx {
	return &mockAutoTx{m: m}
}

func (t *mockTx) lockRow(id int64) error {
	lock := t.m.rowLocks[id]
	if !lock.TryLock() {
		return shared.ErrConflict
	}
	t.locked = append(t.locked, id)
	return nil
}

func (t *mockTx) GetUnitForUpdate(ctx context.Context, id int64) (*VehicleUnit, error) {
	t.m.mu.Lock()
	unit, ok := t.m.units[id]
	t.m.mu.Unlock()
	if !ok {
		return nil, shared.ErrNotFound
	}
	if err := t.lockRow(id); err != nil {
		return nil, err
	}
	cp := *unit
	return &cp, nil
}

func (t *mockTx) GetUnitByVINForUpdate(ctx context.Context, vin string) (*VehicleUnit, error) {
	t.m.mu.Lock()
	id, ok := t.m.vins[vin]
	t.m.mu.Unlock()
	if !ok {
		return nil, shared.ErrNotFound
	}
	return t.GetUnitForUpdate(ctx, id)
}

func (t *mockTx) PickAvailableForUpdate(ctx context.Context, variantID, colorID int64) (*VehicleUnit, error) {
	t.m.mu.Lock()
	candidates := []*VehicleUnit{}
	for _, u := range t.m.units {
		if u.VariantID == variantID && u.ColorID == colorID && u.Status == StatusAvailable && !u.Archived {
			candidates = append(candidates, u)
		}
	}
	t.m.mu.Unlock()
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ArrivalDate.Equal(candidates[j].ArrivalDate) {
			return candidates[i].ArrivalDate.Before(candidates[j].ArrivalDate)
		}
		return candidates[i].ID < candidates[j].ID
	})
	for _, u := range candidates {
		if t.m.rowLocks[u.ID].TryLock() {
			t.locked = append(t.locked, u.ID)
			cp := *u
			return &cp, nil
		}
	}
	return nil, shared.ErrNotAvailable
}

func (t *mockTx) UpdateUnitState(ctx context.Context, unit *VehicleUnit) error {
	t.m.mu.Lock()
	current, ok := t.m.units[unit.ID]
	t.m.mu.Unlock()
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != unit.Version {
		return shared.ErrConflict
	}
	cp := *unit
	cp.Version++
	t.pending[unit.ID] = &cp
	unit.Version++
	return nil
}

func (t *mockTx) InsertUnit(ctx context.Context, unit VehicleUnit) (int64, error) {
	t.m.mu.Lock()
	if _, exists := t.m.vins[unit.VIN]; exists {
		t.m.mu.Unlock()
		return 0, shared.ErrConflict
	}
	t.m.mu.Unlock()
	unit.Status = StatusAvailable
	return t.m.seed(unit), nil
}

// mockAutoTx applies writes immediately, standing in for a joined
// transaction owned by another module.
type mockAutoTx struct{ m *mockLedger }

func (a *mockAutoTx) inner() *mockTx {
	return &mockTx{m: a.m, pending: make(map[int64]*VehicleUnit)}
}

func (a *mockAutoTx) GetUnitForUpdate(ctx context.Context, id int64) (*VehicleUnit, error) {
	t := a.inner()
	unit, err := t.GetUnitForUpdate(ctx, id)
	for _, lid := range t.locked {
		a.m.rowLocks[lid].Unlock()
	}
	return unit, err
}

func (a *mockAutoTx) GetUnitByVINForUpdate(ctx context.Context, vin string) (*VehicleUnit, error) {
	t := a.inner()
	unit, err := t.GetUnitByVINForUpdate(ctx, vin)
	for _, lid := range t.locked {
		a.m.rowLocks[lid].Unlock()
	}
	return unit, err
}

func (a *mockAutoTx) PickAvailableForUpdate(ctx context.Context, variantID, colorID int64) (*VehicleUnit, error) {
	t := a.inner()
	unit, err := t.PickAvailableForUpdate(ctx, variantID, colorID)
	for _, lid := range t.locked {
		a.m.rowLocks[lid].Unlock()
	}
	return unit, err
}

func (a *mockAutoTx) UpdateUnitState(ctx context.Context, unit *VehicleUnit) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	current, ok := a.m.units[unit.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != unit.Version {
		return shared.ErrConflict
	}
	cp := *unit
	cp.Version++
	a.m.units[unit.ID] = &cp
	unit.Version++
	return nil
}

func (a *mockAutoTx) InsertUnit(ctx context.Context, unit VehicleUnit) (int64, error) {
	return a.m.seed(unit), nil
}

func (m *mockLedger) GetUnit(ctx context.Context, id int64) (*VehicleUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *unit
	return &cp, nil
}

func (m *mockLedger) GetUnitByVIN(ctx context.Context, vin string) (*VehicleUnit, error) {
	m.mu.Lock()
	id, ok := m.vins[vin]
	m.mu.Unlock()
	if !ok {
		return nil, shared.ErrNotFound
	}
	return m.GetUnit(ctx, id)
}

func (m *mockLedger) ListUnits(ctx context.Context, req ListUnitsRequest) ([]VehicleUnit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []VehicleUnit{}
	for _, u := range m.units {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *mockLedger) ListExpiredReservedIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, u := range m.units {
		if u.Status == StatusReserved && u.ReservationExpiresAt != nil && u.ReservationExpiresAt.Before(now) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func testUnit(vin string, arrival time.Time) VehicleUnit {
	return VehicleUnit{
		VIN:               vin,
		VariantID:         1,
		ColorID:           2,
		WarehouseLocation: "HQ",
		Condition:         ConditionNew,
		Status:            StatusAvailable,
		CostPrice:         decimal.NewFromInt(20000),
		SellingPrice:      decimal.NewFromInt(24000),
		ArrivalDate:       arrival,
	}
}

func holderCustomer(id int64) Holder { return Holder{CustomerID: &id} }
func holderDealer(id int64) Holder   { return Holder{DealerID: &id} }

func newTestService(repo *mockLedger) *Service {
	return NewService(repo, nil, nil, ServiceConfig{DefaultTTL: time.Hour})
}

func TestReserve_ConcurrentSameVIN(t *testing.T) {
	repo := newMockLedger()
	repo.seed(testUnit("VIN0001", time.Now()))
	svc := newTestService(repo)

	type result struct {
		unit *VehicleUnit
		err  error
	}
	results := make(chan result, 2)
	start := make(chan struct{})
	for i := int64(1); i <= 2; i++ {
		go func(customerID int64) {
			<-start
			unit, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(customerID), time.Hour)
			results <- result{unit, err}
		}(i)
	}
	close(start)

	var successes, failures int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			successes++
			assert.Equal(t, StatusReserved, r.unit.Status)
		} else {
			failures++
			assert.True(t,
				errors.Is(r.err, shared.ErrConflict) || errors.Is(r.err, shared.ErrNotAvailable),
				"unexpected error: %v", r.err)
		}
	}
	assert.Equal(t, 1, successes, "exactly one reservation must win")
	assert.Equal(t, 1, failures)

	unit, err := repo.GetUnitByVIN(context.Background(), "VIN0001")
	require.NoError(t, err)
	holders := 0
	if unit.ReservedForCustomerID != nil {
		holders++
	}
	if unit.ReservedForDealerID != nil {
		holders++
	}
	assert.Equal(t, 1, holders, "a reserved unit has exactly one holder")
}

func TestReserve_ClassPicksOldestArrival(t *testing.T) {
	repo := newMockLedger()
	repo.seed(testUnit("VIN-NEW", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	oldID := repo.seed(testUnit("VIN-OLD", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	svc := newTestService(repo)

	unit, err := svc.Reserve(context.Background(), UnitSelector{VariantID: 1, ColorID: 2}, holderCustomer(9), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, oldID, unit.ID, "FIFO: oldest arrival reserved first")
}

func TestReserve_NoMatchingClass(t *testing.T) {
	repo := newMockLedger()
	svc := newTestService(repo)
	_, err := svc.Reserve(context.Background(), UnitSelector{VariantID: 7, ColorID: 7}, holderCustomer(1), time.Hour)
	require.ErrorIs(t, err, shared.ErrNotAvailable)
}

func TestReserve_HolderMutualExclusion(t *testing.T) {
	repo := newMockLedger()
	repo.seed(testUnit("VIN0001", time.Now()))
	svc := newTestService(repo)

	d, c := int64(1), int64(2)
	_, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, Holder{DealerID: &d, CustomerID: &c}, time.Hour)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, Holder{}, time.Hour)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReleaseThenReserveByOtherHolder(t *testing.T) {
	repo := newMockLedger()
	id := repo.seed(testUnit("VIN0001", time.Now()))
	svc := newTestService(repo)

	_, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(1), time.Hour)
	require.NoError(t, err)

	require.NoError(t, svc.Release(context.Background(), id, "customer backed out"))

	unit, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderDealer(5), time.Hour)
	require.NoError(t, err)
	require.NotNil(t, unit.ReservedForDealerID)
	assert.Equal(t, int64(5), *unit.ReservedForDealerID)
}

func TestRelease_IdempotentWhenAvailable(t *testing.T) {
	repo := newMockLedger()
	id := repo.seed(testUnit("VIN0001", time.Now()))
	svc := newTestService(repo)

	require.NoError(t, svc.Release(context.Background(), id, "noop"))
	require.NoError(t, svc.Release(context.Background(), id, "noop again"))
}

func TestConsume_ThenFurtherOpsFail(t *testing.T) {
	repo := newMockLedger()
	id := repo.seed(testUnit("VIN0001", time.Now()))
	svc := newTestService(repo)

	_, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(1), time.Hour)
	require.NoError(t, err)
	require.NoError(t, svc.Consume(context.Background(), id, "ORD-001"))

	unit, err := repo.GetUnit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSold, unit.Status)
	assert.Nil(t, unit.ReservedForCustomerID, "sold unit has no reservation holder")

	_, err = svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(2), time.Hour)
	require.ErrorIs(t, err, shared.ErrNotAvailable)

	require.ErrorIs(t, svc.Release(context.Background(), id, "too late"), shared.ErrInvalidTransition)
	require.ErrorIs(t, svc.Consume(context.Background(), id, "ORD-002"), shared.ErrInvalidTransition)
}

func TestConsume_WalkInRequiresConfig(t *testing.T) {
	repo := newMockLedger()
	id := repo.seed(testUnit("VIN0001", time.Now()))

	strict := newTestService(repo)
	require.ErrorIs(t, strict.Consume(context.Background(), id, "ORD-001"), shared.ErrInvalidTransition)

	walkIn := NewService(repo, nil, nil, ServiceConfig{AllowWalkInSale: true, DefaultTTL: time.Hour})
	require.NoError(t, walkIn.Consume(context.Background(), id, "ORD-001"))
}

func TestConsumeHeldTx_RejectsOtherParty(t *testing.T) {
	repo := newMockLedger()
	id := repo.seed(testUnit("VIN0001", time.Now()))
	svc := newTestService(repo)

	_, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(1), time.Hour)
	require.NoError(t, err)

	err = svc.ConsumeHeldTx(context.Background(), nil, id, holderCustomer(2), "ORD-001")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	require.NoError(t, svc.ConsumeHeldTx(context.Background(), nil, id, holderCustomer(1), "ORD-001"))
}

func TestLazyExpiry_ReserveReclaimsLapsedHold(t *testing.T) {
	repo := newMockLedger()
	repo.seed(testUnit("VIN0001", time.Now()))
	svc := newTestService(repo)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	_, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(1), time.Hour)
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	unit, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(2), time.Hour)
	require.NoError(t, err, "lapsed hold is reclaimable without a sweep")
	require.NotNil(t, unit.ReservedForCustomerID)
	assert.Equal(t, int64(2), *unit.ReservedForCustomerID)
}

func TestConsume_LapsedReservationFails(t *testing.T) {
	repo := newMockLedger()
	id := repo.seed(testUnit("VIN0001", time.Now()))
	svc := newTestService(repo)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	_, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(1), time.Hour)
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.ErrorIs(t, svc.Consume(context.Background(), id, "ORD-001"), shared.ErrInvalidTransition)
}

func TestSweepExpired_IdempotentAndLockSafe(t *testing.T) {
	repo := newMockLedger()
	repo.seed(testUnit("VIN0001", time.Now()))
	repo.seed(testUnit("VIN0002", time.Now()))
	svc := newTestService(repo)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	_, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(1), time.Hour)
	require.NoError(t, err)
	_, err = svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0002"}, holderCustomer(2), 4*time.Hour)
	require.NoError(t, err)

	sweepAt := base.Add(2 * time.Hour)
	released, err := svc.SweepExpired(context.Background(), sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 1, released, "only the lapsed hold is released")

	released, err = svc.SweepExpired(context.Background(), sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 0, released, "second sweep with no state change releases nothing")

	unit, err := repo.GetUnitByVIN(context.Background(), "VIN0002")
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, unit.Status, "live hold untouched")
}

func TestSweepExpired_SkipsConsumedUnit(t *testing.T) {
	repo := newMockLedger()
	id := repo.seed(testUnit("VIN0001", time.Now()))
	svc := newTestService(repo)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	_, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(1), time.Hour)
	require.NoError(t, err)

	// The unit is consumed between the expiry scan and the per-unit lock.
	require.NoError(t, svc.Consume(context.Background(), id, "ORD-001"))

	released, err := svc.SweepExpired(context.Background(), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	unit, err := repo.GetUnit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSold, unit.Status, "consumed unit must never be released by the sweep")
}

func TestIntake_CreatesAvailableUnit(t *testing.T) {
	repo := newMockLedger()
	svc := newTestService(repo)

	unit, err := svc.Intake(context.Background(), IntakeInput{
		VIN:               "WVWZZZ1JZXW000001",
		VariantID:         1,
		ColorID:           2,
		WarehouseLocation: "HQ",
		Condition:         "demo",
		CostPrice:         decimal.NewFromInt(18000),
		SellingPrice:      decimal.NewFromInt(21000),
	}, 99)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, unit.Status)
	assert.Equal(t, ConditionDemo, unit.Condition)
	assert.Equal(t, int64(1), unit.Version)
}

func TestMarkStatus_RejectsAllocationStates(t *testing.T) {
	repo := newMockLedger()
	id := repo.seed(testUnit("VIN0001", time.Now()))
	svc := newTestService(repo)

	require.ErrorIs(t, svc.MarkStatus(context.Background(), id, StatusSold, 1), shared.ErrValidation)
	require.NoError(t, svc.MarkStatus(context.Background(), id, StatusMaintenance, 1))

	_, err := svc.Reserve(context.Background(), UnitSelector{VIN: "VIN0001"}, holderCustomer(1), time.Hour)
	require.ErrorIs(t, err, shared.ErrNotAvailable)
}
