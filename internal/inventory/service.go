package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evmotors/dms/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, LedgerTx) error) error
	Join(tx pgx.Tx) LedgerTx
	GetUnit(ctx context.Context, id int64) (*VehicleUnit, error)
	GetUnitByVIN(ctx context.Context, vin string) (*VehicleUnit, error)
	ListUnits(ctx context.Context, req ListUnitsRequest) ([]VehicleUnit, int, error)
	ListExpiredReservedIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// AllowWalkInSale permits consuming an AVAILABLE unit directly,
	// bypassing reservation, for cash walk-in sales.
	AllowWalkInSale bool
	// DefaultTTL applies when a reservation request passes no TTL.
	DefaultTTL time.Duration
}

// Service is the inventory ledger. It owns every status and reservation
// write on vehicle units; no other component touches those fields.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	cfg    ServiceConfig
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 48 * time.Hour
	}
	return &Service{repo: repo, audit: audit, logger: logger, cfg: cfg, now: time.Now}
}

// Intake registers a unit entering warehouse stock as AVAILABLE.
func (s *Service) Intake(ctx context.Context, input IntakeInput, actorID int64) (*VehicleUnit, error) {
	if input.VIN == "" {
		return nil, fmt.Errorf("%w: vin required", shared.ErrValidation)
	}
	if input.CostPrice.IsNegative() || input.SellingPrice.IsNegative() {
		return nil, fmt.Errorf("%w: prices must not be negative", shared.ErrValidation)
	}
	arrival := input.ArrivalDate
	if arrival.IsZero() {
		arrival = s.now().UTC()
	}
	unit := VehicleUnit{
		VIN:               input.VIN,
		VariantID:         input.VariantID,
		ColorID:           input.ColorID,
		WarehouseLocation: input.WarehouseLocation,
		Condition:         ParseCondition(input.Condition),
		Status:            StatusAvailable,
		CostPrice:         input.CostPrice,
		SellingPrice:      input.SellingPrice,
		ArrivalDate:       arrival,
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, ltx LedgerTx) error {
		var err error
		id, err = ltx.InsertUnit(ctx, unit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("intake unit: %w", err)
	}
	s.record(ctx, actorID, "inventory:INTAKE", id, map[string]any{"vin": input.VIN})
	return s.repo.GetUnit(ctx, id)
}

// Reserve places a time-bounded hold on a unit in its own transaction.
func (s *Service) Reserve(ctx context.Context, sel UnitSelector, holder Holder, ttl time.Duration) (*VehicleUnit, error) {
	var unit *VehicleUnit
	err := s.repo.WithTx(ctx, func(ctx context.Context, ltx LedgerTx) error {
		var err error
		unit, err = s.reserveLocked(ctx, ltx, sel, holder, ttl)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, holderActor(holder), "inventory:RESERVE", unit.ID, map[string]any{"vin": unit.VIN})
	return unit, nil
}

// ReserveTx is Reserve running inside a caller-provided transaction, so a
// document write and its reservation commit or roll back together.
func (s *Service) ReserveTx(ctx context.Context, tx pgx.Tx, sel UnitSelector, holder Holder, ttl time.Duration) (*VehicleUnit, error) {
	return s.reserveLocked(ctx, s.repo.Join(tx), sel, holder, ttl)
}

func (s *Service) reserveLocked(ctx context.Context, ltx LedgerTx, sel UnitSelector, holder Holder, ttl time.Duration) (*VehicleUnit, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if err := holder.Validate(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	now := s.now().UTC()

	var (
		unit *VehicleUnit
		err  error
	)
	if sel.VIN != "" {
		unit, err = ltx.GetUnitByVINForUpdate(ctx, sel.VIN)
	} else {
		unit, err = ltx.PickAvailableForUpdate(ctx, sel.VariantID, sel.ColorID)
	}
	if err != nil {
		return nil, err
	}

	s.lapseIfExpired(unit, now)
	if unit.Status != StatusAvailable || unit.Archived {
		return nil, fmt.Errorf("%w: unit %s is %s", shared.ErrNotAvailable, unit.VIN, unit.Status)
	}

	ref := uuid.NewString()
	expires := now.Add(ttl)
	unit.Status = StatusReserved
	unit.ReservedForDealerID = holder.DealerID
	unit.ReservedForCustomerID = holder.CustomerID
	unit.ReservationRef = &ref
	unit.ReservedAt = &now
	unit.ReservationExpiresAt = &expires
	if err := ltx.UpdateUnitState(ctx, unit); err != nil {
		return nil, err
	}
	return unit, nil
}

// Release returns a reserved unit to stock. Already-available units are a
// no-op so release is idempotent.
func (s *Service) Release(ctx context.Context, unitID int64, reason string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, ltx LedgerTx) error {
		return s.releaseLocked(ctx, ltx, unitID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, 0, "inventory:RELEASE", unitID, map[string]any{"reason": reason})
	return nil
}

// ReleaseTx is Release inside a caller-provided transaction.
func (s *Service) ReleaseTx(ctx context.Context, tx pgx.Tx, unitID int64, reason string) error {
	return s.releaseLocked(ctx, s.repo.Join(tx), unitID)
}

func (s *Service) releaseLocked(ctx context.Context, ltx LedgerTx, unitID int64) error {
	unit, err := ltx.GetUnitForUpdate(ctx, unitID)
	if err != nil {
		return err
	}
	switch unit.Status {
	case StatusAvailable:
		return nil
	case StatusReserved:
		clearReservation(unit)
		unit.Status = StatusAvailable
		return ltx.UpdateUnitState(ctx, unit)
	default:
		return fmt.Errorf("%w: cannot release %s unit %s", shared.ErrInvalidTransition, unit.Status, unit.VIN)
	}
}

// Consume marks a reserved unit SOLD. Irreversible outside an explicit
// return flow.
func (s *Service) Consume(ctx context.Context, unitID int64, saleRef string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, ltx LedgerTx) error {
		return s.consumeLocked(ctx, ltx, unitID, nil, saleRef)
	})
	if err != nil {
		return err
	}
	s.record(ctx, 0, "inventory:CONSUME", unitID, map[string]any{"sale_ref": saleRef})
	return nil
}

// ConsumeTx is Consume inside a caller-provided transaction.
func (s *Service) ConsumeTx(ctx context.Context, tx pgx.Tx, unitID int64, saleRef string) error {
	return s.consumeLocked(ctx, s.repo.Join(tx), unitID, nil, saleRef)
}

// ConsumeHeldTx additionally verifies the reservation belongs to the given
// holder before consuming. Deliveries use this to ensure the unit was held
// for the same party as the order.
func (s *Service) ConsumeHeldTx(ctx context.Context, tx pgx.Tx, unitID int64, holder Holder, saleRef string) error {
	return s.consumeLocked(ctx, s.repo.Join(tx), unitID, &holder, saleRef)
}

func (s *Service) consumeLocked(ctx context.Context, ltx LedgerTx, unitID int64, expect *Holder, saleRef string) error {
	unit, err := ltx.GetUnitForUpdate(ctx, unitID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	s.lapseIfExpired(unit, now)

	switch unit.Status {
	case StatusReserved:
		if expect != nil && !expect.Matches(unit) {
			return fmt.Errorf("%w: unit %s reserved for another party", shared.ErrInvalidTransition, unit.VIN)
		}
	case StatusAvailable:
		if !s.cfg.AllowWalkInSale {
			return fmt.Errorf("%w: unit %s is not reserved", shared.ErrInvalidTransition, unit.VIN)
		}
	default:
		return fmt.Errorf("%w: cannot consume %s unit %s", shared.ErrInvalidTransition, unit.Status, unit.VIN)
	}

	clearReservation(unit)
	unit.Status = StatusSold
	unit.SaleRef = &saleRef
	return ltx.UpdateUnitState(ctx, unit)
}

// MarkStatus moves a unit between non-commercial states (maintenance,
// damage, transit). Allocation states are owned by reserve/release/consume.
func (s *Service) MarkStatus(ctx context.Context, unitID int64, target UnitStatus, actorID int64) error {
	switch target {
	case StatusMaintenance, StatusDamaged, StatusInTransit, StatusAvailable:
	default:
		return fmt.Errorf("%w: %s is not a manual status", shared.ErrValidation, target)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, ltx LedgerTx) error {
		unit, err := ltx.GetUnitForUpdate(ctx, unitID)
		if err != nil {
			return err
		}
		switch unit.Status {
		case StatusAvailable, StatusMaintenance, StatusDamaged, StatusInTransit:
		default:
			return fmt.Errorf("%w: cannot move %s unit manually", shared.ErrInvalidTransition, unit.Status)
		}
		unit.Status = target
		return ltx.UpdateUnitState(ctx, unit)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "inventory:MARK", unitID, map[string]any{"status": string(target)})
	return nil
}

// SweepExpired releases reserved units whose hold lapsed before now. Each
// unit is revisited under its own row lock, so a unit consumed between the
// scan and the release is left alone. Per-unit failures are logged and
// skipped.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ListExpiredReservedIDs(ctx, now, 0)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}
	released := 0
	for _, id := range ids {
		err := s.repo.WithTx(ctx, func(ctx context.Context, ltx LedgerTx) error {
			unit, err := ltx.GetUnitForUpdate(ctx, id)
			if err != nil {
				return err
			}
			// Re-check under the lock: the unit may have been consumed or
			// already released since the scan.
			if unit.Status != StatusReserved || unit.ReservationExpiresAt == nil || !unit.ReservationExpiresAt.Before(now) {
				return nil
			}
			clearReservation(unit)
			unit.Status = StatusAvailable
			if err := ltx.UpdateUnitState(ctx, unit); err != nil {
				return err
			}
			released++
			return nil
		})
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("sweep release", slog.Int64("unit_id", id), slog.Any("error", err))
			}
			continue
		}
	}
	return released, nil
}

// GetUnit returns a unit by id.
func (s *Service) GetUnit(ctx context.Context, id int64) (*VehicleUnit, error) {
	return s.repo.GetUnit(ctx, id)
}

// GetUnitByVIN returns a unit by VIN.
func (s *Service) GetUnitByVIN(ctx context.Context, vin string) (*VehicleUnit, error) {
	return s.repo.GetUnitByVIN(ctx, vin)
}

// ListUnits returns filtered units.
func (s *Service) ListUnits(ctx context.Context, req ListUnitsRequest) ([]VehicleUnit, int, error) {
	return s.repo.ListUnits(ctx, req)
}

// lapseIfExpired applies the lazy TTL check: a reserved unit whose hold has
// lapsed is treated as available before the operation's own semantics run.
func (s *Service) lapseIfExpired(unit *VehicleUnit, now time.Time) {
	if unit.Status == StatusReserved && unit.ReservationExpiresAt != nil && unit.ReservationExpiresAt.Before(now) {
		clearReservation(unit)
		unit.Status = StatusAvailable
	}
}

func clearReservation(unit *VehicleUnit) {
	unit.ReservedForDealerID = nil
	unit.ReservedForCustomerID = nil
	unit.ReservationRef = nil
	unit.ReservedAt = nil
	unit.ReservationExpiresAt = nil
}

func holderActor(h Holder) int64 {
	if h.CustomerID != nil {
		return *h.CustomerID
	}
	if h.DealerID != nil {
		return *h.DealerID
	}
	return 0
}

func (s *Service) record(ctx context.Context, actorID int64, action string, unitID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "vehicle_unit",
		EntityID: fmt.Sprintf("%d", unitID),
		Meta:     meta,
	})
}
