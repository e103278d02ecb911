package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evmotors/dms/internal/inventory"
	"github.com/evmotors/dms/internal/lifecycle"
	"github.com/evmotors/dms/internal/sales"
	"github.com/evmotors/dms/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GenerateNumber(ctx context.Context, docType string, date time.Time) (string, error)
	GetDelivery(ctx context.Context, id int64) (*Delivery, error)
	FindActiveByUnit(ctx context.Context, unitID int64) (*Delivery, error)
	ListDeliveries(ctx context.Context, req ListRequest) ([]Delivery, int, error)
}

// Ledger is the slice of the inventory service handover needs. Consumption
// joins the delivery transaction so the SOLD write and the status change
// commit together.
type Ledger interface {
	ConsumeHeldTx(ctx context.Context, tx pgx.Tx, unitID int64, holder inventory.Holder, saleRef string) error
}

// Orders is the slice of the sales service handover needs.
type Orders interface {
	GetOrder(ctx context.Context, id int64) (*sales.Order, error)
	GetDealerOrder(ctx context.Context, id int64) (*sales.DealerOrder, error)
	MarkOrderDeliveredTx(ctx context.Context, tx pgx.Tx, id int64) error
	MarkDealerOrderDeliveredTx(ctx context.Context, tx pgx.Tx, id int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service provides delivery operations.
type Service struct {
	repo   RepositoryPort
	ledger Ledger
	orders Orders
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger Ledger, orders Orders, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		orders: orders,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// CreateDelivery opens a PENDING delivery for a reserved unit. The request
// references exactly one of a retail order or a dealer order line, and a unit
// can back at most one live delivery at a time.
func (s *Service) CreateDelivery(ctx context.Context, req CreateRequest, actor shared.Actor) (*Delivery, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: delivery must reference one retail order or one dealer order line", err)
	}

	d := Delivery{
		Status:    DeliveryPending,
		Address:   req.Address,
		Notes:     req.Notes,
		CreatedBy: actor.UserID,
	}
	if req.OrderID != nil {
		o, err := s.orders.GetOrder(ctx, *req.OrderID)
		if err != nil {
			return nil, err
		}
		switch o.Status {
		case sales.OrderConfirmed, sales.OrderPaid:
		default:
			return nil, fmt.Errorf("%w: order %s is %s", shared.ErrInvalidTransition, o.DocNumber, o.Status)
		}
		if o.UnitID == nil {
			return nil, fmt.Errorf("%w: order %s has no allocated unit", shared.ErrValidation, o.DocNumber)
		}
		if req.UnitID != nil && *req.UnitID != *o.UnitID {
			return nil, fmt.Errorf("%w: unit %d is not allocated to order %s", shared.ErrValidation, *req.UnitID, o.DocNumber)
		}
		d.OrderID = req.OrderID
		d.UnitID = *o.UnitID
	} else {
		o, err := s.orders.GetDealerOrder(ctx, *req.DealerOrderID)
		if err != nil {
			return nil, err
		}
		if o.ApprovalStatus != sales.ApprovalApproved {
			return nil, fmt.Errorf("%w: dealer order %s is not approved", shared.ErrInvalidTransition, o.DocNumber)
		}
		line, err := findLine(o, *req.DealerOrderLineID)
		if err != nil {
			return nil, err
		}
		if !containsID(line.ReservedUnitIDs, *req.UnitID) {
			return nil, fmt.Errorf("%w: unit %d is not reserved for dealer order %s", shared.ErrValidation, *req.UnitID, o.DocNumber)
		}
		d.DealerOrderID = req.DealerOrderID
		d.DealerOrderLineID = req.DealerOrderLineID
		d.UnitID = *req.UnitID
	}

	if existing, err := s.repo.FindActiveByUnit(ctx, d.UnitID); err == nil {
		return nil, fmt.Errorf("%w: unit %d already on delivery %s", shared.ErrConflict, d.UnitID, existing.DocNumber)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	docNumber, err := s.repo.GenerateNumber(ctx, "DLV", s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("generate delivery number: %w", err)
	}
	d.DocNumber = docNumber

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateDelivery(ctx, d)
		if err != nil {
			return err
		}
		d.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor.UserID, "delivery:CREATE", d.ID, map[string]any{"doc_number": d.DocNumber, "unit_id": d.UnitID})
	return s.repo.GetDelivery(ctx, d.ID)
}

// Schedule sets the planned handover time.
func (s *Service) Schedule(ctx context.Context, id int64, at time.Time, actorID int64) (*Delivery, error) {
	d, err := s.repo.GetDelivery(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := DeliveryMachine.Transition(d.Status, DeliveryScheduled); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Schedule(ctx, id, at.UTC(), d.Status)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "delivery:SCHEDULE", id, map[string]any{"scheduled_at": at.UTC()})
	return s.repo.GetDelivery(ctx, id)
}

// MarkInTransit records that the unit left the warehouse.
func (s *Service) MarkInTransit(ctx context.Context, id int64, actorID int64) (*Delivery, error) {
	return s.transition(ctx, id, DeliveryInTransit, actorID, "delivery:IN_TRANSIT")
}

// MarkDelivered completes the handover. In one transaction it consumes the
// reserved unit for the order's buyer and moves the backing document to
// DELIVERED. DELIVERED is terminal, so a second call fails.
func (s *Service) MarkDelivered(ctx context.Context, id int64, at time.Time, actorID int64) (*Delivery, error) {
	d, err := s.repo.GetDelivery(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := DeliveryMachine.Transition(d.Status, DeliveryDelivered); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	if d.Retail() {
		err = s.deliverRetail(ctx, d, at)
	} else {
		err = s.deliverDealer(ctx, d, at)
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "delivery:DELIVERED", id, map[string]any{"unit_id": d.UnitID, "delivered_at": at})
	return s.repo.GetDelivery(ctx, id)
}

func (s *Service) deliverRetail(ctx context.Context, d *Delivery, at time.Time) error {
	o, err := s.orders.GetOrder(ctx, *d.OrderID)
	if err != nil {
		return err
	}
	holder := inventory.Holder{CustomerID: &o.CustomerID}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.ledger.ConsumeHeldTx(ctx, tx.Tx(), d.UnitID, holder, d.DocNumber); err != nil {
			return err
		}
		if err := s.orders.MarkOrderDeliveredTx(ctx, tx.Tx(), o.ID); err != nil {
			return err
		}
		return tx.MarkDeliveredRow(ctx, d.ID, at, d.Status)
	})
}

func (s *Service) deliverDealer(ctx context.Context, d *Delivery, at time.Time) error {
	o, err := s.orders.GetDealerOrder(ctx, *d.DealerOrderID)
	if err != nil {
		return err
	}
	if o.ApprovalStatus != sales.ApprovalApproved {
		return fmt.Errorf("%w: dealer order %s is not approved", shared.ErrInvalidTransition, o.DocNumber)
	}
	reserved := int64(0)
	for _, line := range o.Lines {
		reserved += int64(len(line.ReservedUnitIDs))
	}
	holder := inventory.Holder{DealerID: &o.DealerID}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.ledger.ConsumeHeldTx(ctx, tx.Tx(), d.UnitID, holder, d.DocNumber); err != nil {
			return err
		}
		if err := tx.MarkDeliveredRow(ctx, d.ID, at, d.Status); err != nil {
			return err
		}
		done, err := tx.CountDelivered(ctx, o.ID)
		if err != nil {
			return err
		}
		// The dealer order flips to DELIVERED only with its last unit.
		if done >= reserved {
			return s.orders.MarkDealerOrderDeliveredTx(ctx, tx.Tx(), o.ID)
		}
		return nil
	})
}

// Cancel aborts a delivery. The unit stays reserved for its order; releasing
// it is the order's concern, not the delivery's.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64, reason string) (*Delivery, error) {
	d, err := s.transition(ctx, id, DeliveryCancelled, actorID, "delivery:CANCEL")
	if err != nil {
		return nil, err
	}
	if reason != "" {
		s.logger.Info("delivery cancelled", slog.Int64("delivery_id", id), slog.String("reason", reason))
	}
	return d, nil
}

func (s *Service) transition(ctx context.Context, id int64, to lifecycle.Status, actorID int64, action string) (*Delivery, error) {
	d, err := s.repo.GetDelivery(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := DeliveryMachine.Transition(d.Status, to); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, d.Status, to)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, action, id, nil)
	return s.repo.GetDelivery(ctx, id)
}

// GetDelivery returns one delivery.
func (s *Service) GetDelivery(ctx context.Context, id int64) (*Delivery, error) {
	return s.repo.GetDelivery(ctx, id)
}

// ListDeliveries returns filtered deliveries.
func (s *Service) ListDeliveries(ctx context.Context, req ListRequest) ([]Delivery, int, error) {
	return s.repo.ListDeliveries(ctx, req)
}

func findLine(o *sales.DealerOrder, lineID int64) (*sales.DealerOrderLine, error) {
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			return &o.Lines[i], nil
		}
	}
	return nil, fmt.Errorf("%w: dealer order line %d", shared.ErrNotFound, lineID)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "delivery",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
