package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/evmotors/dms/internal/inventory"
	"github.com/evmotors/dms/internal/lifecycle"
	"github.com/evmotors/dms/internal/pricing"
	"github.com/evmotors/dms/internal/pricing/policy"
	"github.com/evmotors/dms/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Join(tx pgx.Tx) TxRepository
	GenerateNumber(ctx context.Context, docType string, date time.Time) (string, error)
	GetQuotation(ctx context.Context, id int64) (*Quotation, error)
	ListQuotations(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error)
	ListExpirableQuotationIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	GetOrder(ctx context.Context, id int64) (*Order, error)
	ListOrders(ctx context.Context, req ListOrdersRequest) ([]Order, int, error)
	GetDealerOrder(ctx context.Context, id int64) (*DealerOrder, error)
	ListDealerOrders(ctx context.Context, req ListDealerOrdersRequest) ([]DealerOrder, int, error)
}

// Ledger is the slice of the inventory service the sales flows need. The Tx
// variants run inside the sales transaction so a document write and its
// reservation commit or roll back together.
type Ledger interface {
	ReserveTx(ctx context.Context, tx pgx.Tx, sel inventory.UnitSelector, holder inventory.Holder, ttl time.Duration) (*inventory.VehicleUnit, error)
	ReleaseTx(ctx context.Context, tx pgx.Tx, unitID int64, reason string) error
}

// PriceResolver finds the applicable pricing policy for a quote line.
type PriceResolver interface {
	ResolvePrice(ctx context.Context, q policy.Query) (policy.Policy, bool, error)
}

// ApprovalPort records dealer order review actions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups sales settings.
type ServiceConfig struct {
	// OrderHoldTTL bounds reservations backing confirmed orders. Kept long:
	// an order hold ends by delivery or cancellation, the TTL is a backstop.
	OrderHoldTTL time.Duration
}

// Service provides quotation and order operations.
type Service struct {
	repo      RepositoryPort
	ledger    Ledger
	prices    PriceResolver
	approvals ApprovalPort
	audit     AuditPort
	logger    *slog.Logger
	cfg       ServiceConfig
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger Ledger, prices PriceResolver, approvals ApprovalPort, audit AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.OrderHoldTTL <= 0 {
		cfg.OrderHoldTTL = 30 * 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		ledger:    ledger,
		prices:    prices,
		approvals: approvals,
		audit:     audit,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Quote prices the requested lines against the active policies and creates a
// PENDING quotation. The resolved policy id is snapshotted per line so later
// policy changes never reprice an issued quote.
func (s *Service) Quote(ctx context.Context, req QuoteRequest, createdBy int64) (*Quotation, error) {
	buyerType, err := req.Validate()
	if err != nil {
		return nil, err
	}
	quoteDate := s.now().UTC()
	validityDays := req.ValidityDays
	if validityDays == 0 {
		validityDays = DefaultValidityDays
	}

	lines := make([]QuotationLine, 0, len(req.Lines))
	lineTotals := make([]pricing.LineTotal, 0, len(req.Lines))
	for _, lr := range req.Lines {
		unitPrice := lr.UnitPrice
		discountPercent := decimal.Zero
		var policyID *int64

		pol, found, err := s.prices.ResolvePrice(ctx, policy.Query{
			VariantID: lr.VariantID,
			BuyerType: buyerType,
			DealerID:  req.DealerID,
			Region:    req.Region,
			Date:      quoteDate,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve price: %w", err)
		}
		if found {
			if pol.UnitPrice != nil {
				unitPrice = *pol.UnitPrice
			}
			discountPercent = pol.DiscountPercent
			policyID = &pol.ID
		}

		total, err := pricing.ComputeLineTotal(pricing.LineInput{
			UnitPrice:        unitPrice,
			Quantity:         lr.Quantity,
			DiscountPercent:  discountPercent,
			DiscountOverride: lr.DiscountOverride,
		})
		if err != nil {
			return nil, err
		}
		lines = append(lines, QuotationLine{
			VariantID:        lr.VariantID,
			ColorID:          lr.ColorID,
			Quantity:         lr.Quantity,
			UnitPrice:        unitPrice,
			DiscountPercent:  discountPercent,
			DiscountOverride: lr.DiscountOverride,
			DiscountAmount:   total.DiscountAmount,
			LineTotal:        total.TotalPrice,
			PolicyID:         policyID,
		})
		lineTotals = append(lineTotals, total)
	}

	totals, err := pricing.ComputeDocumentTotals(lineTotals, decimal.Zero, req.TaxPercent)
	if err != nil {
		return nil, err
	}

	docNumber, err := s.repo.GenerateNumber(ctx, "QUO", quoteDate)
	if err != nil {
		return nil, fmt.Errorf("generate doc number: %w", err)
	}

	quotation := Quotation{
		DocNumber:      docNumber,
		BuyerType:      buyerType,
		CustomerID:     req.CustomerID,
		DealerID:       req.DealerID,
		Region:         req.Region,
		QuoteDate:      quoteDate,
		ValidityDays:   validityDays,
		Status:         QuotationPending,
		TaxPercent:     req.TaxPercent,
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.DiscountAmount,
		TaxAmount:      totals.TaxAmount,
		TotalAmount:    totals.TotalAmount,
		Notes:          req.Notes,
		CreatedBy:      createdBy,
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.CreateQuotation(ctx, quotation)
		if err != nil {
			return fmt.Errorf("create quotation: %w", err)
		}
		for _, line := range lines {
			line.QuotationID = id
			if _, err := tx.InsertQuotationLine(ctx, line); err != nil {
				return fmt.Errorf("insert quotation line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, createdBy, "sales:QUOTE", "quotation", id, map[string]any{"doc_number": docNumber})
	return s.repo.GetQuotation(ctx, id)
}

// SendQuotation moves a quotation from PENDING to SENT.
func (s *Service) SendQuotation(ctx context.Context, id int64, actorID int64) (*Quotation, error) {
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := QuotationMachine.Transition(q.Status, QuotationSent); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateQuotationStatus(ctx, id, q.Status, QuotationSent)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "sales:SEND_QUOTATION", "quotation", id, nil)
	return s.repo.GetQuotation(ctx, id)
}

// AcceptQuotation converts a SENT quotation into an order. The validity
// window is re-checked at acceptance time: a lapsed quotation is marked
// EXPIRED and the acceptance fails. Retail conversions reserve a unit of the
// quoted class inside the same transaction.
func (s *Service) AcceptQuotation(ctx context.Context, id int64, actorID int64) (*Quotation, error) {
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if q.ExpiredAt(now) {
		if QuotationMachine.CanTransition(q.Status, QuotationExpired) {
			expireErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.UpdateQuotationStatus(ctx, id, q.Status, QuotationExpired)
			})
			if expireErr != nil && s.logger != nil {
				s.logger.Warn("mark quotation expired", slog.Int64("quotation_id", id), slog.Any("error", expireErr))
			}
		}
		return nil, fmt.Errorf("%w: quotation %s lapsed on %s", shared.ErrExpired, q.DocNumber, q.ValidUntil().Format(time.DateOnly))
	}
	if _, err := QuotationMachine.Transition(q.Status, QuotationAccepted); err != nil {
		return nil, err
	}

	switch q.BuyerType {
	case policy.BuyerCustomer:
		err = s.convertToOrder(ctx, q, actorID)
	case policy.BuyerDealer:
		err = s.convertToDealerOrder(ctx, q, actorID)
	default:
		err = fmt.Errorf("%w: quotation %d has unknown buyer type", shared.ErrValidation, q.ID)
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "sales:ACCEPT_QUOTATION", "quotation", id, nil)
	return s.repo.GetQuotation(ctx, id)
}

func (s *Service) convertToOrder(ctx context.Context, q *Quotation, actorID int64) error {
	if len(q.Lines) != 1 {
		return fmt.Errorf("%w: retail quotation %d must have exactly one line", shared.ErrValidation, q.ID)
	}
	line := q.Lines[0]
	docNumber, err := s.repo.GenerateNumber(ctx, "ORD", s.now().UTC())
	if err != nil {
		return fmt.Errorf("generate doc number: %w", err)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateQuotationStatus(ctx, q.ID, q.Status, QuotationAccepted); err != nil {
			return err
		}
		if err := tx.UpdateQuotationStatus(ctx, q.ID, QuotationAccepted, QuotationConverted); err != nil {
			return err
		}
		orderID, err := tx.CreateOrder(ctx, Order{
			DocNumber:      docNumber,
			CustomerID:     *q.CustomerID,
			QuotationID:    &q.ID,
			VariantID:      line.VariantID,
			ColorID:        line.ColorID,
			Status:         OrderConfirmed,
			Subtotal:       q.Subtotal,
			DiscountAmount: q.DiscountAmount,
			TaxAmount:      q.TaxAmount,
			TotalAmount:    q.TotalAmount,
			CreatedBy:      actorID,
		})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		unit, err := s.ledger.ReserveTx(ctx, tx.Tx(),
			inventory.UnitSelector{VariantID: line.VariantID, ColorID: line.ColorID},
			inventory.Holder{CustomerID: q.CustomerID},
			s.cfg.OrderHoldTTL)
		if err != nil {
			return fmt.Errorf("reserve unit: %w", err)
		}
		if err := tx.SetOrderUnit(ctx, orderID, &unit.ID); err != nil {
			return err
		}
		return tx.LinkQuotationOrder(ctx, q.ID, &orderID, nil)
	})
}

func (s *Service) convertToDealerOrder(ctx context.Context, q *Quotation, actorID int64) error {
	docNumber, err := s.repo.GenerateNumber(ctx, "DLR", s.now().UTC())
	if err != nil {
		return fmt.Errorf("generate doc number: %w", err)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateQuotationStatus(ctx, q.ID, q.Status, QuotationAccepted); err != nil {
			return err
		}
		if err := tx.UpdateQuotationStatus(ctx, q.ID, QuotationAccepted, QuotationConverted); err != nil {
			return err
		}
		orderID, err := tx.CreateDealerOrder(ctx, DealerOrder{
			DocNumber:      docNumber,
			DealerID:       *q.DealerID,
			QuotationID:    &q.ID,
			Status:         DealerOrderPending,
			ApprovalStatus: ApprovalPending,
			Subtotal:       q.Subtotal,
			DiscountAmount: q.DiscountAmount,
			TaxAmount:      q.TaxAmount,
			TotalAmount:    q.TotalAmount,
			CreatedBy:      actorID,
		})
		if err != nil {
			return fmt.Errorf("create dealer order: %w", err)
		}
		for _, line := range q.Lines {
			if _, err := tx.InsertDealerOrderLine(ctx, DealerOrderLine{
				DealerOrderID:  orderID,
				VariantID:      line.VariantID,
				ColorID:        line.ColorID,
				Quantity:       line.Quantity,
				UnitPrice:      line.UnitPrice,
				DiscountAmount: line.DiscountAmount,
				LineTotal:      line.LineTotal,
			}); err != nil {
				return fmt.Errorf("insert dealer order line: %w", err)
			}
		}
		return tx.LinkQuotationOrder(ctx, q.ID, nil, &orderID)
	})
}

// RejectQuotation marks a SENT quotation REJECTED.
func (s *Service) RejectQuotation(ctx context.Context, id int64, actorID int64, reason string) (*Quotation, error) {
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := QuotationMachine.Transition(q.Status, QuotationRejected); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateQuotationStatus(ctx, id, q.Status, QuotationRejected)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "sales:REJECT_QUOTATION", "quotation", id, map[string]any{"reason": reason})
	return s.repo.GetQuotation(ctx, id)
}

// ExpireQuotations marks open quotations past their validity window EXPIRED.
// Each document is re-read before the guarded update; per-document failures
// are logged and skipped.
func (s *Service) ExpireQuotations(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ListExpirableQuotationIDs(ctx, now, 0)
	if err != nil {
		return 0, fmt.Errorf("list expirable quotations: %w", err)
	}
	expired := 0
	for _, id := range ids {
		q, err := s.repo.GetQuotation(ctx, id)
		if err != nil {
			s.warn("expire quotation read", id, err)
			continue
		}
		if !q.ExpiredAt(now) || !QuotationMachine.CanTransition(q.Status, QuotationExpired) {
			continue
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateQuotationStatus(ctx, id, q.Status, QuotationExpired)
		})
		if err != nil {
			s.warn("expire quotation", id, err)
			continue
		}
		expired++
	}
	return expired, nil
}

// CancelOrder cancels a retail order and releases its reserved unit in the
// same transaction, so no committed state has the order cancelled while the
// unit is still held.
func (s *Service) CancelOrder(ctx context.Context, id int64, actorID int64, reason string) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := OrderMachine.Transition(o.Status, OrderCancelled); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateOrderStatus(ctx, id, o.Status, OrderCancelled); err != nil {
			return err
		}
		if o.UnitID != nil {
			if err := s.ledger.ReleaseTx(ctx, tx.Tx(), *o.UnitID, reason); err != nil {
				return fmt.Errorf("release unit: %w", err)
			}
			if err := tx.SetOrderUnit(ctx, id, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "sales:CANCEL_ORDER", "order", id, map[string]any{"reason": reason})
	return s.repo.GetOrder(ctx, id)
}

// MarkOrderPaid moves a CONFIRMED order to PAID. Billing calls this when the
// order's invoice is settled.
func (s *Service) MarkOrderPaid(ctx context.Context, id int64) error {
	return s.transitionOrder(ctx, id, OrderPaid)
}

// CompleteOrder closes out a DELIVERED order.
func (s *Service) CompleteOrder(ctx context.Context, id int64, actorID int64) error {
	if err := s.transitionOrder(ctx, id, OrderCompleted); err != nil {
		return err
	}
	s.record(ctx, actorID, "sales:COMPLETE_ORDER", "order", id, nil)
	return nil
}

func (s *Service) transitionOrder(ctx context.Context, id int64, to lifecycle.Status) error {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if _, err := OrderMachine.Transition(o.Status, to); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateOrderStatus(ctx, id, o.Status, to)
	})
}

// MarkOrderDeliveredTx moves an order to DELIVERED inside the caller's
// transaction. The delivery service calls this alongside unit consumption.
func (s *Service) MarkOrderDeliveredTx(ctx context.Context, tx pgx.Tx, id int64) error {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if _, err := OrderMachine.Transition(o.Status, OrderDelivered); err != nil {
		return err
	}
	return s.repo.Join(tx).UpdateOrderStatus(ctx, id, o.Status, OrderDelivered)
}

// ApproveDealerOrder records staff approval, confirms the order and reserves
// stock for every line in one transaction. Insufficient stock aborts the
// whole approval.
func (s *Service) ApproveDealerOrder(ctx context.Context, id int64, actor shared.Actor, note string) (*DealerOrder, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: dealer order approval requires staff role", shared.ErrForbidden)
	}
	o, err := s.repo.GetDealerOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.ApprovalStatus != ApprovalPending {
		return nil, fmt.Errorf("%w: dealer order %s already %s", shared.ErrInvalidTransition, o.DocNumber, o.ApprovalStatus)
	}
	if _, err := DealerOrderMachine.Transition(o.Status, DealerOrderConfirmed); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetDealerOrderApproval(ctx, id, ApprovalApproved); err != nil {
			return err
		}
		if err := tx.UpdateDealerOrderStatus(ctx, id, o.Status, DealerOrderConfirmed); err != nil {
			return err
		}
		for _, line := range o.Lines {
			for i := int64(0); i < line.Quantity; i++ {
				unit, err := s.ledger.ReserveTx(ctx, tx.Tx(),
					inventory.UnitSelector{VariantID: line.VariantID, ColorID: line.ColorID},
					inventory.Holder{DealerID: &o.DealerID},
					s.cfg.OrderHoldTTL)
				if err != nil {
					return fmt.Errorf("reserve line %d unit %d/%d: %w", line.ID, i+1, line.Quantity, err)
				}
				if err := tx.AttachLineUnit(ctx, line.ID, unit.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  "dealer_orders",
			DocID:   id,
			ActorID: actor.UserID,
			Action:  shared.ApprovalApprove,
			Note:    note,
		}); err != nil {
			s.warn("record approval", id, err)
		}
	}
	s.record(ctx, actor.UserID, "sales:APPROVE_DEALER_ORDER", "dealer_order", id, nil)
	return s.repo.GetDealerOrder(ctx, id)
}

// RejectDealerOrder records staff rejection and closes the order.
func (s *Service) RejectDealerOrder(ctx context.Context, id int64, actor shared.Actor, note string) (*DealerOrder, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: dealer order rejection requires staff role", shared.ErrForbidden)
	}
	o, err := s.repo.GetDealerOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.ApprovalStatus != ApprovalPending {
		return nil, fmt.Errorf("%w: dealer order %s already %s", shared.ErrInvalidTransition, o.DocNumber, o.ApprovalStatus)
	}
	if _, err := DealerOrderMachine.Transition(o.Status, DealerOrderRejected); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetDealerOrderApproval(ctx, id, ApprovalRejected); err != nil {
			return err
		}
		return tx.UpdateDealerOrderStatus(ctx, id, o.Status, DealerOrderRejected)
	})
	if err != nil {
		return nil, err
	}
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  "dealer_orders",
			DocID:   id,
			ActorID: actor.UserID,
			Action:  shared.ApprovalReject,
			Note:    note,
		}); err != nil {
			s.warn("record approval", id, err)
		}
	}
	s.record(ctx, actor.UserID, "sales:REJECT_DEALER_ORDER", "dealer_order", id, map[string]any{"note": note})
	return s.repo.GetDealerOrder(ctx, id)
}

// AdvanceDealerOrder moves an approved dealer order along its fulfilment
// track (IN_PRODUCTION, READY_FOR_DELIVERY, COMPLETED).
func (s *Service) AdvanceDealerOrder(ctx context.Context, id int64, target lifecycle.Status, actor shared.Actor) (*DealerOrder, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: dealer order updates require staff role", shared.ErrForbidden)
	}
	o, err := s.repo.GetDealerOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.ApprovalStatus != ApprovalApproved {
		return nil, fmt.Errorf("%w: dealer order %s is not approved", shared.ErrInvalidTransition, o.DocNumber)
	}
	if _, err := DealerOrderMachine.Transition(o.Status, target); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateDealerOrderStatus(ctx, id, o.Status, target)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor.UserID, "sales:ADVANCE_DEALER_ORDER", "dealer_order", id, map[string]any{"status": string(target)})
	return s.repo.GetDealerOrder(ctx, id)
}

// CancelDealerOrder cancels a dealer order and releases every reserved unit
// in the same transaction.
func (s *Service) CancelDealerOrder(ctx context.Context, id int64, actorID int64, reason string) (*DealerOrder, error) {
	o, err := s.repo.GetDealerOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := DealerOrderMachine.Transition(o.Status, DealerOrderCancelled); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateDealerOrderStatus(ctx, id, o.Status, DealerOrderCancelled); err != nil {
			return err
		}
		for _, line := range o.Lines {
			for _, unitID := range line.ReservedUnitIDs {
				if err := s.ledger.ReleaseTx(ctx, tx.Tx(), unitID, reason); err != nil {
					return fmt.Errorf("release unit %d: %w", unitID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "sales:CANCEL_DEALER_ORDER", "dealer_order", id, map[string]any{"reason": reason})
	return s.repo.GetDealerOrder(ctx, id)
}

// MarkDealerOrderDeliveredTx moves a dealer order to DELIVERED inside the
// caller's transaction. Tolerates an order already marked by an earlier
// line delivery.
func (s *Service) MarkDealerOrderDeliveredTx(ctx context.Context, tx pgx.Tx, id int64) error {
	o, err := s.repo.GetDealerOrder(ctx, id)
	if err != nil {
		return err
	}
	if o.Status == DealerOrderDelivered {
		return nil
	}
	if _, err := DealerOrderMachine.Transition(o.Status, DealerOrderDelivered); err != nil {
		return err
	}
	return s.repo.Join(tx).UpdateDealerOrderStatus(ctx, id, o.Status, DealerOrderDelivered)
}

// GetQuotation returns a quotation with lines.
func (s *Service) GetQuotation(ctx context.Context, id int64) (*Quotation, error) {
	return s.repo.GetQuotation(ctx, id)
}

// ListQuotations returns filtered quotations.
func (s *Service) ListQuotations(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	return s.repo.ListQuotations(ctx, req)
}

// GetOrder returns a retail order.
func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders returns filtered retail orders.
func (s *Service) ListOrders(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	return s.repo.ListOrders(ctx, req)
}

// GetDealerOrder returns a dealer order with lines.
func (s *Service) GetDealerOrder(ctx context.Context, id int64) (*DealerOrder, error) {
	return s.repo.GetDealerOrder(ctx, id)
}

// ListDealerOrders returns filtered dealer orders.
func (s *Service) ListDealerOrders(ctx context.Context, req ListDealerOrdersRequest) ([]DealerOrder, int, error) {
	return s.repo.ListDealerOrders(ctx, req)
}

func (s *Service) warn(msg string, id int64, err error) {
	if s.logger == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn(msg, slog.Int64("doc_id", id), slog.Any("error", err))
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
