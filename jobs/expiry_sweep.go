package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Ledger releases lapsed unit reservations.
type Ledger interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Quotations expires quotes past their validity window.
type Quotations interface {
	ExpireQuotations(ctx context.Context, now time.Time) (int, error)
}

// Receivables marks overdue invoices and installment schedules.
type Receivables interface {
	MarkOverdue(ctx context.Context, now time.Time) (int, error)
}

// SweepResult reports what one sweep pass changed.
type SweepResult struct {
	Released            int `json:"released"`
	ExpiredQuotations   int `json:"expired_quotations"`
	OverdueInstallments int `json:"overdue_installments"`
}

// Sweeper runs the three expiry passes. Each pass is idempotent and failures
// in one pass never stop the others.
type Sweeper struct {
	ledger      Ledger
	quotations  Quotations
	receivables Receivables
	logger      *slog.Logger
}

// NewSweeper builds Sweeper.
func NewSweeper(ledger Ledger, quotations Quotations, receivables Receivables, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		ledger:      ledger,
		quotations:  quotations,
		receivables: receivables,
		logger:      logger,
	}
}

// RunExpirySweep executes one sweep pass at the given reference time.
func (s *Sweeper) RunExpirySweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	released, err := s.ledger.SweepExpired(ctx, now)
	if err != nil {
		s.logger.Error("reservation sweep failed", slog.Any("error", err))
	}
	res.Released = released

	expired, err := s.quotations.ExpireQuotations(ctx, now)
	if err != nil {
		s.logger.Error("quotation expiry failed", slog.Any("error", err))
	}
	res.ExpiredQuotations = expired

	overdue, err := s.receivables.MarkOverdue(ctx, now)
	if err != nil {
		s.logger.Error("overdue marking failed", slog.Any("error", err))
	}
	res.OverdueInstallments = overdue

	s.logger.Info("expiry sweep done",
		slog.Int("released", res.Released),
		slog.Int("expired_quotations", res.ExpiredQuotations),
		slog.Int("overdue_installments", res.OverdueInstallments))
	return res, nil
}

// HandleExpirySweepTask processes TaskExpirySweep tasks.
func (s *Sweeper) HandleExpirySweepTask(ctx context.Context, t *asynq.Task) error {
	var payload ExpirySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	now := payload.ScheduledFor
	if now.IsZero() {
		now = time.Now()
	}
	_, err := s.RunExpirySweep(ctx, now.UTC())
	return err
}
