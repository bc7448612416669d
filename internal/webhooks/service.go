package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/orderpay-backend/internal/inventory"
	"github.com/angelmondragon/orderpay-backend/internal/orders"
	"github.com/angelmondragon/orderpay-backend/pkg/db/models"
	"github.com/angelmondragon/orderpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderpay-backend/pkg/errors"
	"github.com/angelmondragon/orderpay-backend/pkg/logger"
	"github.com/angelmondragon/orderpay-backend/pkg/metrics"
	"github.com/angelmondragon/orderpay-backend/pkg/redis"
	"gorm.io/gorm"
)

const (
	idempotencyScope = "webhook"

	resultReceived = "received"
	resultIgnored  = "ignored"
	resultReplay   = "replay"
)

var (
	errIncompleteTransaction = errors.New("webhook transaction block incomplete")
	errUnknownReference      = errors.New("webhook reference does not match any order")
)

// Service reconciles gateway webhooks against stored orders. The provider's
// report is authoritative; processing failures are swallowed so the endpoint
// can always acknowledge.
type Service struct {
	repo     orders.Repository
	runner   orders.TxRunner
	ledger   orders.Ledger
	notifier orders.Notifier
	guard    redis.IdempotencyStore
	payments *metrics.PaymentMetrics
	logg     *logger.Logger
	guardTTL time.Duration
}

// NewService wires the webhook reconciler.
func NewService(
	repo orders.Repository,
	runner orders.TxRunner,
	ledger orders.Ledger,
	notifier orders.Notifier,
	guard redis.IdempotencyStore,
	payments *metrics.PaymentMetrics,
	logg *logger.Logger,
	guardTTL time.Duration,
) *Service {
	return &Service{
		repo:     repo,
		runner:   runner,
		ledger:   ledger,
		notifier: notifier,
		guard:    guard,
		payments: payments,
		logg:     logg,
		guardTTL: guardTTL,
	}
}

// Handle processes one webhook delivery and reports whether it was consumed.
// It never returns an error: a delivery the system cannot use is acknowledged
// as not received.
func (s *Service) Handle(ctx context.Context, raw []byte) bool {
	event, err := ParseEvent(raw)
	if err != nil {
		s.logg.Warn(ctx, "discarding malformed webhook payload")
		s.payments.IncWebhook(resultIgnored)
		return false
	}

	txn := event.Data.Transaction
	ctx = s.logg.WithReference(ctx, txn.Reference)

	orderID, err := txn.OrderID()
	if err != nil {
		s.logg.Warn(ctx, "webhook reference does not map to an order")
		s.payments.IncWebhook(resultIgnored)
		return false
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	guardKey := s.guard.IdempotencyKey(idempotencyScope, txn.ID+":"+txn.Status)
	fresh, err := s.guard.SetNX(ctx, guardKey, time.Now().UTC().Format(time.RFC3339), s.guardTTL)
	if err != nil {
		s.logg.Error(ctx, "webhook idempotency guard unavailable", err)
		s.payments.IncWebhook(resultIgnored)
		return false
	}
	if !fresh {
		s.logg.Info(ctx, "replayed webhook, skipping")
		s.payments.IncWebhook(resultReplay)
		return true
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		// release the guard so a later delivery can retry once data exists
		_ = s.guard.Del(ctx, guardKey)
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "webhook references an unknown order")
		} else {
			s.logg.Error(ctx, "failed to load order for webhook", err)
		}
		s.payments.IncWebhook(resultIgnored)
		return false
	}

	if err := s.apply(ctx, order, txn); err != nil {
		_ = s.guard.Del(ctx, guardKey)
		s.logg.Error(ctx, "failed to apply webhook outcome", err)
		s.payments.IncWebhook(resultIgnored)
		return false
	}

	s.payments.IncWebhook(resultReceived)
	return true
}

// apply transitions the order to the reported outcome. Any status other than
// APPROVED declines; an unknown status never approves an order.
func (s *Service) apply(ctx context.Context, order *models.Order, txn Transaction) error {
	if txn.Status == "APPROVED" {
		return s.approve(ctx, order, txn.ID)
	}
	return s.decline(ctx, order, txn.ID)
}

func (s *Service) approve(ctx context.Context, order *models.Order, transactionID string) error {
	if order.Status == enums.OrderStatusApproved && order.StockReserved {
		s.logg.Info(ctx, "order already approved, webhook is a no-op")
		return nil
	}

	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		if !order.StockReserved {
			if err := s.ledger.ReserveAll(ctx, tx, reservations(order)); err != nil {
				return err
			}
		}
		// clearing stock_restored keeps a later decline able to compensate
		return s.repo.UpdateFields(ctx, tx, order.ID, map[string]any{
			"status":                  enums.OrderStatusApproved,
			"external_transaction_id": transactionID,
			"stock_reserved":          true,
			"stock_restored":          false,
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			// approved upstream but unfulfillable here; decline rather than oversell
			s.logg.Warn(ctx, "stock exhausted before webhook approval, declining order")
			return s.repo.UpdateFields(ctx, nil, order.ID, map[string]any{
				"status":                  enums.OrderStatusDeclined,
				"external_transaction_id": transactionID,
			})
		}
		return err
	}

	s.logg.Info(ctx, "order approved by webhook")
	order.Status = enums.OrderStatusApproved
	order.ExternalTransactionID = transactionID
	order.StockReserved = true
	order.StockRestored = false
	s.notifier.OrderApproved(ctx, order)
	return nil
}

// decline moves the order to DECLINED and, when stock was already reserved,
// restores it exactly once.
func (s *Service) decline(ctx context.Context, order *models.Order, transactionID string) error {
	restore := order.StockReserved && !order.StockRestored

	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		fields := map[string]any{
			"status":                  enums.OrderStatusDeclined,
			"external_transaction_id": transactionID,
		}
		if restore {
			if err := s.ledger.ReleaseAll(ctx, tx, reservations(order)); err != nil {
				return err
			}
			// the reservation is gone; a later authoritative approval
			// must reserve again rather than trust the stale flag
			fields["stock_reserved"] = false
			fields["stock_restored"] = true
		}
		return s.repo.UpdateFields(ctx, tx, order.ID, fields)
	})
	if err != nil {
		return err
	}

	if restore {
		order.StockReserved = false
		order.StockRestored = true
		s.payments.IncStockRestored()
		s.logg.Info(ctx, "order declined by webhook, stock restored")
	} else {
		s.logg.Info(ctx, "order declined by webhook")
	}

	if order.Status != enums.OrderStatusDeclined {
		order.Status = enums.OrderStatusDeclined
		s.notifier.OrderDeclined(ctx, order)
	}
	return nil
}

func reservations(order *models.Order) []inventory.ReservationRequest {
	requests := make([]inventory.ReservationRequest, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		requests = append(requests, inventory.ReservationRequest{
			ProductID: item.ProductID,
			Qty:       item.Qty,
		})
	}
	return requests
}
