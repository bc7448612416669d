package orders

import (
	"context"
	"strings"
	"time"

	"github.com/angelmondragon/orderpay-backend/internal/inventory"
	"github.com/angelmondragon/orderpay-backend/internal/products"
	"github.com/angelmondragon/orderpay-backend/pkg/config"
	"github.com/angelmondragon/orderpay-backend/pkg/db/models"
	"github.com/angelmondragon/orderpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderpay-backend/pkg/errors"
	"github.com/angelmondragon/orderpay-backend/pkg/logger"
	"github.com/angelmondragon/orderpay-backend/pkg/metrics"
	"github.com/angelmondragon/orderpay-backend/pkg/wompi"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Gateway statuses reported on the synchronous charge path.
const (
	gatewayStatusApproved = "APPROVED"
	gatewayStatusPending  = "PENDING"
)

// Service orchestrates checkout: validation, tokenization, the synchronous
// charge and the conditional stock reservation.
type Service struct {
	repo     Repository
	products products.Repository
	gateway  Gateway
	runner   TxRunner
	ledger   Ledger
	notifier Notifier
	payments *metrics.PaymentMetrics
	logg     *logger.Logger
	policy   config.OrdersConfig
}

// NewService wires the checkout orchestrator.
func NewService(
	repo Repository,
	productRepo products.Repository,
	gateway Gateway,
	runner TxRunner,
	ledger Ledger,
	notifier Notifier,
	payments *metrics.PaymentMetrics,
	logg *logger.Logger,
	policy config.OrdersConfig,
) *Service {
	return &Service{
		repo:     repo,
		products: productRepo,
		gateway:  gateway,
		runner:   runner,
		ledger:   ledger,
		notifier: notifier,
		payments: payments,
		logg:     logg,
		policy:   policy,
	}
}

// Get returns one order with its customer, line items and deliveries.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.repo.FindByID(ctx, id)
}

// Create runs the whole checkout. Validation fails fast in a fixed order:
// line items, catalog and stock, total threshold, card holder. The order row
// is persisted before the gateway is invoked so a tokenization or charge
// failure still leaves an auditable DECLINED order, and stock is decremented
// only after the gateway approves.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	reservations, err := aggregateItems(input.Items)
	if err != nil {
		return nil, err
	}

	catalog, err := s.loadCatalog(ctx, reservations)
	if err != nil {
		return nil, err
	}

	total := orderTotal(catalog, reservations)
	if total.LessThan(decimal.NewFromInt(int64(s.policy.MinAmount))) {
		return nil, pkgerrors.New(pkgerrors.CodeAmountTooLow, "order total below minimum payable amount").
			WithDetails(map[string]any{
				"total":      total.String(),
				"min_amount": s.policy.MinAmount,
			})
	}

	if err := s.checkCardPolicy(input.Card); err != nil {
		return nil, err
	}

	order := s.buildOrder(input, catalog, reservations, total)
	if err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.Create(ctx, tx, order)
	}); err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	ctx = s.logg.WithReference(ctx, order.Reference())
	s.logg.Info(ctx, "order created, tokenizing card")

	token, err := s.gateway.TokenizeCard(ctx, wompi.Card{
		Number:     input.Card.Number,
		CVC:        input.Card.CVC,
		ExpMonth:   input.Card.ExpMonth,
		ExpYear:    input.Card.ExpYear,
		CardHolder: strings.TrimSpace(input.Card.CardHolder),
	})
	if err != nil {
		s.declineBestEffort(ctx, order, models.ExternalTransactionIDNone)
		return nil, err
	}

	currency := order.Currency
	amountInCents := total.Mul(decimal.NewFromInt(currency.MinorUnitFactor())).IntPart()

	start := time.Now()
	result, err := s.gateway.Charge(ctx, wompi.ChargeRequest{
		Token:         token,
		AmountInCents: amountInCents,
		Reference:     order.Reference(),
		CustomerEmail: input.Delivery.Customer.Email,
	})
	if err != nil {
		s.payments.ObserveCharge("error", time.Since(start))
		s.declineBestEffort(ctx, order, models.ExternalTransactionIDNone)
		return nil, err
	}
	s.payments.ObserveCharge("ok", time.Since(start))
	s.payments.IncChargeStatus(result.Status)

	transactionID := result.TransactionID
	if transactionID == "" {
		transactionID = models.ExternalTransactionIDNone
	}

	switch result.Status {
	case gatewayStatusApproved:
		if err := s.approve(ctx, order, transactionID, reservations); err != nil {
			return nil, err
		}
	case gatewayStatusPending:
		// final outcome arrives through the webhook
		if err := s.repo.UpdateFields(ctx, nil, order.ID, map[string]any{
			"external_transaction_id": transactionID,
		}); err != nil {
			return nil, err
		}
		s.logg.Info(ctx, "charge pending, awaiting webhook")
	default:
		if err := s.repo.UpdateFields(ctx, nil, order.ID, map[string]any{
			"status":                  enums.OrderStatusDeclined,
			"external_transaction_id": transactionID,
		}); err != nil {
			return nil, err
		}
		s.logg.Info(ctx, "charge declined by gateway")
		order.Status = enums.OrderStatusDeclined
		s.notifier.OrderDeclined(ctx, order)
	}

	return s.repo.FindByID(ctx, order.ID)
}

// approve reserves stock and flips the order to APPROVED in one transaction.
// A post-charge shortfall declines the order instead of overselling.
func (s *Service) approve(ctx context.Context, order *models.Order, transactionID string, reservations []inventory.ReservationRequest) error {
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.ledger.ReserveAll(ctx, tx, reservations); err != nil {
			return err
		}
		return s.repo.UpdateFields(ctx, tx, order.ID, map[string]any{
			"status":                  enums.OrderStatusApproved,
			"external_transaction_id": transactionID,
			"stock_reserved":          true,
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			s.logg.Warn(ctx, "stock exhausted after approval, declining order")
			s.declineBestEffort(ctx, order, transactionID)
		}
		return err
	}

	s.logg.Info(ctx, "order approved, stock reserved")
	order.Status = enums.OrderStatusApproved
	order.ExternalTransactionID = transactionID
	order.StockReserved = true
	s.notifier.OrderApproved(ctx, order)
	return nil
}

func (s *Service) declineBestEffort(ctx context.Context, order *models.Order, transactionID string) {
	err := s.repo.UpdateFields(ctx, nil, order.ID, map[string]any{
		"status":                  enums.OrderStatusDeclined,
		"external_transaction_id": transactionID,
	})
	if err != nil {
		s.logg.Error(ctx, "failed to mark order declined", err)
		return
	}
	order.Status = enums.OrderStatusDeclined
	s.notifier.OrderDeclined(ctx, order)
}

func (s *Service) checkCardPolicy(card CardInput) error {
	holder := strings.TrimSpace(card.CardHolder)
	if len([]rune(holder)) < s.policy.MinCardHolderLen {
		return pkgerrors.New(pkgerrors.CodeInvalidCardHolder, "invalid card holder name").
			WithDetails(map[string]any{"min_length": s.policy.MinCardHolderLen})
	}
	return nil
}

// aggregateItems merges duplicate product lines so each product is reserved
// exactly once.
func aggregateItems(items []LineItemInput) ([]inventory.ReservationRequest, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "order requires at least one item")
	}

	index := map[uuid.UUID]int{}
	requests := make([]inventory.ReservationRequest, 0, len(items))
	for _, item := range items {
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "item quantity must be positive").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if pos, ok := index[item.ProductID]; ok {
			requests[pos].Qty += item.Qty
			continue
		}
		index[item.ProductID] = len(requests)
		requests = append(requests, inventory.ReservationRequest{ProductID: item.ProductID, Qty: item.Qty})
	}
	return requests, nil
}

// loadCatalog fetches the referenced products and prechecks availability. The
// precheck fails fast; the authoritative guard is the conditional decrement.
func (s *Service) loadCatalog(ctx context.Context, reservations []inventory.ReservationRequest) (map[uuid.UUID]models.Product, error) {
	ids := make([]uuid.UUID, 0, len(reservations))
	for _, req := range reservations {
		ids = append(ids, req.ProductID)
	}

	found, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	catalog := make(map[uuid.UUID]models.Product, len(found))
	for _, product := range found {
		catalog[product.ID] = product
	}

	for _, req := range reservations {
		product, ok := catalog[req.ProductID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeProductNotFound, "product not found").
				WithDetails(map[string]any{"product_id": req.ProductID})
		}
		if product.Stock < req.Qty {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{
					"product_id": req.ProductID,
					"available":  product.Stock,
					"requested":  req.Qty,
				})
		}
	}
	return catalog, nil
}

func orderTotal(catalog map[uuid.UUID]models.Product, reservations []inventory.ReservationRequest) decimal.Decimal {
	total := decimal.Zero
	for _, req := range reservations {
		product := catalog[req.ProductID]
		total = total.Add(product.UnitPrice.Mul(decimal.NewFromInt(int64(req.Qty))))
	}
	return total
}

// buildOrder assembles the PENDING aggregate with the customer snapshot, one
// line item per product and one delivery row per line item.
func (s *Service) buildOrder(input CreateOrderInput, catalog map[uuid.UUID]models.Product, reservations []inventory.ReservationRequest, total decimal.Decimal) *models.Order {
	orderID := uuid.New()
	customerID := uuid.New()

	customer := &models.Customer{
		ID:       customerID,
		FullName: strings.TrimSpace(input.Delivery.Customer.FullName),
		Email:    strings.TrimSpace(input.Delivery.Customer.Email),
		Phone:    strings.TrimSpace(input.Delivery.Customer.Phone),
	}

	lineItems := make([]models.OrderLineItem, 0, len(reservations))
	deliveries := make([]models.Delivery, 0, len(reservations))
	for _, req := range reservations {
		product := catalog[req.ProductID]
		qty := decimal.NewFromInt(int64(req.Qty))
		lineItems = append(lineItems, models.OrderLineItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Qty:       req.Qty,
			Total:     product.UnitPrice.Mul(qty),
		})
		deliveries = append(deliveries, models.Delivery{
			ID:         uuid.New(),
			OrderID:    orderID,
			ProductID:  product.ID,
			CustomerID: &customerID,
			Address:    strings.TrimSpace(input.Delivery.Address),
			City:       strings.TrimSpace(input.Delivery.City),
			Country:    strings.TrimSpace(input.Delivery.Country),
			Qty:        req.Qty,
		})
	}

	return &models.Order{
		ID:                    orderID,
		Status:                enums.OrderStatusPending,
		Amount:                total,
		Currency:              enums.Currency(s.gateway.Currency()),
		ExternalTransactionID: models.ExternalTransactionIDNone,
		CustomerID:            &customerID,
		Customer:              customer,
		LineItems:             lineItems,
		Deliveries:            deliveries,
	}
}
