package webhooks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/orderpay-backend/internal/inventory"
	"github.com/angelmondragon/orderpay-backend/pkg/db/models"
	"github.com/angelmondragon/orderpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderpay-backend/pkg/errors"
	"github.com/angelmondragon/orderpay-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	loads  int
}

func newStubOrderRepo() *stubOrderRepo {
	return &stubOrderRepo{orders: map[uuid.UUID]*models.Order{}}
}

func (r *stubOrderRepo) Create(_ context.Context, _ *gorm.DB, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cloned := *order
	r.orders[order.ID] = &cloned
	return nil
}

func (r *stubOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	order, ok := r.orders[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	cloned := *order
	return &cloned, nil
}

func (r *stubOrderRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if status, ok := fields["status"]; ok {
		order.Status = status.(enums.OrderStatus)
	}
	if txnID, ok := fields["external_transaction_id"]; ok {
		order.ExternalTransactionID = txnID.(string)
	}
	if reserved, ok := fields["stock_reserved"]; ok {
		order.StockReserved = reserved.(bool)
	}
	if restored, ok := fields["stock_restored"]; ok {
		order.StockRestored = restored.(bool)
	}
	return nil
}

type stubRunner struct{}

func (stubRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubLedger struct {
	reserveErr error
	reserved   [][]inventory.ReservationRequest
	released   [][]inventory.ReservationRequest
}

func (l *stubLedger) ReserveAll(_ context.Context, _ *gorm.DB, reqs []inventory.ReservationRequest) error {
	if l.reserveErr != nil {
		return l.reserveErr
	}
	l.reserved = append(l.reserved, reqs)
	return nil
}

func (l *stubLedger) ReleaseAll(_ context.Context, _ *gorm.DB, reqs []inventory.ReservationRequest) error {
	l.released = append(l.released, reqs)
	return nil
}

type stubNotifier struct {
	approved int
	declined int
}

func (n *stubNotifier) OrderApproved(_ context.Context, _ *models.Order) { n.approved++ }
func (n *stubNotifier) OrderDeclined(_ context.Context, _ *models.Order) { n.declined++ }

type stubGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newStubGuard() *stubGuard {
	return &stubGuard{seen: map[string]bool{}}
}

func (g *stubGuard) Get(_ context.Context, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[key] {
		return "1", nil
	}
	return "", fmt.Errorf("key not found")
}

func (g *stubGuard) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *stubGuard) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

func (g *stubGuard) Del(_ context.Context, keys ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, key := range keys {
		delete(g.seen, key)
	}
	return nil
}

type fixture struct {
	service  *Service
	repo     *stubOrderRepo
	ledger   *stubLedger
	notifier *stubNotifier
	guard    *stubGuard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newStubOrderRepo()
	ledger := &stubLedger{}
	notifier := &stubNotifier{}
	guard := newStubGuard()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	service := NewService(repo, stubRunner{}, ledger, notifier, guard, nil, logg, time.Hour)
	return &fixture{service: service, repo: repo, ledger: ledger, notifier: notifier, guard: guard}
}

func seedOrder(f *fixture, status enums.OrderStatus, reserved bool) *models.Order {
	order := &models.Order{
		ID:                    uuid.New(),
		Status:                status,
		Amount:                decimal.NewFromInt(2600),
		Currency:              enums.CurrencyCOP,
		ExternalTransactionID: "wpi_100",
		StockReserved:         reserved,
		LineItems: []models.OrderLineItem{
			{ID: uuid.New(), ProductID: uuid.New(), Qty: 2},
		},
	}
	_ = f.repo.Create(context.Background(), nil, order)
	return order
}

func payload(order *models.Order, status string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"transaction.updated","data":{"transaction":{"id":"wpi_100","reference":"%s","status":"%s"}}}`,
		order.Reference(), status))
}

func TestHandleMalformedPayload(t *testing.T) {
	f := newFixture(t)

	for _, raw := range []string{
		`not json at all`,
		`{}`,
		`{"data":{"transaction":{"id":"x","reference":"ref_abc"}}}`,
	} {
		assert.False(t, f.service.Handle(context.Background(), []byte(raw)),
			"payload %q must not be acknowledged as received", raw)
	}
	assert.Equal(t, 0, f.repo.loads, "malformed payloads must not touch the repository")
}

func TestHandleUnparseableReference(t *testing.T) {
	f := newFixture(t)

	raw := []byte(`{"data":{"transaction":{"id":"wpi_1","reference":"order-123","status":"APPROVED"}}}`)
	assert.False(t, f.service.Handle(context.Background(), raw))
}

func TestHandleUnknownOrderReleasesGuard(t *testing.T) {
	f := newFixture(t)
	ghost := &models.Order{ID: uuid.New()}

	assert.False(t, f.service.Handle(context.Background(), payload(ghost, "APPROVED")))

	// same delivery succeeds once the order exists
	order := seedOrder(f, enums.OrderStatusPending, false)
	ghost.ID = order.ID
	assert.True(t, f.service.Handle(context.Background(), payload(order, "APPROVED")),
		"delivery must be retryable after the order appears")
}

func TestHandleDeclineRestoresStockOnce(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(f, enums.OrderStatusApproved, true)

	require.True(t, f.service.Handle(context.Background(), payload(order, "DECLINED")))
	require.Len(t, f.ledger.released, 1)
	assert.Equal(t, 2, f.ledger.released[0][0].Qty, "restoration must match the reserved quantity")

	stored, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDeclined, stored.Status)
	assert.True(t, stored.StockRestored)
	assert.False(t, stored.StockReserved, "the reservation is gone once stock is restored")

	// replay of the same delivery is acknowledged but side-effect free
	assert.True(t, f.service.Handle(context.Background(), payload(order, "DECLINED")))
	assert.Len(t, f.ledger.released, 1, "replay must not restore stock again")
}

func TestHandleDeclineThenReapprovalReservesAgain(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(f, enums.OrderStatusApproved, true)

	// the provider's latest report wins, so DECLINED then APPROVED is legal
	require.True(t, f.service.Handle(context.Background(), payload(order, "DECLINED")))
	require.Len(t, f.ledger.released, 1)

	require.True(t, f.service.Handle(context.Background(), payload(order, "APPROVED")))
	require.Len(t, f.ledger.reserved, 1, "re-approval after a restore must reserve stock again")
	assert.Equal(t, 2, f.ledger.reserved[0][0].Qty)

	stored, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusApproved, stored.Status)
	assert.True(t, stored.StockReserved)
	assert.False(t, stored.StockRestored, "a later decline must be able to compensate again")
}

func TestHandleDeclineWithoutReservationSkipsRestore(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(f, enums.OrderStatusPending, false)

	require.True(t, f.service.Handle(context.Background(), payload(order, "DECLINED")))
	assert.Empty(t, f.ledger.released, "nothing was reserved, nothing may be restored")

	stored, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDeclined, stored.Status)
	assert.False(t, stored.StockRestored)
	assert.Equal(t, 1, f.notifier.declined)
}

func TestHandleApprovalReservesStock(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(f, enums.OrderStatusPending, false)

	require.True(t, f.service.Handle(context.Background(), payload(order, "APPROVED")))
	require.Len(t, f.ledger.reserved, 1, "webhook approval must reserve stock")

	stored, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusApproved, stored.Status)
	assert.True(t, stored.StockReserved)
	assert.Equal(t, 1, f.notifier.approved)
}

func TestHandleApprovalAlreadyApprovedIsNoOp(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(f, enums.OrderStatusApproved, true)

	require.True(t, f.service.Handle(context.Background(), payload(order, "APPROVED")))
	assert.Empty(t, f.ledger.reserved, "already reserved stock must not be reserved again")
	assert.Equal(t, 0, f.notifier.approved, "no duplicate approval notification expected")
}

func TestHandleApprovalShortfallDeclines(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(f, enums.OrderStatusPending, false)
	f.ledger.reserveErr = pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock")

	require.True(t, f.service.Handle(context.Background(), payload(order, "APPROVED")),
		"shortfall handling must still acknowledge the delivery")

	stored, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDeclined, stored.Status)
	assert.False(t, stored.StockReserved, "stock_reserved must stay false after a failed reservation")
}

func TestHandleUnknownStatusDeclines(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(f, enums.OrderStatusPending, false)

	require.True(t, f.service.Handle(context.Background(), payload(order, "VOIDED")))

	stored, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDeclined, stored.Status, "an unrecognized status must never approve")
}
