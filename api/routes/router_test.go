package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/orderpay-backend/internal/notifications"
	"github.com/angelmondragon/orderpay-backend/internal/orders"
	"github.com/angelmondragon/orderpay-backend/internal/products"
	"github.com/angelmondragon/orderpay-backend/internal/webhooks"
	"github.com/angelmondragon/orderpay-backend/pkg/config"
	"github.com/angelmondragon/orderpay-backend/pkg/db/models"
	"github.com/angelmondragon/orderpay-backend/pkg/enums"
	"github.com/angelmondragon/orderpay-backend/pkg/logger"
	"github.com/angelmondragon/orderpay-backend/pkg/resend"
	"github.com/angelmondragon/orderpay-backend/pkg/wompi"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type txRunner struct {
	db *gorm.DB
}

func (r txRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{seen: map[string]bool{}}
}

func (g *memoryGuard) Get(_ context.Context, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[key] {
		return "1", nil
	}
	return "", fmt.Errorf("key not found")
}

func (g *memoryGuard) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *memoryGuard) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

func (g *memoryGuard) Del(_ context.Context, keys ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, key := range keys {
		delete(g.seen, key)
	}
	return nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func gatewayStub(status string) roundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/tokens/cards"):
			return jsonResponse(http.StatusCreated, `{"data":{"id":"tok_e2e"}}`), nil
		case strings.Contains(req.URL.Path, "/merchants/"):
			return jsonResponse(http.StatusOK, `{"data":{"presigned_acceptance":{"acceptance_token":"acc_e2e"}}}`), nil
		case strings.HasSuffix(req.URL.Path, "/transactions"):
			return jsonResponse(http.StatusCreated,
				fmt.Sprintf(`{"data":{"id":"wpi_e2e","status":"%s"}}`, status)), nil
		default:
			return jsonResponse(http.StatusNotFound, `{}`), nil
		}
	}
}

type testEnv struct {
	handler http.Handler
	db      *gorm.DB
	product models.Product
}

func newTestEnv(t *testing.T, gatewayStatus string) *testEnv {
	t.Helper()

	dsn := "file:routes_" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(
		&models.Product{}, &models.Customer{}, &models.Order{},
		&models.OrderLineItem{}, &models.Delivery{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	product := models.Product{
		ID:        uuid.New(),
		Name:      "Mechanical Keyboard",
		UnitPrice: decimal.NewFromInt(250000),
		Stock:     3,
	}
	if err := gdb.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	cfg := &config.Config{
		App:    config.AppConfig{Env: "test", Port: "0"},
		Orders: config.OrdersConfig{MinAmount: 1500, MinCardHolderLen: 5},
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	gateway, err := wompi.NewClient(config.WompiConfig{
		PublicKey:       "pub_test",
		SecretKey:       "prv_test",
		BaseURL:         "http://wompi.test/v1",
		IntegritySecret: "integrity",
		Currency:        "COP",
	}, wompi.WithHTTPClient(&http.Client{Transport: gatewayStub(gatewayStatus)}))
	if err != nil {
		t.Fatalf("gateway client: %v", err)
	}

	notifier := notifications.NewEmailNotifier(resend.NewClient("", ""), logg)
	runner := txRunner{db: gdb}
	ledger := orders.NewLedger()

	productRepo := products.NewRepository(gdb)
	productsSvc := products.NewService(productRepo, logg)

	orderRepo := orders.NewRepository(gdb)
	ordersSvc := orders.NewService(orderRepo, productRepo, gateway, runner, ledger,
		notifier, nil, logg, cfg.Orders)

	webhookSvc := webhooks.NewService(orderRepo, runner, ledger, notifier,
		newMemoryGuard(), nil, logg, time.Hour)

	handler := NewRouter(cfg, logg, stubPinger{}, stubPinger{},
		productsSvc, ordersSvc, webhookSvc, nil)

	return &testEnv{handler: handler, db: gdb, product: product}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func checkoutBody(productID uuid.UUID, qty int) map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"productId": productID, "qty": qty},
		},
		"card": map[string]any{
			"number":     "4242424242424242",
			"cvc":        "123",
			"expMonth":   "08",
			"expYear":    "28",
			"cardHolder": "Jane Tester",
		},
		"delivery": map[string]any{
			"address": "Calle 1 #2-3",
			"city":    "Bogota",
			"country": "CO",
			"customer": map[string]any{
				"fullName": "Jane Tester",
				"email":    "jane@example.com",
			},
		},
	}
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return envelope.Data
}

func TestHealthLive(t *testing.T) {
	env := newTestEnv(t, "APPROVED")
	rec := env.request(t, http.MethodGet, "/health/live", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthReady(t *testing.T) {
	env := newTestEnv(t, "APPROVED")
	rec := env.request(t, http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProductListEndpoint(t *testing.T) {
	env := newTestEnv(t, "APPROVED")
	rec := env.request(t, http.MethodGet, "/api/v1/products", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Mechanical Keyboard") {
		t.Fatalf("seeded product missing from listing: %s", rec.Body.String())
	}
}

func TestCheckoutApprovedEndToEnd(t *testing.T) {
	env := newTestEnv(t, "APPROVED")

	rec := env.request(t, http.MethodPost, "/api/v1/orders", checkoutBody(env.product.ID, 2))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	data := decodeData(t, rec)
	if data["status"] != string(enums.OrderStatusApproved) {
		t.Fatalf("expected APPROVED, got %v", data["status"])
	}
	if data["externalTransactionId"] != "wpi_e2e" {
		t.Fatalf("unexpected transaction id %v", data["externalTransactionId"])
	}

	var stored models.Product
	if err := env.db.First(&stored, "id = ?", env.product.ID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if stored.Stock != 1 {
		t.Fatalf("expected stock 1 after checkout, got %d", stored.Stock)
	}

	orderID := data["id"].(string)
	detail := env.request(t, http.MethodGet, "/api/v1/orders/"+orderID, nil)
	if detail.Code != http.StatusOK {
		t.Fatalf("expected 200 on detail, got %d", detail.Code)
	}
	detailData := decodeData(t, detail)
	items, ok := detailData["lineItems"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected one line item, got %v", detailData["lineItems"])
	}
}

func TestCheckoutDeclinedLeavesStock(t *testing.T) {
	env := newTestEnv(t, "DECLINED")

	rec := env.request(t, http.MethodPost, "/api/v1/orders", checkoutBody(env.product.ID, 1))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["status"] != string(enums.OrderStatusDeclined) {
		t.Fatalf("expected DECLINED, got %v", data["status"])
	}

	var stored models.Product
	if err := env.db.First(&stored, "id = ?", env.product.ID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if stored.Stock != 3 {
		t.Fatalf("declined checkout must not move stock, got %d", stored.Stock)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	env := newTestEnv(t, "APPROVED")

	rec := env.request(t, http.MethodPost, "/api/v1/orders", checkoutBody(env.product.ID, 99))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "INSUFFICIENT_STOCK") {
		t.Fatalf("expected INSUFFICIENT_STOCK code: %s", rec.Body.String())
	}
}

func TestCheckoutRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t, "APPROVED")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"items": []`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookDeclineRestoresStock(t *testing.T) {
	env := newTestEnv(t, "APPROVED")

	rec := env.request(t, http.MethodPost, "/api/v1/orders", checkoutBody(env.product.ID, 2))
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}
	orderID := decodeData(t, rec)["id"].(string)

	webhook := map[string]any{
		"event": "transaction.updated",
		"data": map[string]any{
			"transaction": map[string]any{
				"id":        "wpi_e2e",
				"reference": "ref_" + orderID,
				"status":    "DECLINED",
			},
		},
	}

	whRec := env.request(t, http.MethodPost, "/api/v1/webhooks/wompi", webhook)
	if whRec.Code != http.StatusOK {
		t.Fatalf("webhook must answer 200, got %d", whRec.Code)
	}
	if decodeData(t, whRec)["received"] != true {
		t.Fatalf("expected received=true: %s", whRec.Body.String())
	}

	var stored models.Product
	if err := env.db.First(&stored, "id = ?", env.product.ID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if stored.Stock != 3 {
		t.Fatalf("expected stock restored to 3, got %d", stored.Stock)
	}

	// replay acknowledges without a second restoration
	replay := env.request(t, http.MethodPost, "/api/v1/webhooks/wompi", webhook)
	if decodeData(t, replay)["received"] != true {
		t.Fatalf("replay must still acknowledge: %s", replay.Body.String())
	}
	if err := env.db.First(&stored, "id = ?", env.product.ID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if stored.Stock != 3 {
		t.Fatalf("replay must not restore again, got %d", stored.Stock)
	}
}

func TestWebhookGarbageAlwaysAnswers200(t *testing.T) {
	env := newTestEnv(t, "APPROVED")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/wompi", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("webhook must never fail the provider, got %d", rec.Code)
	}
	if decodeData(t, rec)["received"] != false {
		t.Fatalf("expected received=false: %s", rec.Body.String())
	}
}
