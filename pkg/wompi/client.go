package wompi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/orderpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderpay-backend/pkg/errors"
)

const (
	paymentMethodCard           = "CARD"
	defaultInstallments         = 1
	responseBodyReadLimit int64 = 4096
)

var (
	errPublicKeyRequired       = errors.New("wompi public key is required")
	errSecretKeyRequired       = errors.New("wompi secret key is required")
	errBaseURLRequired         = errors.New("wompi base url is required")
	errIntegritySecretRequired = errors.New("wompi integrity secret is required")
)

// Client is a stateless protocol adapter for the card-payment provider. It
// tokenizes cards, fetches acceptance tokens and submits charges; it holds no
// business state.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	publicKey       string
	secretKey       string
	integritySecret string
	currency        string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient validates the gateway configuration and builds the adapter. A
// missing credential fails here, at boot, not on the first charge.
func NewClient(cfg config.WompiConfig, opts ...Option) (*Client, error) {
	publicKey := strings.TrimSpace(cfg.PublicKey)
	if publicKey == "" {
		return nil, errPublicKeyRequired
	}
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	integritySecret := strings.TrimSpace(cfg.IntegritySecret)
	if integritySecret == "" {
		return nil, errIntegritySecretRequired
	}

	currency := strings.TrimSpace(cfg.Currency)
	if currency == "" {
		currency = "COP"
	}

	client := &Client{
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		baseURL:         strings.TrimRight(baseURL, "/"),
		publicKey:       publicKey,
		secretKey:       secretKey,
		integritySecret: integritySecret,
		currency:        currency,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// Currency returns the currency code sent with every charge.
func (c *Client) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}

// Card is the raw card payload forwarded to the tokenization endpoint.
type Card struct {
	Number     string `json:"number"`
	CVC        string `json:"cvc"`
	ExpMonth   string `json:"exp_month"`
	ExpYear    string `json:"exp_year"`
	CardHolder string `json:"card_holder"`
}

// ChargeRequest describes one charge submission.
type ChargeRequest struct {
	Token         string
	AmountInCents int64
	Reference     string
	CustomerEmail string
}

// ChargeResult is the provider's synchronous answer. Status may be PENDING;
// the final outcome can arrive later through the webhook.
type ChargeResult struct {
	TransactionID string
	Status        string
}

// ProviderError is the structured error body the provider attaches to
// rejected requests.
type ProviderError struct {
	Type     string          `json:"type"`
	Messages json.RawMessage `json:"messages"`
}

// SanitizeReference strips every whitespace and control character from a
// reference so the provider never receives an invalid one. Idempotent.
func SanitizeReference(ref string) string {
	var b strings.Builder
	b.Grow(len(ref))
	for _, r := range ref {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Signature computes the integrity digest over reference+amount+currency+secret.
// Field order is part of the provider contract.
func Signature(reference string, amountInCents int64, currency, secret string) string {
	raw := fmt.Sprintf("%s%d%s%s", reference, amountInCents, currency, secret)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TokenizeCard exchanges raw card data for an opaque provider token.
func (c *Client) TokenizeCard(ctx context.Context, card Card) (string, error) {
	var apiResp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/tokens/cards", c.publicKey, card, &apiResp); err != nil {
		return "", err
	}
	if apiResp.Data.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeGateway, "tokenization returned no token")
	}
	return apiResp.Data.ID, nil
}

// AcceptanceToken fetches a fresh merchant acceptance token. It is never
// cached across charges.
func (c *Client) AcceptanceToken(ctx context.Context) (string, error) {
	var apiResp struct {
		Data struct {
			PresignedAcceptance struct {
				AcceptanceToken string `json:"acceptance_token"`
			} `json:"presigned_acceptance"`
		} `json:"data"`
	}
	path := "/merchants/" + url.PathEscape(c.publicKey)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &apiResp); err != nil {
		return "", err
	}
	token := apiResp.Data.PresignedAcceptance.AcceptanceToken
	if token == "" {
		return "", pkgerrors.New(pkgerrors.CodeGateway, "merchant acceptance token missing")
	}
	return token, nil
}

// Charge fetches an acceptance token, signs the sanitized reference and
// submits the transaction. The reported status is returned verbatim.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client not configured")
	}
	if req.Token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payment token is required")
	}

	acceptanceToken, err := c.AcceptanceToken(ctx)
	if err != nil {
		return nil, err
	}

	reference := SanitizeReference(req.Reference)
	signature := Signature(reference, req.AmountInCents, c.currency, c.integritySecret)

	body := map[string]any{
		"amount_in_cents": req.AmountInCents,
		"currency":        c.currency,
		"customer_email":  req.CustomerEmail,
		"payment_method": map[string]any{
			"type":         paymentMethodCard,
			"token":        req.Token,
			"installments": defaultInstallments,
		},
		"reference":        reference,
		"acceptance_token": acceptanceToken,
		"signature":        signature,
	}

	var apiResp struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/transactions", c.secretKey, body, &apiResp); err != nil {
		return nil, err
	}

	return &ChargeResult{
		TransactionID: apiResp.Data.ID,
		Status:        apiResp.Data.Status,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "marshal gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "build gateway request")
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeProviderError(resp)
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode gateway response")
		}
	}
	return nil
}

func decodeProviderError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))

	var envelope struct {
		Error *ProviderError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		msg := fmt.Sprintf("gateway rejected request (%s)", envelope.Error.Type)
		if len(envelope.Error.Messages) > 0 {
			msg = string(envelope.Error.Messages)
		}
		return pkgerrors.New(pkgerrors.CodeGateway, msg).
			WithDetails(map[string]any{
				"status":   resp.StatusCode,
				"type":     envelope.Error.Type,
				"messages": envelope.Error.Messages,
			})
	}

	trimmed := strings.TrimSpace(string(raw))
	return pkgerrors.Wrap(pkgerrors.CodeGateway,
		fmt.Errorf("status %d: %s", resp.StatusCode, trimmed),
		"gateway request failed")
}
