// Package payment предоставляет адаптер платёжной системы Stripe Checkout.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/mmeshcher/dreamsaver/internal/model"
)

const checkoutSessionCompleted = "checkout.session.completed"

// Ключи метаданных сессии оплаты.
const (
	metaAppID      = "appId"
	metaGoalIDs    = "goalIds"
	metaUserID     = "userId"
	metaAmountPaid = "amountPaid"
)

var (
	// ErrIgnoredEvent возвращается для событий, которые сервис не обрабатывает.
	ErrIgnoredEvent = errors.New("ignored payment event")
	// ErrForeignEvent возвращается для сессий, созданных другим приложением.
	ErrForeignEvent = errors.New("payment event belongs to another application")
)

// Config содержит параметры подключения к платёжной системе.
type Config struct {
	SecretKey     string
	WebhookSecret string
	APIURL        string
	AppID         string
	Currency      string
	SessionTTL    time.Duration
}

// Gateway создаёт сессии оплаты и проверяет уведомления платёжной системы.
type Gateway struct {
	api           *client.API
	webhookSecret string
	appID         string
	currency      string
	sessionTTL    time.Duration
	now           func() time.Time
}

// CheckoutRequest описывает запрос на создание сессии оплаты.
type CheckoutRequest struct {
	Amount      decimal.Decimal
	Description string
	SuccessURL  string
	CancelURL   string
	GoalIDs     []uuid.UUID
	UserID      string
}

// CheckoutSession — созданная сессия оплаты.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// PaymentEvent — проверенное подтверждение оплаты с обязательными полями метаданных.
type PaymentEvent struct {
	SessionID  string
	GoalIDs    []uuid.UUID
	UserID     string
	AmountPaid decimal.Decimal
	Paid       bool
}

// NewGateway создаёт адаптер Stripe с указанными параметрами.
func NewGateway(cfg Config) *Gateway {
	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(2),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "pkr"
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &Gateway{
		api:           client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
		webhookSecret: cfg.WebhookSecret,
		appID:         cfg.AppID,
		currency:      currency,
		sessionTTL:    ttl,
		now:           time.Now,
	}
}

// CreateCheckoutSession создаёт сессию оплаты с ограниченным сроком действия.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	ids := make([]string, 0, len(req.GoalIDs))
	for _, id := range req.GoalIDs {
		ids = append(ids, id.String())
	}

	expiresAt := g.now().Add(g.sessionTTL)

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(g.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(MinorUnits(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		ExpiresAt:  stripe.Int64(expiresAt.Unix()),
	}
	params.Context = ctx
	params.AddMetadata(metaAppID, g.appID)
	params.AddMetadata(metaGoalIDs, strings.Join(ids, ","))
	params.AddMetadata(metaUserID, req.UserID)
	params.AddMetadata(metaAmountPaid, req.Amount.StringFixed(2))

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, gatewayError("create checkout session", err)
	}

	return &CheckoutSession{ID: s.ID, URL: s.URL, ExpiresAt: expiresAt}, nil
}

// RetrieveSession запрашивает сессию у платёжной системы и разбирает её метаданные.
func (g *Gateway) RetrieveSession(ctx context.Context, sessionID string) (*PaymentEvent, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, gatewayError("retrieve checkout session", err)
	}
	return g.decodeSession(s)
}

// ParseWebhook проверяет подпись уведомления и извлекает из него подтверждение оплаты.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (*PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: webhook signature: %v", model.ErrValidation, err)
	}

	if string(event.Type) != checkoutSessionCompleted {
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event without data", model.ErrValidation)
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("%w: decode checkout session: %v", model.ErrValidation, err)
	}
	return g.decodeSession(&s)
}

func (g *Gateway) decodeSession(s *stripe.CheckoutSession) (*PaymentEvent, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("%w: session id is missing", model.ErrValidation)
	}

	meta := s.Metadata
	if meta[metaAppID] != g.appID {
		return nil, fmt.Errorf("%w: app %q", ErrForeignEvent, meta[metaAppID])
	}

	ev := &PaymentEvent{
		SessionID: s.ID,
		UserID:    strings.TrimSpace(meta[metaUserID]),
		Paid:      s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if ev.UserID == "" {
		return nil, fmt.Errorf("%w: session %s has no user", model.ErrValidation, s.ID)
	}

	for _, raw := range strings.Split(meta[metaGoalIDs], ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: session %s goal id %q", model.ErrValidation, s.ID, raw)
		}
		ev.GoalIDs = append(ev.GoalIDs, id)
	}
	if len(ev.GoalIDs) == 0 {
		return nil, fmt.Errorf("%w: session %s has no goals", model.ErrValidation, s.ID)
	}

	amount, err := decimal.NewFromString(meta[metaAmountPaid])
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: session %s amount %q", model.ErrValidation, s.ID, meta[metaAmountPaid])
	}
	if s.AmountTotal > 0 && s.AmountTotal != MinorUnits(amount) {
		return nil, fmt.Errorf("%w: session %s amount mismatch", model.ErrValidation, s.ID)
	}
	ev.AmountPaid = amount

	return ev, nil
}

// MinorUnits переводит сумму в минимальные единицы валюты.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

func gatewayError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %s: %s", model.ErrTransient, op, stripeErr.Msg)
		}
		return fmt.Errorf("%w: %s", model.ErrGateway, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %s: %v", model.ErrGateway, op, err)
}
