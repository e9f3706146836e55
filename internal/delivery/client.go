// Package delivery предоставляет клиент службы доставки, которой передаются выкупленные цели.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client инкапсулирует HTTP-взаимодействие со службой доставки.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Request описывает заявку на доставку товара по завершённой цели.
type Request struct {
	GoalID    string          `json:"goalId"`
	UserID    string          `json:"userId"`
	ProductID string          `json:"productId"`
	StoreID   string          `json:"storeId,omitempty"`
	AddressID string          `json:"addressId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// Delivery — ответ службы доставки.
type Delivery struct {
	ID     string `json:"deliveryId"`
	Status string `json:"status"`
}

// NewClient создаёт клиент службы доставки по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Configured сообщает, задан ли адрес службы.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// CreateDelivery создаёт заявку на доставку. Идентификатор цели передаётся как ключ идемпотентности,
// поэтому повторный вызов возвращает уже созданную заявку.
// При ответе 429 возвращает код и время ожидания из Retry-After без ошибки.
func (c *Client) CreateDelivery(ctx context.Context, r Request) (*Delivery, int, time.Duration, error) {
	if !c.Configured() {
		return nil, 0, 0, fmt.Errorf("delivery client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/deliveries", bytes.NewReader(body))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", r.GoalID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, retryAfter(resp.Header.Get("Retry-After")), nil
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
	default:
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Delivery
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}
	if result.ID == "" {
		return nil, resp.StatusCode, 0, fmt.Errorf("response without delivery id")
	}

	return &result, resp.StatusCode, 0, nil
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
