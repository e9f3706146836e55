// Package handler содержит HTTP-обработчики API сервиса накоплений.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/dreamsaver/internal/middleware"
	"github.com/mmeshcher/dreamsaver/internal/model"
	"github.com/mmeshcher/dreamsaver/internal/payment"
	"github.com/mmeshcher/dreamsaver/internal/service"
	"github.com/mmeshcher/dreamsaver/internal/validation"
)

const maxWebhookBody = 64 << 10

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateGoal(ctx context.Context, userID string, req service.CreateGoalRequest) (*model.GoalView, error)
	ListGoals(ctx context.Context, userID string) (*model.GoalList, error)
	GetGoal(ctx context.Context, goalID uuid.UUID, userID string) (*model.GoalView, error)
	ActivateGoal(ctx context.Context, goalID uuid.UUID, userID string) (*model.GoalView, error)
	CancelGoal(ctx context.Context, goalID uuid.UUID, userID string) (model.CancelAction, error)
	RefundQuote(ctx context.Context, goalID uuid.UUID, userID string) (*model.RefundQuote, error)
	Deposit(ctx context.Context, goalID uuid.UUID, userID string, amount decimal.Decimal) (*payment.CheckoutSession, error)
	DepositMany(ctx context.Context, userID string, goalIDs []uuid.UUID, amount decimal.Decimal) (*payment.CheckoutSession, error)
	ConfirmDeposit(ctx context.Context, goalID uuid.UUID, userID, sessionID string, amount decimal.Decimal) (*model.Settlement, error)
	RedeemGoal(ctx context.Context, goalID uuid.UUID, userID, addressID string) (*model.Goal, error)
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// Handler реализует HTTP-обработчики API сервиса накоплений.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// metricsHandler отдаётся по /metrics; nil отключает маршрут.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, metricsHandler http.Handler) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        metricsHandler,
	}
}

type createGoalRequest struct {
	ProductID    string          `json:"productId"`
	TargetAmount decimal.Decimal `json:"targetAmount"`
	EndDate      string          `json:"endDate"`
	Mode         string          `json:"mode"`
}

// CreateGoal создаёт цель или обновляет черновик.
func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req createGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	endDate, ok := validation.ParseEndDate(req.EndDate)
	if !ok || req.ProductID == "" || !validation.IsValidAmount(req.TargetAmount) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	view, err := h.service.CreateGoal(r.Context(), userID, service.CreateGoalRequest{
		ProductID:    req.ProductID,
		TargetAmount: req.TargetAmount,
		EndDate:      endDate,
		Mode:         model.GoalMode(req.Mode),
	})
	if err != nil {
		h.writeError(w, err, "create goal")
		return
	}

	writeJSON(w, http.StatusCreated, newGoalResponse(*view))
}

type goalListResponse struct {
	Drafts   []goalResponse `json:"drafts"`
	Active   []goalResponse `json:"active"`
	Terminal []goalResponse `json:"terminal"`
}

// ListGoals возвращает цели текущего пользователя, сгруппированные по статусу.
func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListGoals(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "list goals")
		return
	}

	writeJSON(w, http.StatusOK, goalListResponse{
		Drafts:   newGoalResponses(list.Drafts),
		Active:   newGoalResponses(list.Active),
		Terminal: newGoalResponses(list.Terminal),
	})
}

// GetGoal возвращает цель с депозитами и прогрессом.
func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	userID, goalID, ok := h.goalRequest(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetGoal(r.Context(), goalID, userID)
	if err != nil {
		h.writeError(w, err, "get goal")
		return
	}

	writeJSON(w, http.StatusOK, newGoalResponse(*view))
}

// ActivateGoal переводит черновик в активную цель.
func (h *Handler) ActivateGoal(w http.ResponseWriter, r *http.Request) {
	userID, goalID, ok := h.goalRequest(w, r)
	if !ok {
		return
	}

	view, err := h.service.ActivateGoal(r.Context(), goalID, userID)
	if err != nil {
		h.writeError(w, err, "activate goal")
		return
	}

	writeJSON(w, http.StatusOK, newGoalResponse(*view))
}

// CancelGoal удаляет цель или помечает её возвращённой.
func (h *Handler) CancelGoal(w http.ResponseWriter, r *http.Request) {
	userID, goalID, ok := h.goalRequest(w, r)
	if !ok {
		return
	}

	action, err := h.service.CancelGoal(r.Context(), goalID, userID)
	if err != nil {
		h.writeError(w, err, "cancel goal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"action": string(action)})
}

type refundQuoteResponse struct {
	Saved      float64 `json:"saved"`
	FeePercent float64 `json:"feePercent"`
	Fee        float64 `json:"fee"`
	Payout     float64 `json:"payout"`
}

// RefundQuote возвращает расчёт выплаты при отмене цели.
func (h *Handler) RefundQuote(w http.ResponseWriter, r *http.Request) {
	userID, goalID, ok := h.goalRequest(w, r)
	if !ok {
		return
	}

	q, err := h.service.RefundQuote(r.Context(), goalID, userID)
	if err != nil {
		h.writeError(w, err, "refund quote")
		return
	}

	writeJSON(w, http.StatusOK, refundQuoteResponse{
		Saved:      q.Saved.InexactFloat64(),
		FeePercent: q.FeePercent.InexactFloat64(),
		Fee:        q.Fee.InexactFloat64(),
		Payout:     q.Payout.InexactFloat64(),
	})
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type checkoutResponse struct {
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"checkoutUrl"`
	ExpiresAt   string `json:"expiresAt"`
}

// Deposit создаёт сессию оплаты для пополнения цели.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, goalID, ok := h.goalRequest(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validation.IsValidAmount(req.Amount) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s, err := h.service.Deposit(r.Context(), goalID, userID, req.Amount)
	if err != nil {
		h.writeError(w, err, "deposit")
		return
	}

	writeJSON(w, http.StatusOK, newCheckoutResponse(s))
}

type multiDepositRequest struct {
	GoalIDs []string        `json:"goalIds"`
	Amount  decimal.Decimal `json:"amount"`
}

// Checkout создаёт одну сессию оплаты для нескольких целей.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req multiDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validation.IsValidAmount(req.Amount) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	goalIDs, ok := validation.ParseGoalIDs(req.GoalIDs)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s, err := h.service.DepositMany(r.Context(), userID, goalIDs, req.Amount)
	if err != nil {
		h.writeError(w, err, "checkout")
		return
	}

	writeJSON(w, http.StatusOK, newCheckoutResponse(s))
}

type confirmRequest struct {
	SessionID string          `json:"sessionId"`
	Amount    decimal.Decimal `json:"amount"`
}

type confirmResponse struct {
	Goal      goalResponse `json:"goal"`
	Completed bool         `json:"completed"`
	Replayed  bool         `json:"replayed"`
}

// ConfirmDeposit проводит оплату после возврата из платёжной формы.
func (h *Handler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	userID, goalID, ok := h.goalRequest(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Amount.IsNegative() {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.ConfirmDeposit(r.Context(), goalID, userID, req.SessionID, req.Amount)
	if err != nil {
		h.writeError(w, err, "confirm deposit")
		return
	}

	writeJSON(w, http.StatusOK, confirmResponse{
		Goal:      newGoalResponse(res.View),
		Completed: res.Completed,
		Replayed:  res.Replayed,
	})
}

type redeemRequest struct {
	AddressID string `json:"addressId"`
}

// RedeemGoal передаёт товар завершённой цели в доставку.
func (h *Handler) RedeemGoal(w http.ResponseWriter, r *http.Request) {
	userID, goalID, ok := h.goalRequest(w, r)
	if !ok {
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AddressID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	g, err := h.service.RedeemGoal(r.Context(), goalID, userID, req.AddressID)
	if err != nil {
		h.writeError(w, err, "redeem goal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deliveryId": *g.DeliveryID})
}

type notificationResponse struct {
	ID        string `json:"id"`
	GoalID    string `json:"goalId"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

// ListNotifications возвращает уведомления текущего пользователя.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListNotifications(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "list notifications")
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		resp = append(resp, notificationResponse{
			ID:        n.ID.String(),
			GoalID:    n.GoalID.String(),
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// PaymentWebhook принимает подписанное уведомление платёжной системы.
// Отвечает 400 на неверную подпись и 500 на временный сбой, чтобы уведомление пришло повторно.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err = h.service.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, model.ErrValidation):
		h.logger.Warn("webhook rejected", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	default:
		h.logger.Error("webhook processing error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func (h *Handler) goalRequest(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return "", uuid.Nil, false
	}

	goalID, ok := validation.ParseGoalID(chi.URLParam(r, "goalID"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return "", uuid.Nil, false
	}
	return userID, goalID, true
}

// writeError переводит доменную ошибку в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, model.ErrForbidden):
		http.Error(w, model.ErrForbidden.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrGateway):
		h.logger.Warn(op+" gateway error", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, model.ErrTransient):
		h.logger.Warn(op+" transient error", zap.Error(err))
		w.Header().Set("Retry-After", "5")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newCheckoutResponse(s *payment.CheckoutSession) checkoutResponse {
	return checkoutResponse{
		SessionID:   s.ID,
		CheckoutURL: s.URL,
		ExpiresAt:   s.ExpiresAt.Format(time.RFC3339),
	}
}
