package handler

import (
	"time"

	"github.com/mmeshcher/dreamsaver/internal/model"
)

type depositResponse struct {
	ID            string  `json:"id"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"paymentMethod"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"createdAt"`
}

type goalResponse struct {
	ID              string            `json:"id"`
	ProductID       string            `json:"productId"`
	Status          model.GoalStatus  `json:"status"`
	TargetAmount    float64           `json:"targetAmount"`
	Saved           float64           `json:"saved"`
	Remaining       float64           `json:"remaining"`
	ProgressPercent float64           `json:"progressPercent"`
	LockedPrice     float64           `json:"lockedPrice"`
	EndDate         *string           `json:"endDate,omitempty"`
	CompletedAt     *string           `json:"completedAt,omitempty"`
	DeliveryID      *string           `json:"deliveryId,omitempty"`
	RedeemedAt      *string           `json:"redeemedAt,omitempty"`
	CreatedAt       string            `json:"createdAt"`
	Deposits        []depositResponse `json:"deposits"`
}

func newGoalResponse(v model.GoalView) goalResponse {
	g := v.Goal
	resp := goalResponse{
		ID:              g.ID.String(),
		ProductID:       g.ProductID,
		Status:          g.Status,
		TargetAmount:    g.TargetAmount.InexactFloat64(),
		Saved:           g.Saved.InexactFloat64(),
		Remaining:       v.Remaining.InexactFloat64(),
		ProgressPercent: v.ProgressPercent.InexactFloat64(),
		LockedPrice:     g.LockedPrice.InexactFloat64(),
		EndDate:         formatTime(g.EndDate),
		CompletedAt:     formatTime(g.CompletedAt),
		DeliveryID:      g.DeliveryID,
		RedeemedAt:      formatTime(g.RedeemedAt),
		CreatedAt:       g.CreatedAt.Format(time.RFC3339),
		Deposits:        make([]depositResponse, 0, len(v.Deposits)),
	}
	for _, d := range v.Deposits {
		resp.Deposits = append(resp.Deposits, depositResponse{
			ID:            d.ID.String(),
			Amount:        d.Amount.InexactFloat64(),
			PaymentMethod: d.PaymentMethod,
			Status:        string(d.Status),
			CreatedAt:     d.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

func newGoalResponses(views []model.GoalView) []goalResponse {
	res := make([]goalResponse, 0, len(views))
	for _, v := range views {
		res = append(res, newGoalResponse(v))
	}
	return res
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
