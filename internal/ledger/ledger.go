// Package ledger содержит чистые функции расчёта по журналу депозитов.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dreamsaver/internal/model"
)

var hundred = decimal.NewFromInt(100)

// RecomputeSaved пересчитывает накопленную сумму по подтверждённым депозитам цели.
func RecomputeSaved(deposits []model.Deposit) decimal.Decimal {
	total := decimal.Zero
	for _, d := range deposits {
		if d.Status != model.DepositStatusCompleted {
			continue
		}
		total = total.Add(d.Amount)
	}
	return total
}

// ProgressPercent возвращает процент выполнения цели без ограничения сверху.
func ProgressPercent(saved, target decimal.Decimal) decimal.Decimal {
	if !target.IsPositive() {
		return decimal.Zero
	}
	return saved.Mul(hundred).DivRound(target, 2)
}

// Remaining возвращает сумму, которой не хватает до цели.
func Remaining(saved, target decimal.Decimal) decimal.Decimal {
	rest := target.Sub(saved)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// SplitAmount делит оплату между n целями с точностью до копейки.
// Остаток от деления достаётся первой цели, сумма частей равна total.
func SplitAmount(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}

	share := total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	parts := make([]decimal.Decimal, n)
	for i := range parts {
		parts[i] = share
	}
	parts[0] = total.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	return parts
}

// QuoteRefund рассчитывает выплату при отмене цели со штрафом feePercent.
// Журнал при этом не меняется.
func QuoteRefund(saved, feePercent decimal.Decimal) model.RefundQuote {
	fee := saved.Mul(feePercent).DivRound(hundred, 2)
	return model.RefundQuote{
		Saved:      saved,
		FeePercent: feePercent,
		Fee:        fee,
		Payout:     saved.Sub(fee),
	}
}

// View строит проекцию цели для отображения.
func View(g model.Goal, deposits []model.Deposit) model.GoalView {
	return model.GoalView{
		Goal:            g,
		ProgressPercent: ProgressPercent(g.Saved, g.TargetAmount),
		Remaining:       Remaining(g.Saved, g.TargetAmount),
		Deposits:        deposits,
	}
}
