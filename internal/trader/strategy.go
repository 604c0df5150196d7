package trader

// Action is what the decision engine wants done in response to a tick.
type Action string

const (
	ActionNone    Action = "NONE"
	ActionSellAll Action = "SELL_ALL"
	ActionBuyMore Action = "BUY_MORE"
)

// Decision reasons.
const (
	ReasonProfitTarget = "PROFIT_TARGET"
	ReasonDipStrategy  = "DIP_STRATEGY"
)

// Decision is the outcome of evaluating one price tick against holdings.
type Decision struct {
	Action Action
	Reason string
	// Amount is the quote-currency amount to spend when Action is BUY_MORE.
	Amount float64
}

// Thresholds are the static strategy parameters, shared across all pairs.
type Thresholds struct {
	// ProfitPct triggers a full sell when the gain over the average buy
	// price reaches this percentage.
	ProfitPct float64
	// LossPct triggers an additional purchase when the drop under the last
	// buy price reaches this percentage.
	LossPct float64
	// PurchaseAmount is the quote amount spent on each dip purchase.
	PurchaseAmount float64
}

// Evaluate applies the threshold strategy to a single tick. The profit
// check runs before the loss check, so a degenerate configuration that
// satisfies both resolves to a sell. Quantity and configuration
// preconditions are the caller's responsibility; with no cost basis
// (zero reference prices) the answer is always NONE.
func Evaluate(currentPrice, avgBuyPrice, lastBuyPrice float64, th Thresholds) Decision {
	if currentPrice <= 0 {
		return Decision{Action: ActionNone}
	}

	if avgBuyPrice > 0 {
		profitPct := (currentPrice - avgBuyPrice) / avgBuyPrice * 100
		if profitPct >= th.ProfitPct {
			return Decision{Action: ActionSellAll, Reason: ReasonProfitTarget}
		}
	}

	if lastBuyPrice > 0 {
		lossPct := (lastBuyPrice - currentPrice) / lastBuyPrice * 100
		if lossPct >= th.LossPct {
			return Decision{Action: ActionBuyMore, Reason: ReasonDipStrategy, Amount: th.PurchaseAmount}
		}
	}

	return Decision{Action: ActionNone}
}
