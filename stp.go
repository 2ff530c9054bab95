package match

// SelfTradePrevention decides what happens when a prospective match
// pairs a maker and a taker owned by the same client. It is injected
// per book so new policies can be added without touching the matching
// loop. Every prevention action is logged with reason
// "self_trade_prevented", since it silently alters execution versus a
// replay that is not configured with the policy.
type SelfTradePrevention uint8

const (
	// STPDisabled performs no check; self-trades are permitted.
	STPDisabled SelfTradePrevention = iota

	// STPCancelResting cancels the resting maker order and lets the
	// taker continue matching against the next-best maker.
	STPCancelResting

	// STPCancelIncoming cancels the incoming order with its current
	// remainder; fills already produced in this pass stand.
	STPCancelIncoming

	// STPCancelBoth cancels both the resting order and the incoming
	// order outright; no trade between them occurs.
	STPCancelBoth
)

func (p SelfTradePrevention) String() string {
	switch p {
	case STPCancelResting:
		return "cancel_resting"
	case STPCancelIncoming:
		return "cancel_incoming"
	case STPCancelBoth:
		return "cancel_both"
	default:
		return "disabled"
	}
}

// OrderBookOption configures an OrderBook at construction time.
type OrderBookOption func(*OrderBook)

// WithSelfTradePrevention sets the self-trade prevention policy.
func WithSelfTradePrevention(policy SelfTradePrevention) OrderBookOption {
	return func(book *OrderBook) {
		book.stp = policy
	}
}
