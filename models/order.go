package models

import "fmt"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType selects the execution style of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce is the order lifetime policy.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// OrderState is the canonical order lifecycle status shared by all venues.
type OrderState string

const (
	OrderStateNew             OrderState = "new"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateCanceled        OrderState = "canceled"
	OrderStateRejected        OrderState = "rejected"
)

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a valid lifecycle
// transition. Terminal states never regress.
func (s OrderState) CanTransition(next OrderState) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	switch s {
	case OrderStateNew:
		switch next {
		case OrderStatePartiallyFilled, OrderStateFilled, OrderStateCanceled, OrderStateRejected:
			return true
		}
	case OrderStatePartiallyFilled:
		switch next {
		case OrderStateFilled, OrderStateCanceled, OrderStateRejected:
			return true
		}
	}
	return false
}

// OrderRequest describes an order to be placed at a venue.
type OrderRequest struct {
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Quantity      float64     `json:"quantity"`
	Type          OrderType   `json:"type"`
	LimitPrice    float64     `json:"limit_price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	TimeInForce   TimeInForce `json:"time_in_force,omitempty"`
	ClientOrderID string      `json:"client_order_id,omitempty"`

	// Derivatives-only extensions, ignored by spot and equities venues.
	Leverage   int    `json:"leverage,omitempty"`
	MarginMode string `json:"margin_mode,omitempty"`
}

// Validate checks the structural invariants of the request: positive
// quantity, a limit price on limit-style orders and a stop price on
// stop-style orders.
func (r *OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("order request missing symbol")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("invalid order side '%s'", r.Side)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("order quantity must be greater than 0")
	}
	switch r.Type {
	case OrderTypeLimit, OrderTypeStopLimit:
		if r.LimitPrice <= 0 {
			return fmt.Errorf("%s order requires a limit price", r.Type)
		}
	case OrderTypeMarket, OrderTypeStop:
	default:
		return fmt.Errorf("invalid order type '%s'", r.Type)
	}
	if r.Type == OrderTypeStop || r.Type == OrderTypeStopLimit {
		if r.StopPrice <= 0 {
			return fmt.Errorf("%s order requires a stop price", r.Type)
		}
	}
	return nil
}

// Order is the canonical order status shape returned by venues.
type Order struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Quantity      float64     `json:"quantity"`
	Type          OrderType   `json:"type"`
	LimitPrice    float64     `json:"limit_price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	TimeInForce   TimeInForce `json:"time_in_force,omitempty"`
	FilledQty     float64     `json:"filled_qty"`
	AvgFillPrice  float64     `json:"avg_fill_price"`
	State         OrderState  `json:"state"`
	SubmittedAt   int64       `json:"submitted_at,omitempty"`
	FilledAt      int64       `json:"filled_at,omitempty"`
	CanceledAt    int64       `json:"canceled_at,omitempty"`
}
