package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradedeck/models"
	"tradedeck/venue"
)

// Driver implements the venue capability surface for the Alpaca equities
// broker. Auth is a plain key/secret header pair; the market-data stream
// authenticates over the socket.
type Driver struct{}

// New creates the alpaca driver.
func New() *Driver { return &Driver{} }

func (d *Driver) Name() string { return "alpaca" }

// StreamURL derives the websocket endpoint from the profile registry.
func (d *Driver) StreamURL(cfg *models.VenueConfig) string {
	p, _ := venue.Lookup(d.Name())
	return p.StreamEndpoint(cfg)
}

// Authenticate is a no-op; alpaca REST auth is stateless headers.
func (d *Driver) Authenticate(ctx context.Context, cfg *models.VenueConfig, hc *http.Client) error {
	return nil
}

// Sign attaches exactly the APCA key/secret header pair.
func (d *Driver) Sign(req *http.Request, cfg *models.VenueConfig, payload []byte) error {
	req.Header.Set("APCA-API-KEY-ID", cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", cfg.APISecret)
	return nil
}

type orderBody struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// PlaceOrderRequest builds the POST /v2/orders call.
func (d *Driver) PlaceOrderRequest(req *models.OrderRequest) (*venue.Request, error) {
	tif := req.TimeInForce
	if tif == "" {
		tif = models.TIFDay
	}

	body := orderBody{
		Symbol:        req.Symbol,
		Qty:           strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(tif),
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice > 0 {
		body.LimitPrice = strconv.FormatFloat(req.LimitPrice, 'f', -1, 64)
	}
	if req.StopPrice > 0 {
		body.StopPrice = strconv.FormatFloat(req.StopPrice, 'f', -1, 64)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	return &venue.Request{Method: http.MethodPost, Path: "/v2/orders", Body: payload}, nil
}

// CancelOrderRequest builds the DELETE /v2/orders/{id} call.
func (d *Driver) CancelOrderRequest(orderID, symbol string) (*venue.Request, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order id is required")
	}
	return &venue.Request{Method: http.MethodDelete, Path: "/v2/orders/" + orderID}, nil
}

func (d *Driver) AccountRequest() *venue.Request {
	return &venue.Request{Method: http.MethodGet, Path: "/v2/account"}
}

func (d *Driver) PositionsRequest() *venue.Request {
	return &venue.Request{Method: http.MethodGet, Path: "/v2/positions"}
}

// OrdersRequest maps the canonical state filter onto alpaca's open/closed
// status query.
func (d *Driver) OrdersRequest(status models.OrderState) (*venue.Request, error) {
	q := url.Values{}
	switch status {
	case "":
		q.Set("status", "all")
	case models.OrderStateNew, models.OrderStatePartiallyFilled:
		q.Set("status", "open")
	default:
		q.Set("status", "closed")
	}
	return &venue.Request{Method: http.MethodGet, Path: "/v2/orders", Query: q}, nil
}

type wireOrder struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	Type           string `json:"type"`
	Side           string `json:"side"`
	TimeInForce    string `json:"time_in_force"`
	LimitPrice     string `json:"limit_price"`
	StopPrice      string `json:"stop_price"`
	Status         string `json:"status"`
	SubmittedAt    string `json:"submitted_at"`
	FilledAt       string `json:"filled_at"`
	CanceledAt     string `json:"canceled_at"`
}

func (w *wireOrder) normalize() *models.Order {
	return &models.Order{
		ID:            w.ID,
		ClientOrderID: w.ClientOrderID,
		Symbol:        w.Symbol,
		Side:          models.Side(w.Side),
		Quantity:      f64(w.Qty),
		Type:          models.OrderType(w.Type),
		LimitPrice:    f64(w.LimitPrice),
		StopPrice:     f64(w.StopPrice),
		TimeInForce:   models.TimeInForce(w.TimeInForce),
		FilledQty:     f64(w.FilledQty),
		AvgFillPrice:  f64(w.FilledAvgPrice),
		State:         orderState(w.Status),
		SubmittedAt:   epochMillis(w.SubmittedAt),
		FilledAt:      epochMillis(w.FilledAt),
		CanceledAt:    epochMillis(w.CanceledAt),
	}
}

func (d *Driver) ParseOrder(body []byte) (*models.Order, error) {
	var w wireOrder
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return w.normalize(), nil
}

func (d *Driver) ParseOrders(body []byte) ([]*models.Order, error) {
	var ws []wireOrder
	if err := json.Unmarshal(body, &ws); err != nil {
		return nil, fmt.Errorf("failed to decode orders response: %w", err)
	}
	orders := make([]*models.Order, len(ws))
	for i := range ws {
		orders[i] = ws[i].normalize()
	}
	return orders, nil
}

func (d *Driver) ParseAccount(body []byte) (*models.AccountSnapshot, error) {
	var w struct {
		Equity           string `json:"equity"`
		BuyingPower      string `json:"buying_power"`
		Cash             string `json:"cash"`
		InitialMargin    string `json:"initial_margin"`
		DaytradeCount    int    `json:"daytrade_count"`
		PatternDayTrader bool   `json:"pattern_day_trader"`
	}
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("failed to decode account response: %w", err)
	}
	return &models.AccountSnapshot{
		Venue:            "alpaca",
		TotalValue:       f64(w.Equity),
		BuyingPower:      f64(w.BuyingPower),
		Cash:             f64(w.Cash),
		MarginUsed:       f64(w.InitialMargin),
		DayTradeCount:    w.DaytradeCount,
		PatternDayTrader: w.PatternDayTrader,
	}, nil
}

func (d *Driver) ParsePositions(body []byte) ([]*models.Position, error) {
	var ws []struct {
		Symbol        string `json:"symbol"`
		Qty           string `json:"qty"`
		Side          string `json:"side"`
		AvgEntryPrice string `json:"avg_entry_price"`
		CurrentPrice  string `json:"current_price"`
		UnrealizedPL  string `json:"unrealized_pl"`
	}
	if err := json.Unmarshal(body, &ws); err != nil {
		return nil, fmt.Errorf("failed to decode positions response: %w", err)
	}

	positions := make([]*models.Position, 0, len(ws))
	for _, w := range ws {
		qty := f64(w.Qty)
		side := models.SideBuy
		if w.Side == "short" || qty < 0 {
			side = models.SideSell
			if qty < 0 {
				qty = -qty
			}
		}
		positions = append(positions, &models.Position{
			Symbol:        w.Symbol,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    f64(w.AvgEntryPrice),
			MarkPrice:     f64(w.CurrentPrice),
			UnrealizedPnL: f64(w.UnrealizedPL),
		})
	}
	return positions, nil
}

func orderState(status string) models.OrderState {
	switch status {
	case "new", "accepted", "pending_new":
		return models.OrderStateNew
	case "partially_filled":
		return models.OrderStatePartiallyFilled
	case "filled":
		return models.OrderStateFilled
	case "canceled", "expired", "done_for_day", "pending_cancel":
		return models.OrderStateCanceled
	case "rejected":
		return models.OrderStateRejected
	default:
		return models.OrderStateNew
	}
}

func f64(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func epochMillis(ts string) int64 {
	if ts == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
