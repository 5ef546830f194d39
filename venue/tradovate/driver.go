package tradovate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tradedeck/models"
	"tradedeck/venue"
)

// Driver implements the venue capability surface for the Tradovate futures
// gateway. The venue is session-authenticated: username and password are
// exchanged for an access token, and every later call carries a single
// bearer header.
type Driver struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

// New creates the tradovate driver.
func New() *Driver { return &Driver{now: time.Now} }

func (d *Driver) Name() string { return "tradovate" }

func (d *Driver) StreamURL(cfg *models.VenueConfig) string {
	p, _ := venue.Lookup(d.Name())
	return p.StreamEndpoint(cfg)
}

// Authenticate exchanges username/password for an access token when none is
// cached or the cached one is within a minute of expiry.
func (d *Driver) Authenticate(ctx context.Context, cfg *models.VenueConfig, hc *http.Client) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.token != "" && d.now().Add(time.Minute).Before(d.expires) {
		return nil
	}
	if cfg.Username == "" || cfg.Password == "" {
		return fmt.Errorf("tradovate requires username and password")
	}

	body, err := json.Marshal(map[string]string{
		"name":       cfg.Username,
		"password":   cfg.Password,
		"appId":      "tradedeck",
		"appVersion": "1.0",
		"cid":        cfg.APIKey,
		"sec":        cfg.APISecret,
	})
	if err != nil {
		return fmt.Errorf("failed to encode token request: %w", err)
	}

	p, _ := venue.Lookup(d.Name())
	tokenURL := p.RESTBaseURL(cfg) + "/auth/accesstokenrequest"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var tok struct {
		AccessToken    string `json:"accessToken"`
		ExpirationTime string `json:"expirationTime"`
		ErrorText      string `json:"errorText"`
	}
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.ErrorText != "" {
		return fmt.Errorf("token request rejected: %s", tok.ErrorText)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token response missing access token")
	}

	d.token = tok.AccessToken
	d.expires = d.now().Add(75 * time.Minute)
	if t, err := time.Parse(time.RFC3339Nano, tok.ExpirationTime); err == nil {
		d.expires = t
	}
	return nil
}

// Sign attaches the single bearer header.
func (d *Driver) Sign(req *http.Request, cfg *models.VenueConfig, payload []byte) error {
	d.mu.Lock()
	token := d.token
	d.mu.Unlock()
	if token == "" {
		return fmt.Errorf("no access token; authenticate first")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// accessToken returns the cached session token for the stream handshake.
func (d *Driver) accessToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.token
}

type orderBody struct {
	Action      string  `json:"action"`
	Symbol      string  `json:"symbol"`
	OrderQty    float64 `json:"orderQty"`
	OrderType   string  `json:"orderType"`
	Price       float64 `json:"price,omitempty"`
	StopPrice   float64 `json:"stopPrice,omitempty"`
	TimeInForce string  `json:"timeInForce,omitempty"`
	ClOrdID     string  `json:"clOrdId,omitempty"`
	IsAutomated bool    `json:"isAutomated"`
}

// PlaceOrderRequest builds the POST /order/placeorder call.
func (d *Driver) PlaceOrderRequest(req *models.OrderRequest) (*venue.Request, error) {
	action := "Buy"
	if req.Side == models.SideSell {
		action = "Sell"
	}

	body := orderBody{
		Action:      action,
		Symbol:      req.Symbol,
		OrderQty:    req.Quantity,
		ClOrdID:     req.ClientOrderID,
		IsAutomated: true,
	}
	switch req.Type {
	case models.OrderTypeMarket:
		body.OrderType = "Market"
	case models.OrderTypeLimit:
		body.OrderType = "Limit"
		body.Price = req.LimitPrice
	case models.OrderTypeStop:
		body.OrderType = "Stop"
		body.StopPrice = req.StopPrice
	case models.OrderTypeStopLimit:
		body.OrderType = "StopLimit"
		body.Price = req.LimitPrice
		body.StopPrice = req.StopPrice
	}
	switch req.TimeInForce {
	case models.TIFGTC:
		body.TimeInForce = "GTC"
	case models.TIFIOC:
		body.TimeInForce = "IOC"
	case models.TIFFOK:
		body.TimeInForce = "FOK"
	default:
		body.TimeInForce = "Day"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	return &venue.Request{Method: http.MethodPost, Path: "/order/placeorder", Body: payload}, nil
}

// CancelOrderRequest builds the POST /order/cancelorder call; the gateway
// uses POST bodies for mutations rather than DELETE verbs.
func (d *Driver) CancelOrderRequest(orderID, symbol string) (*venue.Request, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid order id '%s': %w", orderID, err)
	}
	payload, err := json.Marshal(map[string]int64{"orderId": id})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cancel request: %w", err)
	}
	return &venue.Request{Method: http.MethodPost, Path: "/order/cancelorder", Body: payload}, nil
}

func (d *Driver) AccountRequest() *venue.Request {
	return &venue.Request{Method: http.MethodGet, Path: "/cashBalance/list"}
}

func (d *Driver) PositionsRequest() *venue.Request {
	return &venue.Request{Method: http.MethodGet, Path: "/position/list"}
}

// OrdersRequest lists all orders on the account; the gateway carries the
// state on each record, so callers filter on the parsed result.
func (d *Driver) OrdersRequest(status models.OrderState) (*venue.Request, error) {
	return &venue.Request{Method: http.MethodGet, Path: "/order/list"}, nil
}

type wireOrder struct {
	ID        int64   `json:"id"`
	Action    string  `json:"action"`
	Symbol    string  `json:"symbol"`
	OrdStatus string  `json:"ordStatus"`
	OrderQty  float64 `json:"orderQty"`
	CumQty    float64 `json:"cumQty"`
	AvgPx     float64 `json:"avgPx"`
	Timestamp string  `json:"timestamp"`
}

func (w *wireOrder) normalize() *models.Order {
	side := models.SideBuy
	if w.Action == "Sell" {
		side = models.SideSell
	}
	return &models.Order{
		ID:           strconv.FormatInt(w.ID, 10),
		Symbol:       w.Symbol,
		Side:         side,
		Quantity:     w.OrderQty,
		FilledQty:    w.CumQty,
		AvgFillPrice: w.AvgPx,
		State:        orderState(w.OrdStatus),
		SubmittedAt:  epochMillis(w.Timestamp),
	}
}

// ParseOrder tolerates the gateway's minimal placement acknowledgment, which
// often carries just the order id.
func (d *Driver) ParseOrder(body []byte) (*models.Order, error) {
	var w struct {
		OrderID     int64  `json:"orderId"`
		FailureText string `json:"failureText"`
		wireOrder
	}
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	if w.FailureText != "" {
		return nil, fmt.Errorf("order rejected: %s", w.FailureText)
	}
	if w.OrderID != 0 {
		return &models.Order{ID: strconv.FormatInt(w.OrderID, 10), State: models.OrderStateNew}, nil
	}
	return w.wireOrder.normalize(), nil
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
	var ws []struct {
		Amount      float64 `json:"amount"`
		RealizedPnL float64 `json:"realizedPnL"`
		OpenPnL     float64 `json:"openPnL"`
		InitMargin  float64 `json:"initialMargin"`
	}
	if err := json.Unmarshal(body, &ws); err != nil {
		return nil, fmt.Errorf("failed to decode cash balance response: %w", err)
	}

	snapshot := &models.AccountSnapshot{Venue: "tradovate"}
	for _, w := range ws {
		snapshot.TotalValue += w.Amount + w.OpenPnL
		snapshot.Cash += w.Amount
		snapshot.MarginUsed += w.InitMargin
		snapshot.BuyingPower += w.Amount - w.InitMargin
	}
	return snapshot, nil
}

func (d *Driver) ParsePositions(body []byte) ([]*models.Position, error) {
	var ws []struct {
		Symbol      string  `json:"symbol"`
		ContractID  int64   `json:"contractId"`
		NetPos      float64 `json:"netPos"`
		NetPrice    float64 `json:"netPrice"`
		MarkPrice   float64 `json:"markPrice"`
		OpenPnL     float64 `json:"openPnL"`
		RealizedPnL float64 `json:"realizedPnL"`
	}
	if err := json.Unmarshal(body, &ws); err != nil {
		return nil, fmt.Errorf("failed to decode positions response: %w", err)
	}

	var positions []*models.Position
	for _, w := range ws {
		if w.NetPos == 0 {
			continue
		}
		symbol := w.Symbol
		if symbol == "" {
			symbol = strconv.FormatInt(w.ContractID, 10)
		}
		side := models.SideBuy
		qty := w.NetPos
		if qty < 0 {
			side = models.SideSell
			qty = -qty
		}
		positions = append(positions, &models.Position{
			Symbol:        symbol,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    w.NetPrice,
			MarkPrice:     w.MarkPrice,
			UnrealizedPnL: w.OpenPnL,
			RealizedPnL:   w.RealizedPnL,
		})
	}
	return positions, nil
}

func orderState(status string) models.OrderState {
	switch status {
	case "Working", "PendingNew", "Suspended":
		return models.OrderStateNew
	case "PartiallyFilled":
		return models.OrderStatePartiallyFilled
	case "Filled", "Completed":
		return models.OrderStateFilled
	case "Canceled", "Expired", "PendingCancel":
		return models.OrderStateCanceled
	case "Rejected":
		return models.OrderStateRejected
	default:
		return models.OrderStateNew
	}
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
