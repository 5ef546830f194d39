package coinbase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradedeck/models"
	"tradedeck/venue"
)

// Driver implements the venue capability surface for the Coinbase Exchange
// spot venue. REST auth is the key + signature + timestamp + passphrase
// header quadruple signed with HMAC-SHA256 over the base64-decoded secret.
type Driver struct {
	// now is injectable so signature tests are deterministic.
	now func() time.Time
}

// New creates the coinbase driver.
func New() *Driver { return &Driver{now: time.Now} }

func (d *Driver) Name() string { return "coinbase" }

func (d *Driver) StreamURL(cfg *models.VenueConfig) string {
	p, _ := venue.Lookup(d.Name())
	return p.StreamEndpoint(cfg)
}

// Authenticate is a no-op; every request carries its own signature.
func (d *Driver) Authenticate(ctx context.Context, cfg *models.VenueConfig, hc *http.Client) error {
	return nil
}

// Sign builds the CB-ACCESS header set. The prehash string is
// timestamp + method + requestPath + body.
func (d *Driver) Sign(req *http.Request, cfg *models.VenueConfig, payload []byte) error {
	secret, err := base64.StdEncoding.DecodeString(cfg.APISecret)
	if err != nil {
		return fmt.Errorf("api secret is not valid base64: %w", err)
	}

	timestamp := strconv.FormatInt(d.now().Unix(), 10)
	requestPath := req.URL.Path
	if req.URL.RawQuery != "" {
		requestPath += "?" + req.URL.RawQuery
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + req.Method + requestPath))
	mac.Write(payload)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("CB-ACCESS-KEY", cfg.APIKey)
	req.Header.Set("CB-ACCESS-SIGN", signature)
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("CB-ACCESS-PASSPHRASE", cfg.Passphrase)
	return nil
}

type orderBody struct {
	ProductID   string `json:"product_id"`
	Side        string `json:"side"`
	Size        string `json:"size"`
	Type        string `json:"type"`
	Price       string `json:"price,omitempty"`
	Stop        string `json:"stop,omitempty"`
	StopPrice   string `json:"stop_price,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty"`
	ClientOID   string `json:"client_oid,omitempty"`
}

// PlaceOrderRequest builds the POST /orders call. Stop orders map onto the
// venue's stop entry/loss convention derived from the side.
func (d *Driver) PlaceOrderRequest(req *models.OrderRequest) (*venue.Request, error) {
	body := orderBody{
		ProductID: req.Symbol,
		Side:      string(req.Side),
		Size:      strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		ClientOID: req.ClientOrderID,
	}

	switch req.Type {
	case models.OrderTypeMarket:
		body.Type = "market"
	case models.OrderTypeLimit, models.OrderTypeStopLimit:
		body.Type = "limit"
		body.Price = strconv.FormatFloat(req.LimitPrice, 'f', -1, 64)
	case models.OrderTypeStop:
		body.Type = "market"
	}
	if req.Type == models.OrderTypeStop || req.Type == models.OrderTypeStopLimit {
		if req.Side == models.SideBuy {
			body.Stop = "entry"
		} else {
			body.Stop = "loss"
		}
		body.StopPrice = strconv.FormatFloat(req.StopPrice, 'f', -1, 64)
	}
	switch req.TimeInForce {
	case models.TIFGTC, models.TIFDay, "":
		body.TimeInForce = "GTC"
	case models.TIFIOC:
		body.TimeInForce = "IOC"
	case models.TIFFOK:
		body.TimeInForce = "FOK"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	return &venue.Request{Method: http.MethodPost, Path: "/orders", Body: payload}, nil
}

func (d *Driver) CancelOrderRequest(orderID, symbol string) (*venue.Request, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order id is required")
	}
	return &venue.Request{Method: http.MethodDelete, Path: "/orders/" + orderID}, nil
}

// AccountRequest fetches the per-currency account list; normalization picks
// the quote currency balances.
func (d *Driver) AccountRequest() *venue.Request {
	return &venue.Request{Method: http.MethodGet, Path: "/accounts"}
}

// PositionsRequest reuses the account list: spot holdings are the venue's
// notion of a position.
func (d *Driver) PositionsRequest() *venue.Request {
	return &venue.Request{Method: http.MethodGet, Path: "/accounts"}
}

func (d *Driver) OrdersRequest(status models.OrderState) (*venue.Request, error) {
	req := &venue.Request{Method: http.MethodGet, Path: "/orders"}
	if status == "" || !status.Terminal() {
		return req, nil
	}
	req.Query = url.Values{"status": []string{"done"}}
	return req, nil
}

type wireOrder struct {
	ID            string `json:"id"`
	ClientOID     string `json:"client_oid"`
	ProductID     string `json:"product_id"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	StopPrice     string `json:"stop_price"`
	TimeInForce   string `json:"time_in_force"`
	FilledSize    string `json:"filled_size"`
	ExecutedValue string `json:"executed_value"`
	Status        string `json:"status"`
	DoneReason    string `json:"done_reason"`
	CreatedAt     string `json:"created_at"`
	DoneAt        string `json:"done_at"`
}

func (w *wireOrder) normalize() *models.Order {
	order := &models.Order{
		ID:            w.ID,
		ClientOrderID: w.ClientOID,
		Symbol:        w.ProductID,
		Side:          models.Side(w.Side),
		Quantity:      f64(w.Size),
		Type:          models.OrderType(w.Type),
		LimitPrice:    f64(w.Price),
		StopPrice:     f64(w.StopPrice),
		TimeInForce:   timeInForce(w.TimeInForce),
		FilledQty:     f64(w.FilledSize),
		State:         orderState(w.Status, w.DoneReason),
		SubmittedAt:   epochMillis(w.CreatedAt),
	}
	if order.FilledQty > 0 {
		order.AvgFillPrice = f64(w.ExecutedValue) / order.FilledQty
	}
	switch order.State {
	case models.OrderStateFilled:
		order.FilledAt = epochMillis(w.DoneAt)
	case models.OrderStateCanceled:
		order.CanceledAt = epochMillis(w.DoneAt)
	}
	return order
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

type wireAccount struct {
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

// ParseAccount normalizes the USD balances into the canonical snapshot.
// Crypto holdings are not re-priced here; they surface as positions.
func (d *Driver) ParseAccount(body []byte) (*models.AccountSnapshot, error) {
	var ws []wireAccount
	if err := json.Unmarshal(body, &ws); err != nil {
		return nil, fmt.Errorf("failed to decode accounts response: %w", err)
	}

	snapshot := &models.AccountSnapshot{Venue: "coinbase"}
	for _, w := range ws {
		if w.Currency != "USD" && w.Currency != "USDC" && w.Currency != "USDT" {
			continue
		}
		snapshot.TotalValue += f64(w.Balance)
		snapshot.BuyingPower += f64(w.Available)
		snapshot.Cash += f64(w.Available)
		snapshot.MarginUsed += f64(w.Hold)
	}
	return snapshot, nil
}

// ParsePositions maps non-zero crypto balances onto long spot positions.
func (d *Driver) ParsePositions(body []byte) ([]*models.Position, error) {
	var ws []wireAccount
	if err := json.Unmarshal(body, &ws); err != nil {
		return nil, fmt.Errorf("failed to decode accounts response: %w", err)
	}

	var positions []*models.Position
	for _, w := range ws {
		if w.Currency == "USD" || w.Currency == "USDC" || w.Currency == "USDT" {
			continue
		}
		qty := f64(w.Balance)
		if qty == 0 {
			continue
		}
		positions = append(positions, &models.Position{
			Symbol:   w.Currency,
			Side:     models.SideBuy,
			Quantity: qty,
		})
	}
	return positions, nil
}

func orderState(status, doneReason string) models.OrderState {
	switch status {
	case "pending", "received", "open", "active":
		return models.OrderStateNew
	case "done":
		switch doneReason {
		case "canceled", "cancelled":
			return models.OrderStateCanceled
		case "rejected":
			return models.OrderStateRejected
		default:
			return models.OrderStateFilled
		}
	case "rejected":
		return models.OrderStateRejected
	default:
		return models.OrderStateNew
	}
}

func timeInForce(tif string) models.TimeInForce {
	switch tif {
	case "GTC":
		return models.TIFGTC
	case "IOC":
		return models.TIFIOC
	case "FOK":
		return models.TIFFOK
	default:
		return models.TimeInForce("")
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
