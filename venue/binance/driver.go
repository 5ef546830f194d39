package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"tradedeck/models"
	"tradedeck/venue"
)

// Driver implements the venue capability surface for Binance spot. Auth is a
// single X-MBX-APIKEY header plus an HMAC-SHA256 signature over the query
// string; account endpoints carry timestamp and signature in the query
// rather than in headers.
type Driver struct {
	now func() time.Time
}

// New creates the binance driver.
func New() *Driver { return &Driver{now: time.Now} }

func (d *Driver) Name() string { return "binance" }

func (d *Driver) StreamURL(cfg *models.VenueConfig) string {
	p, _ := venue.Lookup(d.Name())
	return p.StreamEndpoint(cfg)
}

func (d *Driver) Authenticate(ctx context.Context, cfg *models.VenueConfig, hc *http.Client) error {
	return nil
}

// Sign sets the API key header and, for signed paths, appends timestamp and
// signature to the query string. The signature covers the final encoded
// query concatenated with the body.
func (d *Driver) Sign(req *http.Request, cfg *models.VenueConfig, payload []byte) error {
	req.Header.Set("X-MBX-APIKEY", cfg.APIKey)

	q := req.URL.Query()
	q.Set("timestamp", strconv.FormatInt(d.now().UnixMilli(), 10))
	encoded := q.Encode()

	mac := hmac.New(sha256.New, []byte(cfg.APISecret))
	mac.Write([]byte(encoded))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	req.URL.RawQuery = encoded + "&signature=" + signature
	return nil
}

// PlaceOrderRequest builds POST /api/v3/order with all parameters in the
// query string, the venue's convention.
func (d *Driver) PlaceOrderRequest(req *models.OrderRequest) (*venue.Request, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(req.Symbol))
	q.Set("side", strings.ToUpper(string(req.Side)))
	q.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	q.Set("newOrderRespType", "RESULT")
	if req.ClientOrderID != "" {
		q.Set("newClientOrderId", req.ClientOrderID)
	}

	switch req.Type {
	case models.OrderTypeMarket:
		q.Set("type", "MARKET")
	case models.OrderTypeLimit:
		q.Set("type", "LIMIT")
		q.Set("price", strconv.FormatFloat(req.LimitPrice, 'f', -1, 64))
		q.Set("timeInForce", timeInForceParam(req.TimeInForce))
	case models.OrderTypeStop:
		q.Set("type", "STOP_LOSS")
		q.Set("stopPrice", strconv.FormatFloat(req.StopPrice, 'f', -1, 64))
	case models.OrderTypeStopLimit:
		q.Set("type", "STOP_LOSS_LIMIT")
		q.Set("price", strconv.FormatFloat(req.LimitPrice, 'f', -1, 64))
		q.Set("stopPrice", strconv.FormatFloat(req.StopPrice, 'f', -1, 64))
		q.Set("timeInForce", timeInForceParam(req.TimeInForce))
	}

	return &venue.Request{Method: http.MethodPost, Path: "/api/v3/order", Query: q}, nil
}

func (d *Driver) CancelOrderRequest(orderID, symbol string) (*venue.Request, error) {
	if orderID == "" || symbol == "" {
		return nil, fmt.Errorf("order id and symbol are required")
	}
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("orderId", orderID)
	return &venue.Request{Method: http.MethodDelete, Path: "/api/v3/order", Query: q}, nil
}

func (d *Driver) AccountRequest() *venue.Request {
	return &venue.Request{Method: http.MethodGet, Path: "/api/v3/account"}
}

// PositionsRequest reuses the account endpoint: spot balances are the
// venue's notion of a position.
func (d *Driver) PositionsRequest() *venue.Request {
	return &venue.Request{Method: http.MethodGet, Path: "/api/v3/account"}
}

// OrdersRequest returns open orders. Terminal-state filters are rejected:
// the venue's order history endpoint requires a symbol scope the canonical
// operation does not carry, and answering them from the open-order list
// would silently return the wrong set.
func (d *Driver) OrdersRequest(status models.OrderState) (*venue.Request, error) {
	if status.Terminal() {
		return nil, fmt.Errorf("binance cannot list %s orders without a symbol scope", status)
	}
	return &venue.Request{Method: http.MethodGet, Path: "/api/v3/openOrders"}, nil
}

type wireOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"timeInForce"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
	TransactTime  int64  `json:"transactTime"`
	Time          int64  `json:"time"`
}

func (w *wireOrder) normalize() *models.Order {
	order := &models.Order{
		ID:            strconv.FormatInt(w.OrderID, 10),
		ClientOrderID: w.ClientOrderID,
		Symbol:        w.Symbol,
		Side:          models.Side(strings.ToLower(w.Side)),
		Quantity:      f64(w.OrigQty),
		Type:          orderType(w.Type),
		LimitPrice:    f64(w.Price),
		StopPrice:     f64(w.StopPrice),
		TimeInForce:   timeInForce(w.TimeInForce),
		FilledQty:     f64(w.ExecutedQty),
		State:         orderState(w.Status),
		SubmittedAt:   w.TransactTime,
	}
	if order.SubmittedAt == 0 {
		order.SubmittedAt = w.Time
	}
	if order.FilledQty > 0 {
		order.AvgFillPrice = f64(w.CumQuoteQty) / order.FilledQty
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
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// ParseAccount normalizes the stablecoin balances into the canonical
// snapshot; other assets surface as positions.
func (d *Driver) ParseAccount(body []byte) (*models.AccountSnapshot, error) {
	var w wireAccount
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("failed to decode account response: %w", err)
	}

	snapshot := &models.AccountSnapshot{Venue: "binance"}
	for _, b := range w.Balances {
		if !isQuoteAsset(b.Asset) {
			continue
		}
		free := f64(b.Free)
		locked := f64(b.Locked)
		snapshot.TotalValue += free + locked
		snapshot.BuyingPower += free
		snapshot.Cash += free
		snapshot.MarginUsed += locked
	}
	return snapshot, nil
}

func (d *Driver) ParsePositions(body []byte) ([]*models.Position, error) {
	var w wireAccount
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("failed to decode account response: %w", err)
	}

	var positions []*models.Position
	for _, b := range w.Balances {
		if isQuoteAsset(b.Asset) {
			continue
		}
		qty := f64(b.Free) + f64(b.Locked)
		if qty == 0 {
			continue
		}
		positions = append(positions, &models.Position{
			Symbol:   b.Asset,
			Side:     models.SideBuy,
			Quantity: qty,
		})
	}
	return positions, nil
}

// Candles fetches historical klines through the official SDK client.
func (d *Driver) Candles(ctx context.Context, cfg *models.VenueConfig, symbol, interval string, limit int) ([]models.Candle, error) {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	p, _ := venue.Lookup(d.Name())
	client.BaseURL = p.RESTBaseURL(cfg)

	klines, err := client.NewKlinesService().
		Symbol(strings.ToUpper(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines: %w", err)
	}

	candles := make([]models.Candle, len(klines))
	for i, k := range klines {
		candles[i] = models.Candle{
			Symbol:    strings.ToUpper(symbol),
			OpenTime:  k.OpenTime,
			Open:      f64(k.Open),
			High:      f64(k.High),
			Low:       f64(k.Low),
			Close:     f64(k.Close),
			Volume:    f64(k.Volume),
			CloseTime: k.CloseTime,
		}
	}
	return candles, nil
}

func orderState(status string) models.OrderState {
	switch status {
	case "NEW", "PENDING_NEW":
		return models.OrderStateNew
	case "PARTIALLY_FILLED":
		return models.OrderStatePartiallyFilled
	case "FILLED":
		return models.OrderStateFilled
	case "CANCELED", "EXPIRED", "PENDING_CANCEL":
		return models.OrderStateCanceled
	case "REJECTED":
		return models.OrderStateRejected
	default:
		return models.OrderStateNew
	}
}

func orderType(t string) models.OrderType {
	switch t {
	case "MARKET":
		return models.OrderTypeMarket
	case "LIMIT", "LIMIT_MAKER":
		return models.OrderTypeLimit
	case "STOP_LOSS", "TAKE_PROFIT":
		return models.OrderTypeStop
	case "STOP_LOSS_LIMIT", "TAKE_PROFIT_LIMIT":
		return models.OrderTypeStopLimit
	default:
		return models.OrderTypeMarket
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

func timeInForceParam(tif models.TimeInForce) string {
	switch tif {
	case models.TIFIOC:
		return "IOC"
	case models.TIFFOK:
		return "FOK"
	default:
		return "GTC"
	}
}

func isQuoteAsset(asset string) bool {
	switch asset {
	case "USDT", "USDC", "BUSD", "FDUSD":
		return true
	default:
		return false
	}
}

func f64(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
