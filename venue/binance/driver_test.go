package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"tradedeck/models"
)

func testConfig() *models.VenueConfig {
	return &models.VenueConfig{
		Venue:     "binance",
		APIKey:    "test-key",
		APISecret: "test-secret",
		Sandbox:   true,
	}
}

func TestSignAppendsTimestampAndSignature(t *testing.T) {
	d := New()
	d.now = func() time.Time { return time.UnixMilli(1700000000000) }

	req := httptest.NewRequest(http.MethodGet, "https://testnet.binance.vision/api/v3/account", nil)
	if err := d.Sign(req, testConfig(), nil); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if got := req.Header.Get("X-MBX-APIKEY"); got != "test-key" {
		t.Errorf("X-MBX-APIKEY = %q", got)
	}

	q, err := url.ParseQuery(req.URL.RawQuery)
	if err != nil {
		t.Fatalf("query not parseable: %v", err)
	}
	if q.Get("timestamp") != "1700000000000" {
		t.Errorf("timestamp = %q", q.Get("timestamp"))
	}

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("timestamp=1700000000000"))
	want := hex.EncodeToString(mac.Sum(nil))
	if q.Get("signature") != want {
		t.Errorf("signature = %q, want %q", q.Get("signature"), want)
	}
	// Signature must be the last parameter, outside the signed payload.
	if !strings.HasSuffix(req.URL.RawQuery, "&signature="+want) {
		t.Errorf("signature not appended: %q", req.URL.RawQuery)
	}
}

func TestPlaceOrderRequestQueryParams(t *testing.T) {
	d := New()

	req, err := d.PlaceOrderRequest(&models.OrderRequest{
		Symbol:        "btcusdt",
		Side:          models.SideBuy,
		Quantity:      0.5,
		Type:          models.OrderTypeLimit,
		LimitPrice:    64000,
		TimeInForce:   models.TIFIOC,
		ClientOrderID: "cid-1",
	})
	if err != nil {
		t.Fatalf("PlaceOrderRequest failed: %v", err)
	}
	if req.Method != http.MethodPost || req.Path != "/api/v3/order" {
		t.Errorf("unexpected request target: %s %s", req.Method, req.Path)
	}
	if len(req.Body) != 0 {
		t.Error("binance orders carry parameters in the query, not the body")
	}

	q := req.Query
	if q.Get("symbol") != "BTCUSDT" || q.Get("side") != "BUY" || q.Get("type") != "LIMIT" {
		t.Errorf("unexpected query: %v", q)
	}
	if q.Get("price") != "64000" || q.Get("timeInForce") != "IOC" {
		t.Errorf("unexpected limit params: %v", q)
	}
	if q.Get("newClientOrderId") != "cid-1" {
		t.Errorf("newClientOrderId = %q", q.Get("newClientOrderId"))
	}
}

func TestPlaceOrderRequestStopLimit(t *testing.T) {
	d := New()
	req, err := d.PlaceOrderRequest(&models.OrderRequest{
		Symbol:     "ETHUSDT",
		Side:       models.SideSell,
		Quantity:   2,
		Type:       models.OrderTypeStopLimit,
		LimitPrice: 3000,
		StopPrice:  3050,
	})
	if err != nil {
		t.Fatalf("PlaceOrderRequest failed: %v", err)
	}
	q := req.Query
	if q.Get("type") != "STOP_LOSS_LIMIT" || q.Get("stopPrice") != "3050" || q.Get("price") != "3000" {
		t.Errorf("unexpected stop limit params: %v", q)
	}
	if q.Get("timeInForce") != "GTC" {
		t.Errorf("timeInForce = %q, want GTC default", q.Get("timeInForce"))
	}
}

func TestCancelOrderRequest(t *testing.T) {
	d := New()
	req, err := d.CancelOrderRequest("12345", "btcusdt")
	if err != nil {
		t.Fatalf("CancelOrderRequest failed: %v", err)
	}
	if req.Method != http.MethodDelete || req.Path != "/api/v3/order" {
		t.Errorf("unexpected request target: %s %s", req.Method, req.Path)
	}
	if req.Query.Get("symbol") != "BTCUSDT" || req.Query.Get("orderId") != "12345" {
		t.Errorf("unexpected query: %v", req.Query)
	}

	if _, err := d.CancelOrderRequest("12345", ""); err == nil {
		t.Fatal("expected error for missing symbol")
	}
}

func TestOrdersRequestFilter(t *testing.T) {
	d := New()

	for _, status := range []models.OrderState{"", models.OrderStateNew, models.OrderStatePartiallyFilled} {
		req, err := d.OrdersRequest(status)
		if err != nil {
			t.Fatalf("OrdersRequest(%q) failed: %v", status, err)
		}
		if req.Method != http.MethodGet || req.Path != "/api/v3/openOrders" {
			t.Errorf("OrdersRequest(%q) target: %s %s", status, req.Method, req.Path)
		}
	}

	// Terminal filters cannot be answered without a symbol scope and must
	// not fall back to the open-order list.
	for _, status := range []models.OrderState{models.OrderStateFilled, models.OrderStateCanceled, models.OrderStateRejected} {
		if _, err := d.OrdersRequest(status); err == nil {
			t.Errorf("OrdersRequest(%q) should fail", status)
		}
	}
}

func TestParseOrder(t *testing.T) {
	d := New()
	body := []byte(`{
		"orderId": 28,
		"clientOrderId": "cid-1",
		"symbol": "BTCUSDT",
		"side": "BUY",
		"type": "LIMIT",
		"timeInForce": "GTC",
		"price": "64000",
		"origQty": "1.0",
		"executedQty": "0.5",
		"cummulativeQuoteQty": "32100",
		"status": "PARTIALLY_FILLED",
		"transactTime": 1700000000000
	}`)

	order, err := d.ParseOrder(body)
	if err != nil {
		t.Fatalf("ParseOrder failed: %v", err)
	}
	if order.ID != "28" || order.Side != models.SideBuy || order.Type != models.OrderTypeLimit {
		t.Errorf("unexpected order: %+v", order)
	}
	if order.State != models.OrderStatePartiallyFilled {
		t.Errorf("state = %s", order.State)
	}
	if order.AvgFillPrice != 64200 {
		t.Errorf("avg fill price = %v, want 64200", order.AvgFillPrice)
	}
	if order.SubmittedAt != 1700000000000 {
		t.Errorf("submitted at = %d", order.SubmittedAt)
	}
}

func TestParseAccountStablecoins(t *testing.T) {
	d := New()
	body := []byte(`{"balances":[
		{"asset":"USDT","free":"1000","locked":"50"},
		{"asset":"USDC","free":"200","locked":"0"},
		{"asset":"BTC","free":"0.5","locked":"0"}
	]}`)

	acct, err := d.ParseAccount(body)
	if err != nil {
		t.Fatalf("ParseAccount failed: %v", err)
	}
	if acct.TotalValue != 1250 || acct.Cash != 1200 || acct.MarginUsed != 50 {
		t.Errorf("unexpected snapshot: %+v", acct)
	}
}

func TestParsePositionsNonQuoteAssets(t *testing.T) {
	d := New()
	body := []byte(`{"balances":[
		{"asset":"USDT","free":"1000","locked":"0"},
		{"asset":"BTC","free":"0.5","locked":"0.1"},
		{"asset":"ETH","free":"0","locked":"0"}
	]}`)

	positions, err := d.ParsePositions(body)
	if err != nil {
		t.Fatalf("ParsePositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if positions[0].Symbol != "BTC" || positions[0].Quantity != 0.6 {
		t.Errorf("unexpected position: %+v", positions[0])
	}
}

func TestSubscriptionFrame(t *testing.T) {
	d := New()
	frames, err := d.Subscription(testConfig(), []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("Subscription failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	var sub struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}
	if err := json.Unmarshal(frames[0], &sub); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if sub.Method != "SUBSCRIBE" || len(sub.Params) != 4 {
		t.Errorf("unexpected subscribe frame: %+v", sub)
	}
	if sub.Params[0] != "btcusdt@miniTicker" || sub.Params[1] != "btcusdt@bookTicker" {
		t.Errorf("unexpected stream names: %v", sub.Params)
	}
}

func TestNormalizeMiniTicker(t *testing.T) {
	d := New()
	raw := []byte(`{"e":"24hrMiniTicker","E":1700000000000,"s":"BTCUSDT","c":"64100","o":"62000","v":"12000"}`)

	events, err := d.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(events) != 1 || events[0].Tick == nil {
		t.Fatalf("expected one tick event, got %+v", events)
	}
	tick := events[0].Tick
	if tick.Symbol != "BTCUSDT" || tick.Price != 64100 || tick.Timestamp != 1700000000000 {
		t.Errorf("unexpected tick: %+v", tick)
	}
	if tick.Change != 2100 {
		t.Errorf("change = %v, want 2100", tick.Change)
	}
}

func TestNormalizeBookTicker(t *testing.T) {
	d := New()
	raw := []byte(`{"u":400900217,"s":"BTCUSDT","b":"64099","B":"10","a":"64101","A":"20"}`)

	events, err := d.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(events) != 1 || events[0].Tick == nil {
		t.Fatalf("expected one tick event, got %+v", events)
	}
	tick := events[0].Tick
	if tick.Bid != 64099 || tick.Ask != 64101 || tick.Price != 64100 {
		t.Errorf("unexpected tick: %+v", tick)
	}
	if tick.Volume != 30 {
		t.Errorf("volume = %v, want 30", tick.Volume)
	}
}

func TestNormalizeExecutionReport(t *testing.T) {
	d := New()
	raw := []byte(`{
		"e":"executionReport","s":"BTCUSDT","c":"cid-1","S":"BUY","o":"LIMIT","f":"GTC",
		"q":"1.0","p":"64000","X":"FILLED","i":28,"z":"1.0","Z":"64000","T":1700000000000
	}`)

	events, err := d.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(events) != 1 || events[0].Order == nil {
		t.Fatalf("expected one order event, got %+v", events)
	}
	order := events[0].Order
	if order.ID != "28" || order.State != models.OrderStateFilled || order.AvgFillPrice != 64000 {
		t.Errorf("unexpected order: %+v", order)
	}
}

func TestNormalizeSubscriptionAck(t *testing.T) {
	d := New()
	events, err := d.Normalize([]byte(`{"result":null,"id":1}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("ack should normalize to nothing, got %+v", events)
	}
}

func TestOrderStateMapping(t *testing.T) {
	cases := map[string]models.OrderState{
		"NEW":              models.OrderStateNew,
		"PARTIALLY_FILLED": models.OrderStatePartiallyFilled,
		"FILLED":           models.OrderStateFilled,
		"CANCELED":         models.OrderStateCanceled,
		"EXPIRED":          models.OrderStateCanceled,
		"REJECTED":         models.OrderStateRejected,
	}
	for wire, want := range cases {
		if got := orderState(wire); got != want {
			t.Errorf("orderState(%q) = %s, want %s", wire, got, want)
		}
	}
}
