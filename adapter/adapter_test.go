package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"tradedeck/models"
	"tradedeck/venue"
)

// fakeDriver borrows a registered venue name so the profile lookup in New
// succeeds, and captures the order request handed to the gateway.
type fakeDriver struct {
	name string

	mu       sync.Mutex
	captured *models.OrderRequest
}

func newFakeDriver() *fakeDriver { return &fakeDriver{name: "alpaca"} }

func (d *fakeDriver) Name() string                             { return d.name }
func (d *fakeDriver) StreamURL(cfg *models.VenueConfig) string { return "ws://127.0.0.1:1/ws" }
func (d *fakeDriver) Subscription(cfg *models.VenueConfig, symbols []string) ([][]byte, error) {
	return nil, nil
}
func (d *fakeDriver) Normalize(raw []byte) ([]*venue.Event, error) { return nil, nil }
func (d *fakeDriver) Authenticate(ctx context.Context, cfg *models.VenueConfig, hc *http.Client) error {
	return nil
}
func (d *fakeDriver) Sign(req *http.Request, cfg *models.VenueConfig, payload []byte) error {
	return nil
}

func (d *fakeDriver) PlaceOrderRequest(req *models.OrderRequest) (*venue.Request, error) {
	d.mu.Lock()
	snapshot := *req
	d.captured = &snapshot
	d.mu.Unlock()
	body, _ := json.Marshal(req)
	return &venue.Request{Method: http.MethodPost, Path: "/orders", Body: body}, nil
}

func (d *fakeDriver) CancelOrderRequest(orderID, symbol string) (*venue.Request, error) {
	return &venue.Request{Method: http.MethodDelete, Path: "/orders/" + orderID}, nil
}

func (d *fakeDriver) AccountRequest() *venue.Request {
	return &venue.Request{Method: http.MethodGet, Path: "/account"}
}
func (d *fakeDriver) PositionsRequest() *venue.Request {
	return &venue.Request{Method: http.MethodGet, Path: "/positions"}
}
func (d *fakeDriver) OrdersRequest(status models.OrderState) (*venue.Request, error) {
	return &venue.Request{Method: http.MethodGet, Path: "/orders"}, nil
}

func (d *fakeDriver) ParseOrder(body []byte) (*models.Order, error) {
	var o models.Order
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
func (d *fakeDriver) ParseOrders(body []byte) ([]*models.Order, error)          { return nil, nil }
func (d *fakeDriver) ParseAccount(body []byte) (*models.AccountSnapshot, error) { return nil, nil }
func (d *fakeDriver) ParsePositions(body []byte) ([]*models.Position, error)    { return nil, nil }

func TestNewUnknownVenue(t *testing.T) {
	if _, err := New(&fakeDriver{name: "nope"}, Options{}); err == nil {
		t.Fatal("expected error for unregistered venue")
	}
}

func TestOperationsBeforeConfigure(t *testing.T) {
	ad, err := New(newFakeDriver(), Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if _, err := ad.PlaceOrder(ctx, &models.OrderRequest{}); err != ErrNotConfigured {
		t.Errorf("PlaceOrder = %v, want ErrNotConfigured", err)
	}
	if err := ad.CancelOrder(ctx, "1", "AAPL"); err != ErrNotConfigured {
		t.Errorf("CancelOrder = %v, want ErrNotConfigured", err)
	}
	if _, err := ad.GetAccount(ctx); err != ErrNotConfigured {
		t.Errorf("GetAccount = %v, want ErrNotConfigured", err)
	}
	if _, err := ad.GetPositions(ctx); err != ErrNotConfigured {
		t.Errorf("GetPositions = %v, want ErrNotConfigured", err)
	}
	if _, err := ad.GetOrders(ctx, ""); err != ErrNotConfigured {
		t.Errorf("GetOrders = %v, want ErrNotConfigured", err)
	}
	if _, err := ad.GetCandles(ctx, "AAPL", "1m", 10); err != ErrNotConfigured {
		t.Errorf("GetCandles = %v, want ErrNotConfigured", err)
	}
	if err := ad.ConnectMarketData(ctx, []string{"AAPL"}); err != ErrNotConfigured {
		t.Errorf("ConnectMarketData = %v, want ErrNotConfigured", err)
	}
	if ad.IsConnected() {
		t.Error("IsConnected should be false before Configure")
	}
}

func TestConfigureValidation(t *testing.T) {
	ad, err := New(newFakeDriver(), Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ad.Configure(nil); err == nil {
		t.Error("expected error for nil configuration")
	}
	if err := ad.Configure(&models.VenueConfig{Venue: "binance"}); err == nil {
		t.Error("expected error for mismatched venue name")
	}
	if err := ad.Configure(&models.VenueConfig{Venue: "alpaca"}); err != nil {
		t.Errorf("Configure failed: %v", err)
	}
}

func TestTickFanOut(t *testing.T) {
	ad, err := New(newFakeDriver(), Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ad.Configure(&models.VenueConfig{Venue: "alpaca"}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	var order []string
	first := ad.OnMarketData(func(tick *models.MarketTick) {
		order = append(order, "first:"+tick.Symbol)
	})
	ad.OnMarketData(func(tick *models.MarketTick) {
		order = append(order, "second:"+tick.Symbol)
	})

	ad.dispatch(&venue.Event{Tick: &models.MarketTick{Symbol: "AAPL", Price: 190.5}})
	if len(order) != 2 || order[0] != "first:AAPL" || order[1] != "second:AAPL" {
		t.Fatalf("unexpected dispatch order: %v", order)
	}

	// Unsubscribing removes exactly one callback and is safe to repeat.
	first.Unsubscribe()
	first.Unsubscribe()
	order = order[:0]
	ad.dispatch(&venue.Event{Tick: &models.MarketTick{Symbol: "TSLA", Price: 240}})
	if len(order) != 1 || order[0] != "second:TSLA" {
		t.Fatalf("unexpected dispatch after unsubscribe: %v", order)
	}
}

func TestOrderUpdateLifecycle(t *testing.T) {
	ad, err := New(newFakeDriver(), Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ad.Configure(&models.VenueConfig{Venue: "alpaca"}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	var states []models.OrderState
	ad.OnOrderUpdate(func(o *models.Order) {
		states = append(states, o.State)
	})

	update := func(state models.OrderState) *venue.Event {
		return &venue.Event{Order: &models.Order{ID: "o-1", Symbol: "AAPL", State: state}}
	}

	ad.dispatch(update(models.OrderStateNew))
	ad.dispatch(update(models.OrderStatePartiallyFilled))
	ad.dispatch(update(models.OrderStateFilled))
	// Replayed stale frames after a reconnect must not regress the order.
	ad.dispatch(update(models.OrderStatePartiallyFilled))
	ad.dispatch(update(models.OrderStateNew))

	want := []models.OrderState{
		models.OrderStateNew,
		models.OrderStatePartiallyFilled,
		models.OrderStateFilled,
	}
	if len(states) != len(want) {
		t.Fatalf("got %d updates, want %d: %v", len(states), len(want), states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestPlaceOrderDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"o-1","symbol":"BTC-USD","side":"buy","quantity":1,"type":"market","state":"new"}`)
	}))
	defer srv.Close()

	d := newFakeDriver()
	ad, err := New(d, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cfg := &models.VenueConfig{
		Venue:             "alpaca",
		BaseURL:           srv.URL,
		DefaultLeverage:   5,
		DefaultMarginMode: "cross",
	}
	if err := ad.Configure(cfg); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	order, err := ad.PlaceOrder(context.Background(), &models.OrderRequest{
		Symbol:   "BTC-USD",
		Side:     models.SideBuy,
		Quantity: 1,
		Type:     models.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if order.ID != "o-1" {
		t.Errorf("order ID = %s, want o-1", order.ID)
	}

	d.mu.Lock()
	captured := d.captured
	d.mu.Unlock()
	if captured == nil {
		t.Fatal("driver never saw the order request")
	}
	if captured.ClientOrderID == "" {
		t.Error("client order id was not generated")
	}
	if captured.Leverage != 5 {
		t.Errorf("leverage = %d, want default 5", captured.Leverage)
	}
	if captured.MarginMode != "cross" {
		t.Errorf("margin mode = %s, want default cross", captured.MarginMode)
	}
}

func TestPlaceOrderKeepsClientOrderID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"o-2","symbol":"AAPL","side":"buy","quantity":1,"type":"market","state":"new"}`)
	}))
	defer srv.Close()

	d := newFakeDriver()
	ad, err := New(d, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ad.Configure(&models.VenueConfig{Venue: "alpaca", BaseURL: srv.URL}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	if _, err := ad.PlaceOrder(context.Background(), &models.OrderRequest{
		Symbol:        "AAPL",
		Side:          models.SideBuy,
		Quantity:      1,
		Type:          models.OrderTypeMarket,
		ClientOrderID: "client-7",
	}); err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.captured.ClientOrderID != "client-7" {
		t.Errorf("client order id = %s, want client-7", d.captured.ClientOrderID)
	}
}

func TestGetCandlesUnsupported(t *testing.T) {
	ad, err := New(newFakeDriver(), Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ad.Configure(&models.VenueConfig{Venue: "alpaca"}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if _, err := ad.GetCandles(context.Background(), "AAPL", "1m", 10); err == nil {
		t.Fatal("expected error for a driver without candles")
	}
}

func TestDisconnectClearsCallbacks(t *testing.T) {
	ad, err := New(newFakeDriver(), Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ad.Configure(&models.VenueConfig{Venue: "alpaca"}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	fired := 0
	ad.OnMarketData(func(*models.MarketTick) { fired++ })
	ad.OnOrderUpdate(func(*models.Order) { fired++ })

	ad.Disconnect()
	ad.dispatch(&venue.Event{Tick: &models.MarketTick{Symbol: "AAPL"}})
	ad.dispatch(&venue.Event{Order: &models.Order{ID: "o-1", State: models.OrderStateNew}})
	if fired != 0 {
		t.Errorf("callbacks fired %d times after Disconnect", fired)
	}
}

func TestForVenue(t *testing.T) {
	for _, name := range []string{"alpaca", "coinbase", "binance", "tradovate"} {
		ad, err := ForVenue(name, Options{})
		if err != nil {
			t.Errorf("ForVenue(%s) failed: %v", name, err)
			continue
		}
		if ad.Venue() != name {
			t.Errorf("Venue() = %s, want %s", ad.Venue(), name)
		}
	}
	if _, err := ForVenue("kraken", Options{}); err == nil {
		t.Error("expected error for unknown venue")
	}
}
