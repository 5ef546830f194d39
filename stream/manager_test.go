package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tradedeck/models"
	"tradedeck/venue"
)

// fakeDriver is a minimal venue driver for exercising the connection
// lifecycle without a real venue.
type fakeDriver struct {
	streamURL string

	mu        sync.Mutex
	authCalls int
	authErr   error
	subErr    error
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) StreamURL(cfg *models.VenueConfig) string { return d.streamURL }

func (d *fakeDriver) Subscription(cfg *models.VenueConfig, symbols []string) ([][]byte, error) {
	if d.subErr != nil {
		return nil, d.subErr
	}
	frame, _ := json.Marshal(map[string]interface{}{"subscribe": symbols})
	return [][]byte{frame}, nil
}

func (d *fakeDriver) Normalize(raw []byte) ([]*venue.Event, error) {
	// Array frames decode into several ticks, like a batching venue.
	if len(raw) > 0 && raw[0] == '[' {
		var msgs []struct {
			Symbol string  `json:"symbol"`
			Price  float64 `json:"price"`
		}
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, err
		}
		var events []*venue.Event
		for _, msg := range msgs {
			events = append(events, &venue.Event{Tick: &models.MarketTick{Symbol: msg.Symbol, Price: msg.Price}})
		}
		return events, nil
	}

	var msg struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
		Bad    bool    `json:"bad"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Bad {
		return nil, fmt.Errorf("malformed frame")
	}
	if msg.Symbol == "" {
		return nil, nil
	}
	return []*venue.Event{{Tick: &models.MarketTick{Symbol: msg.Symbol, Price: msg.Price}}}, nil
}

func (d *fakeDriver) Authenticate(ctx context.Context, cfg *models.VenueConfig, hc *http.Client) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authCalls++
	return d.authErr
}

func (d *fakeDriver) Sign(req *http.Request, cfg *models.VenueConfig, payload []byte) error {
	return nil
}

func (d *fakeDriver) PlaceOrderRequest(req *models.OrderRequest) (*venue.Request, error) {
	return nil, fmt.Errorf("not implemented")
}

func (d *fakeDriver) CancelOrderRequest(orderID, symbol string) (*venue.Request, error) {
	return nil, fmt.Errorf("not implemented")
}

func (d *fakeDriver) AccountRequest() *venue.Request   { return nil }
func (d *fakeDriver) PositionsRequest() *venue.Request { return nil }
func (d *fakeDriver) OrdersRequest(status models.OrderState) (*venue.Request, error) {
	return nil, nil
}

func (d *fakeDriver) ParseOrder(body []byte) (*models.Order, error)    { return nil, nil }
func (d *fakeDriver) ParseOrders(body []byte) ([]*models.Order, error) { return nil, nil }
func (d *fakeDriver) ParseAccount(body []byte) (*models.AccountSnapshot, error) {
	return nil, nil
}
func (d *fakeDriver) ParsePositions(body []byte) ([]*models.Position, error) { return nil, nil }

var upgrader = websocket.Upgrader{}

// wsServer runs a websocket endpoint that pushes the given frames after the
// first client message (the subscription) arrives.
func wsServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReconnectDelaySequence(t *testing.T) {
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}
	for attempt, expected := range want {
		if got := ReconnectDelay(attempt); got != expected {
			t.Errorf("ReconnectDelay(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestConnectWithoutConfig(t *testing.T) {
	m := NewManager(&fakeDriver{}, nil, func(*venue.Event) {}, Options{})
	if err := m.Connect(context.Background(), nil); err != ErrNotConfigured {
		t.Fatalf("Connect = %v, want ErrNotConfigured", err)
	}
}

func TestPingIntervalOption(t *testing.T) {
	m := NewManager(&fakeDriver{}, nil, func(*venue.Event) {}, Options{PingInterval: 5 * time.Second})
	if m.pingInterval != 5*time.Second {
		t.Errorf("pingInterval = %v, want 5s", m.pingInterval)
	}

	m = NewManager(&fakeDriver{}, nil, func(*venue.Event) {}, Options{})
	if m.pingInterval != defaultPingInterval {
		t.Errorf("pingInterval = %v, want default %v", m.pingInterval, defaultPingInterval)
	}
}

func TestConnectReceivesTicks(t *testing.T) {
	srv := wsServer(t, []string{
		`{"symbol":"AAPL","price":190.5}`,
		`{"heartbeat":true}`,
		`{"bad":true}`,
		`{"symbol":"TSLA","price":240.25}`,
	})

	events := make(chan *venue.Event, 8)
	d := &fakeDriver{streamURL: wsURL(srv)}
	m := NewManager(d, &models.VenueConfig{Venue: "fake"}, func(e *venue.Event) {
		events <- e
	}, Options{})
	defer m.Disconnect()

	if err := m.Connect(context.Background(), []string{"AAPL", "TSLA"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var got []*venue.Event
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case e := <-events:
			got = append(got, e)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	// Heartbeat and malformed frames are filtered; ticks arrive in order.
	if got[0].Tick.Symbol != "AAPL" || got[1].Tick.Symbol != "TSLA" {
		t.Errorf("unexpected events: %+v %+v", got[0].Tick, got[1].Tick)
	}
	if !m.IsConnected() {
		t.Error("manager should report connected")
	}
}

func TestBatchedFrameDispatchesEveryEvent(t *testing.T) {
	srv := wsServer(t, []string{
		`[{"symbol":"AAPL","price":190.5},{"symbol":"TSLA","price":240.25}]`,
	})

	events := make(chan *venue.Event, 8)
	d := &fakeDriver{streamURL: wsURL(srv)}
	m := NewManager(d, &models.VenueConfig{Venue: "fake"}, func(e *venue.Event) {
		events <- e
	}, Options{})
	defer m.Disconnect()

	if err := m.Connect(context.Background(), []string{"AAPL", "TSLA"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var got []*venue.Event
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case e := <-events:
			got = append(got, e)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	if got[0].Tick.Symbol != "AAPL" || got[1].Tick.Symbol != "TSLA" {
		t.Errorf("batched frame order: %+v %+v", got[0].Tick, got[1].Tick)
	}
}

func TestDisconnectStopsDispatch(t *testing.T) {
	srv := wsServer(t, []string{`{"symbol":"AAPL","price":190.5}`})

	events := make(chan *venue.Event, 8)
	d := &fakeDriver{streamURL: wsURL(srv)}
	m := NewManager(d, &models.VenueConfig{Venue: "fake"}, func(e *venue.Event) {
		events <- e
	}, Options{})

	if err := m.Connect(context.Background(), []string{"AAPL"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	select {
	case <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("no event before disconnect")
	}

	m.Disconnect()
	if m.IsConnected() {
		t.Error("manager should not report connected after Disconnect")
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %s, want %s", got, StateIdle)
	}
}

func TestReconnectGivesUpAfterBudget(t *testing.T) {
	// Dial an address nobody listens on; zero the delays so the test is fast.
	d := &fakeDriver{streamURL: "ws://127.0.0.1:1/ws"}
	m := NewManager(d, &models.VenueConfig{Venue: "fake"}, func(*venue.Event) {}, Options{})

	var mu sync.Mutex
	var delays []int
	m.delayFor = func(attempt int) time.Duration {
		mu.Lock()
		delays = append(delays, attempt)
		mu.Unlock()
		return 0
	}

	if err := m.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	m.wg.Wait()

	if got := m.State(); got != StateClosed {
		t.Errorf("state = %s, want %s", got, StateClosed)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delays) != MaxReconnectAttempts {
		t.Fatalf("delay consulted %d times, want %d", len(delays), MaxReconnectAttempts)
	}
	for i, attempt := range delays {
		if attempt != i {
			t.Errorf("delays[%d] computed for attempt %d", i, attempt)
		}
	}
}

func TestAuthFailureEntersBackoff(t *testing.T) {
	d := &fakeDriver{streamURL: "ws://127.0.0.1:1/ws", authErr: fmt.Errorf("bad credentials")}
	m := NewManager(d, &models.VenueConfig{Venue: "fake"}, func(*venue.Event) {}, Options{})
	m.delayFor = func(int) time.Duration { return 0 }

	if err := m.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	m.wg.Wait()

	d.mu.Lock()
	calls := d.authCalls
	d.mu.Unlock()
	if calls != MaxReconnectAttempts+1 {
		t.Errorf("authenticate called %d times, want %d", calls, MaxReconnectAttempts+1)
	}
	if got := m.State(); got != StateClosed {
		t.Errorf("state = %s, want %s", got, StateClosed)
	}
}

func TestConnectReplacesSession(t *testing.T) {
	srv := wsServer(t, []string{`{"symbol":"AAPL","price":190.5}`})

	events := make(chan *venue.Event, 8)
	d := &fakeDriver{streamURL: wsURL(srv)}
	m := NewManager(d, &models.VenueConfig{Venue: "fake"}, func(e *venue.Event) {
		events <- e
	}, Options{})
	defer m.Disconnect()

	if err := m.Connect(context.Background(), []string{"AAPL"}); err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	select {
	case <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("no event from first session")
	}

	if err := m.Connect(context.Background(), []string{"AAPL"}); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	select {
	case <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("no event from second session")
	}
}
