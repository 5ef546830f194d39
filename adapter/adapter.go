package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tradedeck/logger"
	"tradedeck/models"
	"tradedeck/rest"
	"tradedeck/stream"
	"tradedeck/venue"
)

// ErrNotConfigured is returned by any operation invoked before Configure.
var ErrNotConfigured = errors.New("adapter: venue not configured")

// Options carries the transport tuning for both sides of the adapter: the
// REST gateway and the streaming connection manager.
type Options struct {
	REST   rest.Options
	Stream stream.Options
}

// TickHandler consumes normalized market ticks.
type TickHandler func(*models.MarketTick)

// OrderHandler consumes normalized order updates.
type OrderHandler func(*models.Order)

// Subscription is the handle returned by OnMarketData and OnOrderUpdate.
// Unsubscribe removes exactly the callback it was created for; it is safe to
// call more than once.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the callback from the adapter.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

type tickSub struct {
	id int
	fn TickHandler
}

type orderSub struct {
	id int
	fn OrderHandler
}

// Adapter is the facade the application talks to: one instance per venue,
// composing the venue driver, the connection manager and the REST gateway.
// Instances are created explicitly and carry no package-level state.
type Adapter struct {
	driver  venue.Driver
	profile venue.Profile
	opts    Options
	log     *logger.Log

	mu         sync.RWMutex
	cfg        *models.VenueConfig
	gateway    *rest.Gateway
	manager    *stream.Manager
	nextSubID  int
	tickSubs   []tickSub
	orderSubs  []orderSub
	lastStates map[string]models.OrderState
}

// New creates an adapter around a venue driver. The driver's name must be
// present in the profile registry.
func New(driver venue.Driver, opts Options) (*Adapter, error) {
	profile, ok := venue.Lookup(driver.Name())
	if !ok {
		return nil, fmt.Errorf("unknown venue '%s'", driver.Name())
	}
	return &Adapter{
		driver:     driver,
		profile:    profile,
		opts:       opts,
		log:        logger.GetLogger(),
		lastStates: make(map[string]models.OrderState),
	}, nil
}

// Configure stores the venue configuration and rebuilds the gateway and
// connection manager. It does not connect; any live session from a previous
// configuration is torn down first.
func (a *Adapter) Configure(cfg *models.VenueConfig) error {
	if cfg == nil {
		return fmt.Errorf("adapter: nil configuration")
	}
	if cfg.Venue != "" && cfg.Venue != a.driver.Name() {
		return fmt.Errorf("configuration is for venue '%s', adapter is '%s'", cfg.Venue, a.driver.Name())
	}

	a.mu.Lock()
	prior := a.manager
	a.mu.Unlock()
	if prior != nil {
		prior.Disconnect()
	}

	a.mu.Lock()
	a.cfg = cfg
	a.gateway = rest.NewGateway(a.driver, a.profile, cfg, a.opts.REST)
	a.manager = stream.NewManager(a.driver, cfg, a.dispatch, a.opts.Stream)
	a.lastStates = make(map[string]models.OrderState)
	a.mu.Unlock()

	a.log.WithComponent("adapter").WithFields(logger.Fields{
		"venue":   a.driver.Name(),
		"sandbox": cfg.Sandbox,
	}).Info("adapter configured")
	return nil
}

// ConnectMarketData opens the streaming session and subscribes to the given
// symbols. Reconnection on failure is handled by the connection manager.
func (a *Adapter) ConnectMarketData(ctx context.Context, symbols []string) error {
	a.mu.RLock()
	manager := a.manager
	a.mu.RUnlock()
	if manager == nil {
		return ErrNotConfigured
	}
	return manager.Connect(ctx, symbols)
}

// OnMarketData registers a tick callback. Callbacks fire in registration
// order, one at a time, in stream receipt order.
func (a *Adapter) OnMarketData(fn TickHandler) *Subscription {
	a.mu.Lock()
	a.nextSubID++
	id := a.nextSubID
	a.tickSubs = append(a.tickSubs, tickSub{id: id, fn: fn})
	a.mu.Unlock()

	return &Subscription{cancel: func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, s := range a.tickSubs {
			if s.id == id {
				a.tickSubs = append(a.tickSubs[:i], a.tickSubs[i+1:]...)
				return
			}
		}
	}}
}

// OnOrderUpdate registers an order-update callback.
func (a *Adapter) OnOrderUpdate(fn OrderHandler) *Subscription {
	a.mu.Lock()
	a.nextSubID++
	id := a.nextSubID
	a.orderSubs = append(a.orderSubs, orderSub{id: id, fn: fn})
	a.mu.Unlock()

	return &Subscription{cancel: func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, s := range a.orderSubs {
			if s.id == id {
				a.orderSubs = append(a.orderSubs[:i], a.orderSubs[i+1:]...)
				return
			}
		}
	}}
}

// PlaceOrder submits an order through the REST gateway. Requests without a
// client order id get a generated one so rapid duplicate submissions are
// distinguishable at the venue.
func (a *Adapter) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	a.mu.RLock()
	gateway := a.gateway
	cfg := a.cfg
	a.mu.RUnlock()
	if gateway == nil {
		return nil, ErrNotConfigured
	}

	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	if req.Leverage == 0 && cfg.DefaultLeverage > 0 {
		req.Leverage = cfg.DefaultLeverage
	}
	if req.MarginMode == "" && cfg.DefaultMarginMode != "" {
		req.MarginMode = cfg.DefaultMarginMode
	}

	return gateway.PlaceOrder(ctx, req)
}

// CancelOrder cancels one order by venue order id.
func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	a.mu.RLock()
	gateway := a.gateway
	a.mu.RUnlock()
	if gateway == nil {
		return ErrNotConfigured
	}
	return gateway.CancelOrder(ctx, orderID, symbol)
}

// GetAccount fetches the normalized account snapshot.
func (a *Adapter) GetAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	a.mu.RLock()
	gateway := a.gateway
	a.mu.RUnlock()
	if gateway == nil {
		return nil, ErrNotConfigured
	}
	return gateway.Account(ctx)
}

// GetPositions fetches all open positions.
func (a *Adapter) GetPositions(ctx context.Context) ([]*models.Position, error) {
	a.mu.RLock()
	gateway := a.gateway
	a.mu.RUnlock()
	if gateway == nil {
		return nil, ErrNotConfigured
	}
	return gateway.Positions(ctx)
}

// GetOrders fetches orders, optionally filtered by lifecycle state.
func (a *Adapter) GetOrders(ctx context.Context, status models.OrderState) ([]*models.Order, error) {
	a.mu.RLock()
	gateway := a.gateway
	a.mu.RUnlock()
	if gateway == nil {
		return nil, ErrNotConfigured
	}
	return gateway.Orders(ctx, status)
}

// GetCandles fetches historical bars when the venue driver supports it.
func (a *Adapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	a.mu.RLock()
	cfg := a.cfg
	a.mu.RUnlock()
	if cfg == nil {
		return nil, ErrNotConfigured
	}
	source, ok := a.driver.(venue.CandleSource)
	if !ok {
		return nil, fmt.Errorf("venue '%s' does not provide historical candles", a.driver.Name())
	}
	return source.Candles(ctx, cfg, symbol, interval, limit)
}

// Disconnect tears down the streaming session and clears every registered
// callback so nothing fires after teardown.
func (a *Adapter) Disconnect() {
	a.mu.RLock()
	manager := a.manager
	a.mu.RUnlock()
	if manager != nil {
		manager.Disconnect()
	}

	a.mu.Lock()
	a.tickSubs = nil
	a.orderSubs = nil
	a.lastStates = make(map[string]models.OrderState)
	a.mu.Unlock()

	a.log.WithComponent("adapter").WithFields(logger.Fields{"venue": a.driver.Name()}).Info("adapter disconnected")
}

// IsConnected reports whether the streaming socket is live.
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	manager := a.manager
	a.mu.RUnlock()
	return manager != nil && manager.IsConnected()
}

// Venue returns the adapter's venue name.
func (a *Adapter) Venue() string {
	return a.driver.Name()
}

// dispatch fans one normalized event out to the registered callbacks in
// registration order.
func (a *Adapter) dispatch(event *venue.Event) {
	switch {
	case event.Tick != nil:
		a.mu.RLock()
		subs := make([]tickSub, len(a.tickSubs))
		copy(subs, a.tickSubs)
		a.mu.RUnlock()
		for _, s := range subs {
			s.fn(event.Tick)
		}
	case event.Order != nil:
		if !a.admitOrderUpdate(event.Order) {
			return
		}
		a.mu.RLock()
		subs := make([]orderSub, len(a.orderSubs))
		copy(subs, a.orderSubs)
		a.mu.RUnlock()
		for _, s := range subs {
			s.fn(event.Order)
		}
	}
}

// admitOrderUpdate drops updates that would regress an order out of a
// terminal state. Stale frames after reconnects can replay old lifecycle
// stages.
func (a *Adapter) admitOrderUpdate(order *models.Order) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	last, seen := a.lastStates[order.ID]
	if seen && !last.CanTransition(order.State) {
		a.log.WithComponent("adapter").WithFields(logger.Fields{
			"venue":    a.driver.Name(),
			"order_id": order.ID,
			"from":     string(last),
			"to":       string(order.State),
		}).Warn("dropping regressive order update")
		return false
	}
	a.lastStates[order.ID] = order.State
	return true
}
