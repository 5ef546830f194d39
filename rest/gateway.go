package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"tradedeck/logger"
	"tradedeck/models"
	"tradedeck/venue"
)

// RequestError is returned for any non-2xx REST response. The body is kept
// verbatim so callers can surface the venue's own error message. Requests
// that mutate orders are never retried automatically; a duplicate fill is
// worse than a surfaced error.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Body)
}

// Options tunes the gateway transport.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond int
	BurstSize         int
}

// Gateway performs the authenticated request/response cycle for one venue.
// Auth header construction is delegated to the venue driver so the gateway
// itself stays scheme-agnostic.
type Gateway struct {
	driver     venue.Driver
	profile    venue.Profile
	cfg        *models.VenueConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

// NewGateway creates a gateway bound to one driver and configuration.
func NewGateway(driver venue.Driver, profile venue.Profile, cfg *models.VenueConfig, opts Options) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.BurstSize
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Gateway{
		driver:     driver,
		profile:    profile,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		log:        logger.GetLogger(),
	}
}

// Do executes one venue request: rate limit, session auth, signing, HTTP
// round trip. Non-2xx responses come back as *RequestError.
func (g *Gateway) Do(ctx context.Context, vreq *venue.Request) ([]byte, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	if err := g.driver.Authenticate(ctx, g.cfg, g.httpClient); err != nil {
		return nil, fmt.Errorf("venue authentication failed: %w", err)
	}

	fullURL := g.profile.RESTBaseURL(g.cfg) + vreq.Path
	if len(vreq.Query) > 0 {
		fullURL += "?" + vreq.Query.Encode()
	}

	var bodyReader io.Reader
	if len(vreq.Body) > 0 {
		bodyReader = bytes.NewReader(vreq.Body)
	}

	req, err := http.NewRequestWithContext(ctx, vreq.Method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if len(vreq.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := g.driver.Sign(req, g.cfg, vreq.Body); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	logger.LogPerformanceEntry(g.log.WithComponent("rest_gateway"), "rest_gateway", "api_request", time.Since(start), logger.Fields{
		"venue":  g.driver.Name(),
		"method": vreq.Method,
		"path":   vreq.Path,
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.IncrementRequestError()
		g.log.WithComponent("rest_gateway").WithFields(logger.Fields{
			"venue":  g.driver.Name(),
			"path":   vreq.Path,
			"status": resp.StatusCode,
		}).Warn("venue returned error response")
		return nil, &RequestError{Status: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// PlaceOrder validates and submits an order, returning the normalized order
// the venue acknowledged.
func (g *Gateway) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	vreq, err := g.driver.PlaceOrderRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := g.Do(ctx, vreq)
	if err != nil {
		return nil, err
	}
	logger.IncrementOrderPlaced()
	return g.driver.ParseOrder(body)
}

// CancelOrder cancels one order by venue order id.
func (g *Gateway) CancelOrder(ctx context.Context, orderID, symbol string) error {
	vreq, err := g.driver.CancelOrderRequest(orderID, symbol)
	if err != nil {
		return err
	}
	_, err = g.Do(ctx, vreq)
	return err
}

// Account fetches the normalized account snapshot.
func (g *Gateway) Account(ctx context.Context) (*models.AccountSnapshot, error) {
	body, err := g.Do(ctx, g.driver.AccountRequest())
	if err != nil {
		return nil, err
	}
	return g.driver.ParseAccount(body)
}

// Positions fetches all open positions.
func (g *Gateway) Positions(ctx context.Context) ([]*models.Position, error) {
	body, err := g.Do(ctx, g.driver.PositionsRequest())
	if err != nil {
		return nil, err
	}
	return g.driver.ParsePositions(body)
}

// Orders fetches orders, optionally filtered by state. An empty state fetches
// everything the venue returns by default.
func (g *Gateway) Orders(ctx context.Context, status models.OrderState) ([]*models.Order, error) {
	req, err := g.driver.OrdersRequest(status)
	if err != nil {
		return nil, err
	}
	body, err := g.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return g.driver.ParseOrders(body)
}
