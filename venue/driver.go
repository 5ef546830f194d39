package venue

import (
	"context"
	"net/http"
	"net/url"

	"tradedeck/models"
)

// Event is one normalized stream payload. At most one of Tick and Order is
// set. A frame can normalize into several events when the venue batches
// payloads into one frame.
type Event struct {
	Tick  *models.MarketTick
	Order *models.Order
}

// Request describes one REST call for the gateway to execute. Query is kept
// separate from Path because signing schemes that cover the query string
// (binance) need it before the URL is assembled.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Driver is the per-venue capability surface. One implementation exists per
// venue; the adapter facade composes a Driver with the shared connection
// manager and REST gateway. Adding a venue means adding one Driver.
type Driver interface {
	// Name returns the registry identifier of the venue.
	Name() string

	// StreamURL derives the websocket endpoint for the given configuration.
	StreamURL(cfg *models.VenueConfig) string

	// Subscription builds the handshake frames sent after the socket opens.
	// Venues that authenticate over the socket fold their auth frame in.
	Subscription(cfg *models.VenueConfig, symbols []string) ([][]byte, error)

	// Normalize translates one raw frame into canonical events, in the
	// order they appear inside the frame. An empty slice with a nil error
	// means "ignore this frame".
	Normalize(raw []byte) ([]*Event, error)

	// Authenticate performs any session handshake the venue requires
	// before signed requests can be issued. Most venues are stateless and
	// return nil immediately.
	Authenticate(ctx context.Context, cfg *models.VenueConfig, hc *http.Client) error

	// Sign attaches the venue's auth headers (or signed query) to req.
	// payload is the exact body bytes the request will carry.
	Sign(req *http.Request, cfg *models.VenueConfig, payload []byte) error

	// REST request builders, one per operation. OrdersRequest errors when
	// the venue cannot honor the requested state filter.
	PlaceOrderRequest(req *models.OrderRequest) (*Request, error)
	CancelOrderRequest(orderID, symbol string) (*Request, error)
	AccountRequest() *Request
	PositionsRequest() *Request
	OrdersRequest(status models.OrderState) (*Request, error)

	// REST response parsers into the canonical shapes.
	ParseOrder(body []byte) (*models.Order, error)
	ParseOrders(body []byte) ([]*models.Order, error)
	ParseAccount(body []byte) (*models.AccountSnapshot, error)
	ParsePositions(body []byte) ([]*models.Position, error)
}

// CandleSource is an optional capability for venues that can serve
// historical bars. The facade exposes it when the driver implements it.
type CandleSource interface {
	Candles(ctx context.Context, cfg *models.VenueConfig, symbol, interval string, limit int) ([]models.Candle, error)
}
