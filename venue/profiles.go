package venue

import "tradedeck/models"

// Profile holds the static connection parameters of one venue. The REST base
// and stream endpoint derive purely from (venue, sandbox); there is no
// runtime negotiation.
type Profile struct {
	Name             string
	RESTBase         string
	SandboxRESTBase  string
	StreamURL        string
	SandboxStreamURL string
}

var profiles = map[string]Profile{
	"alpaca": {
		Name:             "alpaca",
		RESTBase:         "https://api.alpaca.markets",
		SandboxRESTBase:  "https://paper-api.alpaca.markets",
		StreamURL:        "wss://stream.data.alpaca.markets/v2/iex",
		SandboxStreamURL: "wss://stream.data.sandbox.alpaca.markets/v2/iex",
	},
	"coinbase": {
		Name:             "coinbase",
		RESTBase:         "https://api.exchange.coinbase.com",
		SandboxRESTBase:  "https://api-public.sandbox.exchange.coinbase.com",
		StreamURL:        "wss://ws-feed.exchange.coinbase.com",
		SandboxStreamURL: "wss://ws-feed-public.sandbox.exchange.coinbase.com",
	},
	"binance": {
		Name:             "binance",
		RESTBase:         "https://api.binance.com",
		SandboxRESTBase:  "https://testnet.binance.vision",
		StreamURL:        "wss://stream.binance.com:9443/ws",
		SandboxStreamURL: "wss://stream.testnet.binance.vision/ws",
	},
	"tradovate": {
		Name:             "tradovate",
		RESTBase:         "https://live.tradovateapi.com/v1",
		SandboxRESTBase:  "https://demo.tradovateapi.com/v1",
		StreamURL:        "wss://md.tradovateapi.com/v1/websocket",
		SandboxStreamURL: "wss://md-demo.tradovateapi.com/v1/websocket",
	},
}

// Lookup returns the static profile for a venue name.
func Lookup(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// RESTBaseURL resolves the REST base for the configuration, honoring the
// per-config override first, then the sandbox flag.
func (p Profile) RESTBaseURL(cfg *models.VenueConfig) string {
	if cfg != nil && cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	if cfg != nil && cfg.Sandbox {
		return p.SandboxRESTBase
	}
	return p.RESTBase
}

// StreamEndpoint resolves the websocket endpoint for the configuration.
func (p Profile) StreamEndpoint(cfg *models.VenueConfig) string {
	if cfg != nil && cfg.StreamURL != "" {
		return cfg.StreamURL
	}
	if cfg != nil && cfg.Sandbox {
		return p.SandboxStreamURL
	}
	return p.StreamURL
}
