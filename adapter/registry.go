package adapter

import (
	"fmt"

	"tradedeck/venue/alpaca"
	"tradedeck/venue/binance"
	"tradedeck/venue/coinbase"
	"tradedeck/venue/tradovate"
)

// ForVenue constructs an adapter for a registered venue name.
func ForVenue(name string, opts Options) (*Adapter, error) {
	switch name {
	case "alpaca":
		return New(alpaca.New(), opts)
	case "coinbase":
		return New(coinbase.New(), opts)
	case "binance":
		return New(binance.New(), opts)
	case "tradovate":
		return New(tradovate.New(), opts)
	default:
		return nil, fmt.Errorf("unknown venue '%s'", name)
	}
}
