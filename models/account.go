package models

// Position is one open position normalized across venues. Side derives from
// the signed quantity of the venue payload; Quantity is always the magnitude.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`

	// Derivatives-only fields, zero for equities and spot venues.
	Leverage   int    `json:"leverage,omitempty"`
	MarginMode string `json:"margin_mode,omitempty"`
}

// AccountSnapshot is the normalized account state of one venue.
type AccountSnapshot struct {
	Venue       string  `json:"venue"`
	TotalValue  float64 `json:"total_value"`
	BuyingPower float64 `json:"buying_power"`
	Cash        float64 `json:"cash"`
	MarginUsed  float64 `json:"margin_used"`

	// Equities-only fields.
	DayTradeCount    int  `json:"day_trade_count,omitempty"`
	PatternDayTrader bool `json:"pattern_day_trader,omitempty"`
}

// VenueConfig carries the credentials and connection parameters for one
// adapter. It is immutable once handed to an adapter; reconfiguring replaces
// it wholesale.
type VenueConfig struct {
	Venue      string `yaml:"venue" json:"venue"`
	APIKey     string `yaml:"api_key" json:"api_key"`
	APISecret  string `yaml:"api_secret" json:"api_secret"`
	Passphrase string `yaml:"passphrase" json:"passphrase,omitempty"`
	Username   string `yaml:"username" json:"username,omitempty"`
	Password   string `yaml:"password" json:"password,omitempty"`

	// BaseURL overrides the profile REST base when set. Used by tests.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`
	// StreamURL overrides the profile stream endpoint when set.
	StreamURL string `yaml:"stream_url" json:"stream_url,omitempty"`
	Sandbox   bool   `yaml:"sandbox" json:"sandbox"`

	// Defaults applied to derivatives orders that do not set their own.
	DefaultLeverage   int    `yaml:"default_leverage" json:"default_leverage,omitempty"`
	DefaultMarginMode string `yaml:"default_margin_mode" json:"default_margin_mode,omitempty"`
}
