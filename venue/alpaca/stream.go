package alpaca

import (
	"encoding/json"
	"fmt"

	"tradedeck/models"
	"tradedeck/venue"
)

// Subscription builds the socket auth frame followed by the quote/trade
// subscription for the requested symbols.
func (d *Driver) Subscription(cfg *models.VenueConfig, symbols []string) ([][]byte, error) {
	auth, err := json.Marshal(map[string]string{
		"action": "auth",
		"key":    cfg.APIKey,
		"secret": cfg.APISecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode auth frame: %w", err)
	}

	sub, err := json.Marshal(map[string]interface{}{
		"action": "subscribe",
		"quotes": symbols,
		"trades": symbols,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscribe frame: %w", err)
	}

	return [][]byte{auth, sub}, nil
}

type streamMessage struct {
	T string `json:"T"`

	// quote fields
	Symbol   string  `json:"S"`
	BidPrice float64 `json:"bp"`
	BidSize  float64 `json:"bs"`
	AskPrice float64 `json:"ap"`
	AskSize  float64 `json:"as"`

	// trade fields
	TradePrice float64 `json:"p"`
	TradeSize  float64 `json:"s"`

	Timestamp string `json:"t"`
}

type tradeUpdate struct {
	Stream string `json:"stream"`
	Data   struct {
		Event string    `json:"event"`
		Order wireOrder `json:"order"`
	} `json:"data"`
}

// Normalize translates one stream frame. Market-data frames arrive as JSON
// arrays carrying any number of batched quotes and trades; order updates
// arrive as single objects on the trade_updates stream. Control messages
// normalize to nothing.
func (d *Driver) Normalize(raw []byte) ([]*venue.Event, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	if raw[0] == '{' {
		var upd tradeUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			return nil, fmt.Errorf("failed to decode frame: %w", err)
		}
		if upd.Stream != "trade_updates" {
			return nil, nil
		}
		order := upd.Data.Order.normalize()
		// The event name is more current than the embedded order status
		// for fill notifications.
		switch upd.Data.Event {
		case "fill":
			order.State = models.OrderStateFilled
		case "partial_fill":
			order.State = models.OrderStatePartiallyFilled
		case "canceled":
			order.State = models.OrderStateCanceled
		case "rejected":
			order.State = models.OrderStateRejected
		}
		return []*venue.Event{{Order: order}}, nil
	}

	var msgs []streamMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	var events []*venue.Event
	for _, msg := range msgs {
		switch msg.T {
		case "q":
			events = append(events, &venue.Event{Tick: &models.MarketTick{
				Symbol:    msg.Symbol,
				Price:     (msg.BidPrice + msg.AskPrice) / 2,
				Bid:       msg.BidPrice,
				Ask:       msg.AskPrice,
				Volume:    msg.BidSize + msg.AskSize,
				Timestamp: epochMillis(msg.Timestamp),
			}})
		case "t":
			events = append(events, &venue.Event{Tick: &models.MarketTick{
				Symbol:    msg.Symbol,
				Price:     msg.TradePrice,
				Bid:       msg.TradePrice,
				Ask:       msg.TradePrice,
				Volume:    msg.TradeSize,
				Timestamp: epochMillis(msg.Timestamp),
			}})
		}
		// success / subscription acknowledgments fall through
	}
	return events, nil
}
