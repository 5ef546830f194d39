package coinbase

import (
	"encoding/json"
	"fmt"

	"tradedeck/models"
	"tradedeck/venue"
)

// Subscription builds the ticker channel subscribe frame.
func (d *Driver) Subscription(cfg *models.VenueConfig, symbols []string) ([][]byte, error) {
	sub, err := json.Marshal(map[string]interface{}{
		"type":        "subscribe",
		"product_ids": symbols,
		"channels":    []string{"ticker"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscribe frame: %w", err)
	}
	return [][]byte{sub}, nil
}

type streamMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Volume24h string `json:"volume_24h"`
	Open24h   string `json:"open_24h"`
	Time      string `json:"time"`

	// done/match frames on the user channel
	OrderID       string `json:"order_id"`
	Side          string `json:"side"`
	RemainingSize string `json:"remaining_size"`
	Reason        string `json:"reason"`
	Size          string `json:"size"`
}

// Normalize translates ticker frames into market ticks and user-channel
// lifecycle frames into order updates. The feed sends one payload per frame.
// Subscription echoes, heartbeats and anything unrecognized normalize to
// nothing.
func (d *Driver) Normalize(raw []byte) ([]*venue.Event, error) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	switch msg.Type {
	case "ticker":
		price := f64(msg.Price)
		open := f64(msg.Open24h)
		tick := &models.MarketTick{
			Symbol:    msg.ProductID,
			Price:     price,
			Bid:       f64(msg.BestBid),
			Ask:       f64(msg.BestAsk),
			Volume:    f64(msg.Volume24h),
			Timestamp: epochMillis(msg.Time),
		}
		if open > 0 {
			tick.Change = price - open
			tick.ChangePercent = (price - open) / open * 100
		}
		return []*venue.Event{{Tick: tick}}, nil

	case "received":
		return []*venue.Event{{Order: &models.Order{
			ID:     msg.OrderID,
			Symbol: msg.ProductID,
			Side:   models.Side(msg.Side),
			State:  models.OrderStateNew,
		}}}, nil

	case "match":
		return []*venue.Event{{Order: &models.Order{
			ID:        msg.OrderID,
			Symbol:    msg.ProductID,
			Side:      models.Side(msg.Side),
			FilledQty: f64(msg.Size),
			State:     models.OrderStatePartiallyFilled,
		}}}, nil

	case "done":
		state := models.OrderStateFilled
		if msg.Reason == "canceled" {
			state = models.OrderStateCanceled
		}
		return []*venue.Event{{Order: &models.Order{
			ID:     msg.OrderID,
			Symbol: msg.ProductID,
			Side:   models.Side(msg.Side),
			State:  state,
		}}}, nil
	}

	return nil, nil
}
