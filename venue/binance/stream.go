package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradedeck/models"
	"tradedeck/venue"
)

// Subscription builds one SUBSCRIBE frame covering the mini-ticker and
// book-ticker streams for every symbol.
func (d *Driver) Subscription(cfg *models.VenueConfig, symbols []string) ([][]byte, error) {
	params := make([]string, 0, len(symbols)*2)
	for _, sym := range symbols {
		lower := strings.ToLower(sym)
		params = append(params, lower+"@miniTicker", lower+"@bookTicker")
	}
	sub, err := json.Marshal(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscribe frame: %w", err)
	}
	return [][]byte{sub}, nil
}

type miniTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Open      string `json:"o"`
	Volume    string `json:"v"`
}

type bookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

type executionReport struct {
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	OrderType     string `json:"o"`
	TimeInForce   string `json:"f"`
	OrigQty       string `json:"q"`
	Price         string `json:"p"`
	StopPrice     string `json:"P"`
	OrderStatus   string `json:"X"`
	OrderID       int64  `json:"i"`
	CumFilledQty  string `json:"z"`
	CumQuoteQty   string `json:"Z"`
	TransactTime  int64  `json:"T"`
}

// Normalize translates mini-ticker and book-ticker frames into market ticks
// and executionReport frames into order updates. The venue sends one payload
// per frame; subscription acks and unknown frames normalize to nothing.
func (d *Driver) Normalize(raw []byte) ([]*venue.Event, error) {
	var probe struct {
		EventType string `json:"e"`
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		BidPrice  string `json:"b"`
		AskPrice  string `json:"a"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	switch probe.EventType {
	case "24hrMiniTicker":
		var msg miniTicker
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode mini ticker: %w", err)
		}
		price := f64(msg.Close)
		open := f64(msg.Open)
		tick := &models.MarketTick{
			Symbol:    msg.Symbol,
			Price:     price,
			Bid:       price,
			Ask:       price,
			Volume:    f64(msg.Volume),
			Timestamp: msg.EventTime,
		}
		if open > 0 {
			tick.Change = price - open
			tick.ChangePercent = (price - open) / open * 100
		}
		return []*venue.Event{{Tick: tick}}, nil

	case "executionReport":
		var msg executionReport
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode execution report: %w", err)
		}
		order := &models.Order{
			ID:            strconv.FormatInt(msg.OrderID, 10),
			ClientOrderID: msg.ClientOrderID,
			Symbol:        msg.Symbol,
			Side:          models.Side(strings.ToLower(msg.Side)),
			Quantity:      f64(msg.OrigQty),
			Type:          orderType(msg.OrderType),
			LimitPrice:    f64(msg.Price),
			StopPrice:     f64(msg.StopPrice),
			TimeInForce:   timeInForce(msg.TimeInForce),
			FilledQty:     f64(msg.CumFilledQty),
			State:         orderState(msg.OrderStatus),
			SubmittedAt:   msg.TransactTime,
		}
		if order.FilledQty > 0 {
			order.AvgFillPrice = f64(msg.CumQuoteQty) / order.FilledQty
		}
		return []*venue.Event{{Order: order}}, nil

	case "":
		// The spot book ticker carries no event type; recognize it by its
		// bid/ask pair. Anything else (subscription acks) is ignored.
		if probe.Symbol != "" && probe.BidPrice != "" && probe.AskPrice != "" {
			var msg bookTicker
			if err := json.Unmarshal(raw, &msg); err != nil {
				return nil, fmt.Errorf("failed to decode book ticker: %w", err)
			}
			bid := f64(msg.BidPrice)
			ask := f64(msg.AskPrice)
			return []*venue.Event{{Tick: &models.MarketTick{
				Symbol:    msg.Symbol,
				Price:     (bid + ask) / 2,
				Bid:       bid,
				Ask:       ask,
				Volume:    f64(msg.BidQty) + f64(msg.AskQty),
				Timestamp: time.Now().UnixMilli(),
			}}}, nil
		}
	}

	return nil, nil
}
