package tradovate

import (
	"encoding/json"
	"fmt"
	"time"

	"tradedeck/models"
	"tradedeck/venue"
)

// Subscription builds the socket authorize frame followed by one quote
// subscription per symbol. The gateway uses a SockJS-style text protocol:
// "<endpoint>\n<id>\n<query>\n<body>".
func (d *Driver) Subscription(cfg *models.VenueConfig, symbols []string) ([][]byte, error) {
	token := d.accessToken()
	if token == "" {
		return nil, fmt.Errorf("no access token; authenticate first")
	}

	frames := [][]byte{[]byte("authorize\n1\n\n" + token)}
	for i, sym := range symbols {
		body, err := json.Marshal(map[string]string{"symbol": sym})
		if err != nil {
			return nil, fmt.Errorf("failed to encode quote subscription: %w", err)
		}
		frames = append(frames, []byte(fmt.Sprintf("md/subscribeQuote\n%d\n\n%s", i+2, body)))
	}
	return frames, nil
}

type quoteEntry struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type mdQuote struct {
	Timestamp string `json:"timestamp"`
	Symbol    string `json:"symbol"`
	Entries   struct {
		Bid              quoteEntry `json:"Bid"`
		Offer            quoteEntry `json:"Offer"`
		Trade            quoteEntry `json:"Trade"`
		TotalTradeVolume quoteEntry `json:"TotalTradeVolume"`
	} `json:"entries"`
}

type dataFrame struct {
	Event string `json:"e"`
	Data  struct {
		Quotes []mdQuote `json:"quotes"`
	} `json:"d"`
}

// Normalize translates one socket frame. The first byte is the frame type:
// 'o' open, 'h' heartbeat, 'c' close, 'a' a JSON array of events. Array
// frames batch several market-data events, each carrying several quotes;
// every quote becomes a tick, in frame order.
func (d *Driver) Normalize(raw []byte) ([]*venue.Event, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	switch raw[0] {
	case 'o', 'h', 'c':
		return nil, nil
	case 'a':
	default:
		return nil, nil
	}

	var frames []dataFrame
	if err := json.Unmarshal(raw[1:], &frames); err != nil {
		return nil, fmt.Errorf("failed to decode array frame: %w", err)
	}

	var events []*venue.Event
	for _, frame := range frames {
		if frame.Event != "md" {
			continue
		}
		for _, q := range frame.Data.Quotes {
			price := q.Entries.Trade.Price
			if price == 0 {
				price = (q.Entries.Bid.Price + q.Entries.Offer.Price) / 2
			}
			events = append(events, &venue.Event{Tick: &models.MarketTick{
				Symbol:    q.Symbol,
				Price:     price,
				Bid:       q.Entries.Bid.Price,
				Ask:       q.Entries.Offer.Price,
				Volume:    q.Entries.TotalTradeVolume.Size,
				Timestamp: quoteMillis(q.Timestamp),
			}})
		}
	}

	return events, nil
}

func quoteMillis(ts string) int64 {
	if ts == "" {
		return time.Now().UnixMilli()
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}
