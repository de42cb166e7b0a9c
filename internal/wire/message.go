package wire

import "encoding/json"

// SubscriptionType identifies which upstream message shape a websocket
// session receives. The value doubles as the protocol tr_id.
type SubscriptionType string

const (
	// SubscribeOrderBook receives order-book depth updates.
	SubscribeOrderBook SubscriptionType = "H0STASP0"

	// SubscribeTrade receives trade/quote snapshots.
	SubscribeTrade SubscriptionType = "H0STCNT0"
)

// Valid reports whether s is a supported subscription tr_id.
func (s SubscriptionType) Valid() bool {
	return s == SubscribeOrderBook || s == SubscribeTrade
}

// ParseSubscriptionTypes converts configured tr_id strings, dropping
// unsupported values.
func ParseSubscriptionTypes(raw []string) []SubscriptionType {
	var types []SubscriptionType
	for _, r := range raw {
		if t := SubscriptionType(r); t.Valid() {
			types = append(types, t)
		}
	}
	return types
}

// Kind tags the decoded message variant.
type Kind int

const (
	// KindDiscard marks control frames and unrecognized transaction IDs.
	// Discarded frames are not errors.
	KindDiscard Kind = iota
	KindOrderBook
	KindTrade
)

// OrderBookUpdate is the normalized order-book depth message. Price and
// quantity arrays are positional: index 0 is the best level.
type OrderBookUpdate struct {
	Symbol        string   `json:"symbol"`
	AskPrices     [4]int64 `json:"ask_prices"`
	BidPrices     [4]int64 `json:"bid_prices"`
	AskQuantities [4]int64 `json:"ask_quantities"`
	BidQuantities [4]int64 `json:"bid_quantities"`
	Timestamp     string   `json:"timestamp"`
}

// TradeSnapshot is the normalized trade/quote message.
type TradeSnapshot struct {
	Symbol              string  `json:"symbol"`
	LastPrice           int64   `json:"last_price"`
	ChangeFromPrevClose int64   `json:"change_from_prev_close"`
	ChangeRatePct       float64 `json:"change_rate_pct"`
	DayLow              int64   `json:"day_low"`
	DayHigh             int64   `json:"day_high"`
	Timestamp           string  `json:"timestamp"`
}

// Message is the decode result. Exactly one variant is populated; the other
// stays nil so absent fields cannot be mistaken for real zero quotes.
type Message struct {
	Kind      Kind
	OrderBook *OrderBookUpdate
	Trade     *TradeSnapshot
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Serialize renders the message as the JSON envelope published to
// downstream subscribers. Discard messages serialize to an empty string.
func (m Message) Serialize() (string, error) {
	var env envelope
	switch m.Kind {
	case KindOrderBook:
		env = envelope{Type: "orderbook", Data: m.OrderBook}
	case KindTrade:
		env = envelope{Type: "trade", Data: m.Trade}
	default:
		return "", nil
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
