// Package wire implements the upstream realtime text protocol: a stateless
// decoder for inbound data frames and an encoder for subscription requests.
//
// Data frames carry two delimiter levels. Pipes separate positional
// segments, segment 1 is the tr_id discriminator and segment 3 the field
// body; carets separate the positional fields inside the body:
//
//	0|H0STCNT0|001|005930^093012^71500^...
//
// Frames without both delimiters are vendor control messages (subscribe
// acknowledgments, PINGPONG) and are discarded, not decoded.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedFrame is returned for frames that carry both delimiters but
// not enough pipe segments to address the field body.
var ErrMalformedFrame = errors.New("malformed data frame")

// Field positions in the order-book body.
const (
	obSymbolPos   = 0
	obTimePos     = 1
	obAskPricePos = 3
	obBidPricePos = 13
	obAskQtyPos   = 23
	obBidQtyPos   = 33
)

// Field positions in the trade body.
const (
	trSymbolPos = 0
	trTimePos   = 1
	trLastPos   = 2
	trChangePos = 4
	trRatePos   = 5
	trLowPos    = 7
	trHighPos   = 8
)

// Decode parses one inbound frame. Control frames and unknown tr_ids yield
// KindDiscard with a nil error. Decoding is best-effort: a field that fails
// numeric parsing, or sits beyond the end of a short frame, becomes zero
// rather than failing the whole message.
func Decode(raw []byte) (Message, error) {
	frame := string(raw)
	if !strings.Contains(frame, "|") || !strings.Contains(frame, "^") {
		return Message{Kind: KindDiscard}, nil
	}

	segments := strings.Split(frame, "|")
	if len(segments) < 4 {
		return Message{Kind: KindDiscard}, fmt.Errorf("%w: %d pipe segments", ErrMalformedFrame, len(segments))
	}

	trID := segments[1]
	fields := strings.Split(segments[3], "^")

	switch SubscriptionType(trID) {
	case SubscribeOrderBook:
		return Message{Kind: KindOrderBook, OrderBook: decodeOrderBook(fields)}, nil
	case SubscribeTrade:
		return Message{Kind: KindTrade, Trade: decodeTrade(fields)}, nil
	default:
		return Message{Kind: KindDiscard}, nil
	}
}

func decodeOrderBook(fields []string) *OrderBookUpdate {
	update := &OrderBookUpdate{
		Symbol:    fieldAt(fields, obSymbolPos),
		Timestamp: fieldAt(fields, obTimePos),
	}
	for i := 0; i < 4; i++ {
		update.AskPrices[i] = parseInt(fieldAt(fields, obAskPricePos+i))
		update.BidPrices[i] = parseInt(fieldAt(fields, obBidPricePos+i))
		update.AskQuantities[i] = parseInt(fieldAt(fields, obAskQtyPos+i))
		update.BidQuantities[i] = parseInt(fieldAt(fields, obBidQtyPos+i))
	}
	return update
}

func decodeTrade(fields []string) *TradeSnapshot {
	return &TradeSnapshot{
		Symbol:              fieldAt(fields, trSymbolPos),
		Timestamp:           fieldAt(fields, trTimePos),
		LastPrice:           parseInt(fieldAt(fields, trLastPos)),
		ChangeFromPrevClose: parseInt(fieldAt(fields, trChangePos)),
		ChangeRatePct:       parseFloat(fieldAt(fields, trRatePos)),
		DayLow:              parseInt(fieldAt(fields, trLowPos)),
		DayHigh:             parseInt(fieldAt(fields, trHighPos)),
	}
}

// fieldAt returns the field at position i, or "0" past the end of the frame.
func fieldAt(fields []string, i int) string {
	if i >= len(fields) {
		return "0"
	}
	return fields[i]
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

type subscribeHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"`
	ContentType string `json:"content-type"`
}

type subscribeInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"`
}

type subscribeBody struct {
	Input subscribeInput `json:"input"`
}

type subscribeFrame struct {
	Header subscribeHeader `json:"header"`
	Body   subscribeBody   `json:"body"`
}

// EncodeSubscribe builds the subscription request frame for one instrument.
func EncodeSubscribe(approvalKey string, subType SubscriptionType, instrumentCode string) ([]byte, error) {
	frame := subscribeFrame{
		Header: subscribeHeader{
			ApprovalKey: approvalKey,
			CustType:    "P",
			TrType:      "1",
			ContentType: "utf-8",
		},
		Body: subscribeBody{
			Input: subscribeInput{
				TrID:  string(subType),
				TrKey: instrumentCode,
			},
		},
	}
	return json.Marshal(frame)
}
