// Package pocket implements the bracket-prefix wire variant: socket.io-style
// text frames announce an event, and the event payload follows in the next
// binary frame.
package pocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionwire/optionwire/internal/candle"
	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/rule"
	"github.com/optionwire/optionwire/internal/subscription"
)

// Wire prefixes. A 451- event frame primes its module; the payload arrives in
// the following binary frame.
const (
	PrefixSID        = `0{"sid"`
	PrefixSIDConfirm = `40{"sid"`
	PrefixAuthOK     = `451-["successauth",`
	PrefixBalance    = `451-["successupdateBalance",`
	PrefixAssets     = `451-["updateAssets",`
	PrefixStream     = `451-["updateStream",{`
	PrefixHistory    = `451-["updateHistoryNewFast",`

	PingPayload = "2"
	PongPayload = "3"
)

// Origin is the Origin header expected by the platform on upgrade.
const Origin = "https://pocketoption.com"

// ChangeSymbol builds the frame that points the provider feed at an asset
// with the given sampling period.
func ChangeSymbol(asset string, period time.Duration) connection.Frame {
	payload, _ := json.Marshal(struct {
		Asset  string `json:"asset"`
		Period int64  `json:"period"`
	}{Asset: asset, Period: int64(period / time.Second)})
	return connection.Text(fmt.Sprintf(`42["changeSymbol",%s]`, payload))
}

// Subfor builds the stream-subscribe frame for an asset.
func Subfor(asset string) connection.Frame {
	return connection.Text(fmt.Sprintf(`42["subfor",%q]`, asset))
}

// Unsubfor builds the stream-unsubscribe frame for an asset.
func Unsubfor(asset string) connection.Frame {
	return connection.Text(fmt.Sprintf(`42["unsubfor",%q]`, asset))
}

// ParseStream decodes a stream payload of positional rows [["SYM",ts,price]].
func ParseStream(data []byte) ([]candle.Tick, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw [][]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("stream payload: %w", err)
	}

	ticks := make([]candle.Tick, 0, len(raw))
	for _, row := range raw {
		if len(row) != 3 {
			return nil, fmt.Errorf("stream payload: row has %d fields, want 3", len(row))
		}
		symbol, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("stream payload: symbol is %T, want string", row[0])
		}
		ts, err := asFloat(row[1])
		if err != nil {
			return nil, fmt.Errorf("stream payload: timestamp: %w", err)
		}
		price, err := asFloat(row[2])
		if err != nil {
			return nil, fmt.Errorf("stream payload: price: %w", err)
		}
		ticks = append(ticks, candle.Tick{
			Symbol: symbol,
			At:     unixFloat(ts),
			Price:  decimal.NewFromFloat(price),
		})
	}
	return ticks, nil
}

// historyPayload is the provider's historical bar reply.
type historyPayload struct {
	Asset   string       `json:"asset"`
	Period  int64        `json:"period"`
	Candles []wireCandle `json:"candles"`
	History [][]float64  `json:"history"`
}

type wireCandle struct {
	Timestamp float64 `json:"timestamp"`
	Open      float64 `json:"open"`
	Close     float64 `json:"close"`
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
}

// ParseHistory decodes a historical bar payload into candles.
func ParseHistory(data []byte) (subscription.HistoryBatch, error) {
	var payload historyPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return subscription.HistoryBatch{}, fmt.Errorf("history payload: %w", err)
	}

	period := time.Duration(payload.Period) * time.Second
	bars := make([]candle.Candle, 0, len(payload.Candles))
	for _, w := range payload.Candles {
		bars = append(bars, candle.Candle{
			Symbol:   payload.Asset,
			Open:     decimal.NewFromFloat(w.Open),
			High:     decimal.NewFromFloat(w.High),
			Low:      decimal.NewFromFloat(w.Low),
			Close:    decimal.NewFromFloat(w.Close),
			Start:    unixFloat(w.Timestamp),
			Duration: period,
		})
	}
	return subscription.HistoryBatch{
		Symbol:  payload.Asset,
		Period:  period,
		Candles: bars,
	}, nil
}

// StreamProtocol adapts the pocket feed wire format for the subscription
// manager.
type StreamProtocol struct {
	armTimeout time.Duration
}

// NewStreamProtocol creates the feed protocol adapter. armTimeout bounds the
// gap between an event frame and its binary payload; zero disables the bound.
func NewStreamProtocol(armTimeout time.Duration) *StreamProtocol {
	return &StreamProtocol{armTimeout: armTimeout}
}

func (p *StreamProtocol) SubscribeFrames(symbol string, period time.Duration) []connection.Frame {
	return []connection.Frame{ChangeSymbol(symbol, period), Subfor(symbol)}
}

func (p *StreamProtocol) UnsubscribeFrames(symbol string) []connection.Frame {
	return []connection.Frame{Unsubfor(symbol)}
}

func (p *StreamProtocol) HistoryFrames(symbol string, period time.Duration) []connection.Frame {
	return []connection.Frame{ChangeSymbol(symbol, period)}
}

func (p *StreamProtocol) Rule() rule.Rule {
	return rule.NewMultiPattern([]string{PrefixStream, PrefixHistory}, p.armTimeout)
}

// Parse decodes a matched binary payload. Stream rows arrive as a JSON array,
// history replies as a JSON object.
func (p *StreamProtocol) Parse(f *connection.Frame) (subscription.Event, error) {
	trimmed := bytes.TrimSpace(f.Data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		batch, err := ParseHistory(trimmed)
		if err != nil {
			return subscription.Event{}, err
		}
		return subscription.Event{History: &batch}, nil
	}

	ticks, err := ParseStream(trimmed)
	if err != nil {
		return subscription.Event{}, err
	}
	return subscription.Event{Ticks: ticks}, nil
}

func asFloat(v any) (float64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("value is %T, want number", v)
	}
	return n.Float64()
}

// unixFloat converts a fractional Unix timestamp to time.Time.
func unixFloat(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
