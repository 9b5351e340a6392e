// Package candle turns raw price ticks into aggregated OHLC bars.
package candle

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one raw price update from the platform stream.
type Tick struct {
	Symbol string
	At     time.Time
	Price  decimal.Decimal
}

// Candle is one aggregated OHLC bar. Successive candles for the same
// (symbol, duration) pair have strictly increasing, non-overlapping starts.
type Candle struct {
	Symbol   string          `json:"symbol"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Start    time.Time       `json:"start"`
	Duration time.Duration   `json:"duration"`
}

// Bullish reports whether the bar closed above its open.
func (c Candle) Bullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// Bearish reports whether the bar closed below its open.
func (c Candle) Bearish() bool {
	return c.Close.LessThan(c.Open)
}

// Range returns high minus low.
func (c Candle) Range() decimal.Decimal {
	return c.High.Sub(c.Low)
}

// Body returns the absolute open-close distance.
func (c Candle) Body() decimal.Decimal {
	return c.Close.Sub(c.Open).Abs()
}

func (c *Candle) apply(t Tick) {
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
	c.Close = t.Price
}

func seed(t Tick, d time.Duration, start time.Time) Candle {
	return Candle{
		Symbol:   t.Symbol,
		Open:     t.Price,
		High:     t.Price,
		Low:      t.Price,
		Close:    t.Price,
		Start:    start,
		Duration: d,
	}
}
