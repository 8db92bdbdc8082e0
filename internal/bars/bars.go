// Package bars rebuilds one-minute OHLCV bars from a stream of ticks.
//
// The Aggregator keeps exactly one open bar per instrument and emits the
// previous bar when a tick crosses into a later minute bucket. All state is
// owned by a single goroutine (the feed processor); the package does no
// locking of its own.
package bars

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single last-price observation for one instrument.
type Tick struct {
	InstrumentKey string
	Price         decimal.Decimal
	Qty           int64
	At            time.Time
}

// Valid reports whether the tick carries all required fields. Ticks with a
// non-positive price, a negative quantity or a zero event time are dropped
// at the aggregation boundary.
func (t Tick) Valid() bool {
	return t.InstrumentKey != "" && t.Price.IsPositive() && t.Qty >= 0 && !t.At.IsZero()
}

// Bar is a one-minute OHLCV summary of all ticks within one bucket.
type Bar struct {
	InstrumentKey string
	BucketStart   time.Time
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Close         decimal.Decimal
	Volume        int64
}

// Aggregator holds the open bar for every instrument seen so far. State is
// created on the first tick for an instrument and lives until process exit.
type Aggregator struct {
	open map[string]*Bar
}

func NewAggregator() *Aggregator {
	return &Aggregator{open: make(map[string]*Bar)}
}

// Ingest applies one tick and returns the just-completed bar, if this tick
// started a new minute bucket for its instrument. Ticks whose bucket is
// earlier than the open one (late or out-of-order delivery) are folded into
// the open bar; an already-emitted bar is never reopened.
func (a *Aggregator) Ingest(t Tick) (Bar, bool) {
	if !t.Valid() {
		return Bar{}, false
	}
	bucket := t.At.Truncate(time.Minute)

	state, ok := a.open[t.InstrumentKey]
	if !ok {
		a.open[t.InstrumentKey] = newBar(t, bucket)
		return Bar{}, false
	}

	if bucket.After(state.BucketStart) {
		completed := *state
		a.open[t.InstrumentKey] = newBar(t, bucket)
		return completed, true
	}

	if t.Price.GreaterThan(state.High) {
		state.High = t.Price
	}
	if t.Price.LessThan(state.Low) {
		state.Low = t.Price
	}
	state.Close = t.Price
	state.Volume += t.Qty
	return Bar{}, false
}

// Open returns a copy of the currently open bar for the instrument.
func (a *Aggregator) Open(instrumentKey string) (Bar, bool) {
	state, ok := a.open[instrumentKey]
	if !ok {
		return Bar{}, false
	}
	return *state, true
}

// Len returns the number of instruments with an open bar.
func (a *Aggregator) Len() int {
	return len(a.open)
}

func newBar(t Tick, bucket time.Time) *Bar {
	return &Bar{
		InstrumentKey: t.InstrumentKey,
		BucketStart:   bucket,
		Open:          t.Price,
		High:          t.Price,
		Low:           t.Price,
		Close:         t.Price,
		Volume:        t.Qty,
	}
}
