// Package wire decodes the feed's binary frames. A frame is a msgpack map
// with a "type" string and a "feeds" map of instrument key to last-trade
// snapshot:
//
//	{"type": "live_feed", "feeds": {"NSE_EQ|...": {"ltp": 100.5, "ltq": 10, "ltt": 1709546405000}}}
//
// Decoding is a pure transform; a malformed or schema-incompatible frame is
// reported as an error for the caller to log and drop.
package wire

import (
	"bytes"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantrail/barstream/internal/bars"
)

const (
	hasPrice = 1 << iota
	hasQty
	hasTime
)

// Quote is the last-trade snapshot for one instrument within a frame.
type Quote struct {
	LastPrice float64
	LastQty   int64
	TradeTime int64 // epoch milliseconds

	fields uint8
}

// Complete reports whether price, quantity and trade time were all present.
func (q Quote) Complete() bool {
	return q.fields == hasPrice|hasQty|hasTime
}

// FeedBatch is one decoded frame: instrument key -> quote snapshot.
type FeedBatch struct {
	Type  string
	Feeds map[string]Quote
}

// Ticks flattens the batch into aggregator ticks, skipping quotes with
// missing fields. The number skipped is returned so the caller can log it.
func (b FeedBatch) Ticks() ([]bars.Tick, int) {
	ticks := make([]bars.Tick, 0, len(b.Feeds))
	dropped := 0
	for key, q := range b.Feeds {
		if !q.Complete() {
			dropped++
			continue
		}
		ticks = append(ticks, bars.Tick{
			InstrumentKey: key,
			Price:         decimal.NewFromFloat(q.LastPrice),
			Qty:           q.LastQty,
			At:            time.UnixMilli(q.TradeTime).UTC(),
		})
	}
	return ticks, dropped
}

// Decode parses a single binary frame.
func Decode(b []byte) (FeedBatch, error) {
	d := msgpack.GetDecoder()
	defer msgpack.PutDecoder(d)
	d.Reset(bytes.NewReader(b))

	batch := FeedBatch{Feeds: map[string]Quote{}}

	n, err := d.DecodeMapLen()
	if err != nil {
		return FeedBatch{}, fmt.Errorf("decode frame: %w", err)
	}
	for i := 0; i < n; i++ {
		key, err := d.DecodeString()
		if err != nil {
			return FeedBatch{}, fmt.Errorf("decode frame key: %w", err)
		}
		switch key {
		case "type":
			batch.Type, err = d.DecodeString()
		case "feeds":
			err = decodeFeeds(d, batch.Feeds)
		default:
			err = d.Skip()
		}
		if err != nil {
			return FeedBatch{}, fmt.Errorf("decode frame %q: %w", key, err)
		}
	}
	return batch, nil
}

func decodeFeeds(d *msgpack.Decoder, feeds map[string]Quote) error {
	n, err := d.DecodeMapLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		instrumentKey, err := d.DecodeString()
		if err != nil {
			return err
		}
		quote, err := decodeQuote(d)
		if err != nil {
			return err
		}
		feeds[instrumentKey] = quote
	}
	return nil
}

func decodeQuote(d *msgpack.Decoder) (Quote, error) {
	quote := Quote{}
	n, err := d.DecodeMapLen()
	if err != nil {
		return quote, err
	}
	for i := 0; i < n; i++ {
		key, err := d.DecodeString()
		if err != nil {
			return quote, err
		}
		switch key {
		case "ltp":
			quote.LastPrice, err = d.DecodeFloat64()
			quote.fields |= hasPrice
		case "ltq":
			quote.LastQty, err = d.DecodeInt64()
			quote.fields |= hasQty
		case "ltt":
			quote.TradeTime, err = d.DecodeInt64()
			quote.fields |= hasTime
		default:
			err = d.Skip()
		}
		if err != nil {
			return quote, err
		}
	}
	return quote, nil
}
