package wire

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func frame(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := msgpack.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDecode(t *testing.T) {
	b := frame(t, map[string]interface{}{
		"type": "live_feed",
		"feeds": map[string]interface{}{
			"NSE_EQ|INE002A01018": map[string]interface{}{
				"ltp": 2984.55,
				"ltq": int64(125),
				"ltt": int64(1709546405000),
			},
			"NSE_EQ|INE009A01021": map[string]interface{}{
				"ltp": 1530.0,
				"ltq": int64(40),
				"ltt": int64(1709546406250),
			},
		},
	})

	batch, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "live_feed", batch.Type)
	require.Len(t, batch.Feeds, 2)

	q := batch.Feeds["NSE_EQ|INE002A01018"]
	assert.True(t, q.Complete())
	assert.Equal(t, 2984.55, q.LastPrice)
	assert.EqualValues(t, 125, q.LastQty)
	assert.EqualValues(t, 1709546405000, q.TradeTime)
}

func TestDecodeSkipsUnknownKeys(t *testing.T) {
	b := frame(t, map[string]interface{}{
		"type":     "live_feed",
		"sequence": int64(42),
		"feeds": map[string]interface{}{
			"NSE_EQ|X": map[string]interface{}{
				"ltp": 10.0,
				"ltq": int64(1),
				"ltt": int64(1709546405000),
				"cp":  9.5, // previous close, not consumed
			},
		},
	})

	batch, err := Decode(b)
	require.NoError(t, err)
	assert.True(t, batch.Feeds["NSE_EQ|X"].Complete())
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := Decode([]byte{0xc1, 0xff, 0x00})
	require.Error(t, err)

	// an array where a map is expected is a schema mismatch, not a crash
	_, err = Decode(frame(t, []string{"not", "a", "frame"}))
	require.Error(t, err)
}

func TestTicksDropsIncompleteQuotes(t *testing.T) {
	b := frame(t, map[string]interface{}{
		"type": "live_feed",
		"feeds": map[string]interface{}{
			"NSE_EQ|GOOD": map[string]interface{}{
				"ltp": 100.5,
				"ltq": int64(10),
				"ltt": int64(1709546405000),
			},
			"NSE_EQ|NOQTY": map[string]interface{}{
				"ltp": 100.5,
				"ltt": int64(1709546405000),
			},
			"NSE_EQ|EMPTY": map[string]interface{}{},
		},
	})

	batch, err := Decode(b)
	require.NoError(t, err)

	ticks, dropped := batch.Ticks()
	require.Len(t, ticks, 1)
	assert.Equal(t, 2, dropped)

	tick := ticks[0]
	assert.Equal(t, "NSE_EQ|GOOD", tick.InstrumentKey)
	assert.True(t, tick.Price.Equal(decimal.NewFromFloat(100.5)))
	assert.EqualValues(t, 10, tick.Qty)
	assert.Equal(t, time.UnixMilli(1709546405000).UTC(), tick.At)
}
