package store

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/barstream/internal/bars"
)

func openStore(t *testing.T) *BarStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func bar(key string, bucket time.Time, close float64, volume int64) bars.Bar {
	p := decimal.NewFromFloat(close)
	return bars.Bar{
		InstrumentKey: key,
		BucketStart:   bucket,
		Open:          p,
		High:          p,
		Low:           p,
		Close:         p,
		Volume:        volume,
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	s := openStore(t)
	bucket := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(bar("NSE_EQ|X", bucket, 100.5, 10)))
	// duplicate delivery with a corrected close must not create a second row
	require.NoError(t, s.Append(bar("NSE_EQ|X", bucket, 101.25, 12)))

	got, err := s.LoadRange("NSE_EQ|X", bucket.Add(-time.Hour), bucket.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Close.Equal(decimal.NewFromFloat(101.25)))
	assert.EqualValues(t, 12, got[0].Volume)
}

func TestLoadRangeOrderAndBounds(t *testing.T) {
	s := openStore(t)
	base := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	for i := 4; i >= 0; i-- {
		require.NoError(t, s.Append(bar("NSE_EQ|X", base.Add(time.Duration(i)*time.Minute), 100+float64(i), 1)))
	}
	require.NoError(t, s.Append(bar("NSE_EQ|OTHER", base, 50, 1)))

	got, err := s.LoadRange("NSE_EQ|X", base.Add(time.Minute), base.Add(4*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3, "range upper bound is exclusive")
	for i, b := range got {
		assert.Equal(t, base.Add(time.Duration(i+1)*time.Minute), b.BucketStart)
		assert.Equal(t, "NSE_EQ|X", b.InstrumentKey)
	}
}

func TestLoadDay(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Append(bar("NSE_EQ|X", time.Date(2025, 3, 4, 9, 15, 0, 0, time.UTC), 100, 1)))
	require.NoError(t, s.Append(bar("NSE_EQ|X", time.Date(2025, 3, 4, 15, 29, 0, 0, time.UTC), 101, 1)))
	require.NoError(t, s.Append(bar("NSE_EQ|X", time.Date(2025, 3, 5, 9, 15, 0, 0, time.UTC), 102, 1)))

	got, err := s.LoadDay("NSE_EQ|X", civil.Date{Year: 2025, Month: 3, Day: 4})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(100)))
	assert.True(t, got[1].Close.Equal(decimal.NewFromInt(101)))
}

func TestLoadRangeEmpty(t *testing.T) {
	s := openStore(t)
	got, err := s.LoadRange("NSE_EQ|NONE", time.Unix(0, 0), time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecimalRoundTrip(t *testing.T) {
	s := openStore(t)
	bucket := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	in := bars.Bar{
		InstrumentKey: "NSE_EQ|X",
		BucketStart:   bucket,
		Open:          decimal.RequireFromString("2984.55"),
		High:          decimal.RequireFromString("2991.10"),
		Low:           decimal.RequireFromString("2980.05"),
		Close:         decimal.RequireFromString("2988.00"),
		Volume:        125,
	}
	require.NoError(t, s.Append(in))

	got, err := s.LoadRange("NSE_EQ|X", bucket, bucket.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Open.Equal(in.Open))
	assert.True(t, got[0].High.Equal(in.High))
	assert.True(t, got[0].Low.Equal(in.Low))
	assert.True(t, got[0].Close.Equal(in.Close))
}
