package hub

import (
	"time"

	"github.com/mailru/easyjson/jwriter"
	"github.com/shopspring/decimal"

	"github.com/quantrail/barstream/internal/bars"
)

// Event kinds pushed to dashboard clients.
const (
	KindBar  = "bar"
	KindTick = "tick"
)

// payload is anything that can write itself into an event's "data" field.
type payload interface {
	MarshalEasyJSON(w *jwriter.Writer)
}

// Event is one outgoing message. An empty Symbol means "deliver to every
// connected client regardless of its filter".
type Event struct {
	Kind    string
	Symbol  string
	Payload payload
}

// Marshaling is on the per-client fan-out path, so it is written directly
// against jwriter instead of encoding/json.

func (e Event) MarshalJSON() ([]byte, error) {
	var w jwriter.Writer
	e.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

func (e Event) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"type":`)
	w.String(e.Kind)
	if e.Symbol != "" {
		w.RawString(`,"symbol":`)
		w.String(e.Symbol)
	}
	if e.Payload != nil {
		w.RawString(`,"data":`)
		e.Payload.MarshalEasyJSON(w)
	}
	w.RawByte('}')
}

// BarEvent is the payload of a completed bar, with the rolling close
// average alongside for the dashboard.
type BarEvent struct {
	BucketStart time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      int64
	CloseAvg    float64
}

func (e BarEvent) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"timestamp":`)
	w.String(e.BucketStart.UTC().Format(time.RFC3339))
	w.RawString(`,"open":`)
	rawDecimal(w, e.Open)
	w.RawString(`,"high":`)
	rawDecimal(w, e.High)
	w.RawString(`,"low":`)
	rawDecimal(w, e.Low)
	w.RawString(`,"close":`)
	rawDecimal(w, e.Close)
	w.RawString(`,"volume":`)
	w.Int64(e.Volume)
	w.RawString(`,"close_avg":`)
	w.Float64(e.CloseAvg)
	w.RawByte('}')
}

// TickEvent is the payload of a raw tick.
type TickEvent struct {
	Price decimal.Decimal
	Qty   int64
	At    time.Time
}

func (e TickEvent) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"price":`)
	rawDecimal(w, e.Price)
	w.RawString(`,"qty":`)
	w.Int64(e.Qty)
	w.RawString(`,"time":`)
	w.String(e.At.UTC().Format(time.RFC3339Nano))
	w.RawByte('}')
}

// NewBarEvent builds a targeted bar event for one completed bar.
func NewBarEvent(symbol string, b bars.Bar, closeAvg float64) Event {
	return Event{
		Kind:   KindBar,
		Symbol: symbol,
		Payload: BarEvent{
			BucketStart: b.BucketStart,
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Close:       b.Close,
			Volume:      b.Volume,
			CloseAvg:    closeAvg,
		},
	}
}

// NewTickEvent builds a targeted tick event.
func NewTickEvent(symbol string, t bars.Tick) Event {
	return Event{
		Kind:    KindTick,
		Symbol:  symbol,
		Payload: TickEvent{Price: t.Price, Qty: t.Qty, At: t.At},
	}
}

// a decimal's string form is already a valid JSON number
func rawDecimal(w *jwriter.Writer, d decimal.Decimal) {
	w.RawString(d.String())
}
