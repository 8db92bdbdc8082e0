// Package instruments maps human-readable symbols (e.g. "NSE:RELIANCE") to
// the feed's internal instrument keys, backed by the exchange's gzipped
// JSON instrument master.
package instruments

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
)

// Instrument is one row of the instrument master. Only the fields the
// service needs are decoded.
type Instrument struct {
	Exchange      string `json:"exchange"`
	Segment       string `json:"segment"`
	TradingSymbol string `json:"trading_symbol"`
	InstrumentKey string `json:"instrument_key"`
}

// Symbol returns the exchange-qualified symbol, e.g. "NSE:RELIANCE".
func (i Instrument) Symbol() string {
	return i.Exchange + ":" + i.TradingSymbol
}

// Catalog is an immutable symbol<->key index built once at startup.
type Catalog struct {
	bySymbol map[string]string
	bySymKey map[string]string
}

// Load reads a gzipped JSON instrument master and indexes the instruments
// of the given segment (e.g. "NSE_EQ"). An empty segment keeps everything.
func Load(path, segment string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instrument master: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read instrument master: %w", err)
	}
	defer gz.Close()

	var all []Instrument
	if err := json.NewDecoder(gz).Decode(&all); err != nil {
		return nil, fmt.Errorf("parse instrument master: %w", err)
	}

	c := &Catalog{
		bySymbol: make(map[string]string),
		bySymKey: make(map[string]string),
	}
	for _, inst := range all {
		if segment != "" && inst.Segment != segment {
			continue
		}
		if inst.InstrumentKey == "" || inst.TradingSymbol == "" {
			continue
		}
		c.bySymbol[inst.Symbol()] = inst.InstrumentKey
		c.bySymKey[inst.InstrumentKey] = inst.Symbol()
	}
	return c, nil
}

// Resolve returns the instrument key for a symbol. Not found is a normal,
// non-fatal outcome.
func (c *Catalog) Resolve(symbol string) (string, bool) {
	key, ok := c.bySymbol[symbol]
	return key, ok
}

// SymbolFor is the reverse lookup, used when publishing events downstream.
func (c *Catalog) SymbolFor(instrumentKey string) (string, bool) {
	symbol, ok := c.bySymKey[instrumentKey]
	return symbol, ok
}

// Keys returns every indexed instrument key.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.bySymKey))
	for k := range c.bySymKey {
		keys = append(keys, k)
	}
	return keys
}

func (c *Catalog) Len() int {
	return len(c.bySymbol)
}
