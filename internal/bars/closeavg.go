package bars

import (
	movingaverage "github.com/RobinUS2/golang-moving-average"
)

// CloseAverage tracks a rolling mean of completed-bar closes per instrument.
// The dashboard shows it next to each live bar so a breakout can be eyeballed
// without a full indicator pipeline.
type CloseAverage struct {
	window int
	avgs   map[string]*movingaverage.MovingAverage
}

func NewCloseAverage(window int) *CloseAverage {
	if window < 1 {
		window = 1
	}
	return &CloseAverage{
		window: window,
		avgs:   make(map[string]*movingaverage.MovingAverage),
	}
}

// Observe records a completed bar's close and returns the updated average.
func (c *CloseAverage) Observe(b Bar) float64 {
	ma, ok := c.avgs[b.InstrumentKey]
	if !ok {
		ma = movingaverage.New(c.window)
		c.avgs[b.InstrumentKey] = ma
	}
	v, _ := b.Close.Float64()
	ma.Add(v)
	return ma.Avg()
}

// Avg returns the current average for the instrument, or 0 if no bar has
// completed yet.
func (c *CloseAverage) Avg(instrumentKey string) float64 {
	ma, ok := c.avgs[instrumentKey]
	if !ok {
		return 0
	}
	return ma.Avg()
}
