package feed

import (
	"context"
	"sync"

	"github.com/quantrail/barstream/internal/bars"
	"github.com/quantrail/barstream/internal/hub"
	"github.com/quantrail/barstream/internal/wire"
)

// processor consumes frames from c.in while it is open. There is exactly
// one processor, so ticks are aggregated in arrival order and the
// aggregator needs no locking.
func (c *Client) processor(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.in:
			if !ok {
				return
			}
			c.handleFrame(msg)
		}
	}
}

// handleFrame decodes one frame and runs its ticks through the pipeline.
// Decode failures drop the frame and keep the loop alive.
func (c *Client) handleFrame(b []byte) {
	batch, err := wire.Decode(b)
	if err != nil {
		c.logger.Warnf("barstream: dropping undecodable frame: %v", err)
		return
	}
	ticks, dropped := batch.Ticks()
	if dropped > 0 {
		c.logger.Warnf("barstream: dropped %d quotes with missing fields", dropped)
	}

	for _, tick := range ticks {
		symbol := c.symbolFor(tick.InstrumentKey)
		if c.publisher != nil {
			c.publisher.Publish(hub.NewTickEvent(symbol, tick))
		}

		bar, completed := c.agg.Ingest(tick)
		if !completed {
			continue
		}
		avg := c.closeAvg.Observe(bar)
		if c.publisher != nil {
			c.publisher.Publish(hub.NewBarEvent(symbol, bar, avg))
		}
		if c.store != nil {
			// persisted off the read path; the upsert makes redelivery safe
			go c.appendBar(bar)
		}
	}
}

func (c *Client) appendBar(b bars.Bar) {
	if err := c.store.Append(b); err != nil {
		c.logger.Errorf("barstream: persisting bar %s@%s failed: %v", b.InstrumentKey, b.BucketStart, err)
	}
}

func (c *Client) symbolFor(instrumentKey string) string {
	if c.lookup == nil {
		return instrumentKey
	}
	if symbol, ok := c.lookup.SymbolFor(instrumentKey); ok {
		return symbol
	}
	return instrumentKey
}

// pollPending drains the pending-subscription mailbox on a fixed interval,
// away from the read path. Symbols are resolved, added to the registry and
// - when a session is live - subscribed immediately; otherwise the registry
// addition alone guarantees pickup by the next resubscribe replay.
func (c *Client) pollPending(ctx context.Context) {
	pollTicker := newPollTicker(c.pollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-pollTicker.C():
			c.drainPending()
		}
	}
}

func (c *Client) drainPending() {
	if c.lookup == nil {
		return
	}
	for {
		symbol, ok := c.pending.TryDequeue()
		if !ok {
			return
		}
		key, found := c.lookup.Resolve(symbol)
		if !found {
			c.logger.Warnf("barstream: unknown symbol %q, subscription skipped", symbol)
			continue
		}
		if !c.registry.Add(key) {
			continue // already subscribed
		}
		c.logger.Infof("barstream: subscribing to %s (%s)", symbol, key)
		if !c.connected.Load() {
			continue
		}
		msg, err := subscribeMessage([]string{key})
		if err != nil {
			c.logger.Errorf("barstream: building subscribe message failed: %v", err)
			continue
		}
		select {
		case c.subChanges <- msg:
		default:
			// backlog full; the registry entry is replayed on reconnect
			c.logger.Warnf("barstream: subscribe backlog full, %s deferred to next replay", key)
		}
	}
}
