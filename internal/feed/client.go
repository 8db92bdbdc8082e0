// Package feed owns the upstream market-data connection: it authorizes,
// dials, reads binary frames, feeds them through the decoder and bar
// aggregator, and replays subscriptions after every reconnect.
//
// One dedicated goroutine owns the read loop; completed bars and raw ticks
// are handed off to the store and the fan-out hub without blocking it. The
// only state shared with other goroutines is the subscription registry and
// the pending-subscription mailbox.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantrail/barstream/internal/authz"
	"github.com/quantrail/barstream/internal/bars"
	"github.com/quantrail/barstream/internal/ctxtime"
	"github.com/quantrail/barstream/internal/subs"
)

// Client connects to the market-data feed and keeps the connection alive
// until the retry budget is exhausted.
//
// Connect must be called exactly once; it blocks until the first session
// is established or definitively fails. Terminated returns a channel that
// receives an error when the client has stopped for good.
type Client struct {
	logger Logger

	authorizer Authorizer
	lookup     Lookup
	registry   *subs.Registry
	pending    *subs.PendingQueue
	store      BarWriter
	publisher  Publisher

	reconnectLimit int
	reconnectDelay time.Duration
	pollInterval   time.Duration
	bufferSize     int

	agg      *bars.Aggregator
	closeAvg *bars.CloseAverage

	connectOnce    sync.Once
	terminatedChan chan error
	done           chan struct{}
	conn           conn
	in             chan []byte
	subChanges     chan []byte
	connected      atomic.Bool

	connCreator func(ctx context.Context, u url.URL) (conn, error)
}

// NewClient returns a Client configured by opts. An Authorizer is
// required; everything else has defaults.
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(o)
	}
	return &Client{
		logger:         o.logger,
		authorizer:     o.authorizer,
		lookup:         o.lookup,
		registry:       o.registry,
		pending:        o.pending,
		store:          o.store,
		publisher:      o.publisher,
		reconnectLimit: o.reconnectLimit,
		reconnectDelay: o.reconnectDelay,
		pollInterval:   o.pollInterval,
		bufferSize:     o.bufferSize,
		agg:            bars.NewAggregator(),
		closeAvg:       bars.NewCloseAverage(o.closeAvgWindow),
		terminatedChan: make(chan error, 1),
		done:           make(chan struct{}),
		subChanges:     make(chan []byte, 16),
		connCreator:    o.connCreator,
	}
}

// Registry returns the subscription registry the client replays on
// reconnect.
func (c *Client) Registry() *subs.Registry {
	return c.registry
}

// Connect establishes the connection and reestablishes it on errors until
// the configured number of consecutive failures is exceeded. It blocks
// until the connection has been established for the first time (or that
// definitively failed). Should only be called once.
func (c *Client) Connect(ctx context.Context) error {
	if c.authorizer == nil {
		return ErrNoAuthorizer
	}
	err := ErrConnectCalledMultipleTimes
	c.connectOnce.Do(func() {
		initialResultCh := make(chan error)
		go c.maintainConnection(ctx, initialResultCh)
		go c.pollPending(ctx)
		err = <-initialResultCh
		if err != nil {
			c.terminatedChan <- err
			close(c.terminatedChan)
		}
	})
	return err
}

// Terminated returns a channel that the client sends an error to when it
// has stopped. The channel is closed on termination.
func (c *Client) Terminated() <-chan error {
	return c.terminatedChan
}

// maintainConnection runs the session cycle - authorize, dial, replay
// subscriptions, pump frames - and restarts it after transient failures as
// long as reconnectLimit consecutive failures have not occurred. The first
// session's result is sent to initialResultCh.
func (c *Client) maintainConnection(ctx context.Context, initialResultCh chan<- error) {
	var connError error
	failedAttemptsInARow := 0
	connectedAtLeastOnce := false

	defer func() {
		close(c.done)
		if connectedAtLeastOnce {
			close(c.terminatedChan)
		}
	}()

	sendError := func(err error) {
		if !connectedAtLeastOnce {
			initialResultCh <- err
		} else {
			c.terminatedChan <- err
		}
	}

	for {
		select {
		case <-ctx.Done():
			if !connectedAtLeastOnce {
				c.logger.Warnf("barstream: cancelled before connection could be established, last error: %v", connError)
				initialResultCh <- fmt.Errorf("cancelled before connection could be established, last error: %w", connError)
			} else {
				c.terminatedChan <- nil
			}
			return
		default:
			if failedAttemptsInARow >= c.reconnectLimit {
				c.logger.Errorf("barstream: max reconnect limit has been reached, last error: %v", connError)
				sendError(fmt.Errorf("max reconnect limit has been reached, last error: %w", connError))
				return
			}
			if failedAttemptsInARow > 0 {
				if err := ctxtime.Sleep(ctx, c.reconnectDelay); err != nil {
					continue // picked up by the ctx.Done case
				}
			}
			c.logger.Infof("barstream: connecting, attempt %d/%d ...", failedAttemptsInARow+1, c.reconnectLimit)

			uri, err := c.authorizer.Authorize(ctx)
			if err != nil {
				if isErrorIrrecoverable(err) {
					// retrying with the same credential cannot succeed
					c.logger.Errorf("barstream: irrecoverable authorization error: %v", err)
					sendError(fmt.Errorf("irrecoverable authorization error: %w", err))
					return
				}
				connError = err
				failedAttemptsInARow++
				c.logger.Warnf("barstream: feed authorization failed, error: %v", err)
				continue
			}

			u, err := url.Parse(uri)
			if err != nil {
				connError = err
				failedAttemptsInARow++
				c.logger.Warnf("barstream: invalid feed endpoint %q: %v", uri, err)
				continue
			}

			conn, err := c.connCreator(ctx, *u)
			if err != nil {
				connError = err
				failedAttemptsInARow++
				c.logger.Warnf("barstream: failed to connect, error: %v", err)
				continue
			}
			c.conn = conn
			c.logger.Infof("barstream: established connection")

			if err := c.resubscribeAll(ctx); err != nil {
				connError = err
				failedAttemptsInARow++
				c.conn.close()
				c.logger.Warnf("barstream: subscription replay failed, error: %v", err)
				continue
			}

			connError = nil
			failedAttemptsInARow = 0
			if !connectedAtLeastOnce {
				initialResultCh <- nil
				connectedAtLeastOnce = true
			}

			c.in = make(chan []byte, c.bufferSize)
			c.connected.Store(true)
			wg := sync.WaitGroup{}
			wg.Add(4)
			closeCh := make(chan struct{})
			go c.processor(ctx, &wg)
			go c.connPinger(ctx, &wg, closeCh)
			go c.connReader(ctx, &wg, closeCh)
			go c.connWriter(ctx, &wg, closeCh)
			wg.Wait()
			c.connected.Store(false)

			if ctx.Err() != nil {
				c.logger.Infof("barstream: disconnected")
			} else {
				connError = ErrConnectionLost
				failedAttemptsInARow++
				c.logger.Warnf("barstream: connection lost")
			}
		}
	}
}

// isErrorIrrecoverable returns whether the error is irrecoverable and
// further retries should not take place
func isErrorIrrecoverable(err error) bool {
	return errors.Is(err, authz.ErrInvalidToken)
}

var initializeTimeout = 3 * time.Second

// resubscribeAll replays the full registry on a fresh connection,
// compensating for subscription state lost on disconnect. Nothing is sent
// when the registry is empty.
func (c *Client) resubscribeAll(ctx context.Context) error {
	keys := c.registry.Snapshot()
	if len(keys) == 0 {
		return nil
	}
	msg, err := subscribeMessage(keys)
	if err != nil {
		return err
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()
	if err := c.conn.writeMessage(ctxWithTimeout, msg); err != nil {
		return err
	}
	c.logger.Infof("barstream: resubscribed to %d instruments", len(keys))
	return nil
}

// connPinger periodically calls c.conn.ping to ensure the connection is
// still alive
func (c *Client) connPinger(ctx context.Context, wg *sync.WaitGroup, closeCh <-chan struct{}) {
	pingTicker := newPingTicker()
	defer func() {
		pingTicker.Stop()
		c.conn.close()
		wg.Done()
	}()

	for {
		select {
		case <-closeCh:
			return
		case <-ctx.Done():
			return
		case <-pingTicker.C():
			if err := c.conn.ping(ctx); err != nil {
				if ctx.Err() == nil {
					c.logger.Errorf("barstream: ping failed, error: %v", err)
				}
				return
			}
		}
	}
}

// connReader reads from c.conn and sends the frames to c.in. It is also
// responsible for closing closeCh, which terminates the other session
// goroutines, and c.in, which terminates the processor.
func (c *Client) connReader(ctx context.Context, wg *sync.WaitGroup, closeCh chan<- struct{}) {
	defer func() {
		close(closeCh)
		c.conn.close()
		close(c.in)
		wg.Done()
	}()

	for {
		msg, err := c.conn.readMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Errorf("barstream: reading from conn failed, error: %v", err)
			}
			return
		}

		c.in <- msg
	}
}

// connWriter sends queued control messages to c.conn.
func (c *Client) connWriter(ctx context.Context, wg *sync.WaitGroup, closeCh <-chan struct{}) {
	defer func() {
		c.conn.close()
		wg.Done()
	}()

	for {
		select {
		case <-closeCh:
			return
		case <-ctx.Done():
			return
		case msg := <-c.subChanges:
			if err := c.conn.writeMessage(ctx, msg); err != nil {
				if ctx.Err() == nil {
					c.logger.Errorf("barstream: writing to conn failed, error: %v", err)
				}
				return
			}
		}
	}
}
