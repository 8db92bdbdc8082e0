package feed

import (
	"context"
	"net/url"
	"time"

	"github.com/quantrail/barstream/internal/bars"
	"github.com/quantrail/barstream/internal/hub"
	"github.com/quantrail/barstream/internal/subs"
)

// Authorizer exchanges the configured credential for a one-time streaming
// endpoint. Implemented by authz.Client.
type Authorizer interface {
	Authorize(ctx context.Context) (string, error)
}

// Lookup resolves human-readable symbols to instrument keys and back.
// Implemented by instruments.Catalog.
type Lookup interface {
	Resolve(symbol string) (string, bool)
	SymbolFor(instrumentKey string) (string, bool)
}

// BarWriter persists completed bars. Implemented by store.BarStore.
type BarWriter interface {
	Append(b bars.Bar) error
}

// Publisher fans events out to dashboard clients. Implemented by hub.Hub.
type Publisher interface {
	Publish(e hub.Event)
}

// Option is a configuration option for the Client.
type Option interface {
	apply(*options)
}

type options struct {
	logger         Logger
	authorizer     Authorizer
	lookup         Lookup
	registry       *subs.Registry
	pending        *subs.PendingQueue
	store          BarWriter
	publisher      Publisher
	reconnectLimit int
	reconnectDelay time.Duration
	pollInterval   time.Duration
	bufferSize     int
	closeAvgWindow int

	// for testing only
	connCreator func(ctx context.Context, u url.URL) (conn, error)
}

func defaultOptions() *options {
	return &options{
		logger:         DefaultLogger(),
		registry:       subs.NewRegistry(),
		pending:        subs.NewPendingQueue(256),
		reconnectLimit: 10,
		reconnectDelay: 5 * time.Second,
		pollInterval:   time.Second,
		bufferSize:     4096,
		closeAvgWindow: 20,
		connCreator:    newNhooyrWebsocketConn,
	}
}

type funcOption struct {
	f func(*options)
}

func (fo *funcOption) apply(o *options) {
	fo.f(o)
}

func newFuncOption(f func(*options)) *funcOption {
	return &funcOption{f: f}
}

// WithLogger configures the logger
func WithLogger(logger Logger) Option {
	return newFuncOption(func(o *options) {
		o.logger = logger
	})
}

// WithAuthorizer configures the authorization collaborator used before
// every connection attempt.
func WithAuthorizer(a Authorizer) Option {
	return newFuncOption(func(o *options) {
		o.authorizer = a
	})
}

// WithLookup configures the symbol resolution collaborator.
func WithLookup(l Lookup) Option {
	return newFuncOption(func(o *options) {
		o.lookup = l
	})
}

// WithRegistry shares a subscription registry with the rest of the
// service.
func WithRegistry(r *subs.Registry) Option {
	return newFuncOption(func(o *options) {
		o.registry = r
	})
}

// WithPendingQueue shares the pending-subscription mailbox that outside
// goroutines enqueue onto.
func WithPendingQueue(q *subs.PendingQueue) Option {
	return newFuncOption(func(o *options) {
		o.pending = q
	})
}

// WithStore configures where completed bars are persisted.
func WithStore(s BarWriter) Option {
	return newFuncOption(func(o *options) {
		o.store = s
	})
}

// WithPublisher configures the downstream fan-out.
func WithPublisher(p Publisher) Option {
	return newFuncOption(func(o *options) {
		o.publisher = p
	})
}

// WithReconnectSettings configures how many consecutive connection
// failures are accepted and the fixed delay between retries. Once the
// limit is reached the client stops for good.
func WithReconnectSettings(limit int, delay time.Duration) Option {
	return newFuncOption(func(o *options) {
		o.reconnectLimit = limit
		o.reconnectDelay = delay
	})
}

// WithPollInterval configures how often the pending-subscription mailbox
// is drained.
func WithPollInterval(d time.Duration) Option {
	return newFuncOption(func(o *options) {
		o.pollInterval = d
	})
}

// WithBufferSize sets the size of the buffer between the connection
// reader and the frame processor.
func WithBufferSize(size int) Option {
	return newFuncOption(func(o *options) {
		o.bufferSize = size
	})
}

// WithCloseAvgWindow sets the rolling close-average window attached to
// outgoing bar events.
func WithCloseAvgWindow(window int) Option {
	return newFuncOption(func(o *options) {
		o.closeAvgWindow = window
	})
}

func withConnCreator(connCreator func(ctx context.Context, u url.URL) (conn, error)) Option {
	return newFuncOption(func(o *options) {
		o.connCreator = connCreator
	})
}
