package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantrail/barstream/internal/authz"
	"github.com/quantrail/barstream/internal/bars"
	"github.com/quantrail/barstream/internal/hub"
	"github.com/quantrail/barstream/internal/subs"
)

type fakeAuthorizer struct {
	uri   string
	err   error
	calls int32
}

func (f *fakeAuthorizer) Authorize(context.Context) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return "", f.err
	}
	return f.uri, nil
}

func (f *fakeAuthorizer) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type fakeLookup struct {
	bySymbol map[string]string
	byKey    map[string]string
}

func newFakeLookup(pairs map[string]string) *fakeLookup {
	l := &fakeLookup{bySymbol: pairs, byKey: map[string]string{}}
	for symbol, key := range pairs {
		l.byKey[key] = symbol
	}
	return l
}

func (l *fakeLookup) Resolve(symbol string) (string, bool) {
	key, ok := l.bySymbol[symbol]
	return key, ok
}

func (l *fakeLookup) SymbolFor(key string) (string, bool) {
	symbol, ok := l.byKey[key]
	return symbol, ok
}

type fakePublisher struct {
	mu     sync.Mutex
	events []hub.Event
}

func (p *fakePublisher) Publish(e hub.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *fakePublisher) byKind(kind string) []hub.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []hub.Event
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeStore struct {
	mu   sync.Mutex
	bars []bars.Bar
}

func (s *fakeStore) Append(b bars.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = append(s.bars, b)
	return nil
}

func (s *fakeStore) appended() []bars.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bars.Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

type subControl struct {
	GUID   string `msgpack:"guid"`
	Method string `msgpack:"method"`
	Data   struct {
		Mode           string   `msgpack:"mode"`
		InstrumentKeys []string `msgpack:"instrumentKeys"`
	} `msgpack:"data"`
}

func decodeControl(t *testing.T, b []byte) subControl {
	t.Helper()
	var msg subControl
	require.NoError(t, msgpack.Unmarshal(b, &msg))
	return msg
}

func feedFrame(t *testing.T, key string, price float64, qty int64, at time.Time) []byte {
	t.Helper()
	b, err := msgpack.Marshal(map[string]interface{}{
		"type": "live_feed",
		"feeds": map[string]interface{}{
			key: map[string]interface{}{
				"ltp": price,
				"ltq": qty,
				"ltt": at.UnixMilli(),
			},
		},
	})
	require.NoError(t, err)
	return b
}

func receiveWithTimeout(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a written message")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestConnectStopsAfterMaxConsecutiveFailures(t *testing.T) {
	auth := &fakeAuthorizer{err: errors.New("connection refused")}
	c := NewClient(
		WithAuthorizer(auth),
		WithReconnectSettings(3, 0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := c.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, 3, auth.callCount(), "no attempts beyond the limit")
	assert.Error(t, <-c.Terminated())
}

func TestConnectStopsImmediatelyOnInvalidCredentials(t *testing.T) {
	auth := &fakeAuthorizer{err: fmt.Errorf("authorize feed: %w", authz.ErrInvalidToken)}
	c := NewClient(
		WithAuthorizer(auth),
		WithReconnectSettings(20, time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := c.Connect(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, authz.ErrInvalidToken)
	assert.Equal(t, 1, auth.callCount(), "a bad credential must not burn the retry budget")
}

func TestConnectRequiresAuthorizer(t *testing.T) {
	c := NewClient()
	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrNoAuthorizer)
}

func TestConnectCalledTwice(t *testing.T) {
	connection := newMockConn()
	c := NewClient(
		WithAuthorizer(&fakeAuthorizer{uri: "wss://feed.test/abc"}),
		WithReconnectSettings(1, 0),
		withConnCreator(func(context.Context, url.URL) (conn, error) { return connection, nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.ErrorIs(t, c.Connect(ctx), ErrConnectCalledMultipleTimes)
}

func TestResubscribeReplayOnConnect(t *testing.T) {
	registry := subs.NewRegistry()
	registry.Add("NSE_EQ|INE002A01018")
	registry.Add("NSE_EQ|INE009A01021")

	connection := newMockConn()
	c := NewClient(
		WithAuthorizer(&fakeAuthorizer{uri: "wss://feed.test/abc"}),
		WithRegistry(registry),
		WithReconnectSettings(1, 0),
		withConnCreator(func(context.Context, url.URL) (conn, error) { return connection, nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	msg := decodeControl(t, receiveWithTimeout(t, connection.writeCh))
	assert.Equal(t, "sub", msg.Method)
	assert.Equal(t, "ltpc", msg.Data.Mode)
	assert.NotEmpty(t, msg.GUID)
	assert.ElementsMatch(t,
		[]string{"NSE_EQ|INE002A01018", "NSE_EQ|INE009A01021"},
		msg.Data.InstrumentKeys)

	// exactly one replay message
	select {
	case extra := <-connection.writeCh:
		t.Fatalf("unexpected second control message: %x", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNoReplayWhenRegistryEmpty(t *testing.T) {
	connection := newMockConn()
	c := NewClient(
		WithAuthorizer(&fakeAuthorizer{uri: "wss://feed.test/abc"}),
		WithReconnectSettings(1, 0),
		withConnCreator(func(context.Context, url.URL) (conn, error) { return connection, nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	select {
	case msg := <-connection.writeCh:
		t.Fatalf("unexpected control message on empty registry: %x", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCorruptedFrameDoesNotStopTheLoop(t *testing.T) {
	connection := newMockConn()
	publisher := &fakePublisher{}
	c := NewClient(
		WithAuthorizer(&fakeAuthorizer{uri: "wss://feed.test/abc"}),
		WithPublisher(publisher),
		WithReconnectSettings(1, 0),
		withConnCreator(func(context.Context, url.URL) (conn, error) { return connection, nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	connection.readCh <- []byte{0xc1, 0xde, 0xad}
	connection.readCh <- feedFrame(t, "NSE_EQ|X", 100.5, 10, time.Date(2025, 3, 4, 10, 0, 5, 0, time.UTC))

	waitFor(t, func() bool { return len(publisher.byKind(hub.KindTick)) == 1 })
}

func TestCompletedBarIsPublishedAndPersisted(t *testing.T) {
	connection := newMockConn()
	publisher := &fakePublisher{}
	st := &fakeStore{}
	lookup := newFakeLookup(map[string]string{"NSE:RELIANCE": "NSE_EQ|INE002A01018"})
	c := NewClient(
		WithAuthorizer(&fakeAuthorizer{uri: "wss://feed.test/abc"}),
		WithPublisher(publisher),
		WithStore(st),
		WithLookup(lookup),
		WithReconnectSettings(1, 0),
		withConnCreator(func(context.Context, url.URL) (conn, error) { return connection, nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	key := "NSE_EQ|INE002A01018"
	connection.readCh <- feedFrame(t, key, 100, 10, time.Date(2025, 3, 4, 10, 0, 5, 0, time.UTC))
	connection.readCh <- feedFrame(t, key, 101, 5, time.Date(2025, 3, 4, 10, 0, 40, 0, time.UTC))
	connection.readCh <- feedFrame(t, key, 99, 20, time.Date(2025, 3, 4, 10, 1, 5, 0, time.UTC))

	waitFor(t, func() bool { return len(publisher.byKind(hub.KindBar)) == 1 })

	barEvent := publisher.byKind(hub.KindBar)[0]
	assert.Equal(t, "NSE:RELIANCE", barEvent.Symbol, "events carry the human-readable symbol")
	payload, ok := barEvent.Payload.(hub.BarEvent)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC), payload.BucketStart)
	assert.Equal(t, "100", payload.Open.String())
	assert.Equal(t, "101", payload.High.String())
	assert.Equal(t, "100", payload.Low.String())
	assert.Equal(t, "101", payload.Close.String())
	assert.EqualValues(t, 15, payload.Volume)

	waitFor(t, func() bool { return len(st.appended()) == 1 })
	stored := st.appended()[0]
	assert.Equal(t, key, stored.InstrumentKey)
	assert.EqualValues(t, 15, stored.Volume)

	assert.Len(t, publisher.byKind(hub.KindTick), 3)
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	registry := subs.NewRegistry()
	registry.Add("NSE_EQ|INE002A01018")

	var mu sync.Mutex
	var conns []*mockConn
	connCreator := func(context.Context, url.URL) (conn, error) {
		mu.Lock()
		defer mu.Unlock()
		connection := newMockConn()
		conns = append(conns, connection)
		return connection, nil
	}

	c := NewClient(
		WithAuthorizer(&fakeAuthorizer{uri: "wss://feed.test/abc"}),
		WithRegistry(registry),
		WithReconnectSettings(5, 0),
		withConnCreator(connCreator),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	mu.Lock()
	first := conns[0]
	mu.Unlock()
	decodeControl(t, receiveWithTimeout(t, first.writeCh))

	// drop the transport; the client must dial and replay again
	first.close()

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(conns) == 2 })
	mu.Lock()
	second := conns[1]
	mu.Unlock()

	msg := decodeControl(t, receiveWithTimeout(t, second.writeCh))
	assert.Equal(t, []string{"NSE_EQ|INE002A01018"}, msg.Data.InstrumentKeys)
}

func TestPendingQueuePollSubscribesLiveConnection(t *testing.T) {
	pollCh := make(chan time.Time)
	restore := newPollTicker
	newPollTicker = func(time.Duration) ticker { return &fakeTicker{c: pollCh} }
	defer func() { newPollTicker = restore }()

	registry := subs.NewRegistry()
	pending := subs.NewPendingQueue(8)
	lookup := newFakeLookup(map[string]string{"NSE:RELIANCE": "NSE_EQ|INE002A01018"})

	connection := newMockConn()
	c := NewClient(
		WithAuthorizer(&fakeAuthorizer{uri: "wss://feed.test/abc"}),
		WithRegistry(registry),
		WithPendingQueue(pending),
		WithLookup(lookup),
		WithReconnectSettings(1, 0),
		withConnCreator(func(context.Context, url.URL) (conn, error) { return connection, nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	require.True(t, pending.Enqueue("NSE:RELIANCE"))
	require.True(t, pending.Enqueue("NSE:UNKNOWN"))
	pollCh <- time.Now()

	msg := decodeControl(t, receiveWithTimeout(t, connection.writeCh))
	assert.Equal(t, []string{"NSE_EQ|INE002A01018"}, msg.Data.InstrumentKeys)
	assert.True(t, registry.Contains("NSE_EQ|INE002A01018"))
	assert.Equal(t, 1, registry.Len(), "unknown symbols are skipped")

	// re-requesting the same symbol is a no-op
	require.True(t, pending.Enqueue("NSE:RELIANCE"))
	pollCh <- time.Now()
	select {
	case extra := <-connection.writeCh:
		t.Fatalf("unexpected duplicate subscribe: %x", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

type fakeTicker struct {
	c chan time.Time
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               {}
