package eth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ethbridge/internal/bus"
)

// fakeSub mimics a go-ethereum client subscription: Unsubscribe closes the
// Err channel, a stream fault delivers the error then closes it.
type fakeSub struct {
	errc   chan error
	once   sync.Once
	closed atomic.Bool
}

func newFakeSub() *fakeSub { return &fakeSub{errc: make(chan error, 1)} }

func (s *fakeSub) Err() <-chan error { return s.errc }

func (s *fakeSub) Unsubscribe() {
	s.closed.Store(true)
	s.once.Do(func() { close(s.errc) })
}

func (s *fakeSub) fail(err error) {
	s.once.Do(func() {
		s.errc <- err
		close(s.errc)
	})
}

func (s *fakeSub) unsubscribed() bool { return s.closed.Load() }

type openSub struct {
	ch     chan<- json.RawMessage
	sub    *fakeSub
	kind   json.RawMessage
	params json.RawMessage
}

func (o *openSub) push(ev string) { o.ch <- json.RawMessage(ev) }

// fakeRPC records calls and hands out fake subscriptions.
type fakeRPC struct {
	mu      sync.Mutex
	methods []string
	results map[string]json.RawMessage
	callErr error
	subErr  error
	subs    []*openSub
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{results: make(map[string]json.RawMessage)}
}

func (f *fakeRPC) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, method)
	if f.callErr != nil {
		return nil, f.callErr
	}
	if r, ok := f.results[method]; ok {
		return r, nil
	}
	return json.RawMessage(`null`), nil
}

func (f *fakeRPC) RawSubscribe(ctx context.Context, ch chan<- json.RawMessage, kind, params json.RawMessage) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	o := &openSub{ch: ch, sub: newFakeSub(), kind: kind, params: params}
	f.subs = append(f.subs, o)
	return o.sub, nil
}

func (f *fakeRPC) Close() {}

func (f *fakeRPC) lastSub() *openSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeRPC) calledMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

// captureSender collects envelopes the bridge pushes into the bus.
type captureSender struct {
	mu  sync.Mutex
	err error
	ch  chan *bus.Envelope
}

func newCaptureSender() *captureSender {
	return &captureSender{ch: make(chan *bus.Envelope, 64)}
}

func (c *captureSender) Send(ctx context.Context, env *bus.Envelope) error {
	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.ch <- env
	return nil
}

func (c *captureSender) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *captureSender) next(t *testing.T) *bus.Envelope {
	t.Helper()
	select {
	case env := <-c.ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an envelope")
		return nil
	}
}

func (c *captureSender) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case env := <-c.ch:
		t.Fatalf("unexpected envelope %d to %s", env.ID, env.Target)
	case <-time.After(d):
	}
}

var (
	bridgeAddr = bus.Address{Node: "node-1", Process: ProcessName}
	appAddr    = bus.Address{Node: "node-1", Process: "app"}
)

func testBridge(t *testing.T) (*Bridge, *fakeRPC, *captureSender) {
	t.Helper()
	rpc := newFakeRPC()
	sender := newCaptureSender()
	b := NewBridge(bridgeAddr, rpc, sender, nil)
	return b, rpc, sender
}

func requestEnv(id uint64, body string) *bus.Envelope {
	return &bus.Envelope{
		ID:     id,
		Source: appAddr,
		Target: bridgeAddr,
		Message: bus.Message{
			Request: &bus.Request{
				ExpectsResponse: true,
				Body:            json.RawMessage(body),
				Metadata:        "meta-1",
			},
		},
	}
}

func decodeResult(t *testing.T, env *bus.Envelope) Result {
	t.Helper()
	require.NotNil(t, env.Message.Response, "expected a response envelope")
	var r Result
	require.NoError(t, json.Unmarshal(env.Message.Response.Body, &r))
	return r
}

// grab reaches into the registry for the live handle so tests can await
// relay exit deterministically.
func grabHandle(b *Bridge, key SubKey) *Handle {
	b.registry.mu.RLock()
	defer b.registry.mu.RUnlock()
	return b.registry.subs[key]
}

func TestSubscribeRegistersAndRelaysInOrder(t *testing.T) {
	b, rpc, sender := testBridge(t)
	ctx := context.Background()

	env := requestEnv(100, `{"SubscribeLogs":{"sub_id":7,"kind":"logs","params":{"address":"0xabc"}}}`)
	require.NoError(t, b.handle(ctx, env))

	reply := decodeResult(t, func() *bus.Envelope {
		e := sender.next(t)
		assert.Equal(t, uint64(100), e.ID)
		assert.Equal(t, appAddr, e.Target)
		assert.Equal(t, "meta-1", e.Message.Response.Metadata)
		return e
	}())
	assert.True(t, reply.Ok)
	assert.True(t, b.Registry().Contains(SubKey{Owner: "app", ID: 7}))

	o := rpc.lastSub()
	require.NotNil(t, o)
	assert.JSONEq(t, `"logs"`, string(o.kind))

	o.push(`{"block":1}`)
	o.push(`{"block":2}`)
	o.push(`{"block":3}`)

	for i, want := range []string{`{"block":1}`, `{"block":2}`, `{"block":3}`} {
		relayed := sender.next(t)
		require.NotNil(t, relayed.Message.Request, "relayed event %d must be a request", i)
		assert.False(t, relayed.Message.Request.ExpectsResponse)
		assert.Equal(t, appAddr, relayed.Target)
		assert.Equal(t, bridgeAddr, relayed.Source)
		assert.NotEqual(t, env.ID, relayed.ID, "relayed events carry fresh correlation ids")

		var r Result
		require.NoError(t, json.Unmarshal(relayed.Message.Request.Body, &r))
		require.NotNil(t, r.Sub)
		assert.Equal(t, uint64(7), r.Sub.ID)
		assert.JSONEq(t, want, string(r.Sub.Result))
	}
}

func TestSubscribeAcksWithoutEvents(t *testing.T) {
	b, _, sender := testBridge(t)

	env := requestEnv(101, `{"SubscribeLogs":{"sub_id":1,"kind":"newHeads","params":null}}`)
	require.NoError(t, b.handle(context.Background(), env))

	reply := decodeResult(t, sender.next(t))
	assert.True(t, reply.Ok)
	sender.expectNone(t, 100*time.Millisecond)
}

func TestSubscribeRemoteFailure(t *testing.T) {
	b, rpc, sender := testBridge(t)
	rpc.subErr = errors.New("connection reset")

	env := requestEnv(102, `{"SubscribeLogs":{"sub_id":7,"kind":"logs","params":{}}}`)
	require.NoError(t, b.handle(context.Background(), env))

	reply := decodeResult(t, sender.next(t))
	require.NotNil(t, reply.Err)
	assert.Equal(t, KindProviderError, reply.Err.Kind)
	assert.Contains(t, reply.Err.Detail, "connection reset")
	assert.Equal(t, 0, b.Registry().Len())
}

func TestUnsubscribeCancelsRelay(t *testing.T) {
	b, rpc, sender := testBridge(t)
	ctx := context.Background()
	key := SubKey{Owner: "app", ID: 7}

	require.NoError(t, b.handle(ctx, requestEnv(103, `{"SubscribeLogs":{"sub_id":7,"kind":"logs","params":{}}}`)))
	assert.True(t, decodeResult(t, sender.next(t)).Ok)

	handle := grabHandle(b, key)
	require.NotNil(t, handle)

	require.NoError(t, b.handle(ctx, requestEnv(104, `{"UnsubscribeLogs":7}`)))
	assert.True(t, decodeResult(t, sender.next(t)).Ok)
	assert.False(t, b.Registry().Contains(key))

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay task did not exit after unsubscribe")
	}
	assert.True(t, rpc.lastSub().sub.unsubscribed(), "remote subscription must be closed")

	// A late event goes nowhere once the relay has exited.
	rpc.lastSub().push(`{"block":9}`)
	sender.expectNone(t, 100*time.Millisecond)
}

func TestUnsubscribeUnknown(t *testing.T) {
	b, _, sender := testBridge(t)

	require.NoError(t, b.handle(context.Background(), requestEnv(105, `{"UnsubscribeLogs":99}`)))

	reply := decodeResult(t, sender.next(t))
	require.NotNil(t, reply.Err)
	assert.Equal(t, KindSubscriptionNotFound, reply.Err.Kind)
	assert.Equal(t, 0, b.Registry().Len())
}

func TestOneShotRequest(t *testing.T) {
	b, rpc, sender := testBridge(t)
	rpc.results["eth_blockNumber"] = json.RawMessage(`"0x10"`)

	require.NoError(t, b.handle(context.Background(), requestEnv(106, `{"Request":{"method":"eth_blockNumber","params":[]}}`)))

	reply := decodeResult(t, sender.next(t))
	assert.JSONEq(t, `"0x10"`, string(reply.Call))
	assert.Equal(t, []string{"eth_blockNumber"}, rpc.calledMethods())
}

func TestOneShotRequestUnknownMethod(t *testing.T) {
	b, rpc, sender := testBridge(t)

	require.NoError(t, b.handle(context.Background(), requestEnv(107, `{"Request":{"method":"eth_fooBar","params":[]}}`)))

	reply := decodeResult(t, sender.next(t))
	require.NotNil(t, reply.Err)
	assert.Equal(t, KindProviderError, reply.Err.Kind)
	assert.Contains(t, reply.Err.Detail, "eth_fooBar")
	assert.Empty(t, rpc.calledMethods(), "unknown methods never touch the wire")
	sender.expectNone(t, 100*time.Millisecond)
}

func TestReplyGoesToRsvp(t *testing.T) {
	b, rpc, sender := testBridge(t)
	rpc.results["eth_chainId"] = json.RawMessage(`"0x1"`)

	rsvp := bus.Address{Node: "node-2", Process: "collector"}
	env := requestEnv(108, `{"Request":{"method":"eth_chainId","params":[]}}`)
	env.Message.Request.ExpectsResponse = false
	env.Rsvp = &rsvp

	require.NoError(t, b.handle(context.Background(), env))

	reply := sender.next(t)
	assert.Equal(t, rsvp, reply.Target)
	assert.Equal(t, uint64(108), reply.ID)
}

func TestNoReplyWhenNotExpected(t *testing.T) {
	b, _, sender := testBridge(t)

	env := requestEnv(109, `{"Request":{"method":"eth_blockNumber","params":[]}}`)
	env.Message.Request.ExpectsResponse = false

	require.NoError(t, b.handle(context.Background(), env))
	sender.expectNone(t, 100*time.Millisecond)
}

func TestMalformedRequestIsDroppedSilently(t *testing.T) {
	b, _, sender := testBridge(t)
	ctx := context.Background()

	err := b.handle(ctx, requestEnv(110, `{"bogus":true}`))
	assert.Error(t, err)
	sender.expectNone(t, 100*time.Millisecond)

	// A response payload is equally rejected with no side effects.
	env := &bus.Envelope{
		ID:     111,
		Source: appAddr,
		Target: bridgeAddr,
		Message: bus.Message{
			Response: &bus.Response{Body: json.RawMessage(`"Ok"`)},
		},
	}
	err = b.handle(ctx, env)
	assert.Error(t, err)
	sender.expectNone(t, 100*time.Millisecond)
}

func TestRelayEvictsOnStreamError(t *testing.T) {
	b, rpc, sender := testBridge(t)
	ctx := context.Background()
	key := SubKey{Owner: "app", ID: 7}

	require.NoError(t, b.handle(ctx, requestEnv(112, `{"SubscribeLogs":{"sub_id":7,"kind":"logs","params":{}}}`)))
	assert.True(t, decodeResult(t, sender.next(t)).Ok)

	handle := grabHandle(b, key)
	require.NotNil(t, handle)

	rpc.lastSub().sub.fail(errors.New("stream dropped"))

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay task did not exit on stream error")
	}
	require.Eventually(t, func() bool { return b.Registry().Len() == 0 },
		time.Second, 10*time.Millisecond, "terminated relay must evict its registry entry")
}

func TestRelayStopsWhenBusUnreachable(t *testing.T) {
	b, rpc, sender := testBridge(t)
	ctx := context.Background()
	key := SubKey{Owner: "app", ID: 7}

	require.NoError(t, b.handle(ctx, requestEnv(113, `{"SubscribeLogs":{"sub_id":7,"kind":"logs","params":{}}}`)))
	assert.True(t, decodeResult(t, sender.next(t)).Ok)

	handle := grabHandle(b, key)
	require.NotNil(t, handle)

	sender.setErr(errors.New("bus unreachable"))
	rpc.lastSub().push(`{"block":1}`)

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay task did not exit on bus failure")
	}
	assert.Equal(t, 0, b.Registry().Len())
}

func TestRunDispatchesAndDeduplicates(t *testing.T) {
	b, rpc, sender := testBridge(t)
	b.AttachDeduper(bus.NewDeduper(16, time.Minute))
	rpc.results["eth_blockNumber"] = json.RawMessage(`"0x2a"`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan *bus.Envelope, 4)
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, inbound) }()

	env := requestEnv(114, `{"Request":{"method":"eth_blockNumber","params":[]}}`)
	inbound <- env
	inbound <- env // redelivery

	reply := decodeResult(t, sender.next(t))
	assert.JSONEq(t, `"0x2a"`, string(reply.Call))
	sender.expectNone(t, 150*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestConcurrentSubscribers(t *testing.T) {
	b, _, sender := testBridge(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"SubscribeLogs":{"sub_id":%d,"kind":"logs","params":{}}}`, i)
			env := requestEnv(uint64(200+i), body)
			env.Target = bridgeAddr
			if err := b.handle(ctx, env); err != nil {
				t.Errorf("handle failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, b.Registry().Len())
	for i := 0; i < 8; i++ {
		assert.True(t, decodeResult(t, sender.next(t)).Ok)
	}
}
