package eth

import (
	"context"
	"encoding/json"
	"fmt"

	"ethbridge/internal/bus"
	"ethbridge/internal/journal"
	"ethbridge/internal/logging"
	"ethbridge/internal/metrics"
)

// Bridge owns the shared RPC handle and the subscription registry, and
// mediates between the remote endpoint and the internal bus. Inbound
// envelopes are dequeued strictly sequentially; each one is handled in its
// own goroutine, so replies complete in no particular order.
type Bridge struct {
	our      bus.Address
	rpc      RPC
	registry *Registry
	sender   bus.Sender
	dedupe   *bus.Deduper
	journal  *journal.Journal
	metrics  metrics.Provider
	logger   logging.Logger
}

func NewBridge(our bus.Address, rpc RPC, sender bus.Sender, logger logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Bridge{
		our:      bus.Address{Node: our.Node, Process: ProcessName},
		rpc:      rpc,
		registry: NewRegistry(),
		sender:   sender,
		metrics:  metrics.Noop{},
		logger:   logger,
	}
}

// AttachDeduper enables dropping of redelivered inbound envelopes.
func (b *Bridge) AttachDeduper(d *bus.Deduper) { b.dedupe = d }

// AttachJournal enables the on-disk event journal for relayed events.
func (b *Bridge) AttachJournal(j *journal.Journal) { b.journal = j }

// AttachMetrics replaces the no-op metrics provider.
func (b *Bridge) AttachMetrics(m metrics.Provider) {
	if m != nil {
		b.metrics = m
	}
}

// Registry exposes the subscription registry for the admin surface.
func (b *Bridge) Registry() *Registry { return b.registry }

// Run consumes inbound envelopes until ctx is cancelled or the channel
// closes. Relay tasks spawned while running are bound to ctx and stop with
// the bridge.
func (b *Bridge) Run(ctx context.Context, inbound <-chan *bus.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-inbound:
			if !ok {
				return fmt.Errorf("eth: inbound message channel closed")
			}
			if b.dedupe != nil && b.dedupe.Seen(env) {
				b.logger.Debugf("eth: dropping duplicate envelope %d from %s", env.ID, env.Source)
				continue
			}
			go func(env *bus.Envelope) {
				if err := b.handle(ctx, env); err != nil {
					// Local to this one message: logged, no reply sent.
					b.logger.Errorf("eth: %v", err)
				}
			}(env)
		}
	}
}

// handle dispatches one envelope. A non-Request payload or an undecodable
// body fails fast with no side effects and no reply; the caller's own
// timeout is its only signal.
func (b *Bridge) handle(ctx context.Context, env *bus.Envelope) error {
	req := env.Message.Request
	if req == nil {
		return ProviderError("bridge only accepts requests, got response from %s", env.Source)
	}
	var action Action
	if err := json.Unmarshal(req.Body, &action); err != nil {
		return ProviderError("failed to decode request from %s: %v", env.Source, err)
	}
	b.metrics.IncCounter(metrics.RequestsTotal, 1)

	var result Result
	switch {
	case action.Subscribe != nil:
		result = b.subscribe(ctx, env, action.Subscribe)
	case action.Unsubscribe != nil:
		result = b.unsubscribe(env, *action.Unsubscribe)
	case action.Call != nil:
		result = b.call(ctx, action.Call)
	}
	if result.Err != nil {
		b.metrics.IncCounter(metrics.RequestsFailedTotal, 1)
		b.logger.Warnf("eth: request %d from %s failed: %v", env.ID, env.Source, result.Err)
	}
	return b.reply(ctx, env, req, result)
}

// subscribe opens the remote subscription, registers a relay task owned by
// the requesting process, and acknowledges immediately. Confirmation is not
// conditioned on the first event; the relay runs independently from here on.
// The first event may reach the caller before the Ok does.
func (b *Bridge) subscribe(ctx context.Context, env *bus.Envelope, req *SubscribeLogs) Result {
	key := SubKey{Owner: env.Source.Process, ID: req.SubID}

	events := make(chan json.RawMessage, eventBuffer)
	sub, err := b.rpc.RawSubscribe(ctx, events, req.Kind, req.Params)
	if err != nil {
		return ErrResult(ProviderError("subscribe failed: %v", err))
	}

	taskCtx, cancel := context.WithCancel(ctx)
	handle := newHandle(cancel, sub)
	task := &relayTask{
		our:      b.our,
		key:      key,
		target:   env.Source,
		events:   events,
		sub:      sub,
		handle:   handle,
		sender:   b.sender,
		registry: b.registry,
		journal:  b.journal,
		metrics:  b.metrics,
		logger:   b.logger,
	}
	b.registry.Insert(key, handle)
	go task.run(taskCtx)

	b.metrics.SetGauge(metrics.ActiveSubscriptions, float64(b.registry.Len()))
	b.logger.Infof("eth: opened subscription %s for %s", key, env.Source)
	return OkResult()
}

// unsubscribe detaches and cancels the relay task owned by the requesting
// process. The task stops at its next suspension point; the remote side is
// told to close the subscription as well.
func (b *Bridge) unsubscribe(env *bus.Envelope, subID uint64) Result {
	key := SubKey{Owner: env.Source.Process, ID: subID}
	handle, err := b.registry.Remove(key)
	if err != nil {
		return ErrResult(ErrSubscriptionNotFound)
	}
	handle.Cancel()
	b.metrics.SetGauge(metrics.ActiveSubscriptions, float64(b.registry.Len()))
	b.logger.Infof("eth: closed subscription %s", key)
	return OkResult()
}

// call performs one allow-listed RPC call and returns its result verbatim.
func (b *Bridge) call(ctx context.Context, req *RequestCall) Result {
	if !AllowedMethod(req.Method) {
		return ErrResult(ProviderError("method not found: %s", req.Method))
	}
	raw, err := b.rpc.Call(ctx, req.Method, req.Params)
	if err != nil {
		return ErrResult(ProviderError("%s failed: %v", req.Method, err))
	}
	return CallResult(raw)
}

// reply resolves the response target: rsvp if present, else the source when
// a response was asked for, else nobody. The reply reuses the inbound
// correlation id and echoes the request metadata.
func (b *Bridge) reply(ctx context.Context, env *bus.Envelope, req *bus.Request, result Result) error {
	target := env.Rsvp
	if target == nil && req.ExpectsResponse {
		target = &env.Source
	}
	if target == nil {
		return nil
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("eth: failed to marshal result for %d: %w", env.ID, err)
	}
	out := &bus.Envelope{
		ID:     env.ID,
		Source: b.our,
		Target: *target,
		Message: bus.Message{
			Response: &bus.Response{Body: body, Metadata: req.Metadata},
		},
	}
	if err := b.sender.Send(ctx, out); err != nil {
		return fmt.Errorf("eth: failed to send reply for %d to %s: %w", env.ID, *target, err)
	}
	return nil
}
