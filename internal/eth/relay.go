package eth

import (
	"context"
	"encoding/json"
	"math/rand/v2"

	"ethbridge/internal/bus"
	"ethbridge/internal/journal"
	"ethbridge/internal/logging"
	"ethbridge/internal/metrics"
)

// eventBuffer absorbs bursts between the socket reader and the relay loop.
const eventBuffer = 64

// relayTask pumps one subscription stream into the bus: one event at a time,
// in arrival order, for the life of the stream. It exits when the stream
// closes or errors, when it is cancelled by an unsubscribe, or when the bus
// becomes unreachable. On every exit path it evicts its own registry entry.
type relayTask struct {
	our      bus.Address
	key      SubKey
	target   bus.Address
	events   <-chan json.RawMessage
	sub      Subscription
	handle   *Handle
	sender   bus.Sender
	registry *Registry
	journal  *journal.Journal
	metrics  metrics.Provider
	logger   logging.Logger
}

func (t *relayTask) run(ctx context.Context) {
	defer close(t.handle.done)
	defer func() {
		t.registry.Evict(t.key, t.handle)
		t.metrics.SetGauge(metrics.ActiveSubscriptions, float64(t.registry.Len()))
	}()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-t.sub.Err():
			// A nil error means the stream was closed by Unsubscribe;
			// anything else is a terminal stream fault. Either way the
			// task does not reconnect.
			if err != nil {
				t.metrics.IncCounter(metrics.RelayErrorsTotal, 1)
				t.logger.Warnf("eth: subscription %s stream error: %v", t.key, err)
			}
			t.logger.Infof("eth: subscription %s: %v", t.key, ErrSubscriptionClosed)
			return
		case ev := <-t.events:
			if err := t.emit(ctx, ev); err != nil {
				t.metrics.IncCounter(metrics.RelayErrorsTotal, 1)
				t.logger.Errorf("eth: subscription %s: bus send failed, stopping relay: %v", t.key, err)
				t.sub.Unsubscribe()
				return
			}
			if t.journal != nil {
				if err := t.journal.AppendEvent(t.key.Owner, t.key.ID, seq, ev); err != nil {
					t.logger.Warnf("eth: subscription %s: journal append failed: %v", t.key, err)
				}
			}
			seq++
			t.metrics.IncCounter(metrics.RelayedEventsTotal, 1)
		}
	}
}

// emit forwards one event as an independent fire-and-forget Request with a
// fresh correlation id, addressed to the process that opened the subscription.
func (t *relayTask) emit(ctx context.Context, event json.RawMessage) error {
	body, err := json.Marshal(Result{Sub: &SubEvent{ID: t.key.ID, Result: event}})
	if err != nil {
		return err
	}
	return t.sender.Send(ctx, &bus.Envelope{
		ID:     rand.Uint64(),
		Source: t.our,
		Target: t.target,
		Message: bus.Message{
			Request: &bus.Request{Body: body},
		},
	})
}
