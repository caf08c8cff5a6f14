package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"ethbridge/internal/logging"
)

const defaultSubjectPrefix = "bus"

// Transport is a NATS-backed bus endpoint. Each process listens on the
// subject derived from its own address and publishes to the subject derived
// from the target address.
type Transport struct {
	nc     *nats.Conn
	prefix string
	logger logging.Logger
	subs   []*nats.Subscription
}

// Connect dials the NATS server with reconnect handling. name shows up in
// server-side monitoring.
func Connect(url, name, subjectPrefix string, logger logging.Logger) (*Transport, error) {
	if url == "" {
		return nil, fmt.Errorf("bus: NATS URL is required")
	}
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Errorf("bus: NATS error: %v", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("bus: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("bus: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: failed to connect to NATS: %w", err)
	}
	return &Transport{nc: nc, prefix: subjectPrefix, logger: logger}, nil
}

// Send publishes one envelope to the subject of its target address.
func (t *Transport) Send(ctx context.Context, env *Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: failed to marshal envelope %d: %w", env.ID, err)
	}
	if err := t.nc.Publish(t.subject(env.Target), data); err != nil {
		return fmt.Errorf("bus: failed to publish envelope %d: %w", env.ID, err)
	}
	return nil
}

// Listen subscribes to the subject of addr and delivers decoded envelopes
// into the returned channel, in arrival order. Malformed payloads are
// logged and dropped.
func (t *Transport) Listen(addr Address, buffer int) (<-chan *Envelope, error) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *Envelope, buffer)
	sub, err := t.nc.Subscribe(t.subject(addr), func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			t.logger.Warnf("bus: dropping undecodable message on %s: %v", m.Subject, err)
			return
		}
		ch <- &env
	})
	if err != nil {
		return nil, fmt.Errorf("bus: failed to subscribe %s: %w", addr, err)
	}
	t.subs = append(t.subs, sub)
	return ch, nil
}

// Close drains outstanding messages and releases the connection.
func (t *Transport) Close() {
	if t == nil || t.nc == nil {
		return
	}
	for _, s := range t.subs {
		_ = s.Unsubscribe()
	}
	_ = t.nc.Drain()
	t.nc.Close()
}

func (t *Transport) subject(a Address) string {
	return fmt.Sprintf("%s.%s.%s", t.prefix, a.Node, a.Process)
}
