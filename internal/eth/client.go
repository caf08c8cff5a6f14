package eth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"ethbridge/internal/logging"
)

// Subscription is the live handle to one remote subscription stream.
// Unsubscribe closes the remote subscription and the Err channel.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// RPC is the narrow surface of the remote endpoint the bridge needs: one-shot
// calls and raw eth_subscribe streams. The handle is internally synchronized
// and safe to share across concurrent dispatchers and relay tasks.
type RPC interface {
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
	RawSubscribe(ctx context.Context, ch chan<- json.RawMessage, kind, params json.RawMessage) (Subscription, error)
	Close()
}

// Client adapts a go-ethereum rpc.Client to the RPC interface.
type Client struct {
	rpc    *gethrpc.Client
	logger logging.Logger
}

// ValidateRPCURL accepts only ws:// and wss:// endpoints. Subscriptions need
// a persistent socket; HTTP polling transports are not supported.
func ValidateRPCURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("eth: invalid RPC URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return nil
	case "http", "https":
		return fmt.Errorf("eth: %q is an http(s) RPC endpoint, but only ws(s) is supported; provide a ws:// or wss:// URL", raw)
	default:
		return fmt.Errorf("eth: unsupported RPC URL scheme %q, only ws(s) is supported", u.Scheme)
	}
}

// Dial validates the URL scheme and opens the persistent socket connection.
// A failed connect here is fatal to the caller: the bridge does not start
// without its upstream.
func Dial(ctx context.Context, rawURL string, logger logging.Logger) (*Client, error) {
	if err := ValidateRPCURL(rawURL); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	c, err := gethrpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("eth: failed to connect to %s: %w", rawURL, err)
	}
	return &Client{rpc: c, logger: logger}, nil
}

// Call performs one RPC call, passing params through opaquely and returning
// the raw JSON result verbatim. No timeout is imposed beyond ctx.
func (c *Client) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	args, err := splitParams(params)
	if err != nil {
		return nil, fmt.Errorf("eth: invalid params for %s: %w", method, err)
	}
	var result json.RawMessage
	if err := c.rpc.CallContext(ctx, &result, method, args...); err != nil {
		return nil, err
	}
	return result, nil
}

// RawSubscribe opens an eth_subscribe stream with (kind, params) as the
// remote arguments. Events arrive on ch as raw JSON, in wire order.
func (c *Client) RawSubscribe(ctx context.Context, ch chan<- json.RawMessage, kind, params json.RawMessage) (Subscription, error) {
	args := []interface{}{kind}
	if !emptyJSON(params) {
		args = append(args, params)
	}
	sub, err := c.rpc.Subscribe(ctx, "eth", ch, args...)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Close releases the underlying socket connection.
func (c *Client) Close() {
	if c == nil || c.rpc == nil {
		return
	}
	c.rpc.Close()
}

// splitParams expands an opaque JSON params value into positional call
// arguments: an array becomes one argument per element, null or empty means
// no arguments, anything else is passed as a single argument.
func splitParams(params json.RawMessage) ([]interface{}, error) {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return []interface{}{json.RawMessage(trimmed)}, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, err
	}
	args := make([]interface{}, len(elems))
	for i, e := range elems {
		args[i] = e
	}
	return args, nil
}

func emptyJSON(v json.RawMessage) bool {
	trimmed := bytes.TrimSpace(v)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
