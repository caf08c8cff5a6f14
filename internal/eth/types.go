package eth

import (
	"encoding/json"
	"fmt"
)

// ProcessName is the process identity the bridge answers on and stamps as
// the source of relayed events.
const ProcessName = "eth"

// SubscribeLogs asks the bridge to open a remote subscription. SubID is
// chosen by the caller and scoped to the caller's process.
type SubscribeLogs struct {
	SubID  uint64          `json:"sub_id"`
	Kind   json.RawMessage `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// RequestCall is a one-shot RPC call against the remote endpoint.
type RequestCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Action is the closed set of operations the bridge accepts. Exactly one
// field is set after a successful decode. The wire form is externally
// tagged: {"SubscribeLogs":{...}}, {"UnsubscribeLogs":7} or {"Request":{...}}.
type Action struct {
	Subscribe   *SubscribeLogs
	Unsubscribe *uint64
	Call        *RequestCall
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Subscribe   *SubscribeLogs `json:"SubscribeLogs"`
		Unsubscribe *uint64        `json:"UnsubscribeLogs"`
		Call        *RequestCall   `json:"Request"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	set := 0
	for _, ok := range []bool{tagged.Subscribe != nil, tagged.Unsubscribe != nil, tagged.Call != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("eth: action must carry exactly one operation, got %d", set)
	}
	a.Subscribe = tagged.Subscribe
	a.Unsubscribe = tagged.Unsubscribe
	a.Call = tagged.Call
	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	switch {
	case a.Subscribe != nil:
		return json.Marshal(struct {
			S *SubscribeLogs `json:"SubscribeLogs"`
		}{a.Subscribe})
	case a.Unsubscribe != nil:
		return json.Marshal(struct {
			U uint64 `json:"UnsubscribeLogs"`
		}{*a.Unsubscribe})
	case a.Call != nil:
		return json.Marshal(struct {
			C *RequestCall `json:"Request"`
		}{a.Call})
	}
	return nil, fmt.Errorf("eth: empty action")
}

// SubEvent is one relayed subscription event.
type SubEvent struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Result is what the bridge sends back: a bare acknowledgement, a one-shot
// call result, a relayed event, or an error. Wire form mirrors Action:
// "Ok", {"Request":...}, {"Sub":{...}} or {"Err":...}.
type Result struct {
	Ok   bool
	Call json.RawMessage
	Sub  *SubEvent
	Err  *Error
}

func OkResult() Result                    { return Result{Ok: true} }
func ErrResult(e *Error) Result           { return Result{Err: e} }
func CallResult(v json.RawMessage) Result { return Result{Call: v} }

func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Err != nil:
		return json.Marshal(struct {
			E *Error `json:"Err"`
		}{r.Err})
	case r.Sub != nil:
		return json.Marshal(struct {
			S *SubEvent `json:"Sub"`
		}{r.Sub})
	case r.Call != nil:
		return json.Marshal(struct {
			C json.RawMessage `json:"Request"`
		}{r.Call})
	case r.Ok:
		return json.Marshal("Ok")
	}
	return nil, fmt.Errorf("eth: empty result")
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		if unit != "Ok" {
			return fmt.Errorf("eth: unknown result variant %q", unit)
		}
		*r = Result{Ok: true}
		return nil
	}
	var tagged struct {
		Sub  *SubEvent       `json:"Sub"`
		Call json.RawMessage `json:"Request"`
		Err  *Error          `json:"Err"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	*r = Result{Sub: tagged.Sub, Call: tagged.Call, Err: tagged.Err}
	if r.Sub == nil && r.Call == nil && r.Err == nil {
		return fmt.Errorf("eth: empty result")
	}
	return nil
}

// allowedMethods is the fixed set of remote method names one-shot calls may
// use. Anything else is rejected before touching the wire.
var allowedMethods = map[string]struct{}{
	"eth_blockNumber":                         {},
	"eth_call":                                {},
	"eth_chainId":                             {},
	"eth_estimateGas":                         {},
	"eth_feeHistory":                          {},
	"eth_gasPrice":                            {},
	"eth_getBalance":                          {},
	"eth_getBlockByHash":                      {},
	"eth_getBlockByNumber":                    {},
	"eth_getBlockTransactionCountByHash":      {},
	"eth_getBlockTransactionCountByNumber":    {},
	"eth_getCode":                             {},
	"eth_getFilterChanges":                    {},
	"eth_getFilterLogs":                       {},
	"eth_getLogs":                             {},
	"eth_getStorageAt":                        {},
	"eth_getTransactionByBlockHashAndIndex":   {},
	"eth_getTransactionByBlockNumberAndIndex": {},
	"eth_getTransactionByHash":                {},
	"eth_getTransactionCount":                 {},
	"eth_getTransactionReceipt":               {},
	"eth_maxPriorityFeePerGas":                {},
	"eth_newBlockFilter":                      {},
	"eth_newFilter":                           {},
	"eth_newPendingTransactionFilter":         {},
	"eth_sendRawTransaction":                  {},
	"eth_syncing":                             {},
	"eth_uninstallFilter":                     {},
	"net_version":                             {},
	"web3_clientVersion":                      {},
}

// AllowedMethod reports whether a one-shot call may use the given method.
func AllowedMethod(method string) bool {
	_, ok := allowedMethods[method]
	return ok
}
