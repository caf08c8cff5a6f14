package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Address identifies a message sender or target within the runtime:
// a node identity plus a process identity on that node.
type Address struct {
	Node    string `json:"node"`
	Process string `json:"process"`
}

func (a Address) String() string { return a.Node + "/" + a.Process }

// Request is the asking half of an envelope payload. Metadata is echoed
// verbatim into the corresponding Response.
type Request struct {
	ExpectsResponse bool            `json:"expects_response"`
	Body            json.RawMessage `json:"body"`
	Metadata        string          `json:"metadata,omitempty"`
}

// Response carries the result of a Request together with its metadata.
type Response struct {
	Body     json.RawMessage `json:"body"`
	Metadata string          `json:"metadata,omitempty"`
}

// Message is the payload union. Exactly one of Request or Response is set.
type Message struct {
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
}

// Envelope is one bus message. ID is the correlation id pairing a Request
// with its eventual Response. Rsvp, when present, overrides Source as the
// address an eventual response is sent to.
type Envelope struct {
	ID         uint64   `json:"id"`
	Source     Address  `json:"source"`
	Target     Address  `json:"target"`
	Rsvp       *Address `json:"rsvp,omitempty"`
	Message    Message  `json:"message"`
	Attachment []byte   `json:"attachment,omitempty"`
}

// Validate rejects envelopes that carry neither or both payload halves.
func (e *Envelope) Validate() error {
	if (e.Message.Request == nil) == (e.Message.Response == nil) {
		return fmt.Errorf("bus: envelope %d must carry exactly one of request or response", e.ID)
	}
	return nil
}

// Sender delivers envelopes into the bus. Delivery is asynchronous and
// ordered per target; the transport owns cross-node routing.
type Sender interface {
	Send(ctx context.Context, env *Envelope) error
}
