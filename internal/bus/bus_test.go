package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeValidate(t *testing.T) {
	req := &Envelope{
		ID:      1,
		Source:  Address{Node: "n", Process: "a"},
		Target:  Address{Node: "n", Process: "eth"},
		Message: Message{Request: &Request{Body: json.RawMessage(`{}`)}},
	}
	assert.NoError(t, req.Validate())

	empty := &Envelope{ID: 2}
	assert.Error(t, empty.Validate())

	both := &Envelope{
		ID: 3,
		Message: Message{
			Request:  &Request{},
			Response: &Response{},
		},
	}
	assert.Error(t, both.Validate())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	rsvp := Address{Node: "n2", Process: "collector"}
	in := &Envelope{
		ID:     42,
		Source: Address{Node: "n1", Process: "app"},
		Target: Address{Node: "n1", Process: "eth"},
		Rsvp:   &rsvp,
		Message: Message{Request: &Request{
			ExpectsResponse: true,
			Body:            json.RawMessage(`{"UnsubscribeLogs":7}`),
			Metadata:        "m",
		}},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Source, out.Source)
	require.NotNil(t, out.Rsvp)
	assert.Equal(t, rsvp, *out.Rsvp)
	require.NotNil(t, out.Message.Request)
	assert.True(t, out.Message.Request.ExpectsResponse)
	assert.JSONEq(t, `{"UnsubscribeLogs":7}`, string(out.Message.Request.Body))
}

func TestDeduper(t *testing.T) {
	d := NewDeduper(8, time.Minute)

	env := &Envelope{ID: 1, Source: Address{Node: "n", Process: "a"}}
	assert.False(t, d.Seen(env), "first delivery is fresh")
	assert.True(t, d.Seen(env), "redelivery is a duplicate")

	// Same id from another sender is a different message.
	other := &Envelope{ID: 1, Source: Address{Node: "n", Process: "b"}}
	assert.False(t, d.Seen(other))
}
