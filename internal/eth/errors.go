package eth

import (
	"encoding/json"
	"fmt"
)

// Error kinds, mirroring the wire taxonomy.
const (
	KindProviderError        = "ProviderError"
	KindSubscriptionNotFound = "SubscriptionNotFound"
	KindSubscriptionClosed   = "SubscriptionClosed"
)

// Error is the bridge's error taxonomy. ProviderError carries detail text;
// the other kinds are bare tags. Wire form is externally tagged:
// {"ProviderError":"..."} or "SubscriptionNotFound" / "SubscriptionClosed".
type Error struct {
	Kind   string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind
}

// Is lets errors.Is match against the sentinel values by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrSubscriptionNotFound = &Error{Kind: KindSubscriptionNotFound}
	ErrSubscriptionClosed   = &Error{Kind: KindSubscriptionClosed}
)

// ProviderError builds a ProviderError with formatted detail text.
func ProviderError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindProviderError, Detail: fmt.Sprintf(format, args...)}
}

func (e Error) MarshalJSON() ([]byte, error) {
	if e.Kind == KindProviderError {
		return json.Marshal(struct {
			P string `json:"ProviderError"`
		}{e.Detail})
	}
	return json.Marshal(e.Kind)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		switch unit {
		case KindSubscriptionNotFound, KindSubscriptionClosed:
			*e = Error{Kind: unit}
			return nil
		}
		return fmt.Errorf("eth: unknown error variant %q", unit)
	}
	var tagged struct {
		P *string `json:"ProviderError"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if tagged.P == nil {
		return fmt.Errorf("eth: unknown error variant")
	}
	*e = Error{Kind: KindProviderError, Detail: *tagged.P}
	return nil
}
