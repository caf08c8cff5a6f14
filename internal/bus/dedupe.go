package bus

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultDedupeMax = 4096
	DefaultDedupeTTL = 60 * time.Second
)

// Deduper drops envelopes already seen recently. A correlation id is only
// unique within its sender's namespace, so the dedupe key is (source, id).
type Deduper struct {
	seen *expirable.LRU[string, struct{}]
}

func NewDeduper(max int, ttl time.Duration) *Deduper {
	if max <= 0 {
		max = DefaultDedupeMax
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &Deduper{seen: expirable.NewLRU[string, struct{}](max, nil, ttl)}
}

// Seen records the envelope and reports whether it was already present.
func (d *Deduper) Seen(env *Envelope) bool {
	key := fmt.Sprintf("%s|%d", env.Source, env.ID)
	if _, ok := d.seen.Get(key); ok {
		return true
	}
	d.seen.Add(key, struct{}{})
	return false
}
