package journal

import (
	"fmt"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Journal is an on-disk trail of relayed subscription events, kept for
// inspection and replay during debugging. Keys are zero-padded so prefix
// iteration yields events in append order.
type Journal struct{ db *leveldb.DB }

func Open(path string) (*Journal, error) {
	p := filepath.Clean(path)
	db, err := leveldb.OpenFile(p, nil)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", p, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func keyEvent(owner string, subID, seq uint64) []byte {
	return []byte(fmt.Sprintf("ev:%s:%020d:%020d", owner, subID, seq))
}

func prefixSub(owner string, subID uint64) []byte {
	return []byte(fmt.Sprintf("ev:%s:%020d:", owner, subID))
}

// AppendEvent records one relayed event under its subscription and sequence
// number. The event bytes are stored verbatim.
func (j *Journal) AppendEvent(owner string, subID, seq uint64, event []byte) error {
	return j.db.Put(keyEvent(owner, subID, seq), event, nil)
}

// ListEvents returns up to limit recorded events for one subscription, in
// append order. limit <= 0 means no limit.
func (j *Journal) ListEvents(owner string, subID uint64, limit int) ([][]byte, error) {
	it := j.db.NewIterator(util.BytesPrefix(prefixSub(owner, subID)), nil)
	defer it.Release()

	var out [][]byte
	for it.Next() {
		ev := make([]byte, len(it.Value()))
		copy(ev, it.Value())
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, it.Error()
}

// EventCount counts recorded events for one subscription.
func (j *Journal) EventCount(owner string, subID uint64) (int, error) {
	it := j.db.NewIterator(util.BytesPrefix(prefixSub(owner, subID)), nil)
	defer it.Release()

	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}
