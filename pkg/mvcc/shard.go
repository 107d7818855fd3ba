// pkg/mvcc/shard.go
package mvcc

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"strata/pkg/types"
)

// item is the ordered element stored in a shard's btree, keyed by the
// encoded Key bytes so ordering matches types.Key.Compare exactly.
type item struct {
	encodedKey []byte
	key        types.Key
	value      types.StoredValue
}

func (i *item) Less(than btree.Item) bool {
	other := than.(*item)
	return bytes.Compare(i.encodedKey, other.encodedKey) < 0
}

// shard is one partition of the sharded MVCC store: an ordered in-memory
// map from Key to StoredValue, individually synchronized so that writers
// to different shards never contend.
type shard struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

const shardBTreeDegree = 32

func newShard() *shard {
	return &shard{tree: btree.New(shardBTreeDegree)}
}

func (s *shard) get(key types.Key) (types.StoredValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := s.tree.Get(&item{encodedKey: key.Encode()})
	if found == nil {
		return types.StoredValue{}, false
	}
	return found.(*item).value, true
}

func (s *shard) put(key types.Key, sv types.StoredValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(&item{encodedKey: key.Encode(), key: key, value: sv})
}

// scanPrefix walks the shard's ordered keys that extend prefix, in
// ascending order, invoking visit for each. Stops early if visit returns
// false.
func (s *shard) scanPrefix(prefix []byte, visit func(types.Key, types.StoredValue) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pivot := &item{encodedKey: prefix}
	s.tree.AscendGreaterOrEqual(pivot, func(bi btree.Item) bool {
		it := bi.(*item)
		if !bytes.HasPrefix(it.encodedKey, prefix) {
			return false
		}
		return visit(it.key, it.value)
	})
}

// clone returns a shallow, structure-shared copy of the shard suitable for
// a point-in-time snapshot view: google/btree.Clone is O(1) and
// copy-on-write, so later writes to the live shard never mutate the
// clone's nodes.
func (s *shard) clone() *btree.BTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Clone()
}

// deleteKey permanently removes key from the shard, bypassing the
// tombstone mechanism entirely. Used by cascading run deletion, where the
// data must actually vanish rather than leave a versioned tombstone behind.
func (s *shard) deleteKey(key types.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(&item{encodedKey: key.Encode()})
}

func (s *shard) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}
