package tangle

import (
	"github.com/viant/tangle/btree"
	"github.com/viant/tangle/queue"
)

// Pair carries one key with its resolved value. Found is false when the key
// was absent and Value holds the request's default.
type Pair struct {
	Key   Key
	Value interface{}
	Found bool
}

// Keys resolves to every live key in ascending byte order.
func (t *Tangle) Keys() *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		keys := make([]Key, 0, t.count.Load())
		err := t.tree.Walk(func(ref btree.Ref, e btree.Entry, key []byte) (bool, error) {
			keys = append(keys, keyFromEntry(e.KeyType, key))
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		return keys, nil
	})
}

// Values resolves to every live value in key order.
func (t *Tangle) Values() *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		values := make([]interface{}, 0, t.count.Load())
		err := t.tree.Walk(func(ref btree.Ref, e btree.Entry, key []byte) (bool, error) {
			value, err := t.decodeEntry(keyFromEntry(e.KeyType, key), e)
			if err != nil {
				return false, err
			}
			values = append(values, value)
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		return values, nil
	})
}

// ForEach invokes fn for every live pair in key order; a non-nil error stops
// the traversal and fails the future.
func (t *Tangle) ForEach(fn func(key Key, value interface{}) error) *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		return nil, t.tree.Walk(func(ref btree.Ref, e btree.Entry, keyBytes []byte) (bool, error) {
			key := keyFromEntry(e.KeyType, keyBytes)
			value, err := t.decodeEntry(key, e)
			if err != nil {
				return false, err
			}
			if err := fn(key, value); err != nil {
				return false, err
			}
			return true, nil
		})
	})
}

// Select resolves the given keys in request order; absent keys yield pairs
// holding defaultValue.
func (t *Tangle) Select(keys []Key, defaultValue interface{}) *queue.Future {
	owned := append([]Key(nil), keys...)
	return t.enqueue(func() (interface{}, error) {
		pairs := make([]Pair, 0, len(owned))
		for _, key := range owned {
			pair, err := t.selectOne(key, defaultValue)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, pair)
		}
		return pairs, nil
	})
}

// Join resolves the given keys in request order, handing each pair to fn.
func (t *Tangle) Join(keys []Key, defaultValue interface{}, fn func(pair Pair) error) *queue.Future {
	owned := append([]Key(nil), keys...)
	return t.enqueue(func() (interface{}, error) {
		for _, key := range owned {
			pair, err := t.selectOne(key, defaultValue)
			if err != nil {
				return nil, err
			}
			if err := fn(pair); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
}

// MapReduce folds mapFn over every live pair in key order; pairs mapFn
// declines are skipped. The future resolves to the accumulated value.
func (t *Tangle) MapReduce(initial interface{},
	mapFn func(key Key, value interface{}) (interface{}, bool),
	reduceFn func(accumulator, mapped interface{}) interface{}) *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		accumulator := initial
		err := t.tree.Walk(func(ref btree.Ref, e btree.Entry, keyBytes []byte) (bool, error) {
			key := keyFromEntry(e.KeyType, keyBytes)
			value, err := t.decodeEntry(key, e)
			if err != nil {
				return false, err
			}
			if mapped, ok := mapFn(key, value); ok {
				accumulator = reduceFn(accumulator, mapped)
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		return accumulator, nil
	})
}

// CascadingSelect resolves keys, then follows the keys next derives from each
// resolved pair, breadth first, until next yields none. It resolves to every
// visited pair in visit order.
func (t *Tangle) CascadingSelect(keys []Key, defaultValue interface{},
	next func(pair Pair) ([]Key, error)) *queue.Future {
	owned := append([]Key(nil), keys...)
	return t.enqueue(func() (interface{}, error) {
		var pairs []Pair
		level := owned
		for len(level) > 0 {
			var following []Key
			for _, key := range level {
				pair, err := t.selectOne(key, defaultValue)
				if err != nil {
					return nil, err
				}
				pairs = append(pairs, pair)
				derived, err := next(pair)
				if err != nil {
					return nil, err
				}
				following = append(following, derived...)
			}
			level = following
		}
		return pairs, nil
	})
}

func (t *Tangle) selectOne(key Key, defaultValue interface{}) (Pair, error) {
	_, e, found, err := t.tree.Find(key.data)
	if err != nil {
		return Pair{}, err
	}
	if !found || e.Status != btree.StatusValid {
		return Pair{Key: key, Value: defaultValue}, nil
	}
	value, err := t.decodeEntry(key, e)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Key: key, Value: value, Found: true}, nil
}
