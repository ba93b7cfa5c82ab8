package tangle

import (
	"fmt"
	"io"

	"github.com/viant/tangle/btree"
	"github.com/viant/tangle/queue"
	"github.com/viant/tangle/segment"
)

// FindResult is a reusable reference to one located slot. It captures the
// tangle version at find time; every accessor revalidates that version and
// fails with ErrModified once any mutation intervened.
type FindResult struct {
	tangle  *Tangle
	key     Key
	version uint32
	ref     btree.Ref
}

// Find locates key and resolves to a *FindResult, or fails with a
// KeyNotFoundError.
func (t *Tangle) Find(key Key) *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		ref, e, found, err := t.tree.Find(key.data)
		if err != nil {
			return nil, err
		}
		if !found || e.Status != btree.StatusValid {
			return nil, &KeyNotFoundError{Key: key}
		}
		return &FindResult{tangle: t, key: key, version: t.version.Load(), ref: ref}, nil
	})
}

// Key returns the key the result was located for.
func (r *FindResult) Key() Key {
	return r.key
}

// Version returns the tangle version captured at find time.
func (r *FindResult) Version() uint32 {
	return r.version
}

// entryLocked revalidates the snapshot version and re-reads the slot.
func (r *FindResult) entryLocked() (btree.Entry, error) {
	if r.tangle.version.Load() != r.version {
		return btree.Entry{}, ErrModified
	}
	e, err := r.tangle.tree.Entry(r.ref)
	if err != nil {
		return btree.Entry{}, err
	}
	if e.Status != btree.StatusValid {
		return btree.Entry{}, &KeyNotFoundError{Key: r.key}
	}
	return e, nil
}

// Value decodes the referenced slot's current value.
func (r *FindResult) Value() *queue.Future {
	return r.tangle.enqueue(func() (interface{}, error) {
		e, err := r.entryLocked()
		if err != nil {
			return nil, err
		}
		return r.tangle.decodeEntry(r.key, e)
	})
}

// SetValue replaces the referenced slot's value. The mutation bumps the
// tangle version, invalidating this result for subsequent accesses.
func (r *FindResult) SetValue(value interface{}) *queue.Future {
	return r.tangle.enqueue(func() (interface{}, error) {
		if _, err := r.entryLocked(); err != nil {
			return nil, err
		}
		data, err := r.tangle.encode(r.key, value)
		if err != nil {
			return nil, err
		}
		return nil, r.replaceLocked(data)
	})
}

// Bytes pins the slot's raw value bytes and passes them to fn. The slice
// aliases the mapped segment and must not escape fn.
func (r *FindResult) Bytes(fn func(data []byte) error) *queue.Future {
	return r.tangle.enqueue(func() (interface{}, error) {
		e, err := r.entryLocked()
		if err != nil {
			return nil, err
		}
		if e.DataLength == 0 {
			return nil, fn(nil)
		}
		rng, err := r.tangle.dataSeg.Access(int64(e.DataOffset), int64(e.DataLength), segment.ModeRead)
		if err != nil {
			return nil, err
		}
		defer rng.Release()
		return nil, fn(rng.Bytes())
	})
}

// CopyTo streams the slot's raw value bytes into w, resolving to the number
// of bytes written.
func (r *FindResult) CopyTo(w io.Writer) *queue.Future {
	return r.tangle.enqueue(func() (interface{}, error) {
		e, err := r.entryLocked()
		if err != nil {
			return nil, err
		}
		if e.DataLength == 0 {
			return int64(0), nil
		}
		rng, err := r.tangle.dataSeg.Access(int64(e.DataOffset), int64(e.DataLength), segment.ModeRead)
		if err != nil {
			return nil, err
		}
		defer rng.Release()
		n, err := w.Write(rng.Bytes())
		return int64(n), err
	})
}

// CopyFrom replaces the slot's value with raw bytes read from rd, bypassing
// the codec.
func (r *FindResult) CopyFrom(rd io.Reader) *queue.Future {
	return r.tangle.enqueue(func() (interface{}, error) {
		if _, err := r.entryLocked(); err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			return nil, fmt.Errorf("tangle: copy from: %w", err)
		}
		return nil, r.replaceLocked(data)
	})
}

func (r *FindResult) replaceLocked(data []byte) error {
	wasted, err := r.tangle.tree.Replace(r.ref, data)
	if err != nil {
		return err
	}
	r.tangle.wasted.Add(wasted)
	r.tangle.bump()
	return nil
}
