// Package tangle implements a persistent, embedded, single-process ordered
// key/value store. Keys are typed byte strings; values pass through a
// caller-supplied codec. Three memory-mapped segments back each tangle
// (index, keys, data) and every mutation funnels through a single worker so
// on-disk invariants never need cross-goroutine synchronization.
package tangle

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/viant/tangle/btree"
	"github.com/viant/tangle/queue"
	"github.com/viant/tangle/segment"
	"github.com/viant/tangle/storage"
	"github.com/viant/tangle/storage/dirstore"
)

// FormatVersion is the on-disk format written and accepted by this release.
const FormatVersion = 1

// Stream names within a source.
const (
	StreamIndex = "index"
	StreamKeys  = "keys"
	StreamData  = "data"
)

// Tangle is one persistent ordered map.
type Tangle struct {
	opts   options
	source storage.Source
	codec  Codec

	indexSeg *segment.Segment
	keySeg   *segment.Segment
	dataSeg  *segment.Segment
	lockFd   uintptr

	tree  *btree.Tree
	queue *queue.Queue

	version atomic.Uint32
	count   atomic.Int64
	wasted  atomic.Int64
	closed  atomic.Bool

	log *logrus.Logger
}

// Open creates or opens a tangle stored as prefixed files under baseURL.
func Open(ctx context.Context, baseURL string, codec Codec, opts ...Option) (*Tangle, error) {
	o := newOptions(opts)
	source, err := dirstore.New(ctx, baseURL, o.name)
	if err != nil {
		return nil, err
	}
	t, err := New(source, codec, append(opts, WithOwnedSource(true))...)
	if err != nil {
		_ = source.Close()
		return nil, err
	}
	return t, nil
}

// New opens a tangle over the given source. Unless configured with
// WithOwnedSource, the caller keeps ownership of the source.
func New(source storage.Source, codec Codec, opts ...Option) (*Tangle, error) {
	o := newOptions(opts)
	t := &Tangle{opts: o, source: source, codec: codec, log: o.logger}

	var err error
	if t.indexSeg, t.lockFd, err = t.openIndexSegment(); err != nil {
		t.release()
		return nil, err
	}
	if t.keySeg, err = t.openSegment(StreamKeys, o.dataQuantum); err != nil {
		t.release()
		return nil, err
	}
	if t.dataSeg, err = t.openSegment(StreamData, o.dataQuantum); err != nil {
		t.release()
		return nil, err
	}
	for _, seg := range []*segment.Segment{t.indexSeg, t.keySeg, t.dataSeg} {
		if err := checkFormat(seg); err != nil {
			t.release()
			return nil, err
		}
	}
	if t.tree, err = btree.New(t.indexSeg, t.keySeg, t.dataSeg); err != nil {
		t.release()
		return nil, err
	}
	live, err := t.tree.Validate()
	if err != nil {
		t.release()
		return nil, err
	}
	t.count.Store(live)
	t.queue = queue.New(queue.Options{
		IdleTimeout: o.idleTimeout,
		OnIdle:      t.flushOnIdle,
		Logger:      o.logger,
	})
	t.log.WithFields(logrus.Fields{
		"name":  o.name,
		"count": live,
		"nodes": t.NodeCount(),
	}).Debug("tangle opened")
	return t, nil
}

func (t *Tangle) openIndexSegment() (*segment.Segment, uintptr, error) {
	stream, err := t.source.Open(StreamIndex)
	if err != nil {
		return nil, 0, err
	}
	fd := stream.Fd()
	if err := lockStream(fd); err != nil {
		_ = stream.Close()
		return nil, 0, err
	}
	seg, err := segment.Open(stream, segment.Options{
		InitialCapacity: t.opts.initialCapacity,
		GrowthQuantum:   t.opts.indexQuantum,
		ViewCacheSize:   t.opts.viewCacheSize,
		Logger:          t.log,
	})
	if err != nil {
		_ = unlockStream(fd)
		_ = stream.Close()
		return nil, 0, err
	}
	return seg, fd, nil
}

func (t *Tangle) openSegment(name string, quantum int64) (*segment.Segment, error) {
	stream, err := t.source.Open(name)
	if err != nil {
		return nil, err
	}
	seg, err := segment.Open(stream, segment.Options{
		InitialCapacity: t.opts.initialCapacity,
		GrowthQuantum:   quantum,
		ViewCacheSize:   t.opts.viewCacheSize,
		Logger:          t.log,
	})
	if err != nil {
		_ = stream.Close()
		return nil, err
	}
	return seg, nil
}

func checkFormat(seg *segment.Segment) error {
	switch version := seg.FormatVersion(); version {
	case 0:
		return seg.SetFormatVersion(FormatVersion)
	case FormatVersion:
		return nil
	default:
		return fmt.Errorf("%w: stored %d, supported %d", ErrFormat, version, FormatVersion)
	}
}

// release tears down partially opened state.
func (t *Tangle) release() {
	for _, seg := range []*segment.Segment{t.indexSeg, t.keySeg, t.dataSeg} {
		if seg != nil {
			_ = seg.Close()
		}
	}
	if t.lockFd != 0 {
		_ = unlockStream(t.lockFd)
	}
}

func (t *Tangle) enqueue(op queue.Operation) *queue.Future {
	if t.closed.Load() {
		return queue.Failed(ErrClosed)
	}
	return t.queue.Enqueue(op)
}

func (t *Tangle) bump() {
	t.version.Add(1)
}

// Get resolves key to its stored value. The future fails with a
// KeyNotFoundError when the key is absent.
func (t *Tangle) Get(key Key) *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		return t.getLocked(key)
	})
}

// Set stores value under key, overwriting any previous value. The future
// resolves to true once written.
func (t *Tangle) Set(key Key, value interface{}) *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		return t.setLocked(key, value, true)
	})
}

// Add stores value under key only when absent. The future resolves to false
// when the key already existed.
func (t *Tangle) Add(key Key, value interface{}) *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		return t.setLocked(key, value, false)
	})
}

// Update applies fn to the value stored under key; fn returns the replacement
// and whether to store it. When the key is absent, defaultValue is inserted
// without invoking fn. The future resolves to true unless fn aborted.
func (t *Tangle) Update(key Key, defaultValue interface{}, fn func(old interface{}) (interface{}, bool)) *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		ref, e, found, err := t.tree.Find(key.data)
		if err != nil {
			return nil, err
		}
		if !found || e.Status != btree.StatusValid {
			if _, err := t.insertLocked(ref, found, key, defaultValue); err != nil {
				return nil, err
			}
			return true, nil
		}
		old, err := t.decodeEntry(key, e)
		if err != nil {
			return nil, err
		}
		replacement, replace := fn(old)
		if !replace {
			return false, nil
		}
		data, err := t.encode(key, replacement)
		if err != nil {
			return nil, err
		}
		wasted, err := t.tree.Replace(ref, data)
		if err != nil {
			return nil, err
		}
		t.wasted.Add(wasted)
		t.bump()
		return true, nil
	})
}

// Delete tombstones key. The future resolves to false when the key was
// absent.
func (t *Tangle) Delete(key Key) *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		ref, e, found, err := t.tree.Find(key.data)
		if err != nil {
			return nil, err
		}
		if !found || e.Status != btree.StatusValid {
			return false, nil
		}
		freed, err := t.tree.Delete(ref)
		if err != nil {
			return nil, err
		}
		t.wasted.Add(freed)
		t.count.Add(-1)
		t.bump()
		return true, nil
	})
}

// Entry is one key/value pair of a batch.
type Entry struct {
	Key   Key
	Value interface{}
}

// SetBatch stores the entries as one contiguous queue item. The future
// resolves to the number of entries written.
func (t *Tangle) SetBatch(entries []Entry) *queue.Future {
	if len(entries) > t.opts.maxBatch {
		return queue.Failed(fmt.Errorf("%w: %d entries, bound %d", ErrBatchTooLarge, len(entries), t.opts.maxBatch))
	}
	owned := append([]Entry(nil), entries...)
	return t.enqueue(func() (interface{}, error) {
		written := 0
		for _, entry := range owned {
			stored, err := t.setLocked(entry.Key, entry.Value, true)
			if err != nil {
				return written, err
			}
			if stored == true {
				written++
			}
		}
		return written, nil
	})
}

// Clear resets the tangle to empty, abandoning key and data payloads.
func (t *Tangle) Clear() *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		if err := t.tree.Clear(); err != nil {
			return nil, err
		}
		t.count.Store(0)
		t.wasted.Store(0)
		t.bump()
		t.log.WithField("name", t.opts.name).Debug("tangle cleared")
		return nil, nil
	})
}

// Barrier enqueues an open barrier: its future completes once every earlier
// operation has executed.
func (t *Tangle) Barrier() *queue.Barrier {
	return t.queue.Barrier(true)
}

// ClosedBarrier enqueues a closed barrier: once reached, the worker blocks
// all later operations until Open is called.
func (t *Tangle) ClosedBarrier() *queue.Barrier {
	return t.queue.Barrier(false)
}

// Sync flushes segment content to stable storage after all earlier
// operations.
func (t *Tangle) Sync() *queue.Future {
	return t.enqueue(func() (interface{}, error) {
		return nil, t.tree.Sync()
	})
}

// Count returns the number of live entries. Safe from any goroutine.
func (t *Tangle) Count() int64 {
	return t.count.Load()
}

// Version returns the mutation counter. Safe from any goroutine.
func (t *Tangle) Version() uint32 {
	return t.version.Load()
}

// WastedDataBytes returns the data bytes orphaned by replacements and
// deletes. Safe from any goroutine.
func (t *Tangle) WastedDataBytes() int64 {
	return t.wasted.Load()
}

// NodeCount returns the number of allocated index nodes. Safe from any
// goroutine.
func (t *Tangle) NodeCount() int64 {
	return t.indexSeg.Len() / btree.NodeSize
}

// Close disposes the queue, failing pending operations, then flushes and
// closes the segments and, when owned, the source.
func (t *Tangle) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.queue.Dispose()
	var firstErr error
	if err := t.tree.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if t.lockFd != 0 {
		_ = unlockStream(t.lockFd)
	}
	for _, seg := range []*segment.Segment{t.indexSeg, t.keySeg, t.dataSeg} {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.opts.ownSource {
		if err := t.source.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.log.WithField("name", t.opts.name).Debug("tangle closed")
	return firstErr
}

func (t *Tangle) flushOnIdle() {
	if err := t.tree.Flush(); err != nil {
		t.log.WithError(err).Warn("idle flush failed")
		return
	}
	if err := t.tree.Sync(); err != nil {
		t.log.WithError(err).Warn("idle sync failed")
	}
}

func (t *Tangle) getLocked(key Key) (interface{}, error) {
	_, e, found, err := t.tree.Find(key.data)
	if err != nil {
		return nil, err
	}
	if !found || e.Status != btree.StatusValid {
		return nil, &KeyNotFoundError{Key: key}
	}
	return t.decodeEntry(key, e)
}

func (t *Tangle) setLocked(key Key, value interface{}, overwrite bool) (interface{}, error) {
	ref, e, found, err := t.tree.Find(key.data)
	if err != nil {
		return nil, err
	}
	if found && e.Status == btree.StatusValid {
		if !overwrite {
			return false, nil
		}
		data, err := t.encode(key, value)
		if err != nil {
			return nil, err
		}
		wasted, err := t.tree.Replace(ref, data)
		if err != nil {
			return nil, err
		}
		t.wasted.Add(wasted)
		t.bump()
		return true, nil
	}
	return t.insertLocked(ref, found, key, value)
}

// insertLocked publishes a new value at an insertion slot (found=false) or a
// tombstoned slot (found=true).
func (t *Tangle) insertLocked(ref btree.Ref, found bool, key Key, value interface{}) (interface{}, error) {
	data, err := t.encode(key, value)
	if err != nil {
		return nil, err
	}
	if found {
		if err := t.tree.Revive(ref, data); err != nil {
			return nil, err
		}
	} else {
		if _, err := t.tree.Insert(key.data, uint8(key.kind), data); err != nil {
			return nil, err
		}
	}
	t.count.Add(1)
	t.bump()
	return true, nil
}

func (t *Tangle) encode(key Key, value interface{}) ([]byte, error) {
	data, err := t.codec.Encode(value)
	if err != nil {
		return nil, &CodecError{Key: key, Err: err}
	}
	return data, nil
}

func (t *Tangle) decodeEntry(key Key, e btree.Entry) (interface{}, error) {
	raw, err := t.tree.Value(e)
	if err != nil {
		return nil, err
	}
	value, err := t.codec.Decode(raw)
	if err != nil {
		return nil, &CodecError{Key: key, Err: err}
	}
	return value, nil
}
