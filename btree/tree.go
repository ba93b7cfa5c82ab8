// Package btree implements the ordered index of a tangle: a B-tree laid out
// as an array of fixed-size nodes inside the index segment, whose value
// entries reference key bytes and value bytes in the key and data segments.
//
// Node 0 is always the root. All mutators run on the owning tangle's worker;
// nothing here synchronizes.
package btree

import (
	"bytes"
	"fmt"
	"math"

	"github.com/viant/tangle/segment"
)

const noParent = int64(-1)

// Tree is the ordered index over the three segments of one tangle.
type Tree struct {
	index *segment.Segment
	keys  *segment.Segment
	data  *segment.Segment
}

// New opens the tree over the given segments, bootstrapping an empty root
// when the index segment is fresh.
func New(index, keys, data *segment.Segment) (*Tree, error) {
	t := &Tree{index: index, keys: keys, data: data}
	if index.Len() == 0 {
		if err := t.bootstrap(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) bootstrap() error {
	offset, err := t.index.Allocate(NodeSize)
	if err != nil {
		return err
	}
	if offset != 0 {
		return fmt.Errorf("btree: root allocated at offset %d", offset)
	}
	root, err := t.openNode(0, segment.ModeWrite)
	if err != nil {
		return err
	}
	root.setLeaf(true)
	root.setCount(0)
	root.setParent(noParent)
	root.close()
	return nil
}

// NodeCount returns the number of allocated nodes.
func (t *Tree) NodeCount() int64 {
	return t.index.Len() / NodeSize
}

// compare orders the entry's key bytes against probe.
func (t *Tree) compare(e Entry, probe []byte) (int, error) {
	if e.KeyLength == 0 {
		return bytes.Compare(nil, probe), nil
	}
	rng, err := t.keys.Access(int64(e.KeyOffset), int64(e.KeyLength), segment.ModeRead)
	if err != nil {
		return 0, err
	}
	cmp := bytes.Compare(rng.Bytes(), probe)
	rng.Release()
	return cmp, nil
}

// search binary-searches the node for probe. It returns the matching slot, or
// the insertion slot with found=false.
func (t *Tree) search(n *node, probe []byte) (int, bool, error) {
	lo, hi := 0, n.count()
	for lo < hi {
		mid := (lo + hi) / 2
		cmp, err := t.compare(n.entry(mid), probe)
		if err != nil {
			return 0, false, err
		}
		switch {
		case cmp == 0:
			return mid, true, nil
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false, nil
}

// Find locates the slot holding key, or the leaf insertion slot when absent.
// A found slot may reference a deleted entry; callers inspect Entry.Status.
func (t *Tree) Find(key []byte) (Ref, Entry, bool, error) {
	idx := int64(0)
	for {
		n, err := t.openNode(idx, segment.ModeRead)
		if err != nil {
			return Ref{}, Entry{}, false, err
		}
		slot, found, err := t.search(n, key)
		if err != nil {
			n.close()
			return Ref{}, Entry{}, false, err
		}
		if found {
			e := n.entry(slot)
			n.close()
			return Ref{Node: idx, Slot: slot}, e, true, nil
		}
		if n.leaf() {
			n.close()
			return Ref{Node: idx, Slot: slot}, Entry{}, false, nil
		}
		child := n.child(slot)
		n.close()
		idx = child
	}
}

// Entry re-reads the entry addressed by ref.
func (t *Tree) Entry(ref Ref) (Entry, error) {
	n, err := t.openNode(ref.Node, segment.ModeRead)
	if err != nil {
		return Entry{}, err
	}
	if ref.Slot >= n.count() {
		n.close()
		return Entry{}, fmt.Errorf("btree: slot %d out of range", ref.Slot)
	}
	e := n.entry(ref.Slot)
	n.close()
	return e, nil
}

// Key returns a copy of the entry's key bytes.
func (t *Tree) Key(e Entry) ([]byte, error) {
	return t.copyOut(t.keys, int64(e.KeyOffset), int64(e.KeyLength))
}

// Value returns a copy of the entry's value bytes.
func (t *Tree) Value(e Entry) ([]byte, error) {
	return t.copyOut(t.data, int64(e.DataOffset), int64(e.DataLength))
}

func (t *Tree) copyOut(seg *segment.Segment, offset, size int64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	rng, err := seg.Access(offset, size, segment.ModeRead)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, rng.Bytes())
	rng.Release()
	return out, nil
}

func (t *Tree) copyIn(seg *segment.Segment, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	rng, err := seg.Access(offset, int64(len(data)), segment.ModeWrite)
	if err != nil {
		return err
	}
	copy(rng.Bytes(), data)
	rng.Release()
	return nil
}

// allocBytes appends data to seg and returns the u32 offset entries store.
func (t *Tree) allocBytes(seg *segment.Segment, data []byte) (uint32, error) {
	offset, err := seg.Allocate(int64(len(data)))
	if err != nil {
		return 0, err
	}
	if offset+int64(len(data)) > math.MaxUint32 {
		return 0, ErrAddressSpace
	}
	if err := t.copyIn(seg, offset, data); err != nil {
		return 0, err
	}
	return uint32(offset), nil
}

func (t *Tree) isFull(idx int64) (bool, error) {
	n, err := t.openNode(idx, segment.ModeRead)
	if err != nil {
		return false, err
	}
	full := n.count() == MaxValuesPerNode
	n.close()
	return full, nil
}

// Insert adds a new entry for key. The key must not already be present; key
// bytes and value bytes are appended to their segments before the slot is
// published.
func (t *Tree) Insert(key []byte, keyType uint8, value []byte) (Ref, error) {
	keyOffset, err := t.allocBytes(t.keys, key)
	if err != nil {
		return Ref{}, err
	}
	dataOffset, err := t.allocBytes(t.data, value)
	if err != nil {
		return Ref{}, err
	}
	e := Entry{
		KeyOffset:  keyOffset,
		KeyLength:  uint16(len(key)),
		DataOffset: dataOffset,
		DataLength: uint32(len(value)),
		KeyType:    keyType,
		Status:     StatusModifying,
	}

	if full, err := t.isFull(0); err != nil {
		return Ref{}, err
	} else if full {
		if err := t.splitRoot(); err != nil {
			return Ref{}, err
		}
	}
	idx := int64(0)
	for {
		n, err := t.openNode(idx, segment.ModeRead)
		if err != nil {
			return Ref{}, err
		}
		slot, found, err := t.search(n, key)
		if err != nil {
			n.close()
			return Ref{}, err
		}
		if found {
			n.close()
			return Ref{}, fmt.Errorf("btree: duplicate insert")
		}
		if n.leaf() {
			n.close()
			return t.insertLeaf(idx, slot, e)
		}
		child := n.child(slot)
		n.close()
		full, err := t.isFull(child)
		if err != nil {
			return Ref{}, err
		}
		if full {
			if err := t.splitChild(idx, slot, child); err != nil {
				return Ref{}, err
			}
			continue // re-search this node; the promoted median shifted slots
		}
		idx = child
	}
}

func (t *Tree) insertLeaf(idx int64, slot int, e Entry) (Ref, error) {
	n, err := t.openNode(idx, segment.ModeWrite)
	if err != nil {
		return Ref{}, err
	}
	n.setModifying(true)
	n.insertAt(slot, e, 0)
	n.setStatus(slot, StatusValid)
	n.setModifying(false)
	n.close()
	return Ref{Node: idx, Slot: slot}, nil
}

// allocNode appends a fresh node to the index segment. No ranges may be held.
func (t *Tree) allocNode() (int64, error) {
	offset, err := t.index.Allocate(NodeSize)
	if err != nil {
		return 0, err
	}
	return offset / NodeSize, nil
}

// splitChild splits the full node child sitting at the parent's slot,
// promoting the median entry into the parent.
func (t *Tree) splitChild(parentIdx int64, slot int, childIdx int64) error {
	rightIdx, err := t.allocNode()
	if err != nil {
		return err
	}
	parent, err := t.openNode(parentIdx, segment.ModeWrite)
	if err != nil {
		return err
	}
	child, err := t.openNode(childIdx, segment.ModeWrite)
	if err != nil {
		parent.close()
		return err
	}
	right, err := t.openNode(rightIdx, segment.ModeWrite)
	if err != nil {
		parent.close()
		child.close()
		return err
	}
	parent.setModifying(true)
	child.setModifying(true)
	right.setModifying(true)

	mid := MaxValuesPerNode / 2
	median := child.entry(mid)
	leaf := child.leaf()

	right.setLeaf(leaf)
	right.setParent(parentIdx)
	moved := MaxValuesPerNode - mid - 1
	for i := 0; i < moved; i++ {
		right.setEntry(i, child.entry(mid+1+i))
	}
	if !leaf {
		for i := 0; i <= moved; i++ {
			right.setChild(i, child.child(mid+1+i))
		}
	}
	right.setCount(moved)

	for i := mid; i < MaxValuesPerNode; i++ {
		child.clearEntry(i)
	}
	if !leaf {
		for i := mid + 1; i <= MaxValuesPerNode; i++ {
			child.setChild(i, 0)
		}
	}
	child.setCount(mid)

	parent.insertAt(slot, median, rightIdx)

	parent.setModifying(false)
	child.setModifying(false)
	right.setModifying(false)
	parent.close()
	child.close()
	right.close()

	if !leaf {
		return t.reparent(rightIdx)
	}
	return nil
}

// splitRoot splits a full root in place: the root keeps only the median and
// becomes internal over two freshly allocated halves. Node 0 stays the root.
func (t *Tree) splitRoot() error {
	leftIdx, err := t.allocNode()
	if err != nil {
		return err
	}
	rightIdx, err := t.allocNode()
	if err != nil {
		return err
	}
	root, err := t.openNode(0, segment.ModeWrite)
	if err != nil {
		return err
	}
	left, err := t.openNode(leftIdx, segment.ModeWrite)
	if err != nil {
		root.close()
		return err
	}
	right, err := t.openNode(rightIdx, segment.ModeWrite)
	if err != nil {
		root.close()
		left.close()
		return err
	}
	root.setModifying(true)
	left.setModifying(true)
	right.setModifying(true)

	leaf := root.leaf()
	mid := MaxValuesPerNode / 2
	median := root.entry(mid)

	left.setLeaf(leaf)
	left.setParent(0)
	for i := 0; i < mid; i++ {
		left.setEntry(i, root.entry(i))
	}
	if !leaf {
		for i := 0; i <= mid; i++ {
			left.setChild(i, root.child(i))
		}
	}
	left.setCount(mid)

	right.setLeaf(leaf)
	right.setParent(0)
	moved := MaxValuesPerNode - mid - 1
	for i := 0; i < moved; i++ {
		right.setEntry(i, root.entry(mid+1+i))
	}
	if !leaf {
		for i := 0; i <= moved; i++ {
			right.setChild(i, root.child(mid+1+i))
		}
	}
	right.setCount(moved)

	for i := 0; i < MaxValuesPerNode; i++ {
		root.clearEntry(i)
	}
	for i := 0; i <= MaxValuesPerNode; i++ {
		root.setChild(i, 0)
	}
	root.setLeaf(false)
	root.setEntry(0, median)
	root.setChild(0, leftIdx)
	root.setChild(1, rightIdx)
	root.setCount(1)

	root.setModifying(false)
	left.setModifying(false)
	right.setModifying(false)
	root.close()
	left.close()
	right.close()

	if !leaf {
		if err := t.reparent(leftIdx); err != nil {
			return err
		}
		return t.reparent(rightIdx)
	}
	return nil
}

// reparent rewrites the parent pointer of every child of the given node.
func (t *Tree) reparent(idx int64) error {
	n, err := t.openNode(idx, segment.ModeRead)
	if err != nil {
		return err
	}
	count := n.count()
	children := make([]int64, count+1)
	for i := 0; i <= count; i++ {
		children[i] = n.child(i)
	}
	n.close()
	for _, childIdx := range children {
		child, err := t.openNode(childIdx, segment.ModeWrite)
		if err != nil {
			return err
		}
		child.setParent(idx)
		child.close()
	}
	return nil
}

// Replace overwrites the value of an existing entry. When the new value fits
// the old slot the bytes are written in place and the tail zeroed; otherwise a
// fresh data slot is appended and the old range orphaned. It returns the
// number of data bytes wasted by the replacement.
func (t *Tree) Replace(ref Ref, value []byte) (int64, error) {
	n, err := t.openNode(ref.Node, segment.ModeWrite)
	if err != nil {
		return 0, err
	}
	e := n.entry(ref.Slot)
	n.setStatus(ref.Slot, StatusModifying)
	n.close()

	oldLength := int64(e.DataLength)
	newLength := int64(len(value))
	var wasted int64
	if newLength <= oldLength {
		if oldLength > 0 {
			rng, err := t.data.Access(int64(e.DataOffset), oldLength, segment.ModeWrite)
			if err != nil {
				return 0, err
			}
			b := rng.Bytes()
			copy(b, value)
			for i := newLength; i < oldLength; i++ {
				b[i] = 0
			}
			rng.Release()
		}
		wasted = oldLength - newLength
		e.DataLength = uint32(newLength)
	} else {
		offset, err := t.allocBytes(t.data, value)
		if err != nil {
			return 0, err
		}
		wasted = oldLength
		e.DataOffset = offset
		e.DataLength = uint32(newLength)
	}

	n, err = t.openNode(ref.Node, segment.ModeWrite)
	if err != nil {
		return 0, err
	}
	e.Status = StatusValid
	n.setEntry(ref.Slot, e)
	n.close()
	return wasted, nil
}

// Revive republishes a deleted slot with a fresh value, reusing its key bytes.
func (t *Tree) Revive(ref Ref, value []byte) error {
	n, err := t.openNode(ref.Node, segment.ModeWrite)
	if err != nil {
		return err
	}
	e := n.entry(ref.Slot)
	n.setStatus(ref.Slot, StatusModifying)
	n.close()

	offset, err := t.allocBytes(t.data, value)
	if err != nil {
		return err
	}
	e.DataOffset = offset
	e.DataLength = uint32(len(value))
	e.Status = StatusValid

	n, err = t.openNode(ref.Node, segment.ModeWrite)
	if err != nil {
		return err
	}
	n.setEntry(ref.Slot, e)
	n.close()
	return nil
}

// Delete tombstones the entry, orphaning its data bytes. The slot and its key
// bytes remain allocated. It returns the number of orphaned data bytes.
func (t *Tree) Delete(ref Ref) (int64, error) {
	n, err := t.openNode(ref.Node, segment.ModeWrite)
	if err != nil {
		return 0, err
	}
	e := n.entry(ref.Slot)
	n.setStatus(ref.Slot, StatusEmpty)
	n.close()
	return int64(e.DataLength), nil
}

// Walk yields live entries in ascending key order. The callback receives a
// copy of the key bytes; returning false stops the traversal.
func (t *Tree) Walk(fn func(ref Ref, e Entry, key []byte) (bool, error)) error {
	_, err := t.walk(0, fn)
	return err
}

func (t *Tree) walk(idx int64, fn func(ref Ref, e Entry, key []byte) (bool, error)) (bool, error) {
	n, err := t.openNode(idx, segment.ModeRead)
	if err != nil {
		return false, err
	}
	leaf := n.leaf()
	count := n.count()
	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		entries[i] = n.entry(i)
	}
	var children []int64
	if !leaf {
		children = make([]int64, count+1)
		for i := 0; i <= count; i++ {
			children[i] = n.child(i)
		}
	}
	n.close()

	for i := 0; i < count; i++ {
		if !leaf {
			more, err := t.walk(children[i], fn)
			if err != nil || !more {
				return more, err
			}
		}
		if entries[i].Status != StatusValid {
			continue
		}
		key, err := t.Key(entries[i])
		if err != nil {
			return false, err
		}
		more, err := fn(Ref{Node: idx, Slot: i}, entries[i], key)
		if err != nil || !more {
			return more, err
		}
	}
	if !leaf {
		return t.walk(children[count], fn)
	}
	return true, nil
}

// Validate scans every node after open, refusing trees that were interrupted
// mid-modification. It returns the number of live entries.
func (t *Tree) Validate() (int64, error) {
	nodeCount := t.NodeCount()
	var live int64
	err := t.validateNode(0, noParent, nodeCount, &live)
	return live, err
}

func (t *Tree) validateNode(idx, parent, nodeCount int64, live *int64) error {
	n, err := t.openNode(idx, segment.ModeRead)
	if err != nil {
		return err
	}
	if n.modifying() {
		n.close()
		return fmt.Errorf("%w: node %d left in modification", ErrInvalidData, idx)
	}
	if got := n.parent(); got != parent {
		n.close()
		return fmt.Errorf("%w: node %d parent %d, expected %d", ErrInvalidData, idx, got, parent)
	}
	leaf := n.leaf()
	count := n.count()
	if count > MaxValuesPerNode {
		n.close()
		return fmt.Errorf("%w: node %d holds %d values", ErrInvalidData, idx, count)
	}
	var children []int64
	for i := 0; i < count; i++ {
		status := n.entry(i).Status
		if status == StatusModifying {
			n.close()
			return fmt.Errorf("%w: entry %d of node %d left in modification", ErrInvalidData, i, idx)
		}
		if status == StatusValid {
			*live++
		}
	}
	if !leaf {
		children = make([]int64, count+1)
		for i := 0; i <= count; i++ {
			child := n.child(i)
			if child <= 0 || child >= nodeCount {
				n.close()
				return fmt.Errorf("%w: node %d references node %d of %d", ErrInvalidData, idx, child, nodeCount)
			}
			children[i] = child
		}
	}
	n.close()
	for _, child := range children {
		if err := t.validateNode(child, idx, nodeCount, live); err != nil {
			return err
		}
	}
	return nil
}

// Clear resets the tree to a single empty root and abandons key and data
// payloads.
func (t *Tree) Clear() error {
	if err := t.index.Reset(); err != nil {
		return err
	}
	if err := t.keys.Reset(); err != nil {
		return err
	}
	if err := t.data.Reset(); err != nil {
		return err
	}
	return t.bootstrap()
}

// Flush drops cached views on all three segments. Ranges must be idle.
func (t *Tree) Flush() error {
	if err := t.index.Flush(); err != nil {
		return err
	}
	if err := t.keys.Flush(); err != nil {
		return err
	}
	return t.data.Flush()
}

// Sync flushes the three segments to stable storage.
func (t *Tree) Sync() error {
	if err := t.index.Sync(); err != nil {
		return err
	}
	if err := t.keys.Sync(); err != nil {
		return err
	}
	return t.data.Sync()
}
