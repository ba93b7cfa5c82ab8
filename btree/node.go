package btree

import (
	"encoding/binary"

	"github.com/viant/tangle/segment"
)

// On-disk node layout, little-endian:
//
//	| is_leaf | is_modifying | num_values | parent_index | entries            | children            |
//	|   1B    |      1B      |     2B     |      8B      | maxValues x 16B    | (maxValues+1) x 8B  |
//
// A value entry:
//
//	| key_offset | key_length | data_offset | data_length | key_type | status |
//	|     4B     |     2B     |     4B      |     4B      |    1B    |   1B   |
const (
	// NodeSize is the fixed on-disk size of one node.
	NodeSize = 4096

	nodeHeaderSize = 12
	entrySize      = 16

	// MaxValuesPerNode is the node fan-out derived from NodeSize.
	MaxValuesPerNode = (NodeSize - nodeHeaderSize - 8) / (entrySize + 8)

	childrenOffset = nodeHeaderSize + MaxValuesPerNode*entrySize
)

// Entry statuses.
const (
	// StatusEmpty marks a slot that is unused or deleted.
	StatusEmpty = uint8(0)
	// StatusValid marks a live entry visible to readers.
	StatusValid = uint8(1)
	// StatusModifying marks an entry for the duration of a mutation.
	StatusModifying = uint8(2)
)

// Entry locates one key's bytes and one value's bytes inside the key and data
// segments.
type Entry struct {
	KeyOffset  uint32
	KeyLength  uint16
	DataOffset uint32
	DataLength uint32
	KeyType    uint8
	Status     uint8
}

// Ref addresses one value slot as (node index, slot index).
type Ref struct {
	Node int64
	Slot int
}

// node is a scoped handle over one mapped node. It must be closed before any
// segment allocation.
type node struct {
	idx int64
	rng *segment.Range
	b   []byte
}

func (t *Tree) openNode(idx int64, mode segment.Mode) (*node, error) {
	rng, err := t.index.Access(idx*NodeSize, NodeSize, mode)
	if err != nil {
		return nil, err
	}
	return &node{idx: idx, rng: rng, b: rng.Bytes()}, nil
}

func (n *node) close() {
	if n.rng != nil {
		n.rng.Release()
		n.rng = nil
		n.b = nil
	}
}

func (n *node) leaf() bool {
	return n.b[0] != 0
}

func (n *node) setLeaf(leaf bool) {
	if leaf {
		n.b[0] = 1
	} else {
		n.b[0] = 0
	}
}

func (n *node) modifying() bool {
	return n.b[1] != 0
}

func (n *node) setModifying(on bool) {
	if on {
		n.b[1] = 1
	} else {
		n.b[1] = 0
	}
}

func (n *node) count() int {
	return int(binary.LittleEndian.Uint16(n.b[2:4]))
}

func (n *node) setCount(count int) {
	binary.LittleEndian.PutUint16(n.b[2:4], uint16(count))
}

func (n *node) parent() int64 {
	return int64(binary.LittleEndian.Uint64(n.b[4:12]))
}

func (n *node) setParent(parent int64) {
	binary.LittleEndian.PutUint64(n.b[4:12], uint64(parent))
}

func (n *node) entry(slot int) Entry {
	b := n.b[nodeHeaderSize+slot*entrySize:]
	return Entry{
		KeyOffset:  binary.LittleEndian.Uint32(b[0:4]),
		KeyLength:  binary.LittleEndian.Uint16(b[4:6]),
		DataOffset: binary.LittleEndian.Uint32(b[6:10]),
		DataLength: binary.LittleEndian.Uint32(b[10:14]),
		KeyType:    b[14],
		Status:     b[15],
	}
}

func (n *node) setEntry(slot int, e Entry) {
	b := n.b[nodeHeaderSize+slot*entrySize:]
	binary.LittleEndian.PutUint32(b[0:4], e.KeyOffset)
	binary.LittleEndian.PutUint16(b[4:6], e.KeyLength)
	binary.LittleEndian.PutUint32(b[6:10], e.DataOffset)
	binary.LittleEndian.PutUint32(b[10:14], e.DataLength)
	b[14] = e.KeyType
	b[15] = e.Status
}

func (n *node) setStatus(slot int, status uint8) {
	n.b[nodeHeaderSize+slot*entrySize+15] = status
}

func (n *node) clearEntry(slot int) {
	b := n.b[nodeHeaderSize+slot*entrySize:]
	for i := 0; i < entrySize; i++ {
		b[i] = 0
	}
}

func (n *node) child(slot int) int64 {
	return int64(binary.LittleEndian.Uint64(n.b[childrenOffset+slot*8:]))
}

func (n *node) setChild(slot int, child int64) {
	binary.LittleEndian.PutUint64(n.b[childrenOffset+slot*8:], uint64(child))
}

// insertAt shifts trailing entries and children right by one and writes the
// new entry at slot with rightChild as its right neighbor child.
func (n *node) insertAt(slot int, e Entry, rightChild int64) {
	count := n.count()
	for i := count - 1; i >= slot; i-- {
		n.setEntry(i+1, n.entry(i))
	}
	for i := count; i >= slot+1; i-- {
		n.setChild(i+1, n.child(i))
	}
	n.setEntry(slot, e)
	n.setChild(slot+1, rightChild)
	n.setCount(count + 1)
}
