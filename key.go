package tangle

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// KeyType identifies the source type a key was constructed from. The tag is
// stored with each entry and returned during enumeration; it takes no part in
// ordering or equality.
type KeyType uint8

const (
	// KeyTypeText marks keys built from text in a single-byte encoding.
	KeyTypeText KeyType = 0
	// KeyTypeBytes marks keys built from raw byte strings.
	KeyTypeBytes KeyType = 1
	// KeyTypeUint32 marks keys built from uint32 values.
	KeyTypeUint32 KeyType = 2
	// KeyTypeInt32 marks keys built from int32 values.
	KeyTypeInt32 KeyType = 3
	// KeyTypeUint64 marks keys built from uint64 values.
	KeyTypeUint64 KeyType = 4
	// KeyTypeInt64 marks keys built from int64 values.
	KeyTypeInt64 KeyType = 5
)

// MaxKeyLength bounds a key's byte sequence.
const MaxKeyLength = 65534

// Key is an immutable typed byte string. Two keys are equal iff their byte
// sequences are equal; order is unsigned lexicographic with a shorter
// sequence preceding a longer one it prefixes.
type Key struct {
	kind KeyType
	data []byte
}

// TextKey builds a key from text, encoded as ISO 8859-1. Runes outside the
// charmap fail.
func TextKey(text string) (Key, error) {
	encoded, err := charmap.ISO8859_1.NewEncoder().String(text)
	if err != nil {
		return Key{}, fmt.Errorf("tangle: encode text key: %w", err)
	}
	return newKey(KeyTypeText, []byte(encoded))
}

// BytesKey builds a key from a raw byte string.
func BytesKey(data []byte) (Key, error) {
	owned := make([]byte, len(data))
	copy(owned, data)
	return newKey(KeyTypeBytes, owned)
}

// Uint32Key builds a key from a uint32, encoded little-endian.
func Uint32Key(v uint32) Key {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return Key{kind: KeyTypeUint32, data: data}
}

// Int32Key builds a key from an int32, encoded little-endian.
func Int32Key(v int32) Key {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(v))
	return Key{kind: KeyTypeInt32, data: data}
}

// Uint64Key builds a key from a uint64, encoded little-endian.
func Uint64Key(v uint64) Key {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, v)
	return Key{kind: KeyTypeUint64, data: data}
}

// Int64Key builds a key from an int64, encoded little-endian.
func Int64Key(v int64) Key {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(v))
	return Key{kind: KeyTypeInt64, data: data}
}

// KeyOf builds a key from any supported value.
func KeyOf(value interface{}) (Key, error) {
	switch v := value.(type) {
	case Key:
		return v, nil
	case string:
		return TextKey(v)
	case []byte:
		return BytesKey(v)
	case uint32:
		return Uint32Key(v), nil
	case int32:
		return Int32Key(v), nil
	case uint64:
		return Uint64Key(v), nil
	case int64:
		return Int64Key(v), nil
	case int:
		return Int64Key(int64(v)), nil
	case uint:
		return Uint64Key(uint64(v)), nil
	default:
		return Key{}, fmt.Errorf("tangle: unsupported key type %T", value)
	}
}

func newKey(kind KeyType, data []byte) (Key, error) {
	if len(data) > MaxKeyLength {
		return Key{}, ErrKeyTooLarge
	}
	return Key{kind: kind, data: data}, nil
}

// keyFromEntry rebuilds a key from stored bytes and type tag.
func keyFromEntry(kind uint8, data []byte) Key {
	return Key{kind: KeyType(kind), data: data}
}

// Type returns the key's source type tag.
func (k Key) Type() KeyType {
	return k.kind
}

// Bytes returns the key's byte sequence. Callers must not modify it.
func (k Key) Bytes() []byte {
	return k.data
}

// Len returns the byte sequence length.
func (k Key) Len() int {
	return len(k.data)
}

// Equal reports byte equality; the type tag is metadata only.
func (k Key) Equal(other Key) bool {
	return bytes.Equal(k.data, other.data)
}

// Compare orders keys by unsigned lexicographic byte comparison.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k.data, other.data)
}

// Value reconstructs the typed value the key was built from.
func (k Key) Value() (interface{}, error) {
	switch k.kind {
	case KeyTypeText:
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(k.data)
		if err != nil {
			return nil, fmt.Errorf("tangle: decode text key: %w", err)
		}
		return string(decoded), nil
	case KeyTypeBytes:
		out := make([]byte, len(k.data))
		copy(out, k.data)
		return out, nil
	case KeyTypeUint32:
		return binary.LittleEndian.Uint32(k.data), nil
	case KeyTypeInt32:
		return int32(binary.LittleEndian.Uint32(k.data)), nil
	case KeyTypeUint64:
		return binary.LittleEndian.Uint64(k.data), nil
	case KeyTypeInt64:
		return int64(binary.LittleEndian.Uint64(k.data)), nil
	default:
		return nil, fmt.Errorf("tangle: unknown key type %d", k.kind)
	}
}

// String renders the key for diagnostics.
func (k Key) String() string {
	value, err := k.Value()
	if err != nil {
		return fmt.Sprintf("key(%x)", k.data)
	}
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return fmt.Sprintf("%x", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
