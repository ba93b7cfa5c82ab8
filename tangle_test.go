package tangle_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/tangle"
	"github.com/viant/tangle/codec"
	"golang.org/x/sync/errgroup"
)

func openTangle(t *testing.T, dir string, valueCodec tangle.Codec, opts ...tangle.Option) *tangle.Tangle {
	t.Helper()
	store, err := tangle.Open(context.Background(), dir, valueCodec, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func wait(t *testing.T, fut interface {
	Wait(ctx context.Context) (interface{}, error)
}) interface{} {
	t.Helper()
	value, err := fut.Wait(context.Background())
	require.NoError(t, err)
	return value
}

func textKey(t *testing.T, text string) tangle.Key {
	t.Helper()
	key, err := tangle.TextKey(text)
	require.NoError(t, err)
	return key
}

func TestSetGet(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	key := textKey(t, "greeting")

	assert.Equal(t, true, wait(t, store.Set(key, "hello")))
	assert.Equal(t, "hello", wait(t, store.Get(key)))
	assert.Equal(t, int64(1), store.Count())

	// overwrite wins
	wait(t, store.Set(key, "world"))
	assert.Equal(t, "world", wait(t, store.Get(key)))
	assert.Equal(t, int64(1), store.Count())
}

func TestGetAbsent(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	_, err := store.Get(textKey(t, "missing")).Wait(context.Background())
	assert.ErrorIs(t, err, tangle.ErrKeyNotFound)
	var notFound *tangle.KeyNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestAddDoesNotOverwrite(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	key := textKey(t, "k")

	assert.Equal(t, true, wait(t, store.Add(key, "v1")))
	assert.Equal(t, false, wait(t, store.Add(key, "v2")))
	assert.Equal(t, "v1", wait(t, store.Get(key)))
	assert.Equal(t, int64(1), store.Count())
}

func TestKeysAscendingRegardlessOfInsertOrder(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	names := []string{"aa", "ea", "qa", "za"}
	for _, name := range names {
		wait(t, store.Set(textKey(t, name), name))
	}
	assertKeys := func() {
		keys := wait(t, store.Keys()).([]tangle.Key)
		require.Len(t, keys, len(names))
		for i, key := range keys {
			assert.Equal(t, names[i], string(key.Bytes()))
			assert.Equal(t, tangle.KeyTypeText, key.Type())
		}
	}
	assertKeys()

	// reinsert in reverse; enumeration is unchanged
	for i := len(names) - 1; i >= 0; i-- {
		wait(t, store.Set(textKey(t, names[i]), names[i]))
	}
	assertKeys()
	assert.Equal(t, int64(len(names)), store.Count())
}

func TestNumericKeyRoundTrip(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{})
	key, err := tangle.KeyOf(1234)
	require.NoError(t, err)
	wait(t, store.Set(key, 1))

	again, err := tangle.KeyOf(1234)
	require.NoError(t, err)
	assert.Equal(t, 1, wait(t, store.Get(again)))
}

func TestWastedDataBytes(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	key := textKey(t, "k")

	assert.Zero(t, store.WastedDataBytes())
	wait(t, store.Set(key, "abcd"))
	assert.Equal(t, int64(0), store.WastedDataBytes())

	// grows: the 4-byte slot is orphaned
	wait(t, store.Set(key, "abcdefgh"))
	assert.Equal(t, int64(4), store.WastedDataBytes())

	// shrinks in place: the 5-byte tail is wasted
	wait(t, store.Set(key, "abc"))
	assert.Equal(t, int64(9), store.WastedDataBytes())

	// grows again: the 3-byte slot is orphaned
	wait(t, store.Set(key, "abcdefgh"))
	assert.Equal(t, int64(12), store.WastedDataBytes())
	assert.Equal(t, "abcdefgh", wait(t, store.Get(key)))
}

func TestZeroLengthValue(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	key := textKey(t, "empty")
	wait(t, store.Set(key, ""))
	assert.Equal(t, "", wait(t, store.Get(key)))
	assert.Equal(t, int64(1), store.Count())
}

func TestHugeValue(t *testing.T) {
	if testing.Short() {
		t.Skip("32 MiB payload")
	}
	store := openTangle(t, t.TempDir(), codec.Bytes{})
	key := textKey(t, "huge")
	payload := bytes.Repeat([]byte{'a'}, 32<<20)
	wait(t, store.Set(key, payload))
	got := wait(t, store.Get(key)).([]byte)
	assert.True(t, bytes.Equal(payload, got), "huge value mismatch")
}

func TestBatchBulkLoad(t *testing.T) {
	total := 500000
	if testing.Short() {
		total = 20000
	}
	store := openTangle(t, t.TempDir(), codec.Int{})

	batch := make([]tangle.Entry, 0, 256)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		written := wait(t, store.SetBatch(batch))
		require.Equal(t, len(batch), written)
		batch = batch[:0]
	}
	for i := total - 1; i >= 0; i-- {
		batch = append(batch, tangle.Entry{Key: tangle.Uint32Key(uint32(i)), Value: i})
		if len(batch) == 256 {
			flush()
		}
	}
	flush()
	require.Equal(t, int64(total), store.Count())

	values := wait(t, store.Values()).([]interface{})
	require.Len(t, values, total)
	ints := make([]int, len(values))
	for i, v := range values {
		ints[i] = v.(int)
	}
	sort.Ints(ints)
	for i, v := range ints {
		require.Equal(t, i, v, "value at %d", i)
	}
}

func TestBatchBound(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{}, tangle.WithMaxBatch(4))
	entries := make([]tangle.Entry, 5)
	for i := range entries {
		entries[i] = tangle.Entry{Key: tangle.Uint32Key(uint32(i)), Value: i}
	}
	_, err := store.SetBatch(entries).Wait(context.Background())
	assert.ErrorIs(t, err, tangle.ErrBatchTooLarge)
}

func TestFindResultInvalidatedByMutation(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	key := textKey(t, "a")
	wait(t, store.Set(key, "one"))

	result := wait(t, store.Find(key)).(*tangle.FindResult)
	assert.Equal(t, "one", wait(t, result.Value()))

	// any intervening mutation invalidates the handle
	wait(t, store.Set(textKey(t, "b"), "two"))
	_, err := result.Value().Wait(context.Background())
	assert.ErrorIs(t, err, tangle.ErrModified)
}

func TestFindResultSetValue(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	key := textKey(t, "a")
	wait(t, store.Set(key, "one"))

	result := wait(t, store.Find(key)).(*tangle.FindResult)
	wait(t, result.SetValue("two"))
	assert.Equal(t, "two", wait(t, store.Get(key)))

	// its own mutation bumped the version
	_, err := result.Value().Wait(context.Background())
	assert.ErrorIs(t, err, tangle.ErrModified)
}

func TestFindResultCopyToBytes(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	key := textKey(t, "a")
	wait(t, store.Set(key, "payload"))

	result := wait(t, store.Find(key)).(*tangle.FindResult)

	var pinned []byte
	wait(t, result.Bytes(func(data []byte) error {
		pinned = append(pinned, data...)
		return nil
	}))
	assert.Equal(t, "payload", string(pinned))

	buffer := new(bytes.Buffer)
	written := wait(t, result.CopyTo(buffer))
	assert.Equal(t, int64(7), written)
	assert.Equal(t, "payload", buffer.String())

	wait(t, result.CopyFrom(bytes.NewReader([]byte("replace"))))
	assert.Equal(t, "replace", wait(t, store.Get(key)))
}

func TestFindAbsent(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	_, err := store.Find(textKey(t, "nope")).Wait(context.Background())
	assert.ErrorIs(t, err, tangle.ErrKeyNotFound)
}

func TestBarrierHoldsOperations(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{})
	ctx := context.Background()

	barrier := store.ClosedBarrier()
	addFut := store.Add(tangle.Uint32Key(1), 1)

	require.NoError(t, barrier.Wait(ctx))
	assert.Equal(t, int64(0), store.Count(), "add held behind the barrier")

	barrier.Open()
	wait(t, addFut)
	assert.Equal(t, int64(1), store.Count())
}

func TestBarrierCancelledOperationHasNoEffect(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{})
	ctx := context.Background()

	barrier := store.ClosedBarrier()
	addFut := store.Add(tangle.Uint32Key(1), 1)
	require.NoError(t, barrier.Wait(ctx))
	require.True(t, addFut.Cancel())
	barrier.Open()

	drain := store.Barrier()
	require.NoError(t, drain.Wait(ctx))
	assert.Equal(t, int64(0), store.Count())
}

func TestUpdate(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{})
	keyA := textKey(t, "a")
	wait(t, store.Set(keyA, 1))

	increment := func(old interface{}) (interface{}, bool) {
		return old.(int) + 1, true
	}
	assert.Equal(t, true, wait(t, store.Update(keyA, 999, increment)))
	assert.Equal(t, 2, wait(t, store.Get(keyA)))

	// absent key takes the default without invoking the callback
	keyB := textKey(t, "b")
	assert.Equal(t, true, wait(t, store.Update(keyB, 128, increment)))
	assert.Equal(t, 128, wait(t, store.Get(keyB)))

	// aborting keeps the old value
	abort := func(old interface{}) (interface{}, bool) { return nil, false }
	assert.Equal(t, false, wait(t, store.Update(keyA, 999, abort)))
	assert.Equal(t, 2, wait(t, store.Get(keyA)))
}

func TestSelectDefaults(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{})
	keys := []tangle.Key{tangle.Uint32Key(1), tangle.Uint32Key(2)}

	pairs := wait(t, store.Select(keys, -1)).([]tangle.Pair)
	require.Len(t, pairs, 2)
	for i, pair := range pairs {
		assert.True(t, pair.Key.Equal(keys[i]), "request order preserved")
		assert.False(t, pair.Found)
		assert.Equal(t, -1, pair.Value)
	}

	wait(t, store.Set(keys[0], 10))
	pairs = wait(t, store.Select(keys, -1)).([]tangle.Pair)
	assert.True(t, pairs[0].Found)
	assert.Equal(t, 10, pairs[0].Value)
	assert.False(t, pairs[1].Found)
}

func TestForEachAndMapReduce(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{})
	for i := 0; i < 10; i++ {
		wait(t, store.Set(tangle.Uint32Key(uint32(i)), i))
	}

	visited := 0
	wait(t, store.ForEach(func(key tangle.Key, value interface{}) error {
		visited++
		return nil
	}))
	assert.Equal(t, 10, visited)

	sum := wait(t, store.MapReduce(0,
		func(key tangle.Key, value interface{}) (interface{}, bool) {
			v := value.(int)
			return v, v%2 == 0
		},
		func(accumulator, mapped interface{}) interface{} {
			return accumulator.(int) + mapped.(int)
		}))
	assert.Equal(t, 0+2+4+6+8, sum)
}

func TestJoin(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{})
	wait(t, store.Set(tangle.Uint32Key(1), 100))

	var pairs []tangle.Pair
	wait(t, store.Join([]tangle.Key{tangle.Uint32Key(1), tangle.Uint32Key(2)}, 0,
		func(pair tangle.Pair) error {
			pairs = append(pairs, pair)
			return nil
		}))
	require.Len(t, pairs, 2)
	assert.True(t, pairs[0].Found)
	assert.Equal(t, 100, pairs[0].Value)
	assert.False(t, pairs[1].Found)
}

func TestCascadingSelect(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{})
	// 1 -> 2 -> 3, values name the next key
	wait(t, store.Set(tangle.Uint32Key(1), 2))
	wait(t, store.Set(tangle.Uint32Key(2), 3))

	pairs := wait(t, store.CascadingSelect([]tangle.Key{tangle.Uint32Key(1)}, 0,
		func(pair tangle.Pair) ([]tangle.Key, error) {
			if !pair.Found {
				return nil, nil
			}
			return []tangle.Key{tangle.Uint32Key(uint32(pair.Value.(int)))}, nil
		})).([]tangle.Pair)
	require.Len(t, pairs, 3)
	assert.True(t, pairs[0].Found)
	assert.True(t, pairs[1].Found)
	assert.False(t, pairs[2].Found, "chain ends on the missing key")
}

func TestDeleteAndReinsert(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	key := textKey(t, "k")
	wait(t, store.Set(key, "abcde"))

	assert.Equal(t, true, wait(t, store.Delete(key)))
	assert.Equal(t, int64(0), store.Count())
	assert.Equal(t, int64(5), store.WastedDataBytes())
	_, err := store.Get(key).Wait(context.Background())
	assert.ErrorIs(t, err, tangle.ErrKeyNotFound)

	assert.Equal(t, false, wait(t, store.Delete(key)))

	// reinsertion revives the tombstoned slot
	wait(t, store.Set(key, "back"))
	assert.Equal(t, "back", wait(t, store.Get(key)))
	assert.Equal(t, int64(1), store.Count())
}

func TestClear(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.String{})
	for i := 0; i < 100; i++ {
		wait(t, store.Set(tangle.Uint32Key(uint32(i)), "v"))
	}
	wait(t, store.Clear())

	assert.Equal(t, int64(0), store.Count())
	assert.Zero(t, store.WastedDataBytes())
	keys := wait(t, store.Keys()).([]tangle.Key)
	assert.Empty(t, keys)

	wait(t, store.Set(textKey(t, "fresh"), "v"))
	assert.Equal(t, int64(1), store.Count())
}

func TestClosePendingOperationsFail(t *testing.T) {
	dir := t.TempDir()
	store, err := tangle.Open(context.Background(), dir, codec.Int{})
	require.NoError(t, err)

	barrier := store.ClosedBarrier()
	pending := store.Set(tangle.Uint32Key(1), 1)
	require.NoError(t, barrier.Wait(context.Background()))
	require.NoError(t, store.Close())

	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, tangle.ErrDisposed)

	_, err = store.Get(tangle.Uint32Key(1)).Wait(context.Background())
	assert.Error(t, err)
}

func TestReopenPersistence(t *testing.T) {
	dir := t.TempDir()
	store, err := tangle.Open(context.Background(), dir, codec.String{})
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		wait(t, store.Set(tangle.Uint32Key(uint32(i)), fmt.Sprintf("value-%d", i)))
	}
	wait(t, store.Sync())
	require.NoError(t, store.Close())

	store2 := openTangle(t, dir, codec.String{})
	assert.Equal(t, int64(1000), store2.Count())
	for i := 0; i < 1000; i++ {
		assert.Equal(t, fmt.Sprintf("value-%d", i), wait(t, store2.Get(tangle.Uint32Key(uint32(i)))))
	}
}

func TestFormatMismatchRefused(t *testing.T) {
	dir := t.TempDir()
	store, err := tangle.Open(context.Background(), dir, codec.String{})
	require.NoError(t, err)
	wait(t, store.Set(textKey(t, "k"), "v"))
	require.NoError(t, store.Close())

	// stamp an unsupported format version into the index header
	path := filepath.Join(dir, "tangle.index")
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{9, 0, 0, 0}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = tangle.Open(context.Background(), dir, codec.String{})
	assert.ErrorIs(t, err, tangle.ErrFormat)
}

func TestSecondOpenLocked(t *testing.T) {
	dir := t.TempDir()
	store := openTangle(t, dir, codec.String{})
	_ = store

	_, err := tangle.Open(context.Background(), dir, codec.String{})
	assert.ErrorIs(t, err, tangle.ErrLocked)
}

type failingCodec struct {
	err error
}

func (c failingCodec) Encode(value interface{}) ([]byte, error) { return nil, c.err }
func (c failingCodec) Decode(data []byte) (interface{}, error)  { return nil, c.err }

func TestCodecFailurePublishesNothing(t *testing.T) {
	boom := errors.New("boom")
	store := openTangle(t, t.TempDir(), failingCodec{err: boom})

	_, err := store.Set(textKey(t, "k"), "v").Wait(context.Background())
	var codecErr *tangle.CodecError
	require.ErrorAs(t, err, &codecErr)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, int64(0), store.Count())
	assert.Equal(t, uint32(0), store.Version())
}

func TestConcurrentSubmitters(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{})

	group, _ := errgroup.WithContext(context.Background())
	const writers, perWriter = 8, 100
	for w := 0; w < writers; w++ {
		w := w
		group.Go(func() error {
			for i := 0; i < perWriter; i++ {
				key := tangle.Uint32Key(uint32(w*perWriter + i))
				if _, err := store.Set(key, i).Wait(context.Background()); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.Equal(t, int64(writers*perWriter), store.Count())
}

func TestSnappyCodecThroughStore(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.WithSnappy(codec.String{}))
	key := textKey(t, "compressed")
	payload := "abcabcabcabcabcabcabcabcabcabc"
	wait(t, store.Set(key, payload))
	assert.Equal(t, payload, wait(t, store.Get(key)))
}

func TestIdleWorkerRespawns(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{}, tangle.WithIdleTimeout(30*time.Millisecond))
	wait(t, store.Set(tangle.Uint32Key(1), 1))
	time.Sleep(150 * time.Millisecond) // worker flushes and exits
	assert.Equal(t, 1, wait(t, store.Get(tangle.Uint32Key(1))))
	wait(t, store.Set(tangle.Uint32Key(2), 2))
	assert.Equal(t, int64(2), store.Count())
}

func TestVersionCounter(t *testing.T) {
	store := openTangle(t, t.TempDir(), codec.Int{})
	assert.Equal(t, uint32(0), store.Version())
	wait(t, store.Set(tangle.Uint32Key(1), 1))
	v1 := store.Version()
	assert.Equal(t, uint32(1), v1)

	// a refused Add is not a mutation
	wait(t, store.Add(tangle.Uint32Key(1), 2))
	assert.Equal(t, v1, store.Version())

	wait(t, store.Set(tangle.Uint32Key(1), 3))
	assert.Equal(t, v1+1, store.Version())
}
