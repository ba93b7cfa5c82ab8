package dirstore

import (
	"context"
	"testing"
)

func TestSource_StreamsAreIndependent(t *testing.T) {
	ctx := context.Background()
	source, err := New(ctx, t.TempDir(), "kv")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer source.Close()

	first, err := source.Open("index")
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer first.Close()
	second, err := source.Open("data")
	if err != nil {
		t.Fatalf("open data: %v", err)
	}
	defer second.Close()

	if _, err := first.WriteAt([]byte("abcdef"), 0); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if _, err := second.WriteAt([]byte("xy"), 0); err != nil {
		t.Fatalf("write second: %v", err)
	}
	size1, err := first.Size()
	if err != nil || size1 != 6 {
		t.Fatalf("first size: %d, %v", size1, err)
	}
	size2, err := second.Size()
	if err != nil || size2 != 2 {
		t.Fatalf("second size: %d, %v", size2, err)
	}

	buf := make([]byte, 6)
	if _, err := first.ReadAt(buf, 0); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "abcdef" {
		t.Fatalf("got %q", buf)
	}
}

func TestSource_ExistsDelete(t *testing.T) {
	ctx := context.Background()
	source, err := New(ctx, t.TempDir(), "kv")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer source.Close()

	if ok, _ := source.Exists("index"); ok {
		t.Fatal("stream should not exist yet")
	}
	stream, err := source.Open("index")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = stream.Close()
	if ok, _ := source.Exists("index"); !ok {
		t.Fatal("stream should exist after open")
	}
	if err := source.Delete("index"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := source.Exists("index"); ok {
		t.Fatal("stream should be gone")
	}
}
