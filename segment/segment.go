// Package segment exposes an append-only byte stream as a growable
// memory-mapped region with a fixed header and an on-demand view cache.
//
// Implementation notes
//   - Persistent layout: [format_version:u32 LE][data_length:i64 LE] followed
//     by data_length payload bytes. Offsets handed to Allocate/Access are
//     payload-relative.
//   - The mapped capacity is the physical stream size; it only grows, in
//     multiples of the growth quantum, and grown bytes read as zero.
//   - Growth drops every cached view first. The caller must not hold any
//     Range across an allocation that grows the segment; Allocate fails with
//     ErrRangeHeld if it does.
package segment

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/viant/tangle/storage"
)

const (
	headerSize = 12

	// DefaultInitialCapacity is the physical size given to a fresh segment.
	DefaultInitialCapacity = 32 * 1024

	// DefaultGrowthQuantum is the growth step for key and data segments.
	DefaultGrowthQuantum = 64 * 1024

	// IndexGrowthQuantum is the smaller growth step used by index segments.
	IndexGrowthQuantum = 4 * 1024
)

// Options configures a segment.
type Options struct {
	// InitialCapacity is the physical size of a freshly created segment.
	InitialCapacity int64
	// GrowthQuantum is the capacity rounding step applied on growth.
	GrowthQuantum int64
	// ViewCacheSize bounds the number of cached mmap views.
	ViewCacheSize int
	// Logger receives growth and remap events; nil disables logging.
	Logger *logrus.Logger
}

func (o *Options) withDefaults() {
	if o.InitialCapacity <= 0 {
		o.InitialCapacity = DefaultInitialCapacity
	}
	if o.GrowthQuantum <= 0 {
		o.GrowthQuantum = DefaultGrowthQuantum
	}
	if o.ViewCacheSize <= 0 {
		o.ViewCacheSize = defaultViewCacheSize
	}
}

// Segment is one stream mapped as a growable region. All mutators run on the
// owning tangle's worker; Len is safe from any goroutine.
type Segment struct {
	stream   storage.Stream
	quantum  int64
	capacity int64
	length   atomic.Int64
	version  uint32
	views    *viewCache
	log      *logrus.Logger
}

// Open maps the stream at capacity = max(stream length, initial capacity) and
// initializes the header when the stream is fresh.
func Open(stream storage.Stream, opts Options) (*Segment, error) {
	opts.withDefaults()
	if stream.Fd() == 0 {
		return nil, storage.ErrNotMappable
	}
	size, err := stream.Size()
	if err != nil {
		return nil, fmt.Errorf("segment: size: %w", err)
	}
	s := &Segment{
		stream:  stream,
		quantum: opts.GrowthQuantum,
		log:     opts.Logger,
	}
	if size < headerSize {
		// fresh stream
		s.capacity = opts.InitialCapacity
		if s.capacity < headerSize {
			s.capacity = headerSize
		}
		if err := stream.Truncate(s.capacity); err != nil {
			return nil, fmt.Errorf("segment: init truncate: %w", err)
		}
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
	} else {
		var header [headerSize]byte
		if _, err := stream.ReadAt(header[:], 0); err != nil && err != io.EOF {
			return nil, fmt.Errorf("segment: read header: %w", err)
		}
		s.version = binary.LittleEndian.Uint32(header[0:4])
		length := int64(binary.LittleEndian.Uint64(header[4:12]))
		if length < 0 || headerSize+length > size {
			return nil, fmt.Errorf("%w: data length %d exceeds stream size %d", ErrCorrupt, length, size)
		}
		s.length.Store(length)
		s.capacity = size
		if s.capacity < opts.InitialCapacity {
			s.capacity = opts.InitialCapacity
			if err := stream.Truncate(s.capacity); err != nil {
				return nil, fmt.Errorf("segment: truncate: %w", err)
			}
		}
	}
	s.views = newViewCache(stream.Fd(), opts.ViewCacheSize)
	return s, nil
}

// FormatVersion returns the header's stored format version.
func (s *Segment) FormatVersion() uint32 {
	return s.version
}

// SetFormatVersion stores a new format version in the header.
func (s *Segment) SetFormatVersion(version uint32) error {
	s.version = version
	return s.writeHeader()
}

// Len returns the payload length. Safe from any goroutine.
func (s *Segment) Len() int64 {
	return s.length.Load()
}

// Cap returns the current mapped capacity, header included.
func (s *Segment) Cap() int64 {
	return s.capacity
}

// Allocate bumps the payload length by size and returns the previous length.
// The returned range reads as zero. Growing past capacity remaps the stream;
// every Range must have been released first.
func (s *Segment) Allocate(size int64) (int64, error) {
	if size < 0 {
		return 0, fmt.Errorf("segment: negative allocation %d", size)
	}
	offset := s.length.Load()
	if err := s.ensure(headerSize + offset + size); err != nil {
		return 0, err
	}
	s.length.Store(offset + size)
	if err := s.writeHeader(); err != nil {
		return 0, err
	}
	return offset, nil
}

// Access returns a scoped reference to the payload range [offset, offset+size).
// Accessing past the mapped capacity grows the segment first.
func (s *Segment) Access(offset, size int64, mode Mode) (*Range, error) {
	if offset < 0 || size < 0 {
		return nil, fmt.Errorf("segment: invalid range %d+%d", offset, size)
	}
	begin := headerSize + offset
	if begin+size > s.capacity {
		if err := s.ensure(begin + size); err != nil {
			return nil, err
		}
	}
	return s.views.acquire(begin, size, s.capacity, mode)
}

// Reset abandons the payload, keeping capacity; the old payload bytes are
// zeroed so later allocations read as zero. Cached views must be idle.
func (s *Segment) Reset() error {
	if err := s.views.invalidate(); err != nil {
		return err
	}
	if err := s.stream.Truncate(headerSize); err != nil {
		return fmt.Errorf("segment: reset: %w", err)
	}
	if err := s.stream.Truncate(s.capacity); err != nil {
		return fmt.Errorf("segment: reset: %w", err)
	}
	s.length.Store(0)
	return s.writeHeader()
}

// Sync flushes the header and stream content to stable storage.
func (s *Segment) Sync() error {
	if err := s.writeHeader(); err != nil {
		return err
	}
	return s.stream.Sync()
}

// Flush drops cached views, forcing subsequent access to remap. Views must be
// idle.
func (s *Segment) Flush() error {
	return s.views.invalidate()
}

// Close persists the header, unmaps views and closes the stream.
func (s *Segment) Close() error {
	if err := s.writeHeader(); err != nil {
		_ = s.views.invalidate()
		_ = s.stream.Close()
		return err
	}
	if err := s.views.invalidate(); err != nil {
		_ = s.stream.Close()
		return err
	}
	return s.stream.Close()
}

// ensure grows the physical stream so that it holds at least need bytes.
func (s *Segment) ensure(need int64) error {
	if need <= s.capacity {
		return nil
	}
	capacity := ((need + s.quantum - 1) / s.quantum) * s.quantum
	// remap invalidates outstanding views; none may be held
	if err := s.views.invalidate(); err != nil {
		return err
	}
	if err := s.stream.Truncate(capacity); err != nil {
		return fmt.Errorf("segment: grow to %d: %w", capacity, err)
	}
	if s.log != nil {
		s.log.WithFields(logrus.Fields{"from": s.capacity, "to": capacity}).Debug("segment grown")
	}
	s.capacity = capacity
	return nil
}

func (s *Segment) writeHeader() error {
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:4], s.version)
	binary.LittleEndian.PutUint64(header[4:12], uint64(s.length.Load()))
	if _, err := s.stream.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("segment: write header: %w", err)
	}
	return nil
}
