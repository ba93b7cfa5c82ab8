// Package dirstore implements a storage.Source keeping one prefixed file per
// stream under a base directory.
package dirstore

import (
	"context"
	"fmt"
	"os"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/tangle/storage"
)

// Source stores each named stream as <baseURL>/<prefix>.<name>.
type Source struct {
	baseURL string
	prefix  string
	fs      afs.Service
	closed  bool
}

// New returns a directory-backed source rooted at baseURL. The directory is
// created when absent. Only local file URLs can back mapped segments.
func New(ctx context.Context, baseURL, prefix string) (*Source, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("dirstore: baseURL is required")
	}
	if prefix == "" {
		prefix = "tangle"
	}
	fs := afs.New()
	if ok, _ := fs.Exists(ctx, baseURL); !ok {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("dirstore: create %v: %w", baseURL, err)
		}
	}
	return &Source{baseURL: baseURL, prefix: prefix, fs: fs}, nil
}

// BaseURL returns the source root.
func (s *Source) BaseURL() string {
	return s.baseURL
}

func (s *Source) streamURL(name string) string {
	return url.Join(s.baseURL, s.prefix+"."+name)
}

// Open implements storage.Source.Open.
func (s *Source) Open(name string) (storage.Stream, error) {
	if s.closed {
		return nil, storage.ErrClosed
	}
	path := url.Path(s.streamURL(name))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dirstore: open stream %q: %w", name, err)
	}
	return &fileStream{f: f}, nil
}

// Exists implements storage.Source.Exists.
func (s *Source) Exists(name string) (bool, error) {
	if s.closed {
		return false, storage.ErrClosed
	}
	return s.fs.Exists(context.Background(), s.streamURL(name))
}

// Delete implements storage.Source.Delete.
func (s *Source) Delete(name string) error {
	if s.closed {
		return storage.ErrClosed
	}
	return s.fs.Delete(context.Background(), s.streamURL(name))
}

// Close implements storage.Source.Close.
func (s *Source) Close() error {
	s.closed = true
	return nil
}

type fileStream struct {
	f *os.File
}

func (s *fileStream) ReadAt(p []byte, off int64) (int, error)  { return s.f.ReadAt(p, off) }
func (s *fileStream) WriteAt(p []byte, off int64) (int, error) { return s.f.WriteAt(p, off) }
func (s *fileStream) Truncate(size int64) error                { return s.f.Truncate(size) }
func (s *fileStream) Sync() error                              { return s.f.Sync() }
func (s *fileStream) Close() error                             { return s.f.Close() }
func (s *fileStream) Fd() uintptr                              { return s.f.Fd() }

func (s *fileStream) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
