// Package file implements adapter.Source over the local filesystem,
// the teacher's own access pattern in internal/fileplayer.go's
// decoders.NewDecoder(fileName) generalized from "open once, decode
// whole file" to the engine's open-at-offset/read/seek/close contract.
package file

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/liteplayer-go/liteplayer/pkg/adapter"
)

// Source is a concrete adapter.Source over a local file path.
type Source struct {
	f        *os.File
	size     int64
	contentP int64
}

// NewFactory returns a SourceFactory producing a fresh Source instance
// (single-use, per the adapter contract) on every call; the path to
// open is supplied later, by the player, as Open's url argument.
func NewFactory() adapter.SourceFactory {
	return func() adapter.Source { return &Source{} }
}

// Open opens url (a filesystem path) and seeks to contentPos.
func (s *Source) Open(ctx context.Context, url string, contentPos int64) error {
	if s.f != nil {
		return fmt.Errorf("adapters/file: reopened")
	}
	f, err := os.Open(url)
	if err != nil {
		return fmt.Errorf("adapters/file: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("adapters/file: stat: %w", err)
	}
	if contentPos > 0 {
		if _, err := f.Seek(contentPos, io.SeekStart); err != nil {
			f.Close()
			return fmt.Errorf("adapters/file: seek: %w", err)
		}
	}
	s.f = f
	s.size = info.Size()
	s.contentP = contentPos
	return nil
}

func (s *Source) Read(buf []byte) (int, error) {
	if s.f == nil {
		return 0, fmt.Errorf("adapters/file: read before open")
	}
	return s.f.Read(buf)
}

func (s *Source) FileSize() int64 { return s.size }

func (s *Source) Seek(offset int64) error {
	if s.f == nil {
		return fmt.Errorf("adapters/file: seek before open")
	}
	_, err := s.f.Seek(offset, io.SeekStart)
	return err
}

func (s *Source) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
