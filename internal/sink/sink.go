// Package sink provides the append-only compressed byte sink the update
// writer streams newly observed flows into. The table and the writer
// only depend on io.Writer; this package supplies a concrete
// production-grade implementation backed by klauspost/compress's gzip.
package sink

import (
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// GzipSink is an append-only, compressed byte sink backed by a single
// on-disk file opened in append mode. Writes are serialized with a
// mutex because the agent's ticker-driven writer calls and any
// out-of-band flush share one underlying gzip.Writer, which is not
// safe for concurrent use.
type GzipSink struct {
	mu   sync.Mutex
	file *os.File
	gz   *gzip.Writer
}

// Open opens (creating if necessary) path for appending and wraps it in
// a gzip.Writer. Because gzip streams are not block-append-friendly,
// each process lifetime writes one continuous gzip member; operators
// rotate the file externally (e.g. on process restart) via log
// rotation outside the measurement core.
func Open(path string) (*GzipSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &GzipSink{file: f, gz: gzip.NewWriter(f)}, nil
}

// Write implements io.Writer, flushing after every call so partial
// writes are visible to downstream readers tailing the compressed
// stream.
func (s *GzipSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.gz.Write(p)
	if err != nil {
		return n, err
	}
	if err := s.gz.Flush(); err != nil {
		return n, err
	}
	return n, nil
}

// Close flushes and closes the gzip stream and the underlying file.
func (s *GzipSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.gz.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
