// Package transport implements raw byte I/O over a tty with timeouts and
// per-port mutual exclusion, shared by every protocol driver.
package transport

import (
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
)

// SerialLink owns one serial port for the life of a driver. Write and
// ReadExact each take the link's mutex for their own call only, so a
// single write or read is not interleaved with another; a write and the
// reads of its reply are not held under one lock, and another goroutine
// sharing the link can run between them.
type SerialLink struct {
	mu   sync.Mutex
	port *serial.Port
	name string
	baud int
}

// Open opens name at baud 8N1 with a 50ms OS-level read timeout; deadlines
// are enforced in software by ReadExact/ReadByte via repeated short reads.
func Open(name string, baud int) (*SerialLink, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: 50 * time.Millisecond}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, errs.New(errs.KindIO, "serial.Open", err)
	}
	return &SerialLink{port: p, name: name, baud: baud}, nil
}

func (s *SerialLink) Name() string { return s.name }

// Write blocks until every byte has been handed to the OS.
func (s *SerialLink) Write(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n < len(b) {
		written, err := s.port.Write(b[n:])
		if err != nil {
			return errs.New(errs.KindIO, "serial.Write", err)
		}
		if written == 0 {
			return errs.New(errs.KindIO, "serial.Write", io.ErrShortWrite)
		}
		n += written
	}
	return nil
}

// ReadByte reads a single byte, used while hunting for a sync marker.
func (s *SerialLink) ReadByte(deadline time.Time) (byte, error) {
	buf, err := s.readExactLocked(1, deadline)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadExact reads exactly n bytes or fails with a Timeout once the deadline
// elapses, or an IO error wrapping the port's read error (io.EOF included)
// otherwise.
func (s *SerialLink) ReadExact(n int, deadline time.Time) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readExactLocked(n, deadline)
}

// Lock/Unlock let a driver hold the link across several ReadExactLocked
// calls for one reply without another goroutine interleaving a read in
// between. Write and ReadExact take the same mutex, so neither may be
// called while the link is held.
func (s *SerialLink) Lock()   { s.mu.Lock() }
func (s *SerialLink) Unlock() { s.mu.Unlock() }

// ReadExactLocked is ReadExact for a caller that already holds the link
// (via Lock/Unlock) across several reads of one exchange.
func (s *SerialLink) ReadExactLocked(n int, deadline time.Time) ([]byte, error) {
	return s.readExactLocked(n, deadline)
}

func (s *SerialLink) readExactLocked(n int, deadline time.Time) ([]byte, error) {
	out := make([]byte, 0, n)
	chunk := make([]byte, n)
	for len(out) < n {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, errs.New(errs.KindTimeout, "serial.ReadExact", nil)
		}
		r, err := s.port.Read(chunk[:n-len(out)])
		if err != nil {
			if err == io.EOF {
				return nil, errs.New(errs.KindIO, "serial.ReadExact", io.EOF)
			}
			return nil, errs.New(errs.KindIO, "serial.ReadExact", err)
		}
		out = append(out, chunk[:r]...)
	}
	return out, nil
}

// Close releases the underlying port.
func (s *SerialLink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return errs.New(errs.KindIO, "serial.Close", err)
	}
	return nil
}
