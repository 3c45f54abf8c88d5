// Package logfile implements the append session for the shared trace log.
//
// Many processes race to append records to one file. A Session holds the
// file open in append mode with a whole-file advisory write lock for its
// entire lifetime, so a record staged through it reaches the file as a
// contiguous run of bytes: concurrent writers, including ones in other
// processes, never interleave inside a record.
package logfile

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// bufSize is the staging buffer capacity. Records are usually far smaller;
// longer ones flush in bufSize chunks under the same lock.
const bufSize = 1024

// Session is one locked append to the trace log. Create it with Open and
// always Close it; the advisory lock is held from Open until Close.
type Session struct {
	fd  int
	buf [bufSize]byte
	n   int
}

// Open opens path for append-create with mode 0644 and takes a blocking
// whole-file advisory write lock. Interrupted system calls are retried.
func Open(path string) (*Session, error) {
	s := &Session{fd: -1}
	for {
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_APPEND|unix.O_CREAT|unix.O_CLOEXEC, 0o644)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening trace log %s: %w", path, err)
		}
		s.fd = fd
		break
	}
	lock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0,
		Start:  0,
		Len:    0,
	}
	for {
		err := unix.FcntlFlock(uintptr(s.fd), unix.F_SETLKW, &lock)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			unix.Close(s.fd)
			return nil, fmt.Errorf("locking trace log %s: %w", path, err)
		}
		return s, nil
	}
}

// WriteByte stages one byte, flushing first when the buffer is full.
func (s *Session) WriteByte(c byte) error {
	if s.n == len(s.buf) {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	s.buf[s.n] = c
	s.n++
	return nil
}

// Write stages p byte by byte. It implements io.Writer.
func (s *Session) Write(p []byte) (int, error) {
	for i, c := range p {
		if err := s.WriteByte(c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// WriteString stages each byte of str.
func (s *Session) WriteString(str string) error {
	for i := 0; i < len(str); i++ {
		if err := s.WriteByte(str[i]); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes the staged bytes with a single write call, retrying on
// interruption. A short write is an error.
func (s *Session) Flush() error {
	if s.n == 0 {
		return nil
	}
	for {
		n, err := unix.Write(s.fd, s.buf[:s.n])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("writing trace log: %w", err)
		}
		if n != s.n {
			return fmt.Errorf("short write to trace log: %d of %d bytes", n, s.n)
		}
		s.n = 0
		return nil
	}
}

// Close flushes the staging buffer, releases the lock, and closes the
// descriptor, in that order on every path.
func (s *Session) Close() error {
	flushErr := s.Flush()
	lock := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  0,
		Len:    0,
	}
	var unlockErr error
	for {
		unlockErr = unix.FcntlFlock(uintptr(s.fd), unix.F_SETLK, &lock)
		if unlockErr != unix.EINTR {
			break
		}
	}
	closeErr := unix.Close(s.fd)
	s.fd = -1
	if flushErr != nil {
		return flushErr
	}
	if unlockErr != nil {
		return fmt.Errorf("unlocking trace log: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing trace log: %w", closeErr)
	}
	return nil
}
