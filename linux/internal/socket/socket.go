//go:build linux
// +build linux

// Package socket owns the raw HCI control channel socket used to exchange
// management frames with the kernel.
package socket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/XC-/gattd/linux/internal/mgmt"
)

// devNone binds the socket to no particular controller; the control channel
// addresses controllers per frame.
const devNone = 0xFFFF

// pollSlice bounds a single poll so that Shutdown is observed promptly.
const pollSlice = 100 * time.Millisecond

var (
	// ErrConnected is returned by Connect on an open socket.
	ErrConnected = errors.New("socket: already connected")
	// ErrNotConnected is returned by I/O on a closed socket.
	ErrNotConnected = errors.New("socket: not connected")
	// ErrShortWrite is returned when the kernel accepts part of a frame.
	ErrShortWrite = errors.New("socket: short write")
)

// Socket is a kernel HCI control channel socket. Write and Read may be
// called from different goroutines.
type Socket struct {
	mu  sync.Mutex
	fd  int
	rmu sync.Mutex
	wmu sync.Mutex

	// shutdown is shared with whoever owns the socket; a set flag makes
	// blocked reads return.
	shutdown *int32
	log      *logrus.Entry
}

// New returns a disconnected socket. shutdown may be nil, in which case the
// socket only observes its own Shutdown calls.
func New(shutdown *int32, l *logrus.Entry) *Socket {
	if shutdown == nil {
		shutdown = new(int32)
	}
	if l == nil {
		l = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Socket{fd: -1, shutdown: shutdown, log: l.WithField("component", "socket")}
}

// Connect opens and binds the control channel.
func (s *Socket) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd >= 0 {
		return ErrConnected
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.BTPROTO_HCI)
	if err != nil {
		s.log.WithError(err).Error("can't open control socket")
		return errors.Wrap(err, "socket")
	}
	sa := unix.SockaddrHCI{Dev: devNone, Channel: unix.HCI_CHANNEL_CONTROL}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		s.log.WithError(err).Error("can't bind to hci control channel")
		return errors.Wrap(err, "bind")
	}
	atomic.StoreInt32(s.shutdown, 0)
	s.fd = fd
	s.log.Debug("connected")
	return nil
}

// Connected reports whether the socket is open.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd >= 0
}

// Disconnect closes the socket. It is safe to call more than once.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return
	}
	if err := unix.Close(s.fd); err != nil {
		s.log.WithError(err).Warn("close")
	}
	s.fd = -1
	s.log.Debug("disconnected")
}

// Shutdown makes any in-progress Read return promptly.
func (s *Socket) Shutdown() { atomic.StoreInt32(s.shutdown, 1) }

func (s *Socket) stopping() bool { return atomic.LoadInt32(s.shutdown) != 0 }

func (s *Socket) descriptor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// Write sends the whole frame b.
func (s *Socket) Write(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	fd := s.descriptor()
	if fd < 0 {
		return ErrNotConnected
	}
	n, err := unix.Write(fd, b)
	if err != nil {
		return errors.Wrap(err, "write")
	}
	if n != len(b) {
		return errors.Wrapf(ErrShortWrite, "%d of %d bytes", n, len(b))
	}
	return nil
}

// Read waits up to timeout for a frame. It returns (nil, nil) when nothing
// arrived in time or the socket is shutting down.
func (s *Socket) Read(timeout time.Duration) ([]byte, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	deadline := time.Now().Add(timeout)
	for {
		if s.stopping() {
			return nil, nil
		}
		fd := s.descriptor()
		if fd < 0 {
			return nil, ErrNotConnected
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		if wait > pollSlice {
			wait = pollSlice
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(wait/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "poll")
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return nil, errors.Errorf("poll: revents 0x%x", fds[0].Revents)
		}
		b := make([]byte, mgmt.MaxFrameLen)
		n, err = unix.Read(fd, b)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "read")
		}
		return b[:n], nil
	}
}
