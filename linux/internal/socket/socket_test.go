//go:build linux
// +build linux

package socket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// pair returns a Socket wrapping one end of a packet socketpair and the
// raw descriptor of the other end.
func pair(t *testing.T) (*Socket, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	s := New(nil, nil)
	s.fd = fds[0]
	t.Cleanup(func() {
		s.Disconnect()
		unix.Close(fds[1])
	})
	return s, fds[1]
}

func TestReadTimeout(t *testing.T) {
	s, _ := pair(t)
	start := time.Now()
	b, err := s.Read(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.True(t, time.Since(start) >= 50*time.Millisecond)
}

func TestReadFrame(t *testing.T) {
	s, peer := pair(t)
	_, err := unix.Write(peer, []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x00})
	require.NoError(t, err)
	b, err := s.Read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x00}, b)
}

func TestWrite(t *testing.T) {
	s, peer := pair(t)
	require.NoError(t, s.Write([]byte{0xAA, 0xBB}))
	b := make([]byte, 16)
	n, err := unix.Read(peer, b)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, b[:n])
}

func TestShutdownInterruptsRead(t *testing.T) {
	s, _ := pair(t)
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Shutdown()
	}()
	start := time.Now()
	b, err := s.Read(10 * time.Second)
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.True(t, time.Since(start) < 2*time.Second, "read did not observe shutdown")
}

func TestSharedShutdownFlag(t *testing.T) {
	var flag int32 = 1
	s := New(&flag, nil)
	assert.True(t, s.stopping())
}

func TestDisconnectIdempotent(t *testing.T) {
	s, _ := pair(t)
	assert.True(t, s.Connected())
	s.Disconnect()
	s.Disconnect()
	assert.False(t, s.Connected())

	_, err := s.Read(time.Millisecond)
	assert.Equal(t, ErrNotConnected, err)
	assert.Equal(t, ErrNotConnected, s.Write([]byte{1}))
}

func TestConnectTwice(t *testing.T) {
	s, _ := pair(t)
	assert.Equal(t, ErrConnected, s.Connect())
}
