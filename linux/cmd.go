package linux

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/XC-/gattd/linux/internal/mgmt"
)

var (
	// ErrTimeout is returned when no matching reply arrives in time.
	ErrTimeout = errors.New("mgmt: command timed out")
	// ErrBusy is returned when a command is issued while another one is
	// still outstanding. Only one command may be in flight.
	ErrBusy = errors.New("mgmt: another command is outstanding")
	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("mgmt: closed")
)

// StatusError reports a command the kernel answered with a failure status.
type StatusError struct {
	Cmd    Opcode
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mgmt: %s: %s (0x%02X)", e.Cmd, e.Status, uint8(e.Status))
}

// reply is what the receive path hands to the waiting command.
type reply struct {
	index  uint16
	op     mgmt.Opcode
	status mgmt.Status
	params []byte
	err    error
}

// deliver passes r to the outstanding command. Replies nobody waits for are
// dropped.
func (m *Mgmt) deliver(r reply) {
	if atomic.LoadInt32(&m.pending) == 0 {
		m.log.WithField("cmd", r.op.String()).Debug("dropping unsolicited reply")
		return
	}
	t := time.NewTimer(m.timeout)
	defer t.Stop()
	select {
	case m.rspc <- r:
	case <-t.C:
		m.log.WithField("cmd", r.op.String()).Debug("reply not consumed")
	}
}

// drain discards a stale reply left over from a command that timed out.
func (m *Mgmt) drain() {
	for {
		select {
		case r := <-m.rspc:
			m.log.WithField("cmd", r.op.String()).Debug("discarding stale reply")
		default:
			return
		}
	}
}

// send frames c for controller idx, writes it and waits for the reply
// carrying the same opcode. Replies for other commands are discarded. On
// success the reply parameters are decoded into r, if r is not nil.
func (m *Mgmt) send(idx uint16, c mgmt.Command, r mgmt.Response) error {
	if !atomic.CompareAndSwapInt32(&m.pending, 0, 1) {
		return ErrBusy
	}
	defer atomic.StoreInt32(&m.pending, 0)

	op := c.Opcode()
	l := m.log.WithField("cmd", op.String())
	if err := m.ensureConnected(); err != nil {
		l.WithError(err).Error("can't connect control socket")
		return err
	}
	m.drain()

	b := mgmt.Encode(idx, c)
	l.Debugf("< [ % X ]", b)
	if err := m.skt.Write(b); err != nil {
		l.WithError(err).Warn("write failed")
		return errors.Wrap(err, op.String())
	}

	t := time.NewTimer(m.timeout)
	defer t.Stop()
	for {
		select {
		case rp := <-m.rspc:
			if rp.err != nil {
				l.WithError(rp.err).Warn("read failed")
				return errors.Wrap(rp.err, op.String())
			}
			if rp.op != op || rp.index != idx {
				l.WithField("got", rp.op.String()).Debug("discarding reply for another command")
				continue
			}
			if rp.status != mgmt.StatusSuccess {
				err := &StatusError{Cmd: op, Status: rp.status}
				l.WithField("status", rp.status.String()).Warn("command failed")
				return err
			}
			if r == nil {
				return nil
			}
			if err := mgmt.Decode(rp.params, r); err != nil {
				l.WithError(err).Error("malformed reply")
				return errors.Wrap(err, op.String())
			}
			return nil
		case <-t.C:
			l.WithField("timeout", m.timeout).Warn("no reply")
			return errors.Wrap(ErrTimeout, op.String())
		}
	}
}
