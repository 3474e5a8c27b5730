package linux

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XC-/gattd/linux/internal/mgmt"
)

// fakeSocket answers written commands through respond.
type fakeSocket struct {
	mu         sync.Mutex
	connected  bool
	connects   int
	connectErr error
	written    [][]byte
	respond    func(h mgmt.Header, params []byte) [][]byte

	in   chan []byte
	errc chan error
	stop chan struct{}
	once sync.Once
}

func newFakeSocket(respond func(h mgmt.Header, params []byte) [][]byte) *fakeSocket {
	return &fakeSocket{
		respond: respond,
		in:      make(chan []byte, 16),
		errc:    make(chan error, 1),
		stop:    make(chan struct{}),
	}
}

func (s *fakeSocket) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	s.connects++
	return nil
}

func (s *fakeSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSocket) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *fakeSocket) Shutdown() { s.once.Do(func() { close(s.stop) }) }

func (s *fakeSocket) Write(b []byte) error {
	s.mu.Lock()
	s.written = append(s.written, append([]byte(nil), b...))
	respond := s.respond
	s.mu.Unlock()
	if respond == nil {
		return nil
	}
	var h mgmt.Header
	if err := h.Unmarshal(b); err != nil {
		return err
	}
	for _, f := range respond(h, b[mgmt.HeaderLen:]) {
		s.in <- f
	}
	return nil
}

func (s *fakeSocket) Read(timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b := <-s.in:
		return b, nil
	case err := <-s.errc:
		return nil, err
	case <-s.stop:
		return nil, nil
	case <-t.C:
		return nil, nil
	}
}

func (s *fakeSocket) writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

func frame(code mgmt.EventCode, idx uint16, params []byte) []byte {
	b := make([]byte, mgmt.HeaderLen+len(params))
	mgmt.Header{Code: uint16(code), Index: idx, Len: uint16(len(params))}.Marshal(b)
	copy(b[mgmt.HeaderLen:], params)
	return b
}

func complete(idx uint16, op mgmt.Opcode, st mgmt.Status, params []byte) []byte {
	p := make([]byte, 3+len(params))
	binary.LittleEndian.PutUint16(p, uint16(op))
	p[2] = uint8(st)
	copy(p[3:], params)
	return frame(mgmt.EvtCommandComplete, idx, p)
}

func status(idx uint16, op mgmt.Opcode, st mgmt.Status) []byte {
	p := make([]byte, 3)
	binary.LittleEndian.PutUint16(p, uint16(op))
	p[2] = uint8(st)
	return frame(mgmt.EvtCommandStatus, idx, p)
}

func settingsParams(s Settings) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(s))
	return b
}

func newTestMgmt(t *testing.T, s *fakeSocket, opts ...MgmtOption) *Mgmt {
	opts = append([]MgmtOption{withSocket(s), CommandTimeout(200 * time.Millisecond)}, opts...)
	m := NewMgmt(0, opts...)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSetModes(t *testing.T) {
	want := SettingPowered | SettingLowEnergy
	s := newFakeSocket(func(h mgmt.Header, _ []byte) [][]byte {
		return [][]byte{complete(h.Index, mgmt.Opcode(h.Code), mgmt.StatusSuccess, settingsParams(want))}
	})
	m := newTestMgmt(t, s)

	tests := []struct {
		name string
		call func() error
		op   mgmt.Opcode
		arg  []byte
	}{
		{"powered", func() error { return m.SetPowered(true) }, mgmt.OpSetPowered, []byte{1}},
		{"bredr", func() error { return m.SetBREDR(false) }, mgmt.OpSetBREDR, []byte{0}},
		{"secure connections", func() error { return m.SetSecureConnections(2) }, mgmt.OpSetSecureConnections, []byte{2}},
		{"bondable", func() error { return m.SetBondable(true) }, mgmt.OpSetBondable, []byte{1}},
		{"connectable", func() error { return m.SetConnectable(true) }, mgmt.OpSetConnectable, []byte{1}},
		{"le", func() error { return m.SetLE(true) }, mgmt.OpSetLowEnergy, []byte{1}},
		{"advertising", func() error { return m.SetAdvertising(1) }, mgmt.OpSetAdvertising, []byte{1}},
		{"discoverable", func() error { return m.SetDiscoverable(1, 30) }, mgmt.OpSetDiscoverable, []byte{1, 30, 0}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.call())
			w := s.writes()
			require.Len(t, w, i+1)
			var h mgmt.Header
			require.NoError(t, h.Unmarshal(w[i]))
			assert.Equal(t, uint16(tt.op), h.Code)
			assert.Equal(t, uint16(0), h.Index)
			assert.Equal(t, tt.arg, w[i][mgmt.HeaderLen:])
		})
	}
	assert.Equal(t, want, m.Settings())
}

func TestOtherRepliesDiscarded(t *testing.T) {
	s := newFakeSocket(func(h mgmt.Header, _ []byte) [][]byte {
		return [][]byte{
			frame(mgmt.EvtNewSettings, 0, settingsParams(SettingPowered)),
			complete(h.Index, mgmt.OpSetBondable, mgmt.StatusSuccess, settingsParams(0)),
			complete(1, mgmt.Opcode(h.Code), mgmt.StatusSuccess, settingsParams(0)),
			complete(h.Index, mgmt.Opcode(h.Code), mgmt.StatusSuccess, settingsParams(SettingPowered)),
		}
	})
	m := newTestMgmt(t, s)
	require.NoError(t, m.SetPowered(true))
	assert.Equal(t, SettingPowered, m.Settings())
}

func TestCommandTimeout(t *testing.T) {
	s := newFakeSocket(nil)
	m := newTestMgmt(t, s, CommandTimeout(30*time.Millisecond))
	start := time.Now()
	err := m.SetPowered(true)
	assert.Equal(t, ErrTimeout, errors.Cause(err))
	assert.True(t, time.Since(start) >= 30*time.Millisecond)
	assert.Equal(t, Settings(0), m.Settings())
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		name  string
		reply func(h mgmt.Header) []byte
		want  mgmt.Status
	}{
		{"complete", func(h mgmt.Header) []byte {
			return complete(h.Index, mgmt.Opcode(h.Code), mgmt.StatusRejected, settingsParams(0))
		}, mgmt.StatusRejected},
		{"status", func(h mgmt.Header) []byte {
			return status(h.Index, mgmt.Opcode(h.Code), mgmt.StatusNotPowered)
		}, mgmt.StatusNotPowered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeSocket(func(h mgmt.Header, _ []byte) [][]byte { return [][]byte{tt.reply(h)} })
			m := newTestMgmt(t, s)
			err := m.SetBREDR(false)
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, mgmt.OpSetBREDR, se.Cmd)
			assert.Equal(t, tt.want, se.Status)
			assert.Contains(t, err.Error(), tt.want.String())
		})
	}
}

func TestReadErrorReconnects(t *testing.T) {
	boom := errors.New("boom")
	var calls int
	var s *fakeSocket
	s = newFakeSocket(func(h mgmt.Header, _ []byte) [][]byte {
		calls++
		if calls == 1 {
			s.errc <- boom
			return nil
		}
		return [][]byte{complete(h.Index, mgmt.Opcode(h.Code), mgmt.StatusSuccess, settingsParams(SettingPowered))}
	})
	m := newTestMgmt(t, s)

	err := m.SetPowered(true)
	assert.Equal(t, boom, errors.Cause(err))
	require.Eventually(t, func() bool { return !s.Connected() }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return m.SetPowered(true) == nil }, time.Second, 10*time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 2, s.connects)
}

func TestBusy(t *testing.T) {
	m := newTestMgmt(t, newFakeSocket(nil))
	m.pending = 1
	assert.Equal(t, ErrBusy, m.SetPowered(true))
}

func TestConnectFailure(t *testing.T) {
	s := newFakeSocket(nil)
	s.connectErr = errors.New("permission denied")
	m := newTestMgmt(t, s)
	err := m.SetPowered(true)
	assert.Equal(t, s.connectErr, errors.Cause(err))
	assert.Empty(t, s.writes())
}

func TestControllerInfoCached(t *testing.T) {
	ci := ControllerInfo{
		Address:           [6]byte{0x06, 0x05, 0x04, 0x03, 0x02, 0x01},
		SupportedSettings: SettingPowered | SettingLowEnergy | SettingBREDR,
		CurrentSettings:   SettingBREDR,
		Name:              "hci0",
	}
	s := newFakeSocket(func(h mgmt.Header, _ []byte) [][]byte {
		if mgmt.Opcode(h.Code) == mgmt.OpReadInfo {
			b := make([]byte, ci.Len())
			ci.Marshal(b)
			return [][]byte{complete(h.Index, mgmt.OpReadInfo, mgmt.StatusSuccess, b)}
		}
		return [][]byte{complete(h.Index, mgmt.Opcode(h.Code), mgmt.StatusSuccess, settingsParams(Settings(0)))}
	})
	m := newTestMgmt(t, s)

	got, err := m.ControllerInfo()
	require.NoError(t, err)
	assert.Equal(t, "01:02:03:04:05:06", got.AddressString())
	assert.Equal(t, "hci0", got.Name)
	assert.Equal(t, SettingBREDR, m.Settings())

	got.Name = "changed"
	again, err := m.ControllerInfo()
	require.NoError(t, err)
	assert.Equal(t, "hci0", again.Name)
	assert.Len(t, s.writes(), 1)

	require.NoError(t, m.SetBREDR(false))
	again, err = m.ControllerInfo()
	require.NoError(t, err)
	assert.Equal(t, Settings(0), again.CurrentSettings)
}

func TestSetNameTruncates(t *testing.T) {
	s := newFakeSocket(func(h mgmt.Header, p []byte) [][]byte {
		return [][]byte{complete(h.Index, mgmt.Opcode(h.Code), mgmt.StatusSuccess, p)}
	})
	m := newTestMgmt(t, s)
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'n'
	}
	require.NoError(t, m.SetName(string(long), "a-very-long-short-name"))

	w := s.writes()
	require.Len(t, w, 1)
	var c mgmt.SetLocalName
	require.NoError(t, mgmt.Decode(w[0][mgmt.HeaderLen:], &c))
	assert.Len(t, c.Name, MaxNameLen)
	assert.Equal(t, "a-very-lon", c.ShortName)
}

func TestReadControllerIndexList(t *testing.T) {
	s := newFakeSocket(func(h mgmt.Header, _ []byte) [][]byte {
		return [][]byte{complete(h.Index, mgmt.OpReadIndexList, mgmt.StatusSuccess, []byte{2, 0, 0, 0, 3, 0})}
	})
	m := newTestMgmt(t, s)
	idx, err := m.ReadControllerIndexList()
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 3}, idx)

	var h mgmt.Header
	require.NoError(t, h.Unmarshal(s.writes()[0]))
	assert.Equal(t, NoController, h.Index)
}

func TestVersion(t *testing.T) {
	s := newFakeSocket(func(h mgmt.Header, _ []byte) [][]byte {
		return [][]byte{complete(h.Index, mgmt.OpReadVersion, mgmt.StatusSuccess, []byte{1, 22, 0})}
	})
	m := newTestMgmt(t, s)
	v, r, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v)
	assert.Equal(t, uint16(22), r)
}

func TestClose(t *testing.T) {
	s := newFakeSocket(func(h mgmt.Header, _ []byte) [][]byte {
		return [][]byte{complete(h.Index, mgmt.Opcode(h.Code), mgmt.StatusSuccess, settingsParams(0))}
	})
	m := NewMgmt(0, withSocket(s))
	require.NoError(t, m.SetLE(true))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.False(t, s.Connected())
	assert.Equal(t, ErrClosed, m.SetLE(true))
}
