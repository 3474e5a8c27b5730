package linux

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/XC-/gattd/linux/internal/mgmt"
	"github.com/XC-/gattd/linux/internal/socket"
)

// DefaultCommandTimeout bounds the wait for a command's reply.
const DefaultCommandTimeout = 1000 * time.Millisecond

// readSlice is how long the receive loop blocks in one socket read.
const readSlice = 250 * time.Millisecond

type controlSocket interface {
	Connect() error
	Connected() bool
	Disconnect()
	Shutdown()
	Write(b []byte) error
	Read(timeout time.Duration) ([]byte, error)
}

// Mgmt speaks the kernel management protocol for one controller.
//
// Commands are synchronous and at most one may be outstanding; a second
// concurrent command fails with ErrBusy. A receive goroutine reads frames
// from the control socket and hands command replies to the waiting caller
// through a single slot channel.
//
// The cached controller information is written only by the goroutine
// issuing commands.
type Mgmt struct {
	skt     controlSocket
	index   uint16
	timeout time.Duration
	log     *logrus.Entry
	e       *event

	pending  int32
	rspc     chan reply
	shutdown int32

	mu      sync.Mutex
	running bool
	closed  bool
	quit    chan struct{}
	done    chan struct{}

	info     *ControllerInfo
	settings Settings
}

// An MgmtOption configures a Mgmt.
type MgmtOption func(*Mgmt)

// CommandTimeout overrides DefaultCommandTimeout.
func CommandTimeout(d time.Duration) MgmtOption {
	return func(m *Mgmt) { m.timeout = d }
}

// Logger sets the log entry used by Mgmt and its socket.
func Logger(l *logrus.Entry) MgmtOption {
	return func(m *Mgmt) { m.log = l }
}

func withSocket(s controlSocket) MgmtOption {
	return func(m *Mgmt) { m.skt = s }
}

// NewMgmt returns a Mgmt for the controller index. The control socket is
// opened lazily by the first command.
func NewMgmt(index uint16, opts ...MgmtOption) *Mgmt {
	m := &Mgmt{
		index:   index,
		timeout: DefaultCommandTimeout,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		rspc:    make(chan reply, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("index", index)
	if m.skt == nil {
		m.skt = socket.New(&m.shutdown, m.log)
	}

	m.e = newEvent()
	m.e.handleEvent(mgmt.EvtCommandComplete, handlerFunc(m.handleComplete))
	m.e.handleEvent(mgmt.EvtCommandStatus, handlerFunc(m.handleStatus))
	m.e.handleEvent(mgmt.EvtNewSettings, handlerFunc(m.handleNewSettings))
	m.e.handleEvent(mgmt.EvtControllerError, handlerFunc(m.handleControllerError))
	m.e.handleEvent(mgmt.EvtIndexAdded, handlerFunc(m.handleNotice))
	m.e.handleEvent(mgmt.EvtIndexRemoved, handlerFunc(m.handleNotice))
	m.e.handleEvent(mgmt.EvtLocalNameChanged, handlerFunc(m.handleNotice))
	m.e.handleEvent(mgmt.EvtClassOfDevChanged, handlerFunc(m.handleNotice))
	return m
}

// Index returns the controller index commands are addressed to.
func (m *Mgmt) Index() uint16 { return m.index }

func (m *Mgmt) ensureConnected() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.running && m.skt.Connected() {
		return nil
	}
	if !m.skt.Connected() {
		if err := m.skt.Connect(); err != nil {
			return errors.Wrap(err, "mgmt: connect")
		}
	}
	if !m.running {
		m.quit = make(chan struct{})
		m.done = make(chan struct{})
		m.running = true
		go m.readLoop(m.quit, m.done)
	}
	return nil
}

func (m *Mgmt) readLoop(quit, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.running = false
		}
		m.mu.Unlock()
		close(done)
	}()
	for {
		select {
		case <-quit:
			return
		default:
		}
		b, err := m.skt.Read(readSlice)
		if err != nil {
			select {
			case <-quit:
				return
			default:
			}
			m.log.WithError(err).Error("control socket read failed")
			m.mu.Lock()
			if m.done == done {
				m.running = false
			}
			m.skt.Disconnect()
			m.mu.Unlock()
			m.deliver(reply{err: err})
			return
		}
		if b == nil {
			continue
		}
		if err := m.e.dispatch(b); err != nil {
			m.log.WithError(err).Warnf("bad frame [ % X ]", b)
		}
	}
}

// Close stops the receive goroutine and closes the control socket. Commands
// issued afterwards fail with ErrClosed. Close is idempotent.
func (m *Mgmt) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	running, quit, done := m.running, m.quit, m.done
	m.mu.Unlock()

	if running {
		close(quit)
	}
	m.skt.Shutdown()
	if running {
		<-done
	}
	m.skt.Disconnect()
	return nil
}

// Version reads the management interface version.
func (m *Mgmt) Version() (version uint8, revision uint16, err error) {
	var rp mgmt.ReadVersionRP
	if err := m.send(mgmt.NoController, mgmt.ReadVersion{}, &rp); err != nil {
		return 0, 0, err
	}
	m.log.Infof("management interface version %d.%d", rp.Version, rp.Revision)
	return rp.Version, rp.Revision, nil
}

// ReadControllerIndexList lists the controllers known to the kernel.
func (m *Mgmt) ReadControllerIndexList() ([]uint16, error) {
	var rp mgmt.ReadIndexListRP
	if err := m.send(mgmt.NoController, mgmt.ReadIndexList{}, &rp); err != nil {
		return nil, err
	}
	return rp.Indexes, nil
}

// ReadControllerInfo fetches the controller information and caches it.
func (m *Mgmt) ReadControllerInfo() (*ControllerInfo, error) {
	ci := &ControllerInfo{}
	if err := m.send(m.index, mgmt.ReadInfo{}, ci); err != nil {
		return nil, err
	}
	m.info = ci
	m.settings = ci.CurrentSettings
	m.log.WithFields(logrus.Fields{
		"address":   ci.AddressString(),
		"name":      ci.Name,
		"supported": ci.SupportedSettings.String(),
		"current":   ci.CurrentSettings.String(),
	}).Info("controller information")
	c := *ci
	return &c, nil
}

// ControllerInfo returns the cached controller information, fetching it
// if nothing is cached yet.
func (m *Mgmt) ControllerInfo() (*ControllerInfo, error) {
	if m.info == nil {
		return m.ReadControllerInfo()
	}
	c := *m.info
	return &c, nil
}

// Settings returns the current settings last reported by the kernel.
func (m *Mgmt) Settings() Settings { return m.settings }

func (m *Mgmt) setMode(c mgmt.Command) error {
	var rp mgmt.CurrentSettingsRP
	if err := m.send(m.index, c, &rp); err != nil {
		return err
	}
	m.settings = rp.Settings
	if m.info != nil {
		m.info.CurrentSettings = rp.Settings
	}
	m.log.WithField("cmd", c.Opcode().String()).Debugf("current settings: %s", rp.Settings)
	return nil
}

// SetPowered powers the controller on or off.
func (m *Mgmt) SetPowered(on bool) error {
	return m.setMode(mgmt.SetPowered{Mode: mgmt.Mode(on)})
}

// SetBREDR enables or disables BR/EDR. The kernel only accepts this while
// the controller is powered off.
func (m *Mgmt) SetBREDR(on bool) error {
	return m.setMode(mgmt.SetBREDR{Mode: mgmt.Mode(on)})
}

// SetSecureConnections sets Secure Connections: 0 off, 1 on, 2 only.
func (m *Mgmt) SetSecureConnections(mode uint8) error {
	return m.setMode(mgmt.SetSecureConnections{Mode: mode})
}

// SetBondable enables or disables bonding.
func (m *Mgmt) SetBondable(on bool) error {
	return m.setMode(mgmt.SetBondable{Mode: mgmt.Mode(on)})
}

// SetConnectable enables or disables connectable mode.
func (m *Mgmt) SetConnectable(on bool) error {
	return m.setMode(mgmt.SetConnectable{Mode: mgmt.Mode(on)})
}

// SetLE enables or disables Low Energy.
func (m *Mgmt) SetLE(on bool) error {
	return m.setMode(mgmt.SetLowEnergy{Mode: mgmt.Mode(on)})
}

// SetAdvertising sets advertising: 0 off, 1 on, 2 on and connectable.
func (m *Mgmt) SetAdvertising(mode uint8) error {
	return m.setMode(mgmt.SetAdvertising{Mode: mode})
}

// SetDiscoverable sets discoverability: 0 off, 1 general, 2 limited. The
// timeout is in seconds; 0 means no timeout.
func (m *Mgmt) SetDiscoverable(mode uint8, timeout uint16) error {
	return m.setMode(mgmt.SetDiscoverable{Mode: mode, Timeout: timeout})
}

// SetName sets the local name and short name. Names longer than
// MaxNameLen and MaxShortNameLen bytes are truncated.
func (m *Mgmt) SetName(name, shortName string) error {
	c := mgmt.SetLocalName{Name: truncate(name, MaxNameLen), ShortName: truncate(shortName, MaxShortNameLen)}
	var rp mgmt.SetLocalName
	if err := m.send(m.index, c, &rp); err != nil {
		return err
	}
	if m.info != nil {
		m.info.Name = rp.Name
		m.info.ShortName = rp.ShortName
	}
	m.log.WithFields(logrus.Fields{"name": rp.Name, "short": rp.ShortName}).Debug("local name set")
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
