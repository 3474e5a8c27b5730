package gatt

import (
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/XC-/gattd/linux"
	"github.com/XC-/gattd/linux/bluez"
)

// step is a bring-up stage. Stages run in declaration order.
type step int

const (
	stepConnectBus step = iota
	stepOwnName
	stepFetchDirectory
	stepLocateAdapter
	stepReconcile
	stepRegisterObjects
	stepRegisterApplication
	stepRunning
	stepNone
)

func (s step) String() string {
	str := []string{
		"connect bus",
		"own name",
		"fetch directory",
		"locate adapter",
		"reconcile settings",
		"register objects",
		"register application",
		"running",
		"none",
	}
	if int(s) < 0 || int(s) >= len(str) {
		return "unknown"
	}
	return str[int(s)]
}

var (
	errNoAdapter = errors.New("no adapter with " + bluez.GattManagerIface)
	errNameLost  = errors.New("bus name lost")
)

// handles are what bring-up has acquired so far. The next stage is the
// first one whose handle is missing, so a failed stage is simply run again.
type handles struct {
	bus           Bus
	nameOwned     bool
	dir           bluez.Directory
	adapterPath   dbus.ObjectPath
	reconciled    bool
	regs          []*bluez.Registration
	appRegistered bool
}

func (h *handles) next() step {
	switch {
	case h.bus == nil:
		return stepConnectBus
	case !h.nameOwned:
		return stepOwnName
	case h.adapterPath == "" && h.dir == nil:
		return stepFetchDirectory
	case h.adapterPath == "":
		return stepLocateAdapter
	case !h.reconciled:
		return stepReconcile
	case h.regs == nil:
		return stepRegisterObjects
	case !h.appRegistered:
		return stepRegisterApplication
	}
	return stepRunning
}

// resume runs the next bring-up stage. It reports whether another stage
// can run right away; asynchronous stages continue through a posted
// continuation, failed stages after the retry delay.
func (s *Server) resume() bool {
	if s.stopping() || s.inflight != stepNone {
		return false
	}
	if !s.retryStart.IsZero() {
		if s.clock.Now().Sub(s.retryStart) < s.retryDelay {
			return false
		}
		s.log.WithField("step", s.retryStep).Debug("retrying")
		s.retryStart = time.Time{}
	}

	st := s.h.next()
	switch st {
	case stepConnectBus:
		s.spawn(st, s.connectBus())
	case stepOwnName:
		s.spawn(st, s.ownName())
	case stepFetchDirectory:
		s.spawn(st, s.fetchDirectory())
	case stepLocateAdapter:
		p, ok := s.h.dir.Find(bluez.GattManagerIface)
		if !ok {
			// fetch a fresh directory on retry
			s.h.dir = nil
			s.retry(st, errNoAdapter)
			return false
		}
		s.h.adapterPath = p
		s.log.WithFields(logrus.Fields{"step": st, "path": p}).Info("adapter found")
		return true
	case stepReconcile:
		if err := s.reconcile(); err != nil {
			s.retry(st, err)
			return false
		}
		s.h.reconciled = true
		return true
	case stepRegisterObjects:
		if err := s.registerObjects(); err != nil {
			s.retry(st, err)
			return false
		}
		return true
	case stepRegisterApplication:
		s.spawn(st, s.registerApplication())
	case stepRunning:
		if s.State() == StateRunning {
			return false
		}
		if s.Health() != HealthOK {
			s.Stop()
			return false
		}
		s.setState(StateRunning)
		s.drainUpdates()
	}
	return false
}

// spawn runs work on its own goroutine and posts the continuation it
// returns to the run loop. Nothing else runs until the continuation has.
func (s *Server) spawn(st step, work func() func()) {
	s.inflight = st
	s.log.WithField("step", st).Debug("started")
	go func() {
		k := work()
		s.post(func() {
			s.inflight = stepNone
			if s.stopping() {
				return
			}
			k()
		})
	}()
}

// retry arms the retry timer. A timer that is already armed is kept.
func (s *Server) retry(st step, err error) {
	l := s.log.WithField("step", st).WithError(err)
	if !s.retryStart.IsZero() {
		l.WithField("pending", s.retryStep).Warn("step failed while a retry is pending; reusing it")
		return
	}
	l.Warnf("step failed; retrying in %s", s.retryDelay)
	s.retryStart = s.clock.Now()
	s.retryStep = st
}

// fail gives up on the server.
func (s *Server) fail(st step, h ServerHealth, err error) {
	s.log.WithField("step", st).WithError(err).Error("unrecoverable failure")
	s.mu.Lock()
	s.health = h
	s.err = errors.Wrap(err, st.String())
	s.mu.Unlock()
	s.Stop()
}

func (s *Server) connectBus() func() func() {
	dial := s.dial
	return func() func() {
		b, err := dial()
		return func() {
			if err != nil {
				s.fail(stepConnectBus, HealthFailedInit, err)
				return
			}
			s.h.bus = b
		}
	}
}

func (s *Server) ownName() func() func() {
	b, name := s.h.bus, s.BusName()
	lost := func() { s.post(s.nameLost) }
	return func() func() {
		err := b.RequestName(name, lost)
		return func() {
			if err != nil {
				if s.ticker == nil {
					s.fail(stepOwnName, HealthFailedInit, err)
					return
				}
				s.retry(stepOwnName, err)
				return
			}
			s.h.nameOwned = true
			if s.ticker == nil {
				s.ticker = s.clock.NewTicker(s.tickPeriod)
				s.tickc = s.ticker.C()
			}
		}
	}
}

func (s *Server) nameLost() {
	s.h.nameOwned = false
	if s.ticker == nil {
		s.fail(stepOwnName, HealthFailedInit, errNameLost)
		return
	}
	s.retry(stepOwnName, errNameLost)
}

func (s *Server) fetchDirectory() func() func() {
	b, ctx := s.h.bus, s.ctx
	return func() func() {
		d, err := b.ManagedObjects(ctx)
		return func() {
			if err != nil {
				s.retry(stepFetchDirectory, err)
				return
			}
			s.h.dir = d
		}
	}
}

// registerObjects registers every object tree. Either all trees are
// registered or none is.
func (s *Server) registerObjects() error {
	var regs []*bluez.Registration
	for _, root := range s.roots() {
		r, err := s.h.bus.Register(root)
		if err != nil {
			for _, r := range regs {
				r.Release()
			}
			return errors.Wrapf(err, "register %s", root.Path)
		}
		regs = append(regs, r)
	}
	s.h.regs = regs
	s.log.WithField("step", stepRegisterObjects).Infof("%d object trees registered", len(regs))
	return nil
}

func (s *Server) registerApplication() func() func() {
	b, ctx, adapter, app := s.h.bus, s.ctx, s.h.adapterPath, s.Path()
	return func() func() {
		err := b.Call(ctx, adapter, bluez.GattManagerIface+".RegisterApplication", app, map[string]dbus.Variant{})
		return func() {
			if err != nil {
				s.retry(stepRegisterApplication, err)
				return
			}
			s.h.appRegistered = true
			s.log.WithFields(logrus.Fields{"step": stepRegisterApplication, "path": app}).Info("application registered")
		}
	}
}

// A change is one command of a reconciliation pass.
type change struct {
	name string
	do   func() error
}

// reconcile brings the controller settings in line with the desired ones.
// Changes are applied with the controller powered off, in a fixed order;
// the first failing change aborts the pass.
func (s *Server) reconcile() error {
	if s.adapter == nil {
		s.adapter = s.newAdapter()
	}
	a := s.adapter
	ci, err := a.ReadControllerInfo()
	if err != nil {
		return errors.Wrap(err, "read controller info")
	}
	s.setInfo(ci)

	cur := ci.CurrentSettings
	d := s.desired
	differs := func(bit linux.Settings, want bool) bool { return cur.Has(bit) != want }
	renaming := s.advName != "" && (ci.Name != s.advName || ci.ShortName != s.advShort)

	if !differs(linux.SettingPowered, true) &&
		!differs(linux.SettingLowEnergy, true) &&
		!differs(linux.SettingBREDR, d.bredr) &&
		!differs(linux.SettingSecureConnections, d.secureConn) &&
		!differs(linux.SettingBondable, d.bondable) &&
		!differs(linux.SettingConnectable, d.connectable) &&
		!differs(linux.SettingAdvertising, d.advertising) &&
		!renaming {
		s.log.WithField("step", stepReconcile).Debugf("settings already match: %s", cur)
		return nil
	}

	var plan []change
	if cur.Has(linux.SettingPowered) {
		plan = append(plan, change{"power off", func() error { return a.SetPowered(false) }})
	}
	if !cur.Has(linux.SettingLowEnergy) {
		plan = append(plan, change{"enable LE", func() error { return a.SetLE(true) }})
	}
	if differs(linux.SettingBREDR, d.bredr) {
		plan = append(plan, change{"BR/EDR", func() error { return a.SetBREDR(d.bredr) }})
	}
	if differs(linux.SettingSecureConnections, d.secureConn) {
		plan = append(plan, change{"secure connections", func() error { return a.SetSecureConnections(mode(d.secureConn)) }})
	}
	if differs(linux.SettingBondable, d.bondable) {
		plan = append(plan, change{"bondable", func() error { return a.SetBondable(d.bondable) }})
	}
	if differs(linux.SettingConnectable, d.connectable) {
		plan = append(plan, change{"connectable", func() error { return a.SetConnectable(d.connectable) }})
	}
	if differs(linux.SettingAdvertising, d.advertising) {
		plan = append(plan, change{"advertising", func() error { return a.SetAdvertising(mode(d.advertising)) }})
	}
	if renaming {
		plan = append(plan, change{"name", func() error { return a.SetName(s.advName, s.advShort) }})
	}
	plan = append(plan, change{"power on", func() error { return a.SetPowered(true) }})

	for _, c := range plan {
		l := s.log.WithFields(logrus.Fields{"step": stepReconcile, "cmd": c.name})
		if err := c.do(); err != nil {
			l.WithError(err).Warn("change failed")
			return errors.Wrap(err, c.name)
		}
		l.Debug("applied")
	}

	ci, err = a.ReadControllerInfo()
	if err != nil {
		return errors.Wrap(err, "read controller info")
	}
	s.setInfo(ci)
	s.log.WithField("step", stepReconcile).Infof("settings reconciled: %s", ci.CurrentSettings)
	return nil
}

func (s *Server) setInfo(ci *linux.ControllerInfo) {
	c := *ci
	s.mu.Lock()
	s.info = &c
	s.mu.Unlock()
}

func mode(on bool) uint8 {
	if on {
		return 1
	}
	return 0
}
