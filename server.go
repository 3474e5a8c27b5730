package gatt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/XC-/gattd/linux"
	"github.com/XC-/gattd/linux/bluez"
)

// ErrServerStarted is returned by Start on a server that was started
// before. Servers are single-shot.
var ErrServerStarted = errors.New("server already started")

// A Server is a GATT server that publishes its services through the
// system bus and configures the controller for them. Servers are
// single-shot types; once a Server has been stopped, it cannot be
// restarted. Instead, create a new Server.
//
// All bring-up and update work runs on one goroutine, the run loop.
// Bus replies and timer ticks are posted to it as continuations.
type Server struct {
	name       string
	advName    string
	advShort   string
	index      uint16
	desired    settings
	retryDelay time.Duration
	tickPeriod time.Duration
	cmdTimeout time.Duration
	log        *logrus.Entry
	dial       func() (Bus, error)
	newAdapter func() adapter
	clock      clock

	services []*Service
	extra    []*bluez.Object
	app      *bluez.Object
	updates  UpdateQueue

	mu     sync.Mutex
	state  ServerRunState
	health ServerHealth
	info   *linux.ControllerInfo
	err    error

	// owned by the run loop
	h          handles
	adapter    adapter
	inflight   step
	retryStart time.Time
	retryStep  step
	ticker     ticker
	tickc      <-chan time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	postc    chan func()
	wake     chan struct{}
	stopc    chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// settings are the controller settings the server wants.
type settings struct {
	bredr       bool
	secureConn  bool
	bondable    bool
	connectable bool
	advertising bool
}

// NewServer creates a Server with the specified options.
// See http://dave.cheney.net/2014/10/17/functional-options-for-friendly-apis for more discussion.
func NewServer(opts ...option) *Server {
	s := &Server{
		name:       DefaultServiceName,
		desired:    settings{bondable: true, connectable: true, advertising: true},
		retryDelay: DefaultRetryDelay,
		tickPeriod: DefaultTickPeriod,
		cmdTimeout: linux.DefaultCommandTimeout,
		log:        logrus.NewEntry(logrus.StandardLogger()),
		clock:      realClock{},
		inflight:   stepNone,
		postc:      make(chan func(), 16),
		wake:       make(chan struct{}, 1),
		stopc:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("service", s.name)
	if s.dial == nil {
		s.dial = dialBus(s.log)
	}
	if s.newAdapter == nil {
		s.newAdapter = func() adapter {
			return linux.NewMgmt(s.index, linux.CommandTimeout(s.cmdTimeout), linux.Logger(s.log))
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// AddService registers a new Service with the server.
// All services must be added before starting the server.
func (s *Server) AddService(u UUID) *Service {
	if s.State() != StateUninitialized {
		return nil
	}
	svc := &Service{uuid: u, srv: s}
	s.services = append(s.services, svc)
	return svc
}

// AddObject adds a bus object tree that is registered next to the GATT
// application. Objects must be added before starting the server.
func (s *Server) AddObject(o *bluez.Object) {
	if s.State() != StateUninitialized {
		return
	}
	s.extra = append(s.extra, o)
}

// BusName returns the well-known bus name the server owns.
func (s *Server) BusName() string {
	return "com." + s.name
}

// Path returns the bus path of the GATT application root.
func (s *Server) Path() dbus.ObjectPath {
	return dbus.ObjectPath("/com/" + strings.Replace(s.name, ".", "/", -1))
}

// NotifyUpdated queues a PropertiesChanged for iface at path. Updates are
// sent by the run loop once the server is running.
func (s *Server) NotifyUpdated(path dbus.ObjectPath, iface string) {
	s.updates.Push(Update{Path: path, Interface: iface})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Updates returns the queue of pending updates.
func (s *Server) Updates() *UpdateQueue {
	return &s.updates
}

// State returns the server's run state.
func (s *Server) State() ServerRunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Health returns the server's health.
func (s *Server) Health() ServerHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// Adapter returns the controller information read during bring-up, or nil
// before it was read.
func (s *Server) Adapter() *linux.ControllerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return nil
	}
	ci := *s.info
	return &ci
}

func (s *Server) setState(st ServerRunState) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.WithField("state", st).Infof("%s -> %s", prev, st)
	}
}

func (s *Server) setHealth(h ServerHealth) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

// Start begins bring-up and returns. Use Wait to block until the server
// has stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return ErrServerStarted
	}
	s.state = StateInitializing
	s.mu.Unlock()

	s.build()
	s.log.WithField("path", s.Path()).Info("starting")
	go s.loop()
	return nil
}

// Serve starts the server and blocks until it stops.
func (s *Server) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	return s.Wait()
}

// Stop asks the server to shut down. It does not wait; see Wait.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopc) })
}

// Wait blocks until the server has stopped and returns why, if it failed.
func (s *Server) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Server) stopping() bool {
	select {
	case <-s.stopc:
		return true
	default:
		return false
	}
}

// build renders the services into the application object tree.
func (s *Server) build() {
	s.app = bluez.NewObject(s.Path())
	s.app.AddInterface(bluez.ObjectManager(s.app))
	for i, svc := range s.services {
		svc.render(s.app, i)
	}
}

func (s *Server) roots() []*bluez.Object {
	return append([]*bluez.Object{s.app}, s.extra...)
}

// post hands f to the run loop.
func (s *Server) post(f func()) {
	select {
	case s.postc <- f:
	case <-s.done:
	}
}

func (s *Server) loop() {
	defer close(s.done)
	for s.resume() {
	}
	for {
		select {
		case f := <-s.postc:
			f()
		case <-s.tickc:
			s.drainUpdates()
		case <-s.wake:
			s.drainUpdates()
		case <-s.stopc:
		}
		if s.stopping() {
			s.teardown()
			return
		}
		for s.resume() {
		}
	}
}

// drainUpdates emits PropertiesChanged for every queued update.
func (s *Server) drainUpdates() {
	if s.State() != StateRunning || s.h.bus == nil {
		return
	}
	for {
		u, ok := s.updates.Pop(false)
		if !ok {
			return
		}
		s.emit(u)
	}
}

func (s *Server) emit(u Update) {
	l := s.log.WithFields(logrus.Fields{"path": u.Path, "iface": u.Interface})
	var obj *bluez.Object
	for _, r := range s.roots() {
		if obj = r.Find(u.Path); obj != nil {
			break
		}
	}
	if obj == nil {
		l.Warn("update for unknown object")
		return
	}
	i := obj.Interface(u.Interface)
	if i == nil {
		l.Warn("update for unknown interface")
		return
	}
	changed := i.Values(true)
	if len(changed) == 0 {
		return
	}
	if err := s.h.bus.EmitPropertiesChanged(u.Path, u.Interface, changed); err != nil {
		l.WithError(err).Warn("can't emit update")
		return
	}
	l.Debug("update sent")
}

// teardown releases everything bring-up acquired, newest first.
func (s *Server) teardown() {
	s.setState(StateStopping)
	s.cancel()
	if s.ticker != nil {
		s.ticker.Stop()
		s.tickc = nil
	}
	if s.h.appRegistered {
		ctx, cancel := context.WithTimeout(context.Background(), s.cmdTimeout)
		err := s.h.bus.Call(ctx, s.h.adapterPath, bluez.GattManagerIface+".UnregisterApplication", s.Path())
		cancel()
		if err != nil {
			s.log.WithError(err).Warn("can't unregister application")
		}
		s.h.appRegistered = false
	}
	for _, r := range s.h.regs {
		r.Release()
	}
	s.h.regs = nil
	if s.adapter != nil {
		if err := s.adapter.Close(); err != nil {
			s.log.WithError(err).Warn("can't close adapter")
		}
		s.adapter = nil
	}
	if s.h.bus != nil {
		if err := s.h.bus.Close(); err != nil {
			s.log.WithError(err).Warn("can't close bus connection")
		}
		s.h.bus = nil
	}
	s.updates.Clear()
	s.setState(StateStopped)
}
