package bluez

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNameTaken is returned by RequestName when another peer owns the name.
var ErrNameTaken = errors.New("bluez: bus name is owned by another peer")

const nameLostSignal = "org.freedesktop.DBus.NameLost"

// Conn is a system bus connection.
type Conn struct {
	conn *dbus.Conn
	log  *logrus.Entry

	sigc chan *dbus.Signal

	mu   sync.Mutex
	lost map[string]func()
}

// Dial connects to the system bus.
func Dial(l *logrus.Entry) (*Conn, error) {
	if l == nil {
		l = logrus.NewEntry(logrus.StandardLogger())
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect system bus")
	}
	c := &Conn{
		conn: conn,
		log:  l.WithField("component", "bus"),
		sigc: make(chan *dbus.Signal, 16),
		lost: map[string]func(){},
	}
	conn.Signal(c.sigc)
	go c.watch()
	c.log.WithField("names", conn.Names()).Debug("connected")
	return c, nil
}

func (c *Conn) watch() {
	for sig := range c.sigc {
		if sig == nil || sig.Name != nameLostSignal || len(sig.Body) < 1 {
			continue
		}
		name, _ := sig.Body[0].(string)
		c.mu.Lock()
		f := c.lost[name]
		delete(c.lost, name)
		c.mu.Unlock()
		if f != nil {
			c.log.WithField("name", name).Warn("bus name lost")
			f()
		}
	}
}

// RequestName claims the well-known name. lost is called from another
// goroutine if the name is later taken away.
func (c *Conn) RequestName(name string, lost func()) error {
	reply, err := c.conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return errors.Wrapf(err, "request name %s", name)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner && reply != dbus.RequestNameReplyAlreadyOwner {
		return errors.Wrap(ErrNameTaken, name)
	}
	c.mu.Lock()
	c.lost[name] = lost
	c.mu.Unlock()
	c.log.WithField("name", name).Info("bus name acquired")
	return nil
}

// ManagedObjects fetches the bus manager's object directory.
func (c *Conn) ManagedObjects(ctx context.Context) (Directory, error) {
	var d Directory
	call := c.conn.Object(Service, "/").CallWithContext(ctx, ObjectManagerIface+".GetManagedObjects", 0)
	if err := call.Store(&d); err != nil {
		return nil, errors.Wrap(err, "GetManagedObjects")
	}
	return d, nil
}

// Register exports the object tree rooted at root.
func (c *Conn) Register(root *Object) (*Registration, error) {
	return register(c.conn, root, c.log)
}

// Call invokes method, a fully qualified member name, on a bus manager
// object.
func (c *Conn) Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) error {
	call := c.conn.Object(Service, path).CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return errors.Wrap(call.Err, method)
	}
	return nil
}

// EmitPropertiesChanged announces new property values of iface at path.
func (c *Conn) EmitPropertiesChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) error {
	err := c.conn.Emit(path, PropertiesIface+".PropertiesChanged", iface, changed, []string{})
	return errors.Wrapf(err, "PropertiesChanged %s at %s", iface, path)
}

// Close closes the connection. The signal channel is closed with it, which
// ends the watcher.
func (c *Conn) Close() error {
	return c.conn.Close()
}
