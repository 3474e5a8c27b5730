package gatt

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/XC-/gattd/linux"
	"github.com/XC-/gattd/linux/bluez"
)

// Bus is the system bus as the server uses it. *bluez.Conn implements it.
type Bus interface {
	RequestName(name string, lost func()) error
	ManagedObjects(ctx context.Context) (bluez.Directory, error)
	Register(root *bluez.Object) (*bluez.Registration, error)
	Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) error
	EmitPropertiesChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) error
	Close() error
}

func dialBus(l *logrus.Entry) func() (Bus, error) {
	return func() (Bus, error) {
		c, err := bluez.Dial(l)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// adapter is the controller configuration surface. *linux.Mgmt implements
// it.
type adapter interface {
	ReadControllerInfo() (*linux.ControllerInfo, error)
	SetPowered(on bool) error
	SetLE(on bool) error
	SetBREDR(on bool) error
	SetSecureConnections(mode uint8) error
	SetBondable(on bool) error
	SetConnectable(on bool) error
	SetAdvertising(mode uint8) error
	SetName(name, shortName string) error
	Close() error
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type clock interface {
	Now() time.Time
	NewTicker(d time.Duration) ticker
}

type realClock struct{}

type realTicker struct{ *time.Ticker }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) ticker { return realTicker{time.NewTicker(d)} }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }
