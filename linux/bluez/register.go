package bluez

import (
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type exporter interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	ExportMethodTable(methods map[string]interface{}, path dbus.ObjectPath, iface string) error
}

type export struct {
	path  dbus.ObjectPath
	iface string
}

// A Registration holds the exports made for one object tree. The zero
// value has nothing to release.
type Registration struct {
	exp     exporter
	log     *logrus.Entry
	exports []export
}

// Len returns the number of exported (path, interface) pairs.
func (r *Registration) Len() int {
	if r == nil {
		return 0
	}
	return len(r.exports)
}

// Release withdraws every export, last first.
func (r *Registration) Release() {
	if r == nil || r.exp == nil {
		return
	}
	for n := len(r.exports) - 1; n >= 0; n-- {
		e := r.exports[n]
		if err := r.exp.Export(nil, e.path, e.iface); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{"path": e.path, "iface": e.iface}).Warn("unexport failed")
		}
	}
	r.exports = nil
}

// register exports every interface of every object below root together
// with Properties and Introspectable. Either the whole tree is exported or
// nothing is.
func register(exp exporter, root *Object, l *logrus.Entry) (*Registration, error) {
	r := &Registration{exp: exp, log: l}
	err := root.Walk(func(o *Object) error {
		for _, i := range o.Interfaces {
			if err := exp.ExportMethodTable(i.methodTable(), o.Path, i.Name); err != nil {
				return errors.Wrapf(err, "export %s at %s", i.Name, o.Path)
			}
			r.exports = append(r.exports, export{o.Path, i.Name})
			l.WithFields(logrus.Fields{"path": o.Path, "iface": i.Name}).Debug("exported")
		}
		if err := exp.Export(properties{o}, o.Path, PropertiesIface); err != nil {
			return errors.Wrapf(err, "export properties at %s", o.Path)
		}
		r.exports = append(r.exports, export{o.Path, PropertiesIface})
		if err := exp.Export(introspect.NewIntrospectable(o.Node()), o.Path, IntrospectableIface); err != nil {
			return errors.Wrapf(err, "export introspection at %s", o.Path)
		}
		r.exports = append(r.exports, export{o.Path, IntrospectableIface})
		return nil
	})
	if err != nil {
		r.Release()
		return nil, err
	}
	return r, nil
}
