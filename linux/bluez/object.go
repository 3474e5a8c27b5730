// Package bluez exposes local objects on the system bus and talks to the
// bluetoothd bus manager.
package bluez

import (
	"reflect"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

// Well-known bus names and interfaces.
const (
	Service = "org.bluez"

	AdapterIface            = "org.bluez.Adapter1"
	GattManagerIface        = "org.bluez.GattManager1"
	GattServiceIface        = "org.bluez.GattService1"
	GattCharacteristicIface = "org.bluez.GattCharacteristic1"
	GattDescriptorIface     = "org.bluez.GattDescriptor1"

	ObjectManagerIface  = "org.freedesktop.DBus.ObjectManager"
	PropertiesIface     = "org.freedesktop.DBus.Properties"
	IntrospectableIface = "org.freedesktop.DBus.Introspectable"
)

// A Method is a bus method backed by a Go function. Func follows the
// godbus export rules: its last result is a *dbus.Error.
type Method struct {
	Name string
	Func interface{}
}

// A Property is a bus property. Set is nil for read-only properties.
type Property struct {
	Name string
	Get  func() interface{}
	Set  func(v dbus.Variant) *dbus.Error

	// Emits marks properties announced with PropertiesChanged.
	Emits bool
}

// An Interface groups the methods and properties an object implements
// under one interface name.
type Interface struct {
	Name       string
	Methods    []Method
	Properties []*Property
}

// Property returns the property named n, or nil.
func (i *Interface) Property(n string) *Property {
	for _, p := range i.Properties {
		if p.Name == n {
			return p
		}
	}
	return nil
}

// Values returns the current property values. With emitting set only the
// properties that announce changes are included.
func (i *Interface) Values(emitting bool) map[string]dbus.Variant {
	m := make(map[string]dbus.Variant, len(i.Properties))
	for _, p := range i.Properties {
		if emitting && !p.Emits {
			continue
		}
		m[p.Name] = dbus.MakeVariant(p.Get())
	}
	return m
}

func (i *Interface) methodTable() map[string]interface{} {
	t := make(map[string]interface{}, len(i.Methods))
	for _, m := range i.Methods {
		t[m.Name] = m.Func
	}
	return t
}

var (
	errorType   = reflect.TypeOf((*dbus.Error)(nil))
	senderType  = reflect.TypeOf(dbus.Sender(""))
	messageType = reflect.TypeOf(dbus.Message{})
)

func (i *Interface) introspect() introspect.Interface {
	ii := introspect.Interface{Name: i.Name}
	for _, m := range i.Methods {
		im := introspect.Method{Name: m.Name}
		t := reflect.TypeOf(m.Func)
		for n := 0; n < t.NumIn(); n++ {
			in := t.In(n)
			if in == senderType || in == messageType {
				continue
			}
			im.Args = append(im.Args, introspect.Arg{Type: dbus.SignatureOfType(in).String(), Direction: "in"})
		}
		for n := 0; n < t.NumOut(); n++ {
			out := t.Out(n)
			if out == errorType {
				continue
			}
			im.Args = append(im.Args, introspect.Arg{Type: dbus.SignatureOfType(out).String(), Direction: "out"})
		}
		ii.Methods = append(ii.Methods, im)
	}
	for _, p := range i.Properties {
		ip := introspect.Property{
			Name:   p.Name,
			Type:   dbus.SignatureOf(p.Get()).String(),
			Access: "read",
		}
		if p.Set != nil {
			ip.Access = "readwrite"
		}
		if !p.Emits {
			ip.Annotations = []introspect.Annotation{{Name: "org.freedesktop.DBus.Property.EmitsChangedSignal", Value: "false"}}
		}
		ii.Properties = append(ii.Properties, ip)
	}
	return ii
}

// An Object is a node of a bus object tree.
type Object struct {
	Path       dbus.ObjectPath
	Interfaces []*Interface
	Children   []*Object
}

// NewObject returns an empty object at path.
func NewObject(path dbus.ObjectPath) *Object {
	return &Object{Path: path}
}

// AddInterface appends i and returns it.
func (o *Object) AddInterface(i *Interface) *Interface {
	o.Interfaces = append(o.Interfaces, i)
	return i
}

// AddChild creates a child object named name below o.
func (o *Object) AddChild(name string) *Object {
	c := NewObject(dbus.ObjectPath(strings.TrimSuffix(string(o.Path), "/") + "/" + name))
	o.Children = append(o.Children, c)
	return c
}

// Interface returns the interface named n, or nil.
func (o *Object) Interface(n string) *Interface {
	for _, i := range o.Interfaces {
		if i.Name == n {
			return i
		}
	}
	return nil
}

// Walk calls fn for o and every descendant, parents first. It stops at the
// first error.
func (o *Object) Walk(fn func(*Object) error) error {
	if err := fn(o); err != nil {
		return err
	}
	for _, c := range o.Children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the object at path p in the tree rooted at o.
func (o *Object) Find(p dbus.ObjectPath) *Object {
	if o.Path == p {
		return o
	}
	if !strings.HasPrefix(string(p), string(o.Path)) {
		return nil
	}
	for _, c := range o.Children {
		if f := c.Find(p); f != nil {
			return f
		}
	}
	return nil
}

// Node returns the introspection description of o.
func (o *Object) Node() *introspect.Node {
	n := &introspect.Node{
		Name:       string(o.Path),
		Interfaces: []introspect.Interface{introspect.IntrospectData, prop.IntrospectData},
	}
	for _, i := range o.Interfaces {
		n.Interfaces = append(n.Interfaces, i.introspect())
	}
	for _, c := range o.Children {
		name := string(c.Path)
		n.Children = append(n.Children, introspect.Node{Name: name[strings.LastIndex(name, "/")+1:]})
	}
	return n
}

// ManagedObjects renders every descendant of o the way
// org.freedesktop.DBus.ObjectManager reports it.
func (o *Object) ManagedObjects() map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	m := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{}
	for _, c := range o.Children {
		c.Walk(func(d *Object) error {
			ifaces := map[string]map[string]dbus.Variant{}
			for _, i := range d.Interfaces {
				if i.Name == ObjectManagerIface {
					continue
				}
				ifaces[i.Name] = i.Values(false)
			}
			m[d.Path] = ifaces
			return nil
		})
	}
	return m
}

// ObjectManager returns an org.freedesktop.DBus.ObjectManager interface
// reporting the tree below root.
func ObjectManager(root *Object) *Interface {
	return &Interface{
		Name: ObjectManagerIface,
		Methods: []Method{{
			Name: "GetManagedObjects",
			Func: func() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
				return root.ManagedObjects(), nil
			},
		}},
	}
}

// properties serves org.freedesktop.DBus.Properties for one object.
type properties struct {
	obj *Object
}

func (p properties) lookup(iface, name string) (*Property, *dbus.Error) {
	i := p.obj.Interface(iface)
	if i == nil {
		return nil, prop.ErrIfaceNotFound
	}
	pp := i.Property(name)
	if pp == nil {
		return nil, prop.ErrPropNotFound
	}
	return pp, nil
}

func (p properties) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	pp, err := p.lookup(iface, name)
	if err != nil {
		return dbus.Variant{}, err
	}
	return dbus.MakeVariant(pp.Get()), nil
}

func (p properties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	i := p.obj.Interface(iface)
	if i == nil {
		return nil, prop.ErrIfaceNotFound
	}
	return i.Values(false), nil
}

func (p properties) Set(iface, name string, v dbus.Variant) *dbus.Error {
	pp, err := p.lookup(iface, name)
	if err != nil {
		return err
	}
	if pp.Set == nil {
		return prop.ErrReadOnly
	}
	return pp.Set(v)
}

// Directory is the bus manager's object directory: interfaces and their
// properties keyed by object path.
type Directory map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Paths returns the object paths in sorted order.
func (d Directory) Paths() []dbus.ObjectPath {
	pp := make([]dbus.ObjectPath, 0, len(d))
	for p := range d {
		pp = append(pp, p)
	}
	sort.Slice(pp, func(i, j int) bool { return pp[i] < pp[j] })
	return pp
}

// Find returns the first object, in path order, implementing iface.
func (d Directory) Find(iface string) (dbus.ObjectPath, bool) {
	for _, p := range d.Paths() {
		if _, ok := d[p][iface]; ok {
			return p, true
		}
	}
	return "", false
}

// Property returns a property of a directory object.
func (d Directory) Property(path dbus.ObjectPath, iface, name string) (dbus.Variant, bool) {
	v, ok := d[path][iface][name]
	return v, ok
}
