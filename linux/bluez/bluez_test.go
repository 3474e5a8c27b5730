package bluez

import (
	"encoding/xml"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() (*Object, *Property) {
	value := []byte{0x01}
	root := NewObject("/com/test")
	root.AddInterface(ObjectManager(root))

	svc := root.AddChild("service0")
	svc.AddInterface(&Interface{
		Name: GattServiceIface,
		Properties: []*Property{
			{Name: "UUID", Get: func() interface{} { return "0000180f-0000-1000-8000-00805f9b34fb" }},
			{Name: "Primary", Get: func() interface{} { return true }},
		},
	})
	chr := svc.AddChild("char0")
	vp := &Property{
		Name:  "Value",
		Get:   func() interface{} { return value },
		Set:   func(v dbus.Variant) *dbus.Error { value = v.Value().([]byte); return nil },
		Emits: true,
	}
	chr.AddInterface(&Interface{
		Name: GattCharacteristicIface,
		Methods: []Method{
			{Name: "ReadValue", Func: func(opts map[string]dbus.Variant) ([]byte, *dbus.Error) { return value, nil }},
			{Name: "StartNotify", Func: func() *dbus.Error { return nil }},
		},
		Properties: []*Property{vp},
	})
	return root, vp
}

func TestObjectPaths(t *testing.T) {
	root, _ := sampleTree()
	var paths []dbus.ObjectPath
	require.NoError(t, root.Walk(func(o *Object) error {
		paths = append(paths, o.Path)
		return nil
	}))
	assert.Equal(t, []dbus.ObjectPath{"/com/test", "/com/test/service0", "/com/test/service0/char0"}, paths)

	assert.NotNil(t, root.Find("/com/test/service0/char0"))
	assert.Nil(t, root.Find("/com/test/service1"))
	assert.Nil(t, root.Find("/org/other"))
}

func TestNode(t *testing.T) {
	root, _ := sampleTree()
	chr := root.Find("/com/test/service0/char0")
	n := chr.Node()

	require.Len(t, n.Interfaces, 3)
	ci := n.Interfaces[2]
	assert.Equal(t, GattCharacteristicIface, ci.Name)
	require.Len(t, ci.Methods, 2)
	assert.Equal(t, "ReadValue", ci.Methods[0].Name)
	require.Len(t, ci.Methods[0].Args, 2)
	assert.Equal(t, "a{sv}", ci.Methods[0].Args[0].Type)
	assert.Equal(t, "in", ci.Methods[0].Args[0].Direction)
	assert.Equal(t, "ay", ci.Methods[0].Args[1].Type)
	assert.Equal(t, "out", ci.Methods[0].Args[1].Direction)
	assert.Empty(t, ci.Methods[1].Args)

	require.Len(t, ci.Properties, 1)
	assert.Equal(t, "ay", ci.Properties[0].Type)
	assert.Equal(t, "readwrite", ci.Properties[0].Access)
	assert.Empty(t, ci.Properties[0].Annotations)

	sn := root.Find("/com/test/service0").Node()
	require.Len(t, sn.Children, 1)
	assert.Equal(t, "char0", sn.Children[0].Name)
	sp := sn.Interfaces[2].Properties
	assert.Equal(t, "read", sp[0].Access)
	require.Len(t, sp[0].Annotations, 1)
	assert.Equal(t, "false", sp[0].Annotations[0].Value)

	_, err := xml.Marshal(n)
	assert.NoError(t, err)
}

func TestManagedObjects(t *testing.T) {
	root, _ := sampleTree()
	m := root.ManagedObjects()
	require.Len(t, m, 2)
	assert.NotContains(t, m, dbus.ObjectPath("/com/test"))
	assert.Equal(t, dbus.MakeVariant(true), m["/com/test/service0"][GattServiceIface]["Primary"])
	assert.Equal(t, dbus.MakeVariant([]byte{0x01}), m["/com/test/service0/char0"][GattCharacteristicIface]["Value"])

	om := root.Interface(ObjectManagerIface)
	require.NotNil(t, om)
	f := om.Methods[0].Func.(func() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error))
	got, derr := f()
	assert.Nil(t, derr)
	assert.Equal(t, m, got)
}

func TestProperties(t *testing.T) {
	root, vp := sampleTree()
	p := properties{root.Find("/com/test/service0/char0")}

	v, err := p.Get(GattCharacteristicIface, "Value")
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x01}, v.Value())

	_, err = p.Get("org.example.Missing", "Value")
	assert.Equal(t, prop.ErrIfaceNotFound, err)
	_, err = p.Get(GattCharacteristicIface, "Missing")
	assert.Equal(t, prop.ErrPropNotFound, err)

	assert.Nil(t, p.Set(GattCharacteristicIface, "Value", dbus.MakeVariant([]byte{0x02})))
	assert.Equal(t, []byte{0x02}, vp.Get())

	all, err := p.GetAll(GattCharacteristicIface)
	assert.Nil(t, err)
	assert.Equal(t, map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte{0x02})}, all)

	sp := properties{root.Find("/com/test/service0")}
	assert.Equal(t, prop.ErrReadOnly, sp.Set(GattServiceIface, "Primary", dbus.MakeVariant(false)))

	emitting := root.Find("/com/test/service0").Interface(GattServiceIface).Values(true)
	assert.Empty(t, emitting)
}

func TestDirectoryFind(t *testing.T) {
	d := Directory{
		"/org/bluez/hci1": {AdapterIface: {}, GattManagerIface: {}},
		"/org/bluez/hci0": {AdapterIface: {"Address": dbus.MakeVariant("00:11:22:33:44:55")}, GattManagerIface: {}},
		"/org/bluez":      {"org.bluez.AgentManager1": {}},
	}
	p, ok := d.Find(GattManagerIface)
	assert.True(t, ok)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), p)

	_, ok = d.Find("org.bluez.LEAdvertisingManager1")
	assert.False(t, ok)

	v, ok := d.Property("/org/bluez/hci0", AdapterIface, "Address")
	assert.True(t, ok)
	assert.Equal(t, "00:11:22:33:44:55", v.Value())
	_, ok = d.Property("/org/bluez/hci9", AdapterIface, "Address")
	assert.False(t, ok)
}

type fakeExporter struct {
	exported map[export]bool
	calls    int
	failAt   int
}

func (f *fakeExporter) do(v bool, path dbus.ObjectPath, iface string) error {
	if !v {
		delete(f.exported, export{path, iface})
		return nil
	}
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return errors.New("object path already in use")
	}
	f.exported[export{path, iface}] = true
	return nil
}

func (f *fakeExporter) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	return f.do(v != nil, path, iface)
}

func (f *fakeExporter) ExportMethodTable(m map[string]interface{}, path dbus.ObjectPath, iface string) error {
	return f.do(m != nil, path, iface)
}

func TestRegister(t *testing.T) {
	root, _ := sampleTree()
	l := logrus.NewEntry(logrus.New())

	exp := &fakeExporter{exported: map[export]bool{}}
	r, err := register(exp, root, l)
	require.NoError(t, err)
	// three objects, one interface each, plus Properties and Introspectable
	assert.Equal(t, 9, r.Len())
	assert.True(t, exp.exported[export{"/com/test/service0/char0", GattCharacteristicIface}])
	assert.True(t, exp.exported[export{"/com/test", ObjectManagerIface}])

	r.Release()
	assert.Empty(t, exp.exported)
	assert.Equal(t, 0, r.Len())
	r.Release()
}

func TestRegisterAllOrNothing(t *testing.T) {
	for failAt := 1; failAt <= 9; failAt++ {
		root, _ := sampleTree()
		exp := &fakeExporter{exported: map[export]bool{}, failAt: failAt}
		r, err := register(exp, root, logrus.NewEntry(logrus.New()))
		assert.Error(t, err, "fail at %d", failAt)
		assert.Nil(t, r)
		assert.Empty(t, exp.exported, "fail at %d", failAt)
	}
}

func TestZeroRegistration(t *testing.T) {
	var r *Registration
	r.Release()
	assert.Equal(t, 0, r.Len())
	(&Registration{}).Release()
}
