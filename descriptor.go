package gatt

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/XC-/gattd/linux/bluez"
)

// A Descriptor is a read-only characteristic descriptor with a static
// value.
type Descriptor struct {
	uuid UUID
	char *Characteristic

	mu    sync.Mutex
	value []byte
}

// SetValue sets the descriptor's value.
func (d *Descriptor) SetValue(b []byte) {
	d.mu.Lock()
	d.value = append([]byte(nil), b...)
	d.mu.Unlock()
}

// Value returns the descriptor's value.
func (d *Descriptor) Value() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.value...)
}

func (d *Descriptor) UUID() UUID {
	return d.uuid
}

func (d *Descriptor) readValue(opts map[string]dbus.Variant) ([]byte, *dbus.Error) {
	v := d.Value()
	offset := optOffset(opts)
	if offset > len(v) {
		return nil, errInvalidOffset
	}
	return v[offset:], nil
}

func (d *Descriptor) render(parent *bluez.Object, n int) *bluez.Object {
	o := parent.AddChild(fmt.Sprintf("desc%d", n))
	o.AddInterface(&bluez.Interface{
		Name:    bluez.GattDescriptorIface,
		Methods: []bluez.Method{{Name: "ReadValue", Func: d.readValue}},
		Properties: []*bluez.Property{
			{Name: "UUID", Get: func() interface{} { return d.uuid.String() }},
			{Name: "Characteristic", Get: func() interface{} { return parent.Path }},
			{Name: "Flags", Get: func() interface{} { return []string{"read"} }},
			{Name: "Value", Get: func() interface{} { return d.Value() }},
		},
	})
	return o
}
