package gatt

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/XC-/gattd/linux/bluez"
)

// Do not re-order the bit flags below;
// they are organized to match the BLE spec.

// Characteristic property flags.
const (
	charRead    = 1 << (iota + 1) // the characteristic may be read
	charWriteNR                   // the characteristic may be written to, with no reply
	charWrite                     // the characteristic may be written to, with a reply
	charNotify                    // the characteristic supports notifications
)

// Supported statuses for GATT characteristic read/write operations.
const (
	StatusSuccess           = 0x00
	StatusWriteNotPermitted = 0x03
	StatusInvalidOffset     = 0x07
	StatusUnexpectedError   = 0x0E
)

// maxAttrLen is the longest attribute value.
const maxAttrLen = 512

// A Request is the context for a request from a connected device.
type Request struct {
	// Device is the bus path of the remote device, when the bus manager
	// reports it.
	Device         dbus.ObjectPath
	Service        *Service
	Characteristic *Characteristic
}

// A ReadRequest is a characteristic read request from a connected device.
type ReadRequest struct {
	Request
	Cap    int // maximum allowed reply length
	Offset int // request value offset
}

type ReadResponseWriter interface {
	// Write writes data to return as the characteristic value.
	Write([]byte) (int, error)
	// SetStatus reports the result of the read operation. See the Status* constants.
	SetStatus(byte)
}

// A ReadHandler handles GATT read requests.
type ReadHandler interface {
	ServeRead(resp ReadResponseWriter, req *ReadRequest)
}

// ReadHandlerFunc adapts an ordinary function to a ReadHandler.
type ReadHandlerFunc func(resp ReadResponseWriter, req *ReadRequest)

// ServeRead calls f(resp, req).
func (f ReadHandlerFunc) ServeRead(resp ReadResponseWriter, req *ReadRequest) {
	f(resp, req)
}

// A WriteHandler handles GATT write requests. Write and write-without-
// response requests reach it the same way.
type WriteHandler interface {
	ServeWrite(r Request, data []byte) (status byte)
}

// WriteHandlerFunc adapts an ordinary function to a WriteHandler.
type WriteHandlerFunc func(r Request, data []byte) byte

// ServeWrite returns f(r, data).
func (f WriteHandlerFunc) ServeWrite(r Request, data []byte) byte {
	return f(r, data)
}

// A NotifyHandler handles GATT notification requests.
// Notifications can be sent using the provided notifier.
type NotifyHandler interface {
	ServeNotify(r Request, n Notifier)
}

// NotifyHandlerFunc adapts an ordinary function to a NotifyHandler.
type NotifyHandlerFunc func(r Request, n Notifier)

// ServeNotify calls f(r, n).
func (f NotifyHandlerFunc) ServeNotify(r Request, n Notifier) {
	f(r, n)
}

// A Notifier provides a means for a GATT server to send
// notifications about value changes to a connected device.
// Notifiers are provided by NotifyHandlers.
type Notifier interface {
	// Write sends data to subscribed devices.
	Write(data []byte) (int, error)

	// Done reports whether notifications were stopped.
	Done() bool

	// Cap returns the maximum number of bytes that may be sent
	// in a single notification.
	Cap() int
}

// A Characteristic is a BLE characteristic.
type Characteristic struct {
	uuid     UUID
	props    uint // enabled properties
	descs    []*Descriptor
	rhandler ReadHandler
	whandler WriteHandler
	nhandler NotifyHandler

	mu       sync.Mutex
	value    []byte
	notifier *notifier

	// storage used by other types
	service *Service
	path    dbus.ObjectPath
}

// HandleRead makes the characteristic support read requests,
// and routes read requests to h. HandleRead must be called
// before any server using c has been started.
func (c *Characteristic) HandleRead(h ReadHandler) {
	c.props |= charRead
	c.rhandler = h
}

// HandleReadFunc calls HandleRead(ReadHandlerFunc(f)).
func (c *Characteristic) HandleReadFunc(f func(resp ReadResponseWriter, req *ReadRequest)) {
	c.HandleRead(ReadHandlerFunc(f))
}

// HandleWrite makes the characteristic support write and
// write-without-response requests, and routes them to h.
// HandleWrite must be called before any server using c has been started.
func (c *Characteristic) HandleWrite(h WriteHandler) {
	c.props |= charWrite | charWriteNR
	c.whandler = h
}

// HandleWriteFunc calls HandleWrite(WriteHandlerFunc(f)).
func (c *Characteristic) HandleWriteFunc(f func(r Request, data []byte) (status byte)) {
	c.HandleWrite(WriteHandlerFunc(f))
}

// HandleNotify makes the characteristic support notify requests,
// and routes notification requests to h. HandleNotify must be called
// before any server using c has been started.
func (c *Characteristic) HandleNotify(h NotifyHandler) {
	c.props |= charNotify
	c.nhandler = h
}

// HandleNotifyFunc calls HandleNotify(NotifyHandlerFunc(f)).
func (c *Characteristic) HandleNotifyFunc(f func(r Request, n Notifier)) {
	c.HandleNotify(NotifyHandlerFunc(f))
}

// SetValue makes the characteristic readable with the static value b.
// A read handler, if any, takes precedence.
func (c *Characteristic) SetValue(b []byte) {
	c.props |= charRead
	c.storeValue(b)
}

// Value returns the last value read, written or notified.
func (c *Characteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...)
}

func (c *Characteristic) storeValue(b []byte) {
	c.mu.Lock()
	c.value = append([]byte(nil), b...)
	c.mu.Unlock()
}

// AddDescriptor adds a descriptor to a characteristic.
// AddDescriptor panics if the characteristic already contains
// another descriptor with the same UUID.
func (c *Characteristic) AddDescriptor(u UUID) *Descriptor {
	for _, d := range c.descs {
		if d.uuid.Equal(u) {
			panic("characteristic already contains a descriptor with uuid " + u.String())
		}
	}
	d := &Descriptor{uuid: u, char: c}
	c.descs = append(c.descs, d)
	return d
}

// UUID returns the characteristic's UUID
func (c *Characteristic) UUID() UUID {
	return c.uuid
}

// Path returns the bus path of the characteristic. It is empty until the
// server has started.
func (c *Characteristic) Path() dbus.ObjectPath {
	return c.path
}

func (c *Characteristic) flags() []string {
	var f []string
	if c.props&charRead != 0 {
		f = append(f, "read")
	}
	if c.props&charWriteNR != 0 {
		f = append(f, "write-without-response")
	}
	if c.props&charWrite != 0 {
		f = append(f, "write")
	}
	if c.props&charNotify != 0 {
		f = append(f, "notify")
	}
	return f
}

func (c *Characteristic) request(opts map[string]dbus.Variant) Request {
	r := Request{Service: c.service, Characteristic: c}
	if v, ok := opts["device"]; ok {
		r.Device, _ = v.Value().(dbus.ObjectPath)
	}
	return r
}

func optOffset(opts map[string]dbus.Variant) int {
	if v, ok := opts["offset"]; ok {
		if o, ok := v.Value().(uint16); ok {
			return int(o)
		}
	}
	return 0
}

func (c *Characteristic) readValue(opts map[string]dbus.Variant) ([]byte, *dbus.Error) {
	offset := optOffset(opts)
	if c.rhandler == nil {
		if c.props&charRead == 0 {
			return nil, errNotPermitted
		}
		v := c.Value()
		if offset > len(v) {
			return nil, errInvalidOffset
		}
		return v[offset:], nil
	}
	resp := newReadResponseWriter(maxAttrLen)
	req := &ReadRequest{Request: c.request(opts), Cap: maxAttrLen, Offset: offset}
	c.rhandler.ServeRead(resp, req)
	if err := statusError(resp.status); err != nil {
		return nil, err
	}
	b := resp.bytes()
	if offset == 0 {
		c.storeValue(b)
	}
	return b, nil
}

func (c *Characteristic) writeValue(value []byte, opts map[string]dbus.Variant) *dbus.Error {
	if c.whandler == nil {
		return errNotPermitted
	}
	if err := statusError(c.whandler.ServeWrite(c.request(opts), value)); err != nil {
		return err
	}
	c.storeValue(value)
	return nil
}

func (c *Characteristic) startNotify() *dbus.Error {
	if c.nhandler == nil {
		return errNotSupported
	}
	c.mu.Lock()
	if c.notifier != nil && !c.notifier.Done() {
		c.mu.Unlock()
		return nil
	}
	n := newNotifier(c, maxAttrLen)
	c.notifier = n
	c.mu.Unlock()

	go c.nhandler.ServeNotify(Request{Service: c.service, Characteristic: c}, n)
	c.updated()
	return nil
}

func (c *Characteristic) stopNotify() *dbus.Error {
	c.mu.Lock()
	n := c.notifier
	c.notifier = nil
	c.mu.Unlock()
	if n == nil {
		return errNotNotifying
	}
	n.stop()
	c.updated()
	return nil
}

func (c *Characteristic) notifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifier != nil && !c.notifier.Done()
}

// updated queues a PropertiesChanged for the characteristic.
func (c *Characteristic) updated() {
	if c.service != nil && c.service.srv != nil && c.path != "" {
		c.service.srv.NotifyUpdated(c.path, bluez.GattCharacteristicIface)
	}
}

func (c *Characteristic) render(parent *bluez.Object, n int) *bluez.Object {
	o := parent.AddChild(fmt.Sprintf("char%d", n))
	c.path = o.Path
	o.AddInterface(&bluez.Interface{
		Name: bluez.GattCharacteristicIface,
		Methods: []bluez.Method{
			{Name: "ReadValue", Func: c.readValue},
			{Name: "WriteValue", Func: c.writeValue},
			{Name: "StartNotify", Func: c.startNotify},
			{Name: "StopNotify", Func: c.stopNotify},
		},
		Properties: []*bluez.Property{
			{Name: "UUID", Get: func() interface{} { return c.uuid.String() }},
			{Name: "Service", Get: func() interface{} { return parent.Path }},
			{Name: "Flags", Get: func() interface{} { return c.flags() }},
			{Name: "Value", Get: func() interface{} { return c.Value() }, Emits: true},
			{Name: "Notifying", Get: func() interface{} { return c.notifying() }, Emits: true},
		},
	})
	for i, d := range c.descs {
		d.render(o, i)
	}
	return o
}

var (
	errNotPermitted  = dbus.NewError("org.bluez.Error.NotPermitted", nil)
	errNotSupported  = dbus.NewError("org.bluez.Error.NotSupported", nil)
	errNotNotifying  = dbus.NewError("org.bluez.Error.Failed", []interface{}{"not notifying"})
	errInvalidOffset = dbus.NewError("org.bluez.Error.InvalidOffset", nil)
)

// statusError maps a Status* constant to the bus error reported to the
// remote device.
func statusError(status byte) *dbus.Error {
	switch status {
	case StatusSuccess:
		return nil
	case StatusWriteNotPermitted:
		return errNotPermitted
	case StatusInvalidOffset:
		return errInvalidOffset
	default:
		return dbus.NewError("org.bluez.Error.Failed", []interface{}{fmt.Sprintf("status 0x%02X", status)})
	}
}

// readResponseWriter is the default implementation of ReadResponseWriter.
type readResponseWriter struct {
	capacity int
	buf      *bytes.Buffer
	status   byte
}

func newReadResponseWriter(c int) *readResponseWriter {
	return &readResponseWriter{
		capacity: c,
		buf:      new(bytes.Buffer),
		status:   StatusSuccess,
	}
}

func (w *readResponseWriter) Write(b []byte) (int, error) {
	if avail := w.capacity - w.buf.Len(); avail < len(b) {
		return 0, fmt.Errorf("requested write %d bytes, %d available", len(b), avail)
	}
	return w.buf.Write(b)
}

func (w *readResponseWriter) SetStatus(status byte) { w.status = status }
func (w *readResponseWriter) bytes() []byte         { return w.buf.Bytes() }
