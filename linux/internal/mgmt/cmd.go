package mgmt

import "github.com/pkg/errors"

// Maximum lengths of the local name fields, excluding the trailing NUL.
const (
	MaxNameLen      = 248
	MaxShortNameLen = 10

	nameFieldLen      = MaxNameLen + 1
	shortNameFieldLen = MaxShortNameLen + 1
)

// Read Management Version Information (0x0001)
type ReadVersion struct{}

func (c ReadVersion) Opcode() Opcode   { return OpReadVersion }
func (c ReadVersion) Len() int         { return 0 }
func (c ReadVersion) Marshal(b []byte) {}

type ReadVersionRP struct {
	Version  uint8
	Revision uint16
}

func (r *ReadVersionRP) Len() int { return 3 }
func (r *ReadVersionRP) Unmarshal(b []byte) error {
	r.Version = o.Uint8(b[0:])
	r.Revision = o.Uint16(b[1:])
	return nil
}

// Read Controller Index List (0x0003)
type ReadIndexList struct{}

func (c ReadIndexList) Opcode() Opcode   { return OpReadIndexList }
func (c ReadIndexList) Len() int         { return 0 }
func (c ReadIndexList) Marshal(b []byte) {}

type ReadIndexListRP struct {
	Indexes []uint16
}

func (r *ReadIndexListRP) Len() int { return 2 + 2*len(r.Indexes) }
func (r *ReadIndexListRP) Unmarshal(b []byte) error {
	n := int(o.Uint16(b[0:]))
	if len(b) < 2+2*n {
		return errors.Wrapf(ErrShortBuffer, "index list of %d entries in %d bytes", n, len(b))
	}
	r.Indexes = make([]uint16, n)
	for i := range r.Indexes {
		r.Indexes[i] = o.Uint16(b[2+2*i:])
	}
	return nil
}

// Read Controller Information (0x0004). The reply is a ControllerInfo.
type ReadInfo struct{}

func (c ReadInfo) Opcode() Opcode   { return OpReadInfo }
func (c ReadInfo) Len() int         { return 0 }
func (c ReadInfo) Marshal(b []byte) {}

// The single-byte mode commands all reply with the controller's current
// settings.

// Set Powered (0x0005)
type SetPowered struct{ Mode uint8 }

func (c SetPowered) Opcode() Opcode   { return OpSetPowered }
func (c SetPowered) Len() int         { return 1 }
func (c SetPowered) Marshal(b []byte) { b[0] = c.Mode }

// Set Discoverable (0x0006). Mode 0x00 disables, 0x01 is general and 0x02
// limited discoverability. Timeout is in seconds.
type SetDiscoverable struct {
	Mode    uint8
	Timeout uint16
}

func (c SetDiscoverable) Opcode() Opcode { return OpSetDiscoverable }
func (c SetDiscoverable) Len() int       { return 3 }
func (c SetDiscoverable) Marshal(b []byte) {
	b[0] = c.Mode
	o.PutUint16(b[1:], c.Timeout)
}

// Set Connectable (0x0007)
type SetConnectable struct{ Mode uint8 }

func (c SetConnectable) Opcode() Opcode   { return OpSetConnectable }
func (c SetConnectable) Len() int         { return 1 }
func (c SetConnectable) Marshal(b []byte) { b[0] = c.Mode }

// Set Bondable (0x0009)
type SetBondable struct{ Mode uint8 }

func (c SetBondable) Opcode() Opcode   { return OpSetBondable }
func (c SetBondable) Len() int         { return 1 }
func (c SetBondable) Marshal(b []byte) { b[0] = c.Mode }

// Set Low Energy (0x000D)
type SetLowEnergy struct{ Mode uint8 }

func (c SetLowEnergy) Opcode() Opcode   { return OpSetLowEnergy }
func (c SetLowEnergy) Len() int         { return 1 }
func (c SetLowEnergy) Marshal(b []byte) { b[0] = c.Mode }

// Set Local Name (0x000F). The reply echoes the stored names in the same
// layout.
type SetLocalName struct {
	Name      string
	ShortName string
}

func (c SetLocalName) Opcode() Opcode { return OpSetLocalName }
func (c SetLocalName) Len() int       { return nameFieldLen + shortNameFieldLen }
func (c SetLocalName) Marshal(b []byte) {
	o.PutString(b[:nameFieldLen], c.Name)
	o.PutString(b[nameFieldLen:nameFieldLen+shortNameFieldLen], c.ShortName)
}

func (c *SetLocalName) Unmarshal(b []byte) error {
	c.Name = o.CString(b[:nameFieldLen])
	c.ShortName = o.CString(b[nameFieldLen : nameFieldLen+shortNameFieldLen])
	return nil
}

// Set Advertising (0x0029). Mode 0x02 advertises as connectable regardless
// of the connectable setting.
type SetAdvertising struct{ Mode uint8 }

func (c SetAdvertising) Opcode() Opcode   { return OpSetAdvertising }
func (c SetAdvertising) Len() int         { return 1 }
func (c SetAdvertising) Marshal(b []byte) { b[0] = c.Mode }

// Set BR/EDR (0x002A)
type SetBREDR struct{ Mode uint8 }

func (c SetBREDR) Opcode() Opcode   { return OpSetBREDR }
func (c SetBREDR) Len() int         { return 1 }
func (c SetBREDR) Marshal(b []byte) { b[0] = c.Mode }

// Set Secure Connections (0x002D). Mode 0x02 selects Secure Connections Only.
type SetSecureConnections struct{ Mode uint8 }

func (c SetSecureConnections) Opcode() Opcode   { return OpSetSecureConnections }
func (c SetSecureConnections) Len() int         { return 1 }
func (c SetSecureConnections) Marshal(b []byte) { b[0] = c.Mode }

// CurrentSettingsRP is the reply of every mode setting command.
type CurrentSettingsRP struct{ Settings Settings }

func (r *CurrentSettingsRP) Len() int { return 4 }
func (r *CurrentSettingsRP) Unmarshal(b []byte) error {
	r.Settings = Settings(o.Uint32(b))
	return nil
}

// Mode converts an on/off flag to the single byte mode value.
func Mode(on bool) uint8 {
	if on {
		return 1
	}
	return 0
}
