package mgmt

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// EventCode identifies a frame sent by the kernel.
type EventCode uint16

const (
	EvtCommandComplete    EventCode = 0x0001
	EvtCommandStatus      EventCode = 0x0002
	EvtControllerError    EventCode = 0x0003
	EvtIndexAdded         EventCode = 0x0004
	EvtIndexRemoved       EventCode = 0x0005
	EvtNewSettings        EventCode = 0x0006
	EvtClassOfDevChanged  EventCode = 0x0007
	EvtLocalNameChanged   EventCode = 0x0008
	EvtExtIndexAdded      EventCode = 0x0020
	EvtExtIndexRemoved    EventCode = 0x0021
	EvtAdvertisingAdded   EventCode = 0x0023
	EvtAdvertisingRemoved EventCode = 0x0024
)

var eventName = map[EventCode]string{
	EvtCommandComplete:    "Command Complete",
	EvtCommandStatus:      "Command Status",
	EvtControllerError:    "Controller Error",
	EvtIndexAdded:         "Index Added",
	EvtIndexRemoved:       "Index Removed",
	EvtNewSettings:        "New Settings",
	EvtClassOfDevChanged:  "Class Of Device Changed",
	EvtLocalNameChanged:   "Local Name Changed",
	EvtExtIndexAdded:      "Extended Index Added",
	EvtExtIndexRemoved:    "Extended Index Removed",
	EvtAdvertisingAdded:   "Advertising Added",
	EvtAdvertisingRemoved: "Advertising Removed",
}

func (c EventCode) String() string {
	if s, ok := eventName[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Event (0x%04X)", uint16(c))
}

// Event is a decoded frame: its header and the raw parameters that follow.
type Event struct {
	Header
	Params []byte
}

// Code returns the event code of e.
func (e Event) Code() EventCode { return EventCode(e.Header.Code) }

// ParseEvent splits a frame read from the socket into header and
// parameters. Parameters beyond the header's declared length are dropped.
func ParseEvent(b []byte) (Event, error) {
	var e Event
	if err := e.Header.Unmarshal(b); err != nil {
		return e, err
	}
	n := int(e.Header.Len)
	if len(b)-HeaderLen < n {
		return e, errors.Wrapf(ErrShortBuffer, "%s: declared %d parameter bytes, have %d", e.Code(), n, len(b)-HeaderLen)
	}
	e.Params = b[HeaderLen : HeaderLen+n]
	return e, nil
}

// Command Complete (0x0001)
type CommandCompleteEP struct {
	Opcode Opcode
	Status Status
	Params []byte
}

func (ep *CommandCompleteEP) Len() int { return 3 }
func (ep *CommandCompleteEP) Unmarshal(b []byte) error {
	ep.Opcode = Opcode(o.Uint16(b[0:]))
	ep.Status = Status(o.Uint8(b[2:]))
	ep.Params = b[3:]
	return nil
}

// Command Status (0x0002)
type CommandStatusEP struct {
	Opcode Opcode
	Status Status
}

func (ep *CommandStatusEP) Len() int { return 3 }
func (ep *CommandStatusEP) Unmarshal(b []byte) error {
	ep.Opcode = Opcode(o.Uint16(b[0:]))
	ep.Status = Status(o.Uint8(b[2:]))
	return nil
}

// Controller Error (0x0003)
type ControllerErrorEP struct{ ErrorCode uint8 }

func (ep *ControllerErrorEP) Len() int { return 1 }
func (ep *ControllerErrorEP) Unmarshal(b []byte) error {
	ep.ErrorCode = o.Uint8(b)
	return nil
}

// New Settings (0x0006)
type NewSettingsEP struct{ Settings Settings }

func (ep *NewSettingsEP) Len() int { return 4 }
func (ep *NewSettingsEP) Unmarshal(b []byte) error {
	ep.Settings = Settings(o.Uint32(b))
	return nil
}

// Settings is the adapter settings bit mask.
type Settings uint32

const (
	SettingPowered Settings = 1 << iota
	SettingConnectable
	SettingFastConnectable
	SettingDiscoverable
	SettingBondable
	SettingLinkSecurity
	SettingSecureSimplePairing
	SettingBREDR
	SettingHighSpeed
	SettingLowEnergy
	SettingAdvertising
	SettingSecureConnections
	SettingDebugKeys
	SettingPrivacy
	SettingControllerConfig
	SettingStaticAddress
)

var settingName = []string{
	"Powered",
	"Connectable",
	"FastConnectable",
	"Discoverable",
	"Bondable",
	"LinkLevelSecurity",
	"SecureSimplePairing",
	"BR/EDR",
	"HighSpeed",
	"LowEnergy",
	"Advertising",
	"SecureConnections",
	"DebugKeys",
	"Privacy",
	"ControllerConfiguration",
	"StaticAddress",
}

// Has reports whether every bit of f is set in s.
func (s Settings) Has(f Settings) bool { return s&f == f }

func (s Settings) String() string {
	var on []string
	for i, n := range settingName {
		if s&(1<<uint(i)) != 0 {
			on = append(on, n)
		}
	}
	if len(on) == 0 {
		return "none"
	}
	return strings.Join(on, "|")
}

// ControllerInfo is the reply to Read Controller Information.
type ControllerInfo struct {
	Address           [6]byte
	BluetoothVersion  uint8
	Manufacturer      uint16
	SupportedSettings Settings
	CurrentSettings   Settings
	ClassOfDevice     [3]byte
	Name              string
	ShortName         string
}

func (ci *ControllerInfo) Len() int { return 6 + 1 + 2 + 4 + 4 + 3 + nameFieldLen + shortNameFieldLen }

func (ci *ControllerInfo) Marshal(b []byte) {
	copy(b[0:6], ci.Address[:])
	o.PutUint8(b[6:], ci.BluetoothVersion)
	o.PutUint16(b[7:], ci.Manufacturer)
	o.PutUint32(b[9:], uint32(ci.SupportedSettings))
	o.PutUint32(b[13:], uint32(ci.CurrentSettings))
	copy(b[17:20], ci.ClassOfDevice[:])
	o.PutString(b[20:20+nameFieldLen], ci.Name)
	o.PutString(b[20+nameFieldLen:20+nameFieldLen+shortNameFieldLen], ci.ShortName)
}

func (ci *ControllerInfo) Unmarshal(b []byte) error {
	copy(ci.Address[:], b[0:6])
	ci.BluetoothVersion = o.Uint8(b[6:])
	ci.Manufacturer = o.Uint16(b[7:])
	ci.SupportedSettings = Settings(o.Uint32(b[9:]))
	ci.CurrentSettings = Settings(o.Uint32(b[13:]))
	copy(ci.ClassOfDevice[:], b[17:20])
	ci.Name = o.CString(b[20 : 20+nameFieldLen])
	ci.ShortName = o.CString(b[20+nameFieldLen : 20+nameFieldLen+shortNameFieldLen])
	return nil
}

// AddressString formats the address the usual way, most significant byte
// first. The wire carries it least significant byte first.
func (ci *ControllerInfo) AddressString() string {
	a := ci.Address
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}
