// Package mgmt implements the packed wire format of the kernel Bluetooth
// management protocol spoken over the HCI control channel.
//
// Every multi-byte field is little-endian on the wire. Fields are read and
// written at explicit byte offsets; no Go struct layout is ever reinterpreted
// as wire data.
package mgmt

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// NoController is the controller index used by commands that are not bound
// to a particular controller.
const NoController uint16 = 0xFFFF

// HeaderLen is the size of the frame header shared by commands and events.
const HeaderLen = 6

// MaxFrameLen is the largest frame read from the control socket in one shot.
const MaxFrameLen = 64 * 1024

// ErrShortBuffer is returned when a buffer is smaller than the structure
// being decoded from it.
var ErrShortBuffer = errors.New("mgmt: buffer too short")

type order struct{ binary.ByteOrder }

var o = order{binary.LittleEndian}

func (o order) PutUint8(b []byte, v uint8) { b[0] = v }
func (o order) Uint8(b []byte) uint8       { return b[0] }

// PutString writes s into the fixed size buffer b, NUL padded. s is
// truncated so that the final byte of b is always a NUL.
func (o order) PutString(b []byte, s string) {
	for i := range b {
		b[i] = 0
	}
	if len(b) == 0 {
		return
	}
	copy(b[:len(b)-1], s)
}

// CString reads a NUL terminated string from a fixed size buffer.
func (o order) CString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Opcode identifies a management command.
type Opcode uint16

func (op Opcode) String() string {
	if s, ok := opName[op]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Command (0x%04X)", uint16(op))
}

const (
	OpReadVersion             Opcode = 0x0001
	OpReadCommands            Opcode = 0x0002
	OpReadIndexList           Opcode = 0x0003
	OpReadInfo                Opcode = 0x0004
	OpSetPowered              Opcode = 0x0005
	OpSetDiscoverable         Opcode = 0x0006
	OpSetConnectable          Opcode = 0x0007
	OpSetFastConnectable      Opcode = 0x0008
	OpSetBondable             Opcode = 0x0009
	OpSetLinkSecurity         Opcode = 0x000A
	OpSetSecureSimplePairing  Opcode = 0x000B
	OpSetHighSpeed            Opcode = 0x000C
	OpSetLowEnergy            Opcode = 0x000D
	OpSetDevClass             Opcode = 0x000E
	OpSetLocalName            Opcode = 0x000F
	OpSetAdvertising          Opcode = 0x0029
	OpSetBREDR                Opcode = 0x002A
	OpSetSecureConnections    Opcode = 0x002D
	OpReadUnconfiguredIndexes Opcode = 0x0036
)

var opName = map[Opcode]string{
	OpReadVersion:             "Read Management Version Information",
	OpReadCommands:            "Read Management Supported Commands",
	OpReadIndexList:           "Read Controller Index List",
	OpReadInfo:                "Read Controller Information",
	OpSetPowered:              "Set Powered",
	OpSetDiscoverable:         "Set Discoverable",
	OpSetConnectable:          "Set Connectable",
	OpSetFastConnectable:      "Set Fast Connectable",
	OpSetBondable:             "Set Bondable",
	OpSetLinkSecurity:         "Set Link Security",
	OpSetSecureSimplePairing:  "Set Secure Simple Pairing",
	OpSetHighSpeed:            "Set High Speed",
	OpSetLowEnergy:            "Set Low Energy",
	OpSetDevClass:             "Set Device Class",
	OpSetLocalName:            "Set Local Name",
	OpSetAdvertising:          "Set Advertising",
	OpSetBREDR:                "Set BR/EDR",
	OpSetSecureConnections:    "Set Secure Connections",
	OpReadUnconfiguredIndexes: "Read Unconfigured Controller Index List",
}

// Status is the result code carried by Command Complete and Command Status
// events.
type Status uint8

const (
	StatusSuccess          Status = 0x00
	StatusUnknownCommand   Status = 0x01
	StatusNotConnected     Status = 0x02
	StatusFailed           Status = 0x03
	StatusConnectFailed    Status = 0x04
	StatusAuthFailed       Status = 0x05
	StatusNotPaired        Status = 0x06
	StatusNoResources      Status = 0x07
	StatusTimeout          Status = 0x08
	StatusAlreadyConnected Status = 0x09
	StatusBusy             Status = 0x0A
	StatusRejected         Status = 0x0B
	StatusNotSupported     Status = 0x0C
	StatusInvalidParams    Status = 0x0D
	StatusDisconnected     Status = 0x0E
	StatusNotPowered       Status = 0x0F
	StatusCancelled        Status = 0x10
	StatusInvalidIndex     Status = 0x11
	StatusRFKilled         Status = 0x12
	StatusAlreadyPaired    Status = 0x13
	StatusPermissionDenied Status = 0x14
)

var statusName = map[Status]string{
	StatusSuccess:          "Success",
	StatusUnknownCommand:   "Unknown Command",
	StatusNotConnected:     "Not Connected",
	StatusFailed:           "Failed",
	StatusConnectFailed:    "Connect Failed",
	StatusAuthFailed:       "Authentication Failed",
	StatusNotPaired:        "Not Paired",
	StatusNoResources:      "No Resources",
	StatusTimeout:          "Timeout",
	StatusAlreadyConnected: "Already Connected",
	StatusBusy:             "Busy",
	StatusRejected:         "Rejected",
	StatusNotSupported:     "Not Supported",
	StatusInvalidParams:    "Invalid Parameters",
	StatusDisconnected:     "Disconnected",
	StatusNotPowered:       "Not Powered",
	StatusCancelled:        "Cancelled",
	StatusInvalidIndex:     "Invalid Index",
	StatusRFKilled:         "RFKilled",
	StatusAlreadyPaired:    "Already Paired",
	StatusPermissionDenied: "Permission Denied",
}

func (s Status) String() string {
	if n, ok := statusName[s]; ok {
		return n
	}
	return fmt.Sprintf("Unknown Status (0x%02X)", uint8(s))
}

// Header prefixes every command and event frame.
type Header struct {
	Code  uint16
	Index uint16
	Len   uint16
}

func (h Header) Marshal(b []byte) {
	o.PutUint16(b[0:], h.Code)
	o.PutUint16(b[2:], h.Index)
	o.PutUint16(b[4:], h.Len)
}

func (h *Header) Unmarshal(b []byte) error {
	if len(b) < HeaderLen {
		return errors.Wrapf(ErrShortBuffer, "header: %d bytes", len(b))
	}
	h.Code = o.Uint16(b[0:])
	h.Index = o.Uint16(b[2:])
	h.Len = o.Uint16(b[4:])
	return nil
}

// Command is a request payload.
type Command interface {
	Opcode() Opcode
	Len() int
	Marshal([]byte)
}

// Response is a data-returning command's reply payload.
type Response interface {
	Len() int
	Unmarshal([]byte) error
}

// Encode frames c for the controller idx: header followed by the payload,
// with no padding in between.
func Encode(idx uint16, c Command) []byte {
	b := make([]byte, HeaderLen+c.Len())
	Header{Code: uint16(c.Opcode()), Index: idx, Len: uint16(c.Len())}.Marshal(b)
	c.Marshal(b[HeaderLen:])
	return b
}

// Decode fills r from b. b must hold at least r.Len() bytes.
func Decode(b []byte, r Response) error {
	if len(b) < r.Len() {
		return errors.Wrapf(ErrShortBuffer, "want %d bytes, have %d", r.Len(), len(b))
	}
	return r.Unmarshal(b)
}
