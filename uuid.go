package gatt

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// baseUUID is the Bluetooth base UUID that 16-bit UUIDs are shorthand for.
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// A UUID is a BLE UUID.
type UUID struct {
	u uuid.UUID
}

// UUID16 converts a uint16 (such as 0x1800) to a UUID.
func UUID16(i uint16) UUID {
	u := baseUUID
	binary.BigEndian.PutUint16(u[2:], i)
	return UUID{u}
}

// ParseUUID parses a standard-format UUID string, such
// as "1800" or "34DA3AD1-7110-41A1-B1EF-4430F509CDE7".
func ParseUUID(s string) (UUID, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		i, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return UUID{}, errors.Wrapf(err, "invalid uuid %q", s)
		}
		return UUID16(uint16(i)), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, errors.Wrapf(err, "invalid uuid %q", s)
	}
	return UUID{u}, nil
}

// MustParseUUID parses a standard-format UUID string,
// like ParseUUID, but panics in case of error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Short returns the 16-bit form of u, if it has one.
func (u UUID) Short() (uint16, bool) {
	v := u.u
	binary.BigEndian.PutUint16(v[2:], 0)
	if v != baseUUID {
		return 0, false
	}
	return binary.BigEndian.Uint16(u.u[2:]), true
}

// String hex-encodes u in the 128-bit form the bus manager expects.
func (u UUID) String() string {
	return u.u.String()
}

// Equal returns a boolean reporting whether v and u are equal.
func (u UUID) Equal(v UUID) bool {
	return u.u == v.u
}
