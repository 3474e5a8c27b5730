package gatt

import (
	"fmt"

	"github.com/XC-/gattd/linux/bluez"
)

// A Service is a BLE service.
// Calls to AddCharacteristic must occur before the
// service is used by a server.
type Service struct {
	uuid  UUID
	chars []*Characteristic
	srv   *Server
}

// AddCharacteristic adds a characteristic to a service.
// AddCharacteristic panics if the service already contains
// another characteristic with the same UUID.
func (s *Service) AddCharacteristic(u UUID) *Characteristic {
	for _, char := range s.chars {
		if char.uuid.Equal(u) {
			panic("service already contains a characteristic with uuid " + u.String())
		}
	}

	char := &Characteristic{
		service: s,
		uuid:    u,
	}
	s.chars = append(s.chars, char)
	return char
}

// Characteristics returns the characteristics of the service.
func (s *Service) Characteristics() []*Characteristic {
	return s.chars
}

// UUID returns the service's UUID.
func (s *Service) UUID() UUID {
	return s.uuid
}

func (s *Service) render(root *bluez.Object, n int) *bluez.Object {
	o := root.AddChild(fmt.Sprintf("service%d", n))
	o.AddInterface(&bluez.Interface{
		Name: bluez.GattServiceIface,
		Properties: []*bluez.Property{
			{Name: "UUID", Get: func() interface{} { return s.uuid.String() }},
			{Name: "Primary", Get: func() interface{} { return true }},
		},
	})
	for i, c := range s.chars {
		c.render(o, i)
	}
	return o
}
