package gatt

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Defaults used by NewServer.
const (
	DefaultServiceName = "gattd"
	DefaultRetryDelay  = 2 * time.Second
	DefaultTickPeriod  = time.Second
)

type option func(*Server) option

// Option sets the options specified.
// It returns an option to restore the last arg's previous value.
// Options cannot be changed once the server has started.
// See http://commandcenter.blogspot.com.au/2014/01/self-referential-functions-and-design.html for more discussion.
func (s *Server) Option(opts ...option) (prev option) {
	if s.State() != StateUninitialized {
		panic("cannot set options while server is running")
	}
	for _, opt := range opts {
		prev = opt(s)
	}
	return prev
}

// ServiceName sets the name the server is known by on the bus. The server
// owns the bus name "com.<name>" and publishes its objects below
// "/com/<name>".
func ServiceName(n string) option {
	return func(s *Server) option {
		prev := s.name
		s.name = n
		return ServiceName(prev)
	}
}

// AdvertisingName sets the controller's local name and short name.
// Empty names leave the controller's names alone.
func AdvertisingName(name, short string) option {
	return func(s *Server) option {
		prevName, prevShort := s.advName, s.advShort
		s.advName, s.advShort = name, short
		return AdvertisingName(prevName, prevShort)
	}
}

// ControllerIndex selects the controller, e.g. 0 for hci0.
func ControllerIndex(idx uint16) option {
	return func(s *Server) option {
		prev := s.index
		s.index = idx
		return ControllerIndex(prev)
	}
}

// ParseControllerIndex parses a controller name such as "hci1" or "1".
func ParseControllerIndex(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "hci"), 10, 16)
	if err != nil || n == 0xFFFF {
		return 0, errors.Errorf("invalid controller %q", s)
	}
	return uint16(n), nil
}

// EnableBREDR sets whether BR/EDR stays enabled next to LE.
func EnableBREDR(on bool) option {
	return func(s *Server) option {
		prev := s.desired.bredr
		s.desired.bredr = on
		return EnableBREDR(prev)
	}
}

// EnableSecureConnections sets whether Secure Connections is enabled.
func EnableSecureConnections(on bool) option {
	return func(s *Server) option {
		prev := s.desired.secureConn
		s.desired.secureConn = on
		return EnableSecureConnections(prev)
	}
}

// EnableBondable sets whether the controller accepts bonding.
func EnableBondable(on bool) option {
	return func(s *Server) option {
		prev := s.desired.bondable
		s.desired.bondable = on
		return EnableBondable(prev)
	}
}

// EnableConnectable sets whether the controller accepts connections.
func EnableConnectable(on bool) option {
	return func(s *Server) option {
		prev := s.desired.connectable
		s.desired.connectable = on
		return EnableConnectable(prev)
	}
}

// EnableAdvertising sets whether the controller advertises.
func EnableAdvertising(on bool) option {
	return func(s *Server) option {
		prev := s.desired.advertising
		s.desired.advertising = on
		return EnableAdvertising(prev)
	}
}

// RetryDelay sets how long bring-up waits before retrying a failed step.
func RetryDelay(d time.Duration) option {
	return func(s *Server) option {
		prev := s.retryDelay
		s.retryDelay = d
		return RetryDelay(prev)
	}
}

// TickPeriod sets the period of the run loop's tick.
func TickPeriod(d time.Duration) option {
	return func(s *Server) option {
		prev := s.tickPeriod
		s.tickPeriod = d
		return TickPeriod(prev)
	}
}

// CommandTimeout bounds the wait for a controller command's reply and for
// calls made to the bus manager during shutdown.
func CommandTimeout(d time.Duration) option {
	return func(s *Server) option {
		prev := s.cmdTimeout
		s.cmdTimeout = d
		return CommandTimeout(prev)
	}
}

// Logger sets the log entry the server and its components log to.
func Logger(l *logrus.Entry) option {
	return func(s *Server) option {
		prev := s.log
		s.log = l
		return Logger(prev)
	}
}

func withBus(dial func() (Bus, error)) option {
	return func(s *Server) option {
		prev := s.dial
		s.dial = dial
		return withBus(prev)
	}
}

func withAdapter(newAdapter func() adapter) option {
	return func(s *Server) option {
		prev := s.newAdapter
		s.newAdapter = newAdapter
		return withAdapter(prev)
	}
}

func withClock(c clock) option {
	return func(s *Server) option {
		prev := s.clock
		s.clock = c
		return withClock(prev)
	}
}
