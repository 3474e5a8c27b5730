package gatt

import (
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/XC-/gattd/linux/bluez"
)

func TestParseControllerIndex(t *testing.T) {
	cases := []struct {
		hci  string
		want uint16
		ok   bool
	}{
		{hci: "", ok: false},
		{hci: "1", want: 1, ok: true},
		{hci: "hci1", want: 1, ok: true},
		{hci: "hci0", want: 0, ok: true},
		{hci: "hci", ok: false},
		{hci: "hci2.5", ok: false},
		{hci: "h2", ok: false},
		{hci: "-1", ok: false},
		{hci: "hci-1", ok: false},
		{hci: "hci65535", ok: false},
	}

	for _, tt := range cases {
		got, err := ParseControllerIndex(tt.hci)
		if (err == nil) != tt.ok {
			t.Errorf("ParseControllerIndex(%q): err %v", tt.hci, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseControllerIndex(%q): got %d want %d", tt.hci, got, tt.want)
		}
	}
}

func TestServerLifecycle(t *testing.T) {
	emitted := make(chan map[string]dbus.Variant, 4)
	bus := &mockBus{}
	bus.expectBringup()
	bus.On("EmitPropertiesChanged", mock.Anything, bluez.GattCharacteristicIface, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		emitted <- args.Get(2).(map[string]dbus.Variant)
	})
	bus.On("Call", testAdapterPath, bluez.GattManagerIface+".UnregisterApplication").Return(nil)
	bus.On("Close").Return(nil)
	a := newFakeAdapter(matching)
	s := newTestServer(bus, a, newFakeClock())
	c := s.AddService(AttrBatteryUUID).AddCharacteristic(AttrBatteryLevelUUID)
	c.SetValue([]byte{50})

	require.NoError(t, s.Start())
	assert.Equal(t, ErrServerStarted, s.Start())
	require.Eventually(t, func() bool { return s.State() == StateRunning }, time.Second, 5*time.Millisecond)

	s.NotifyUpdated("/com/test/nowhere", bluez.GattCharacteristicIface)
	s.NotifyUpdated(c.Path(), bluez.GattCharacteristicIface)
	select {
	case changed := <-emitted:
		assert.Equal(t, []byte{50}, changed["Value"].Value())
		assert.Equal(t, false, changed["Notifying"].Value())
		assert.NotContains(t, changed, "UUID")
	case <-time.After(time.Second):
		t.Fatal("no PropertiesChanged emitted")
	}

	s.Stop()
	require.NoError(t, s.Wait())
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, HealthOK, s.Health())
	assert.Equal(t, 0, s.Updates().Len())
	bus.AssertCalled(t, "Call", testAdapterPath, bluez.GattManagerIface+".UnregisterApplication")
	bus.AssertCalled(t, "Close")
	a.mu.Lock()
	assert.True(t, a.closed)
	a.mu.Unlock()
}

func TestServerFailedInit(t *testing.T) {
	a := newFakeAdapter(matching)
	s := newTestServer(nil, a, newFakeClock(), withBus(func() (Bus, error) {
		return nil, errors.New("no system bus")
	}))

	err := s.Serve()
	assert.EqualError(t, err, "connect bus: no system bus")
	assert.Equal(t, HealthFailedInit, s.Health())
	assert.Equal(t, StateStopped, s.State())
	assert.Nil(t, s.Adapter())
}

func TestUpdatesHeldUntilRunning(t *testing.T) {
	s, c := newBatteryServer()
	begin(s)
	s.NotifyUpdated(c.Path(), bluez.GattCharacteristicIface)
	s.drainUpdates()
	assert.Equal(t, 1, s.Updates().Len())
}
