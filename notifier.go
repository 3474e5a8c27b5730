package gatt

import (
	"sync"

	"github.com/pkg/errors"
)

var errNotifyStopped = errors.New("notifications stopped")

// notifier publishes a characteristic's value through its Value property;
// the bus manager turns the resulting PropertiesChanged into notifications.
type notifier struct {
	char   *Characteristic
	maxlen int
	donemu sync.RWMutex
	done   bool
}

func newNotifier(c *Characteristic, maxlen int) *notifier {
	return &notifier{char: c, maxlen: maxlen}
}

func (n *notifier) Write(data []byte) (int, error) {
	if n.Done() {
		return 0, errNotifyStopped
	}
	if len(data) > n.maxlen {
		data = data[:n.maxlen]
	}
	n.char.storeValue(data)
	n.char.updated()
	return len(data), nil
}

func (n *notifier) Cap() int {
	return n.maxlen
}

func (n *notifier) Done() bool {
	n.donemu.RLock()
	done := n.done
	n.donemu.RUnlock()
	return done
}

func (n *notifier) stop() {
	n.donemu.Lock()
	n.done = true
	n.donemu.Unlock()
}
