package gatt

import (
	"sync"

	"github.com/godbus/dbus/v5"
)

// An Update names an interface of a served object whose emitting
// properties changed.
type Update struct {
	Path      dbus.ObjectPath
	Interface string
}

// UpdateQueue is a FIFO of pending updates. It is safe for concurrent use.
type UpdateQueue struct {
	mu sync.Mutex
	q  []Update
}

// Push appends u.
func (q *UpdateQueue) Push(u Update) {
	q.mu.Lock()
	q.q = append(q.q, u)
	q.mu.Unlock()
}

// Pop returns the oldest update. With keep set the update stays queued.
// Pop on an empty queue returns false and changes nothing.
func (q *UpdateQueue) Pop(keep bool) (Update, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.q) == 0 {
		return Update{}, false
	}
	u := q.q[0]
	if !keep {
		q.q[0] = Update{}
		q.q = q.q[1:]
	}
	return u, true
}

// Len returns the number of queued updates.
func (q *UpdateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.q)
}

// Clear drops every queued update.
func (q *UpdateQueue) Clear() {
	q.mu.Lock()
	q.q = nil
	q.mu.Unlock()
}
