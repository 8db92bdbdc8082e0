package subs

// PendingQueue is a bounded mailbox for subscription requests raised
// outside the feed's connection task (HTTP handlers, alert callbacks).
// Both ends are non-blocking: producers get a rejection instead of a stall
// when the mailbox is full, and the connection task polls with TryDequeue
// so the read loop is never held up.
type PendingQueue struct {
	ch chan string
}

func NewPendingQueue(capacity int) *PendingQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &PendingQueue{ch: make(chan string, capacity)}
}

// Enqueue adds a symbol and reports whether it was accepted. It never
// blocks; a full mailbox returns false.
func (q *PendingQueue) Enqueue(symbol string) bool {
	select {
	case q.ch <- symbol:
		return true
	default:
		return false
	}
}

// TryDequeue removes the oldest symbol, if any, without blocking.
func (q *PendingQueue) TryDequeue() (string, bool) {
	select {
	case symbol := <-q.ch:
		return symbol, true
	default:
		return "", false
	}
}

// Drain removes up to max symbols without blocking.
func (q *PendingQueue) Drain(max int) []string {
	var out []string
	for len(out) < max {
		symbol, ok := q.TryDequeue()
		if !ok {
			break
		}
		out = append(out, symbol)
	}
	return out
}

func (q *PendingQueue) Len() int {
	return len(q.ch)
}
