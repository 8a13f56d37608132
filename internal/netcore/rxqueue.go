package netcore

import (
	"container/list"
	"sync"
	"time"
)

// NetBuf is a received (or to-be-transmitted) frame buffer, spec §4.12:
// "allocates a netbuf, fills in frame bytes + length + recycle callback".
type NetBuf struct {
	Data    []byte
	Recycle func()
}

// udp4Datagram is one entry on the global UDP RX queue. recycle is captured
// at enqueue time rather than read from buf.Recycle later: the caller nils
// out buf.Recycle right after handing the datagram off (ReceiveDriverFrame's
// own deferred recycle must no longer fire on it), so the callback has to
// be copied before that happens.
type udp4Datagram struct {
	buf     *NetBuf
	recycle func()
	srcIP   IPv4
	srcPort uint16
	dstPort uint16
	payload []byte
}

// RXQueue is the global circular double-linked list of pending UDP
// datagrams, spec §4.12. container/list is the teacher's own choice for an
// explicit doubly-linked structure (the pack's "explicit list abstraction,
// not an intrusive linked list" guidance — spec §9 — applies equally here).
type RXQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	l    *list.List
}

func NewRXQueue() *RXQueue {
	q := &RXQueue{l: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *RXQueue) enqueue(d udp4Datagram) {
	q.mu.Lock()
	q.l.PushBack(d)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Result is what net_wait_udp4 hands back to a consumer.
type Result struct {
	SrcIP   IPv4
	SrcPort uint16
	Payload []byte
	Recycle func()
}

// WaitUDP4 scans the queue for a matching datagram (dst port == port, or
// any if port == 0), removes it, and returns it; if none is available it
// waits up to timeout before returning errTimeout (wrapping EAGAIN). Spec §4.12.
func (q *RXQueue) WaitUDP4(port uint16, timeout time.Duration) (Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		for e := q.l.Front(); e != nil; e = e.Next() {
			d := e.Value.(udp4Datagram)
			if port == 0 || d.dstPort == port {
				q.l.Remove(e)
				return Result{SrcIP: d.srcIP, SrcPort: d.srcPort, Payload: d.payload, Recycle: d.recycle}, nil
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Result{}, errTimeout
		}
		waitWithTimeout(q.cond, remaining)
		if time.Now().After(deadline) {
			return Result{}, errTimeout
		}
	}
}
