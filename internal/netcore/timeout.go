package netcore

import (
	"sync"
	"time"

	"github.com/example/x86kernel/internal/kerrno"
)

var errTimeout = kerrno.Wrap("netcore.WaitUDP4", kerrno.EAGAIN)

// waitWithTimeout waits on cond for at most d before returning, whichever
// comes first. sync.Cond has no native deadline; a timer goroutine
// broadcasts to unblock the waiter, the same escape hatch the teacher's
// gcsproxy uses for context-cancellable bundle joins.
func waitWithTimeout(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, cond.Broadcast)
	defer timer.Stop()
	cond.Wait()
}
