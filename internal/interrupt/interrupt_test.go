package interrupt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/x86kernel/internal/klog"
)

func TestIRQDispatchAndCounter(t *testing.T) {
	c := New(klog.Discard(), nil)
	var fired bool
	c.RegisterIRQ(0, func() { fired = true })

	require.Equal(t, uint64(0), c.IRQHappened(0))
	c.FireIRQ(0)
	assert.True(t, fired)
	assert.Equal(t, uint64(1), c.IRQHappened(0))
}

func TestIRQWaitWakesOnFire(t *testing.T) {
	c := New(klog.Discard(), nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.IRQWait(1)
	}()

	time.Sleep(10 * time.Millisecond) // give the waiter time to block
	c.FireIRQ(1)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("IRQWait never woke up")
	}
}

func TestIRQEnableDisableMask(t *testing.T) {
	c := New(klog.Discard(), nil)
	c.IRQEnable(3)
	assert.False(t, c.IRQMasked(3))
	c.IRQDisable(3)
	assert.True(t, c.IRQMasked(3))
}

func TestFatalVectorInvokesHook(t *testing.T) {
	var got Fault
	c := New(klog.Discard(), func(f Fault) { got = f })
	c.Raise(0x00, 0) // divide error
	assert.Equal(t, 0x00, got.Vector)
}

func TestPageFaultReportsAddress(t *testing.T) {
	var got Fault
	c := New(klog.Discard(), func(f Fault) { got = f })
	c.RaisePageFault(0xcafebabe, 0x2)
	assert.Equal(t, uint32(0xcafebabe), got.Addr)
}

func TestSyscallGateDispatches(t *testing.T) {
	c := New(klog.Discard(), nil)
	called := false
	c.SetSyscallHandler(func(vector int, errCode uint32) { called = true })
	c.Raise(SyscallVec, 0)
	assert.True(t, called)
}
