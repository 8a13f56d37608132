package sched

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/example/x86kernel/internal/cpu"
)

func TestTaskInitAllocatesTSSDescriptor(t *testing.T) {
	gdt := cpu.Setup()
	s := New(gdt)

	task, err := s.TaskInit(0x1000, 0x9000, 0x8000, 0x08, 0x10)
	require.NoError(t, err)

	descr, err := gdt.Get(task.tssIndex)
	require.NoError(t, err)
	assert.Equal(t, cpu.SegTSS, descr.Kind)
}

func TestTickWithNoSchedulerArmedIsNoop(t *testing.T) {
	gdt := cpu.Setup()
	s := New(gdt)
	in := Context{EIP: 42}
	out, err := s.Tick(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTickSwitchesToPickedTask(t *testing.T) {
	gdt := cpu.Setup()
	s := New(gdt)

	a, err := s.TaskInit(0x1000, 0x9000, 0x8000, 0x08, 0x10)
	require.NoError(t, err)
	b, err := s.TaskInit(0x2000, 0x9100, 0x8100, 0x08, 0x10)
	require.NoError(t, err)

	s.current = a
	a.state = Running
	s.SetScheduler(func(tick uint64) *Task { return b })

	out, err := s.Tick(Context{EIP: 0x1234})
	require.NoError(t, err)
	assert.Equal(t, b, s.Current())
	assert.Equal(t, uint32(0x2000), out.EIP)
	assert.Equal(t, Running, b.State())
	assert.Equal(t, Ready, a.State())
}

// Boundary scenario 6 from spec §8: on two ready tasks with the alternating
// scheduler, after N ticks each task has executed floor(N/2) or ceil(N/2)
// quanta, never starved. The self-test harness drives the ticks through an
// errgroup limited to one goroutine at a time, modeled on the way the
// teacher's fs/inode/file.go fans work out through a syncutil.Bundle-like
// group, folding the per-tick result back through a mutex-protected tally.
func TestAlternatingSchedulerNeverStarves(t *testing.T) {
	gdt := cpu.Setup()
	s := New(gdt)

	a, err := s.TaskInit(0x1000, 0x9000, 0x8000, 0x08, 0x10)
	require.NoError(t, err)
	b, err := s.TaskInit(0x2000, 0x9100, 0x8100, 0x08, 0x10)
	require.NoError(t, err)
	s.current = a
	a.state = Running

	var mu sync.Mutex
	quanta := map[int]int{a.id: 0, b.id: 0}

	s.SetScheduler(func(tick uint64) *Task {
		if tick%2 == 0 {
			return a
		}
		return b
	})

	const N = 100
	g := new(errgroup.Group)
	g.SetLimit(1) // ticks are inherently sequential: one scheduling decision at a time
	for i := 0; i < N; i++ {
		g.Go(func() error {
			_, err := s.Tick(Context{})
			if err != nil {
				return err
			}
			mu.Lock()
			quanta[s.Current().id]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	total := quanta[a.id] + quanta[b.id]
	assert.Equal(t, N, total)
	diff := quanta[a.id] - quanta[b.id]
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, 1)
}

func TestTeardownFreesGDTSlotAndRemovesFromTable(t *testing.T) {
	gdt := cpu.Setup()
	s := New(gdt)

	task, err := s.TaskInit(0x1000, 0x9000, 0x8000, 0x08, 0x10)
	require.NoError(t, err)

	require.NoError(t, s.Teardown(task))
	assert.Equal(t, Stopped, task.State())
	assert.NotContains(t, s.tasks, task)

	descr, err := gdt.Get(task.tssIndex)
	require.NoError(t, err)
	assert.Equal(t, cpu.Descriptor{}, descr)
}
