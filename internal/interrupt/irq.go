package interrupt

// RegisterIRQ installs irq[n], per spec §4.2's `irq[n]` table.
func (c *Controller) RegisterIRQ(n int, handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.irqHandlers[n] = handler
}

// irqHandler dispatches to irq[n], writes EOI to the appropriate PIC
// (master for 0–7, slave for 8–15) and advances irq_happened[n], per
// spec §4.2.
func (c *Controller) irqHandler(n int) {
	c.mu.Lock()
	h := c.irqHandlers[n]
	c.irqHappened[n]++
	if n >= 8 {
		c.eoiCount[1]++
	} else {
		c.eoiCount[0]++
	}
	c.mu.Unlock()

	if h != nil {
		h()
	}
}

// FireIRQ is the driver-facing entry point: a simulated device asserts its
// line, which dispatches exactly as a real PIC-routed interrupt would, then
// wakes anyone blocked in irq_wait.
func (c *Controller) FireIRQ(n int) {
	c.irqHandler(n)
	c.cond.L.Lock()
	c.cond.Broadcast()
	c.cond.L.Unlock()
}

// IRQHappened returns irq_happened[n], the counter irq_wait polls.
func (c *Controller) IRQHappened(n int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.irqHappened[n]
}

// IRQEnable / IRQDisable manipulate the PIC mask registers, per spec §4.2.
func (c *Controller) IRQEnable(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 8 {
		c.irqMaskedM &^= 1 << uint(n)
	} else {
		c.irqMaskedS &^= 1 << uint(n-8)
	}
}

func (c *Controller) IRQDisable(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 8 {
		c.irqMaskedM |= 1 << uint(n)
	} else {
		c.irqMaskedS |= 1 << uint(n-8)
	}
}

// IRQMasked reports whether line n is currently masked.
func (c *Controller) IRQMasked(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 8 {
		return c.irqMaskedM&(1<<uint(n)) != 0
	}
	return c.irqMaskedS&(1<<uint(n-8)) != 0
}

// IRQWait blocks the calling goroutine (standing in for cpu_halt, spec §5)
// until irq_happened[n] advances past its value when IRQWait was called —
// the Go-idiomatic replacement for a halt-until-interrupt loop.
func (c *Controller) IRQWait(n int) {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	baseline := c.irqHappened[n]
	for c.irqHappened[n] <= baseline {
		c.cond.Wait()
	}
}
