package authgate

import (
	"context"
	"time"
)

// Start runs the lockout ticker until ctx ends or Close is called. While the engine
// is locked each tick refreshes LockoutRemaining; the first tick after the lockout
// elapses clears the failure tracking.
func (c *Controller) Start(ctx context.Context) error {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	if c.closed {
		return ErrEngineClosed
	}
	if c.stopTick != nil {
		return nil
	}

	tickCtx, cancel := context.WithCancel(ctx)
	c.stopTick = cancel
	c.tickWG.Add(1)
	go c.runTicker(tickCtx, c.flowCfg.TickInterval)
	return nil
}

func (c *Controller) runTicker(ctx context.Context, interval time.Duration) {
	defer c.tickWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	if !c.engine.lockoutPending(c.engine.State()) {
		return
	}
	if left := c.engine.RemainingLockout(c.engine.now()); left > 0 {
		c.mu.Lock()
		c.flow.LockoutRemaining = left
		c.mu.Unlock()
		return
	}
	if _, err := c.engine.ResetFailedAttempts(context.WithoutCancel(ctx)); err != nil {
		c.engine.logger.Warn("authgate: clearing expired lockout", "error", err)
	}
}

// Close stops the ticker and the engine subscription. In-flight operations see their
// context cancelled and Close waits for them to return; none of them updates the flow
// or the engine afterwards. The engine itself stays open.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.tickMu.Lock()
		c.closed = true
		stop := c.stopTick
		c.tickMu.Unlock()

		c.cancelOps()
		if stop != nil {
			stop()
		}
		c.tickWG.Wait()

		// Wait for the running operation to return.
		c.opMu.Lock()
		c.opMu.Unlock()

		if c.unsubscribe != nil {
			c.unsubscribe()
		}
	})
}
