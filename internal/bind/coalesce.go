// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bind

import (
	"context"
	"strings"
	"sync"
	"time"

	"grimm.is/bindctl/internal/clock"
	"grimm.is/bindctl/internal/logging"
)

// DeployFunc re-renders current state and deploys it. The reasons slice
// carries every trigger folded into this run.
type DeployFunc func(ctx context.Context, reasons []string) error

// Coalescer batches deploy triggers so bursts (bulk record imports, feed
// refreshes landing together) produce one deploy instead of one per write.
// The first trigger starts a quiet window; further triggers extend it up to
// MaxWait from the first, then the deploy runs with all folded reasons.
type Coalescer struct {
	quiet   time.Duration
	maxWait time.Duration
	deploy  DeployFunc
	clk     clock.Clock
	logger  *logging.Logger

	mu      sync.Mutex
	reasons []string
	kick    chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewCoalescer(quiet, maxWait time.Duration, clk clock.Clock, logger *logging.Logger, deploy DeployFunc) *Coalescer {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	if quiet <= 0 || quiet > maxWait {
		quiet = maxWait / 4
	}
	return &Coalescer{
		quiet:   quiet,
		maxWait: maxWait,
		deploy:  deploy,
		clk:     clk,
		logger:  logger.WithComponent("deploy-queue"),
		kick:    make(chan struct{}, 1),
	}
}

// Trigger requests a deploy. Never blocks.
func (c *Coalescer) Trigger(reason string) {
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Pending reports the number of triggers not yet folded into a deploy.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reasons)
}

func (c *Coalescer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop drains one final deploy if triggers are pending, then shuts down.
func (c *Coalescer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if reasons := c.take(); len(reasons) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.fire(ctx, reasons)
	}
}

func (c *Coalescer) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
		}

		deadline := c.clk.Now().Add(c.maxWait)
	settle:
		for {
			remaining := deadline.Sub(c.clk.Now())
			wait := c.quiet
			if remaining < wait {
				wait = remaining
			}
			if wait <= 0 {
				break settle
			}
			select {
			case <-ctx.Done():
				return
			case <-c.kick:
				// Another trigger arrived; keep settling until the deadline.
			case <-c.clk.After(wait):
				break settle
			}
		}

		if reasons := c.take(); len(reasons) > 0 {
			c.fire(ctx, reasons)
		}
	}
}

func (c *Coalescer) take() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	reasons := c.reasons
	c.reasons = nil
	return reasons
}

func (c *Coalescer) fire(ctx context.Context, reasons []string) {
	if err := c.deploy(ctx, reasons); err != nil {
		c.logger.Error("coalesced deploy failed",
			"reasons", strings.Join(reasons, ","), "error", err)
		return
	}
	c.logger.Debug("coalesced deploy complete", "triggers", len(reasons))
}
