package core

import (
	"context"
	"fmt"

	"github.com/adred-codev/tradeapi-go/apierrors"
)

// AddTask runs fn in a supervised goroutine under name, cancelling and
// replacing any earlier task already registered under the same name. A
// panic escaping fn is recovered and routed to the sanity-error bus instead
// of crashing the process. fn's context is cancelled when Clear runs, or
// earlier if something re-registers the same name; Disconnect alone leaves
// background tasks running.
func (c *Core) AddTask(name string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(c.rootCtx)

	c.tasksMu.Lock()
	if old, ok := c.tasks[name]; ok {
		old()
	}
	c.tasks[name] = cancel
	c.tasksMu.Unlock()

	c.taskWG.Add(1)
	go func() {
		defer c.taskWG.Done()
		defer func() {
			if r := recover(); r != nil {
				err := &apierrors.AddedTaskError{Inner: fmt.Errorf("panic: %v", r), Name: name}
				c.sanity.Next(err)
				if c.metrics != nil {
					c.metrics.AddedTaskErrors.Inc()
				}
			}
		}()
		fn(ctx)
	}()
}
