package route

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Coordinator collapses concurrent generation requests for one room into a
// single run. The key is released when the run finishes, so a later
// request starts a new one.
type Coordinator struct {
	group singleflight.Group
}

// Do runs fn once per room among concurrent callers. fn does not inherit the
// caller's cancellation: one caller leaving must not cancel the shared run.
// shared reports whether the result was handed to more than one caller.
func (c *Coordinator) Do(ctx context.Context, roomID string, fn func(context.Context) (Outcome, error)) (out Outcome, shared bool, err error) {
	runCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(roomID, func() (any, error) {
		return fn(runCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Outcome{}, res.Shared, res.Err
		}
		outcome, ok := res.Val.(Outcome)
		if !ok {
			return Outcome{}, res.Shared, fmt.Errorf("unexpected generation result %T", res.Val)
		}
		return outcome, res.Shared, nil
	case <-ctx.Done():
		return Outcome{}, false, ctx.Err()
	}
}
