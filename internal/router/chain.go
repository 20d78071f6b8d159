package router

import (
	"context"
	"fmt"
	"sync"
)

// chainTask is one queued adapter-facing action.
type chainTask struct {
	name string
	fn   func(context.Context) error
}

// Chain is a per-session single-consumer task queue: one worker goroutine
// executes queued actions strictly in submission order, one at a time. A
// failing action is reported through onError and never breaks the chain.
//
// This replaces the original promise-chaining-as-mutex trick with an
// explicit queue, preserving the FIFO single-writer guarantee.
type Chain struct {
	mu      sync.Mutex
	queue   []chainTask
	wake    chan struct{}
	onError func(action string, err error)
}

// NewChain starts a chain whose worker runs until ctx is cancelled.
// onError may be nil.
func NewChain(ctx context.Context, onError func(action string, err error)) *Chain {
	c := &Chain{
		wake:    make(chan struct{}, 1),
		onError: onError,
	}
	go c.run(ctx)
	return c
}

// Enqueue appends an action. Never blocks.
func (c *Chain) Enqueue(name string, fn func(context.Context) error) {
	c.mu.Lock()
	c.queue = append(c.queue, chainTask{name: name, fn: fn})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until every action submitted before the call has finished,
// or ctx is done.
func (c *Chain) Wait(ctx context.Context) error {
	done := make(chan struct{})
	c.Enqueue("barrier", func(context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Chain) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			task := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			c.execute(ctx, task)
		}
	}
}

func (c *Chain) execute(ctx context.Context, task chainTask) {
	defer func() {
		if rec := recover(); rec != nil && c.onError != nil {
			c.onError(task.name, fmt.Errorf("panic: %v", rec))
		}
	}()
	if err := task.fn(ctx); err != nil && c.onError != nil {
		c.onError(task.name, err)
	}
}
