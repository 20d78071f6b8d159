package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestChainRunsTasksInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewChain(ctx, nil)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		c.Enqueue("task", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 50 {
		t.Fatalf("ran %d tasks, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestChainErrorDoesNotBreakChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var errs []string
	c := NewChain(ctx, func(action string, err error) {
		mu.Lock()
		errs = append(errs, action)
		mu.Unlock()
	})

	ran := false
	c.Enqueue("failing", func(context.Context) error {
		return fmt.Errorf("boom")
	})
	c.Enqueue("panicking", func(context.Context) error {
		panic("kaboom")
	})
	c.Enqueue("after", func(context.Context) error {
		ran = true
		return nil
	})
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if !ran {
		t.Error("task after failures did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 2 || errs[0] != "failing" || errs[1] != "panicking" {
		t.Errorf("onError calls = %v, want [failing panicking]", errs)
	}
}

func TestChainWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewChain(ctx, nil)

	release := make(chan struct{})
	c.Enqueue("blocker", func(context.Context) error {
		<-release
		return nil
	})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer waitCancel()
	if err := c.Wait(waitCtx); err == nil {
		t.Error("Wait returned nil while a task was blocked")
	}
	close(release)
}
