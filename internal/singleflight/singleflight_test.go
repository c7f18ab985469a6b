package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	g := New[string]()
	if g == nil {
		t.Fatal("New() returned nil")
	}
	if g.m == nil {
		t.Error("New() did not initialize map")
	}
}

func TestDo(t *testing.T) {
	g := New[string]()

	val, err, shared := g.Do(context.Background(), "key1", func() (string, error) {
		return "hello", nil
	})

	if err != nil {
		t.Errorf("Do() returned error: %v", err)
	}
	if val != "hello" {
		t.Errorf("Do() returned %v, want hello", val)
	}
	if shared {
		t.Error("first caller should own the call")
	}
	if g.Len() != 0 {
		t.Errorf("key should be removed after settlement, Len() = %d", g.Len())
	}
}

func TestDoError(t *testing.T) {
	g := New[string]()
	expectedErr := errors.New("test error")

	val, err, _ := g.Do(context.Background(), "key1", func() (string, error) {
		return "", expectedErr
	})

	if err != expectedErr {
		t.Errorf("Do() returned error %v, want %v", err, expectedErr)
	}
	if val != "" {
		t.Errorf("Do() returned %v, want empty", val)
	}
}

func TestDoDuplicateCalls(t *testing.T) {
	g := New[string]()

	var callCount int32
	release := make(chan struct{})
	fn := func() (string, error) {
		atomic.AddInt32(&callCount, 1)
		<-release
		return "result", nil
	}

	const numCalls = 10
	var wg sync.WaitGroup
	results := make([]string, numCalls)
	errs := make([]error, numCalls)

	for i := 0; i < numCalls; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			results[index], errs[index], _ = g.Do(context.Background(), "same-key", fn)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&callCount); n != 1 {
		t.Errorf("Function called %d times, want 1", n)
	}
	for i, result := range results {
		if errs[i] != nil {
			t.Errorf("Call %d returned error: %v", i, errs[i])
		}
		if result != "result" {
			t.Errorf("Call %d returned %v, want result", i, result)
		}
	}
}

func TestDoWaiterContextCanceled(t *testing.T) {
	g := New[string]()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _, _ = g.Do(context.Background(), "key", func() (string, error) {
			close(started)
			<-release
			return "late", nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err, shared := g.Do(ctx, "key", func() (string, error) {
		t.Error("waiter must not run fn")
		return "", nil
	})
	if !shared {
		t.Error("second caller should be a waiter")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("waiter error = %v, want context.Canceled", err)
	}
	close(release)
}

func TestTryDoInProgress(t *testing.T) {
	g := New[string]()

	started := make(chan struct{})
	proceed := make(chan struct{})

	go func() {
		_, _, _ = g.TryDo("key1", func() (string, error) {
			close(started)
			<-proceed
			return "first", nil
		})
	}()

	<-started

	val, err, ok := g.TryDo("key1", func() (string, error) {
		return "second", nil
	})

	if ok {
		t.Error("TryDo() should have failed due to in-progress call")
	}
	if err != ErrInProgress {
		t.Errorf("TryDo() returned error %v, want %v", err, ErrInProgress)
	}
	if val != "" {
		t.Errorf("TryDo() returned %v, want empty", val)
	}

	close(proceed)
}

func TestPanicReleasesWaiters(t *testing.T) {
	g := New[int]()
	c := make(chan error, 1)
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		defer func() { _ = recover() }()
		_, _, _ = g.Do(context.Background(), "k", func() (int, error) {
			close(started)
			<-release
			panic("boom")
		})
	}()
	<-started

	go func() {
		_, err, _ := g.Do(context.Background(), "k", func() (int, error) { return 0, nil })
		c <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-c:
		if err != ErrAbandoned {
			t.Errorf("waiter error = %v, want ErrAbandoned", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestCallResolveOnce(t *testing.T) {
	c := NewCall[string]()
	if c.Settled() {
		t.Fatal("new call should not be settled")
	}
	c.Resolve("a", nil)
	c.Resolve("b", errors.New("ignored"))

	v, err := c.Wait(context.Background())
	if v != "a" || err != nil {
		t.Errorf("Wait() = %q, %v; want a, nil", v, err)
	}
	if !c.Settled() {
		t.Error("call should be settled")
	}
}

func TestForgetKey(t *testing.T) {
	g := New[string]()
	release := make(chan struct{})
	go func() {
		_, _, _ = g.Do(context.Background(), "key1", func() (string, error) {
			<-release
			return "old", nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	g.ForgetKey("key1")
	val, err, shared := g.Do(context.Background(), "key1", func() (string, error) {
		return "new-value", nil
	})
	close(release)

	if err != nil || shared || val != "new-value" {
		t.Errorf("Do() after ForgetKey = %v, %v, shared=%v", val, err, shared)
	}
}

func BenchmarkDo(b *testing.B) {
	g := New[string]()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = g.Do(ctx, "bench-key", func() (string, error) {
			return "result", nil
		})
	}
}
