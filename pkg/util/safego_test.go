package util

import (
	"sync"
	"testing"
	"time"
)

func TestSafeGo_RunsFunction(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	SafeGo(func() {
		ran = true
		wg.Done()
	})
	wg.Wait()
	if !ran {
		t.Fatal("fn did not run")
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo(func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("panicking goroutine did not finish")
	}
	// 进程没有崩溃即为通过。
}
