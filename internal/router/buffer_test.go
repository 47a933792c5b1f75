package router

import (
	"sync"
	"testing"
	"time"
)

func TestGrowableBuffer_PushPopOrder(t *testing.T) {
	buf := NewGrowableBuffer[int](10)

	for i := 0; i < 5; i++ {
		if !buf.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := buf.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}

	if _, ok := buf.TryPop(); ok {
		t.Error("TryPop() on empty buffer returned true")
	}
}

func TestGrowableBuffer_GrowsWhenFull(t *testing.T) {
	buf := NewGrowableBuffer[int](4)

	for i := 0; i < 4; i++ {
		buf.Push(i)
	}
	if stats := buf.Stats(); stats.Grows != 0 || stats.Capacity != 4 {
		t.Fatalf("stats = %+v, want no growth at exactly full", stats)
	}

	buf.Push(4)
	stats := buf.Stats()
	if stats.Capacity != 8 {
		t.Errorf("Capacity = %d, want 8", stats.Capacity)
	}
	if stats.Grows != 1 {
		t.Errorf("Grows = %d, want 1", stats.Grows)
	}

	for i := 0; i < 5; i++ {
		val, _ := buf.TryPop()
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}
}

func TestGrowableBuffer_GrowPreservesWrappedOrder(t *testing.T) {
	buf := NewGrowableBuffer[int](4)

	// Move head forward so the ring wraps before it grows.
	for i := 0; i < 3; i++ {
		buf.Push(i)
	}
	for i := 0; i < 3; i++ {
		buf.TryPop()
	}

	for i := 10; i < 16; i++ {
		buf.Push(i)
	}

	for want := 10; want < 16; want++ {
		val, ok := buf.TryPop()
		if !ok || val != want {
			t.Fatalf("popped (%d, %v), want (%d, true)", val, ok, want)
		}
	}
}

func TestGrowableBuffer_BlockingPop(t *testing.T) {
	buf := NewGrowableBuffer[string](4)

	got := make(chan string, 1)
	go func() {
		val, _ := buf.Pop()
		got <- val
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before Push")
	case <-time.After(20 * time.Millisecond):
	}

	buf.Push("hello")

	select {
	case val := <-got:
		if val != "hello" {
			t.Errorf("Pop() = %q, want hello", val)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock")
	}
}

func TestGrowableBuffer_CloseDrainsThenStops(t *testing.T) {
	buf := NewGrowableBuffer[int](4)
	buf.Push(1)
	buf.Push(2)
	buf.Close()

	if buf.Push(3) {
		t.Error("Push after Close returned true")
	}

	for _, want := range []int{1, 2} {
		val, ok := buf.Pop()
		if !ok || val != want {
			t.Errorf("Pop() = (%d, %v), want (%d, true)", val, ok, want)
		}
	}
	if _, ok := buf.Pop(); ok {
		t.Error("Pop() on closed empty buffer returned true")
	}
}

func TestGrowableBuffer_CloseUnblocksPop(t *testing.T) {
	buf := NewGrowableBuffer[int](4)

	done := make(chan bool, 1)
	go func() {
		_, ok := buf.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop() returned true after Close on empty buffer")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Pop")
	}
}

func TestGrowableBuffer_ConcurrentPushPop(t *testing.T) {
	buf := NewGrowableBuffer[int](2)
	const producers, perProducer = 4, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				buf.Push(i)
			}
		}()
	}

	received := make(chan int, 1)
	go func() {
		n := 0
		for {
			if _, ok := buf.Pop(); !ok {
				break
			}
			n++
		}
		received <- n
	}()

	wg.Wait()
	buf.Close()

	select {
	case n := <-received:
		if n != producers*perProducer {
			t.Errorf("received %d items, want %d", n, producers*perProducer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not finish")
	}
}

func TestGrowableBuffer_Stats(t *testing.T) {
	buf := NewGrowableBuffer[int](2)
	for i := 0; i < 5; i++ {
		buf.Push(i)
	}
	buf.TryPop()
	buf.TryPop()

	stats := buf.Stats()
	if stats.Len != 3 {
		t.Errorf("Len = %d, want 3", stats.Len)
	}
	if stats.Pushed != 5 || stats.Popped != 2 {
		t.Errorf("Pushed/Popped = %d/%d, want 5/2", stats.Pushed, stats.Popped)
	}
	if stats.HighWater != 5 {
		t.Errorf("HighWater = %d, want 5", stats.HighWater)
	}
	if stats.Grows != 2 {
		t.Errorf("Grows = %d, want 2", stats.Grows)
	}
}

func TestNewGrowableBuffer_MinCapacity(t *testing.T) {
	buf := NewGrowableBuffer[int](0)
	if buf.Stats().Capacity != 1 {
		t.Errorf("Capacity = %d, want 1", buf.Stats().Capacity)
	}
	buf.Push(1)
	buf.Push(2)
	if buf.Len() != 2 {
		t.Errorf("Len() = %d, want 2", buf.Len())
	}
}
