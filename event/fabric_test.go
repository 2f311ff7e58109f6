package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestPushReturnsWatcherCountAtPushTime(t *testing.T) {
	f := NewFabric(Config{})
	e, err := f.Create("sys/ping")
	if err != nil {
		t.Fatal(err)
	}
	defer e.Unref()

	var received int32
	l := f.NewListener(Interface{
		Push: func(PushEnvelope) { atomic.AddInt32(&received, 1) },
	}, "g1")
	f.ListenerAdd(e, l)

	if n := f.Push(e, nil); n != 1 {
		t.Fatalf("push count = %d, want 1", n)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&received) == 1 })

	f.ListenerRemove(e, l)
	if n := f.Push(e, nil); n != 0 {
		t.Fatalf("push count after remove = %d, want 0", n)
	}
}

func TestDestroyingEventFiresRemoveOnListeners(t *testing.T) {
	f := NewFabric(Config{})
	e, err := f.Create("sys/x")
	if err != nil {
		t.Fatal(err)
	}

	var removed atomic.Bool
	l := f.NewListener(Interface{
		Remove: func(name string, id uint16) { removed.Store(true) },
	}, "g2")
	f.ListenerAdd(e, l)

	e.Unref() // drop the creator's ref -> refcount 0 -> destroy
	waitFor(t, removed.Load)
}

func TestRebroadcastDedup(t *testing.T) {
	f := NewFabric(Config{})

	var count int32
	l := f.NewListener(Interface{
		Broadcast: func(BroadcastEnvelope) { atomic.AddInt32(&count, 1) },
	}, "g3")
	_ = l

	n1 := f.Rebroadcast("x", nil, "uuid-fixed", 5)
	n2 := f.Rebroadcast("x", nil, "uuid-fixed", 5)

	if n1 != 1 {
		t.Fatalf("first rebroadcast delivered to %d listeners, want 1", n1)
	}
	if n2 != 0 {
		t.Fatalf("duplicate rebroadcast delivered to %d listeners, want 0", n2)
	}
}

func TestGroupQueueOrdering(t *testing.T) {
	q := NewGroupQueue()
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		i := i
		q.Submit("same-group", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("group jobs executed out of submission order: %v", order)
		}
	}
}
