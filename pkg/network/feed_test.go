package network

import (
	"sync"
	"testing"
	"time"
)

func TestFeedPublishSubscribe(t *testing.T) {
	var f Feed[int]
	a := f.Subscribe(4)
	b := f.Subscribe(4)

	if n := f.Publish(7); n != 2 {
		t.Errorf("Publish() = %d, want 2", n)
	}
	if got := <-a.C; got != 7 {
		t.Errorf("a received %d, want 7", got)
	}
	if got := <-b.C; got != 7 {
		t.Errorf("b received %d, want 7", got)
	}

	b.Unsubscribe()
	b.Unsubscribe()
	if n := f.Publish(8); n != 1 {
		t.Errorf("Publish() after Unsubscribe = %d, want 1", n)
	}
	if f.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.Len())
	}
}

func TestFeedPreservesOrder(t *testing.T) {
	var f Feed[int]
	sub := f.Subscribe(0)

	go func() {
		for i := 0; i < 100; i++ {
			f.Publish(i)
		}
	}()

	for want := 0; want < 100; want++ {
		if got := <-sub.C; got != want {
			t.Fatalf("received %d, want %d", got, want)
		}
	}
}

func TestFeedCloseReleasesPublisher(t *testing.T) {
	var f Feed[int]
	sub := f.Subscribe(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.Publish(1) // nobody reads
	}()

	time.Sleep(20 * time.Millisecond)
	f.Close()
	wg.Wait()

	if _, ok := <-sub.C; ok {
		t.Error("subscription channel still open after Close()")
	}
	if n := f.Publish(2); n != 0 {
		t.Errorf("Publish() after Close = %d, want 0", n)
	}

	late := f.Subscribe(1)
	if _, ok := <-late.C; ok {
		t.Error("Subscribe() after Close returned an open channel")
	}
	f.Close()
}

func TestFeedUnsubscribeReleasesPublisher(t *testing.T) {
	var f Feed[int]
	sub := f.Subscribe(0)

	done := make(chan int)
	go func() {
		done <- f.Publish(1)
	}()

	time.Sleep(20 * time.Millisecond)
	sub.Unsubscribe()

	select {
	case n := <-done:
		if n != 0 {
			t.Errorf("Publish() = %d, want 0", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish() still blocked after Unsubscribe()")
	}
}
