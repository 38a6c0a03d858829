package network

import "sync"

// Feed fans values out to subscribers. Publish blocks until every current
// subscriber accepted the value, unsubscribed, or the feed closed.
type Feed[T any] struct {
	mu      sync.Mutex
	subs    map[*Subscription[T]]struct{}
	closed  bool
	done    chan struct{}
	pending sync.WaitGroup
}

// Subscription receives values published after it was created. C is closed
// when the feed closes.
type Subscription[T any] struct {
	C <-chan T

	ch   chan T
	feed *Feed[T]
	done chan struct{}
	once sync.Once
}

func (f *Feed[T]) init() {
	if f.subs == nil {
		f.subs = make(map[*Subscription[T]]struct{})
		f.done = make(chan struct{})
	}
}

// Subscribe registers a subscriber with the given channel buffer.
func (f *Feed[T]) Subscribe(buffer int) *Subscription[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()

	ch := make(chan T, buffer)
	s := &Subscription[T]{C: ch, ch: ch, feed: f, done: make(chan struct{})}
	if f.closed {
		close(ch)
		return s
	}
	f.subs[s] = struct{}{}
	return s
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
	})
}

// Publish delivers v and returns the number of subscribers that accepted it.
func (f *Feed[T]) Publish(v T) int {
	f.mu.Lock()
	f.init()
	if f.closed {
		f.mu.Unlock()
		return 0
	}
	subs := make([]*Subscription[T], 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.pending.Add(1)
	f.mu.Unlock()
	defer f.pending.Done()

	sent := 0
	for _, s := range subs {
		select {
		case s.ch <- v:
			sent++
		case <-s.done:
		case <-f.done:
			return sent
		}
	}
	return sent
}

// Len returns the number of subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close releases blocked publishers and closes every subscription channel.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	f.init()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.done)
	subs := f.subs
	f.subs = make(map[*Subscription[T]]struct{})
	f.mu.Unlock()

	f.pending.Wait()
	for s := range subs {
		close(s.ch)
	}
}
