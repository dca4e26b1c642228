package session

import "sync"

// Observable holds a value and pushes every change to its subscribers.
// Subscribers only ever see the latest value: a slow reader misses
// intermediate states instead of blocking the writer.
type Observable[T any] struct {
	mu    sync.Mutex
	value T
	subs  map[int]chan T
	next  int
}

func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{value: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set stores v and notifies subscribers.
func (o *Observable[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.value = v
	for _, ch := range o.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Subscribe returns a channel primed with the current value and a cancel
// func that closes it. Cancel is idempotent.
func (o *Observable[T]) Subscribe() (<-chan T, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.next
	o.next++
	ch := make(chan T, 1)
	ch <- o.value
	o.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subs, id)
			close(ch)
		})
	}
}
