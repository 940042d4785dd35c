// Package reconcile turns a stream of full collection snapshots into
// per-subscriber state with stable loading semantics.
package reconcile

import "sync"

type State int

const (
	Loading State = iota
	Ready
	Unsubscribed
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Unsubscribed:
		return "unsubscribed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Phase records whether the current key has produced its first snapshot.
type Phase int

const (
	AwaitingFirst Phase = iota
	Streaming
)

// Source starts pushing full snapshots for key until cancel is called.
// deliver and fail may be called from any goroutine.
type Source[T any] func(key string, deliver func([]T), fail func(error)) (cancel func())

// Snapshot is a point-in-time copy of a view.
type Snapshot[T any] struct {
	State State
	Phase Phase
	Key   *string
	Items []T
	Err   error
}

// View holds one subscriber's working set.
type View[T any] struct {
	mu      sync.Mutex
	src     Source[T]
	state   State
	phase   Phase
	key     *string
	items   []T
	err     error
	gen     uint64
	cancel  func()
	changes chan struct{}
}

// NewView subscribes to key right away; a nil key yields an empty Ready view.
func NewView[T any](src Source[T], key *string) *View[T] {
	v := &View[T]{src: src, changes: make(chan struct{}, 1)}
	v.SetKey(key)
	return v
}

// SetKey switches the subscription. The old source is cancelled before the
// new one starts. Setting the current key again is a no-op unless the view failed.
func (v *View[T]) SetKey(key *string) {
	v.mu.Lock()
	if v.state == Unsubscribed {
		v.mu.Unlock()
		return
	}
	if v.gen > 0 && v.state != Failed && sameKey(v.key, key) {
		v.mu.Unlock()
		return
	}
	v.gen++
	gen := v.gen
	old := v.cancel
	v.cancel = nil
	v.err = nil
	v.items = nil
	v.phase = AwaitingFirst
	if key == nil {
		v.key = nil
		v.state = Ready
	} else {
		k := *key
		v.key = &k
		v.state = Loading
	}
	v.notifyLocked()
	v.mu.Unlock()

	if old != nil {
		old()
	}
	if key == nil {
		return
	}

	cancel := v.src(*key,
		func(items []T) { v.deliver(gen, items) },
		func(err error) { v.fail(gen, err) },
	)

	v.mu.Lock()
	if v.gen != gen || v.state == Unsubscribed || v.state == Failed {
		v.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}
	v.cancel = cancel
	v.mu.Unlock()
}

func (v *View[T]) deliver(gen uint64, items []T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen || v.state == Unsubscribed || v.state == Failed {
		return
	}
	next := make([]T, len(items))
	copy(next, items)
	v.items = next
	if v.phase == AwaitingFirst {
		v.phase = Streaming
		v.state = Ready
	}
	v.notifyLocked()
}

func (v *View[T]) fail(gen uint64, err error) {
	v.mu.Lock()
	if gen != v.gen || v.state == Unsubscribed || v.state == Failed {
		v.mu.Unlock()
		return
	}
	v.state = Failed
	v.err = err
	cancel := v.cancel
	v.cancel = nil
	v.notifyLocked()
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close tears the view down. Further callbacks are ignored. Safe to call twice.
func (v *View[T]) Close() {
	v.mu.Lock()
	if v.state == Unsubscribed {
		v.mu.Unlock()
		return
	}
	v.gen++
	v.state = Unsubscribed
	v.items = nil
	cancel := v.cancel
	v.cancel = nil
	close(v.changes)
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Changes signals after every state or data change. Bursts coalesce into one
// pending signal. The channel is closed by Close.
func (v *View[T]) Changes() <-chan struct{} {
	return v.changes
}

func (v *View[T]) Snapshot() Snapshot[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	snap := Snapshot[T]{State: v.state, Phase: v.phase, Err: v.err}
	if v.key != nil {
		k := *v.key
		snap.Key = &k
	}
	snap.Items = make([]T, len(v.items))
	copy(snap.Items, v.items)
	return snap
}

func (v *View[T]) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *View[T]) notifyLocked() {
	select {
	case v.changes <- struct{}{}:
	default:
	}
}

func sameKey(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
