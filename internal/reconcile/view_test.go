package reconcile

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource records live subscriptions so tests can push snapshots by hand.
type fakeSource struct {
	mu        sync.Mutex
	delivers  map[string]func([]string)
	fails     map[string]func(error)
	cancelled map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		delivers:  map[string]func([]string){},
		fails:     map[string]func(error){},
		cancelled: map[string]int{},
	}
}

func (f *fakeSource) source() Source[string] {
	return func(key string, deliver func([]string), fail func(error)) func() {
		f.mu.Lock()
		f.delivers[key] = deliver
		f.fails[key] = fail
		f.mu.Unlock()
		return func() {
			f.mu.Lock()
			f.cancelled[key]++
			f.mu.Unlock()
		}
	}
}

func (f *fakeSource) push(key string, items ...string) {
	f.mu.Lock()
	d := f.delivers[key]
	f.mu.Unlock()
	d(items)
}

func (f *fakeSource) fail(key string, err error) {
	f.mu.Lock()
	fn := f.fails[key]
	f.mu.Unlock()
	fn(err)
}

func key(s string) *string { return &s }

func TestEmptyFirstSnapshotIsReady(t *testing.T) {
	src := newFakeSource()
	v := NewView(src.source(), key("p1"))
	assert.Equal(t, Loading, v.State())

	src.push("p1")
	snap := v.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, Streaming, snap.Phase)
	assert.Empty(t, snap.Items)
}

func TestSnapshotsReplaceWorkingSet(t *testing.T) {
	src := newFakeSource()
	v := NewView(src.source(), key("p1"))
	src.push("p1", "a", "b")
	src.push("p1", "c")

	snap := v.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, []string{"c"}, snap.Items)
}

func TestKeyChangeReentersLoadingAndIgnoresStaleSource(t *testing.T) {
	src := newFakeSource()
	v := NewView(src.source(), key("p1"))
	src.push("p1", "a")

	v.SetKey(key("p2"))
	assert.Equal(t, Loading, v.State())
	assert.Equal(t, 1, src.cancelled["p1"])

	src.push("p1", "stale")
	assert.Equal(t, Loading, v.State())
	assert.Empty(t, v.Snapshot().Items)

	src.push("p2", "x")
	snap := v.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, []string{"x"}, snap.Items)
	require.NotNil(t, snap.Key)
	assert.Equal(t, "p2", *snap.Key)
}

func TestNilKeyIsReadyAndEmpty(t *testing.T) {
	src := newFakeSource()
	v := NewView(src.source(), key("p1"))
	src.push("p1", "a")

	v.SetKey(nil)
	snap := v.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Nil(t, snap.Key)
	assert.Empty(t, snap.Items)
	assert.Equal(t, 1, src.cancelled["p1"])
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	src := newFakeSource()
	v := NewView(src.source(), key("p1"))
	v.Close()
	v.Close()
	assert.Equal(t, Unsubscribed, v.State())
	assert.Equal(t, 1, src.cancelled["p1"])

	src.push("p1", "late")
	assert.Equal(t, Unsubscribed, v.State())
	assert.Empty(t, v.Snapshot().Items)

	v.SetKey(key("p2"))
	assert.Equal(t, Unsubscribed, v.State())

	for range v.Changes() {
	}
}

func TestSourceErrorIsTerminal(t *testing.T) {
	src := newFakeSource()
	v := NewView(src.source(), key("p1"))
	src.push("p1", "a")
	src.fail("p1", errors.New("boom"))

	snap := v.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.EqualError(t, snap.Err, "boom")
	assert.Equal(t, 1, src.cancelled["p1"])

	src.push("p1", "b")
	assert.Equal(t, Failed, v.State())
}

func TestChangesCoalesce(t *testing.T) {
	src := newFakeSource()
	v := NewView(src.source(), key("p1"))
	src.push("p1", "a")
	src.push("p1", "b")
	src.push("p1", "c")

	<-v.Changes()
	select {
	case <-v.Changes():
		t.Fatal("expected a single pending signal")
	default:
	}
	assert.Equal(t, []string{"c"}, v.Snapshot().Items)
}
