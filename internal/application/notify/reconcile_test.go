package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/letter-approval/internal/domain/event"
)

type fakeServer struct {
	mu      sync.Mutex
	version map[string]int64
	calls   atomic.Int32
	gate    chan struct{}
	err     error
}

func (s *fakeServer) fetch(ctx context.Context, id string) (*Snapshot, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Snapshot{LetterID: id, Status: "PENDING", Version: s.version[id]}, nil
}

func (s *fakeServer) set(id string, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version[id] = v
}

func evtFrom(actor string, version int64) *event.Event {
	return event.NewEvent(event.TypeLetterAdvanced, "L1", "PENDING", actor, version, time.Now())
}

func TestReconciler_RefreshesOnNewerEvent(t *testing.T) {
	srv := &fakeServer{version: map[string]int64{"L1": 3}}
	var changes []int64
	r := NewReconciler("S", srv.fetch, WithOnChange(func(s *Snapshot) { changes = append(changes, s.Version) }))

	changed, err := r.HandleEvent(context.Background(), evtFrom("M", 2))
	require.NoError(t, err)
	assert.True(t, changed)
	// The fetched version wins over the event's
	assert.Equal(t, int64(3), r.Known("L1"))
	assert.Equal(t, []int64{3}, changes)
}

func TestReconciler_DropsStaleAndDuplicate(t *testing.T) {
	srv := &fakeServer{version: map[string]int64{"L1": 4}}
	r := NewReconciler("S", srv.fetch)
	r.Observe(&Snapshot{LetterID: "L1", Version: 4})

	for _, v := range []int64{2, 4} {
		changed, err := r.HandleEvent(context.Background(), evtFrom("M", v))
		require.NoError(t, err)
		assert.False(t, changed)
	}
	assert.Equal(t, int32(0), srv.calls.Load())
}

func TestReconciler_SuppressesSelfOrigin(t *testing.T) {
	srv := &fakeServer{version: map[string]int64{"L1": 2}}
	r := NewReconciler("S", srv.fetch)

	changed, err := r.HandleEvent(context.Background(), evtFrom("S", 2))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int32(0), srv.calls.Load())
}

func TestReconciler_CooldownDefersToFlush(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	srv := &fakeServer{version: map[string]int64{"L1": 2}}
	r := NewReconciler("S", srv.fetch,
		WithCooldown(time.Second),
		WithReconcilerClock(func() time.Time { return now }))

	_, err := r.HandleEvent(context.Background(), evtFrom("M", 2))
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.calls.Load())

	srv.set("L1", 3)
	changed, err := r.HandleEvent(context.Background(), evtFrom("H", 3))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int32(1), srv.calls.Load())

	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, int32(2), srv.calls.Load())
	assert.Equal(t, int64(3), r.Known("L1"))

	// Nothing left dirty
	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestReconciler_ConcurrentRefreshesCollapse(t *testing.T) {
	srv := &fakeServer{version: map[string]int64{"L1": 5}, gate: make(chan struct{})}
	r := NewReconciler("S", srv.fetch)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Refresh(context.Background(), "L1")
		}()
	}

	require.Eventually(t, func() bool { return srv.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(srv.gate)
	wg.Wait()

	assert.Equal(t, int32(1), srv.calls.Load())
	assert.Equal(t, int64(5), r.Known("L1"))
}

func TestReconciler_FetchError(t *testing.T) {
	srv := &fakeServer{version: map[string]int64{}, err: errors.New("offline")}
	r := NewReconciler("S", srv.fetch)

	_, err := r.HandleEvent(context.Background(), evtFrom("M", 1))
	assert.Error(t, err)
	assert.Equal(t, int64(0), r.Known("L1"))
}

func TestReconciler_ObserveIgnoresOlder(t *testing.T) {
	r := NewReconciler("S", nil)
	assert.True(t, r.Observe(&Snapshot{LetterID: "L1", Version: 3}))
	assert.False(t, r.Observe(&Snapshot{LetterID: "L1", Version: 2}))
	assert.False(t, r.Observe(nil))
	assert.Equal(t, int64(3), r.Known("L1"))
}
