package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbiterfabric/cogrt/internal/app/domain/arbiterdom"
)

type fakeArbiter struct {
	mu     sync.Mutex
	name   string
	status arbiterdom.Status
}

func newFakeArbiter(name string) *fakeArbiter {
	return &fakeArbiter{name: name, status: arbiterdom.StatusActive}
}

func (f *fakeArbiter) Name() string { return f.name }

func (f *fakeArbiter) Status() arbiterdom.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeArbiter) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = arbiterdom.StatusActive
	return nil
}

func (f *fakeArbiter) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = arbiterdom.StatusOffline
	return nil
}

func TestRegister_RejectsDuplicateNames(t *testing.T) {
	s := New(Config{})
	a := newFakeArbiter("planner-1")
	require.NoError(t, s.Register(a, arbiterdom.RestartPermanent, nil))
	require.Error(t, s.Register(a, arbiterdom.RestartPermanent, nil))
}

func TestShutdown_VisitsArbitersInReverseRegistrationOrder(t *testing.T) {
	s := New(Config{})
	var order []string
	var mu sync.Mutex

	makeTracking := func(name string) *trackingArbiter {
		return &trackingArbiter{fakeArbiter: newFakeArbiter(name), onShutdown: func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}}
	}

	a1 := makeTracking("a1")
	a2 := makeTracking("a2")
	a3 := makeTracking("a3")
	require.NoError(t, s.Register(a1, arbiterdom.RestartTemporary, nil))
	require.NoError(t, s.Register(a2, arbiterdom.RestartTemporary, nil))
	require.NoError(t, s.Register(a3, arbiterdom.RestartTemporary, nil))

	require.NoError(t, s.Shutdown(context.Background()))
	require.Equal(t, []string{"a3", "a2", "a1"}, order)
}

type trackingArbiter struct {
	*fakeArbiter
	onShutdown func()
}

func (t *trackingArbiter) Shutdown(ctx context.Context) error {
	t.onShutdown()
	return t.fakeArbiter.Shutdown(ctx)
}

func TestShutdown_WaitsForPermanentArbitersOffline(t *testing.T) {
	s := New(Config{})
	permanent := newFakeArbiter("permanent-1")
	require.NoError(t, s.Register(permanent, arbiterdom.RestartPermanent, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.Equal(t, arbiterdom.StatusOffline, permanent.Status())
}

func TestHandleExit_PermanentAlwaysRestarts(t *testing.T) {
	s := New(Config{BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond})
	a := newFakeArbiter("planner-1")
	built := make(chan struct{}, 1)
	require.NoError(t, s.Register(a, arbiterdom.RestartPermanent, func() (ManagedArbiter, error) {
		built <- struct{}{}
		return newFakeArbiter("planner-1"), nil
	}))

	s.handleExit(context.Background(), "planner-1", true)

	select {
	case <-built:
	case <-time.After(time.Second):
		t.Fatal("expected permanent arbiter to be rebuilt")
	}
}

func TestHandleExit_TemporaryNeverRestarts(t *testing.T) {
	s := New(Config{BackoffBase: time.Millisecond})
	a := newFakeArbiter("crawler-1")
	built := make(chan struct{}, 1)
	require.NoError(t, s.Register(a, arbiterdom.RestartTemporary, func() (ManagedArbiter, error) {
		built <- struct{}{}
		return newFakeArbiter("crawler-1"), nil
	}))

	s.handleExit(context.Background(), "crawler-1", true)

	select {
	case <-built:
		t.Fatal("temporary arbiter should never be restarted")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHandleExit_TransientRestartsOnlyOnAbnormalExit(t *testing.T) {
	s := New(Config{BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond})
	a := newFakeArbiter("indexer-1")
	built := make(chan struct{}, 1)
	require.NoError(t, s.Register(a, arbiterdom.RestartTransient, func() (ManagedArbiter, error) {
		built <- struct{}{}
		return newFakeArbiter("indexer-1"), nil
	}))

	s.handleExit(context.Background(), "indexer-1", false)
	select {
	case <-built:
		t.Fatal("transient arbiter should not restart on clean exit")
	case <-time.After(20 * time.Millisecond):
	}

	s.handleExit(context.Background(), "indexer-1", true)
	select {
	case <-built:
	case <-time.After(time.Second):
		t.Fatal("transient arbiter should restart on abnormal exit")
	}
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	d := backoffDelay(time.Second, 2*time.Second, 0, 10)
	require.LessOrEqual(t, d, 2*time.Second+time.Millisecond)
}
